package models

import (
	"context"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// runLedgerMutation runs fn in one transaction together with a recompute job
// for every license fn reports as touched. After commit the cached balances
// of those licenses are evicted.
func runLedgerMutation(ctx context.Context, reason string, fn func(tx *gorm.DB) ([]int, error)) error {
	var touched []int
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		licenseIds, err := fn(tx)
		if err != nil {
			return err
		}
		touched = utils.UniqueSlice(licenseIds)
		for _, licenseId := range touched {
			if err := EnqueueRecompute(ctx, tx, licenseId, reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := InvalidateLicenseBalances(ctx, touched...); err != nil {
		// The entry expires on its own; the next recompute evicts it again.
		config.GetLogger().WithFields(logrus.Fields{
			"field":       "LedgerMutation",
			"reason":      reason,
			"license_ids": touched,
		}).Warn("balance cache eviction failed: " + err.Error())
	}
	return nil
}
