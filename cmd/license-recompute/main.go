package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
	"bitbucket.org/mmdatafocus/dfia_ledger/workflow"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
)

const batchLockKey = "dfia:license-recompute:batch"

func main() {
	licenseNumbers := flag.String("license", "", "Optional: comma separated license numbers (default: every license)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing licenses and continue recomputing others")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	ctx := utils.SystemContext(context.Background(), "license-recompute-"+time.Now().UTC().Format("20060102T150405"))

	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		config.ConnectRedisWithRetry()
	}
	// Only one batch at a time; per-license locks still guard against the live workers.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, batchLockKey, time.Hour, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			fmt.Fprintln(os.Stderr, "another license recompute batch is running")
			os.Exit(1)
		}
		if err == nil {
			defer lock.Release(context.Background())
		}
	}

	ids, err := licenseIds(ctx, *licenseNumbers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve licenses: %v\n", err)
		os.Exit(1)
	}

	settings := config.GetEngineSettings()
	failed := 0
	for _, id := range ids {
		var res *workflow.RecomputeResult
		if err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := workflow.AcquireLicenseRecomputeLock(tx, id); err != nil {
				return err
			}
			defer workflow.ReleaseLicenseRecomputeLock(tx, id)

			var err error
			res, err = workflow.RecomputeLicense(ctx, tx, logger, settings, id)
			return err
		}); err != nil {
			failed++
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "recompute license_id=%d failed (skipping): %v\n", id, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "recompute license_id=%d failed: %v\n", id, err)
			os.Exit(1)
		}
		if err := models.InvalidateLicenseBalances(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "evict cached balance license_id=%d: %v\n", id, err)
		}
		fmt.Printf("license_id=%d balance_cif=%s is_null=%t is_expired=%t items=%d\n",
			res.LicenseId, res.BalanceCif.StringFixed(2), res.IsNull, res.IsExpired, res.Items)
	}

	fmt.Printf("license recompute complete (licenses=%d failed=%d)\n", len(ids), failed)
}

func licenseIds(ctx context.Context, numbers string) ([]int, error) {
	if strings.TrimSpace(numbers) == "" {
		return models.GetLicenseIds(ctx)
	}
	var ids []int
	for _, n := range strings.Split(numbers, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		license, err := models.GetLicenseByNumber(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("license %q: %w", n, err)
		}
		ids = append(ids, license.ID)
	}
	return utils.UniqueSlice(ids), nil
}
