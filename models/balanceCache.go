package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	licenseBalanceKeyPrefix        = "dfia:license-balance:"
	licenseBalanceVersionKeyPrefix = "dfia:license-balance-version:"
	licenseBalanceVersionTTL       = 24 * time.Hour
)

func licenseBalanceKey(licenseId int) string {
	return licenseBalanceKeyPrefix + strconv.Itoa(licenseId)
}

// licenseBalanceVersionKey counts evictions of a license's balance. A value
// computed before an eviction must not be written back after it.
func licenseBalanceVersionKey(licenseId int) string {
	return licenseBalanceVersionKeyPrefix + strconv.Itoa(licenseId)
}

// BalanceCalculator is the authoritative balance source behind the cache.
type BalanceCalculator interface {
	CalculateBalance(ctx context.Context, licenseId int) (decimal.Decimal, error)
}

type cachedBalance struct {
	LicenseId  int             `json:"license_id"`
	Balance    decimal.Decimal `json:"balance"`
	ComputedAt time.Time       `json:"computed_at"`
}

// BalanceCache is a read-through Redis cache of license balances for display and
// list queries. Recompute and restriction math never read it. Entries are
// evicted after every committed ledger mutation and every recompute.
type BalanceCache struct {
	calc   BalanceCalculator
	ttl    time.Duration
	logger *logrus.Logger
	group  singleflight.Group
}

func NewBalanceCache(calc BalanceCalculator, ttl time.Duration, logger *logrus.Logger) *BalanceCache {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &BalanceCache{calc: calc, ttl: ttl, logger: logger}
}

func (c *BalanceCache) LicenseBalance(ctx context.Context, licenseId int) (decimal.Decimal, error) {
	key := licenseBalanceKey(licenseId)

	var cached cachedBalance
	found, err := config.GetRedisObject(ctx, key, &cached)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"field":      "BalanceCache",
			"license_id": licenseId,
		}).Warn("balance cache read failed: " + err.Error())
	}
	if found && err == nil {
		metrics.BalanceCacheHits.Inc()
		return cached.Balance, nil
	}
	metrics.BalanceCacheMisses.Inc()

	// The shared calculation outlives any one caller; each caller still stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.calculate(shared, licenseId)
	})
	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, fmt.Errorf("license %d balance: %w", licenseId, res.Err)
		}
		return res.Val.(decimal.Decimal), nil
	}
}

func (c *BalanceCache) calculate(ctx context.Context, licenseId int) (decimal.Decimal, error) {
	log := c.logger.WithFields(logrus.Fields{
		"field":      "BalanceCache",
		"license_id": licenseId,
	})
	versionKey := licenseBalanceVersionKey(licenseId)
	version, versionErr := config.GetRedisVersion(ctx, versionKey)
	if versionErr != nil {
		log.Warn("balance cache version read failed: " + versionErr.Error())
	}

	balance, err := c.calc.CalculateBalance(ctx, licenseId)
	if err != nil {
		return decimal.Zero, err
	}
	if versionErr != nil {
		// Without a known version the value cannot be written safely.
		return balance, nil
	}

	entry := cachedBalance{LicenseId: licenseId, Balance: balance, ComputedAt: time.Now().UTC()}
	err = config.SetRedisObjectAtVersion(ctx, licenseBalanceKey(licenseId), entry, c.ttl, versionKey, version)
	switch {
	case errors.Is(err, config.ErrRedisVersionChanged):
		metrics.BalanceCacheStaleWrites.Inc()
		log.Debug("balance evicted during calculation; not caching")
	case err != nil:
		log.Warn("balance cache write failed: " + err.Error())
	}
	return balance, nil
}

func (c *BalanceCache) Invalidate(ctx context.Context, licenseIds ...int) error {
	return InvalidateLicenseBalances(ctx, licenseIds...)
}

// InvalidateLicenseBalances evicts cached balances and bumps their versions so
// in-flight calculations do not repopulate them. A nil Redis client is a no-op.
func InvalidateLicenseBalances(ctx context.Context, licenseIds ...int) error {
	if len(licenseIds) == 0 {
		return nil
	}
	keys := make([]string, 0, len(licenseIds))
	versionKeys := make([]string, 0, len(licenseIds))
	for _, id := range licenseIds {
		keys = append(keys, licenseBalanceKey(id))
		versionKeys = append(versionKeys, licenseBalanceVersionKey(id))
	}
	return config.RemoveRedisKeysAndBump(ctx, keys, versionKeys, licenseBalanceVersionTTL)
}
