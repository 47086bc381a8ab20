package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
)

// AcquireLicenseRecomputeLock serializes recomputes of one license across instances
// using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that runs the recompute transaction.
func AcquireLicenseRecomputeLock(tx *gorm.DB, licenseId int) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", recomputeLockName(licenseId)).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire recompute lock for license_id=%d", licenseId)
	}
	return nil
}

func ReleaseLicenseRecomputeLock(tx *gorm.DB, licenseId int) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", recomputeLockName(licenseId)).Scan(&_ok).Error
}

func recomputeLockName(licenseId int) string {
	return fmt.Sprintf("recompute:license:%d", licenseId)
}

// ErrRecomputeBusy means another instance holds the license's redis lock.
var ErrRecomputeBusy = errors.New("license recompute already running")

// ObtainLicenseRedisLock takes a short redis lock so redelivered jobs for the same
// license back off before opening a DB transaction. It returns a no-op release
// when redis is not configured.
func ObtainLicenseRedisLock(ctx context.Context, licenseId int, ttl time.Duration) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("dfia:recompute-lock:%d", licenseId), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRecomputeBusy
	}
	if err != nil {
		// Redis trouble must not stop recomputes; the MySQL lock still serializes them.
		return func() {}, nil
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}
