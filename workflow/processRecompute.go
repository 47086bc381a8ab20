package workflow

import (
	"context"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"bitbucket.org/mmdatafocus/dfia_ledger/metrics"
	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const RecomputeHandlerName = "recompute_license"

const redisLockTTL = time.Minute

// ErrPermanent marks a job that will never succeed on redelivery.
var ErrPermanent = errors.New("permanent recompute failure")

// ProcessRecomputeMessage handles one recompute job end to end: per-license locks,
// idempotency key, recompute, outbox row update and cache eviction. Jobs of the
// same license enqueued before this one are settled by it too.
func ProcessRecomputeMessage(ctx context.Context, db *gorm.DB, logger *logrus.Logger, m config.RecomputeMessage) (*RecomputeResult, error) {
	release, err := ObtainLicenseRedisLock(ctx, m.LicenseId, redisLockTTL)
	if err != nil {
		metrics.IncRecomputeOutcome("busy")
		return nil, err
	}
	defer release()

	settings := config.GetEngineSettings()
	messageId := strconv.Itoa(m.ID)

	var (
		result  *RecomputeResult
		skipped bool
		permErr error
	)
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLicenseRecomputeLock(tx, m.LicenseId); err != nil {
			return err
		}
		defer ReleaseLicenseRecomputeLock(tx, m.LicenseId)

		if m.ID > 0 {
			skip, err := BeginIdempotency(tx, RecomputeHandlerName, messageId, m.LicenseId)
			if err != nil {
				return err
			}
			if skip {
				skipped = true
				return nil
			}
		}

		res, err := RecomputeLicense(ctx, tx, logger, settings, m.LicenseId)
		if errors.Is(err, engine.ErrLicenseNotFound) {
			permErr = errors.Join(ErrPermanent, err)
			if m.ID > 0 {
				return MarkIdempotencyFailed(tx, RecomputeHandlerName, messageId, err)
			}
			return nil
		}
		if err != nil {
			return err
		}
		result = res

		if m.ID > 0 {
			if err := settleEarlierJobs(tx, m.LicenseId, m.ID); err != nil {
				return err
			}
			return MarkIdempotencySucceeded(tx, RecomputeHandlerName, messageId)
		}
		return nil
	})
	if err != nil {
		metrics.IncRecomputeOutcome("failed")
		return nil, err
	}
	if permErr != nil {
		metrics.IncRecomputeOutcome("dead")
		return nil, permErr
	}
	if skipped {
		metrics.IncRecomputeOutcome("skipped")
		return nil, nil
	}

	if err := models.InvalidateLicenseBalances(ctx, m.LicenseId); err != nil && logger != nil {
		logger.WithFields(logrus.Fields{
			"field":          "ProcessRecomputeMessage",
			"license_id":     m.LicenseId,
			"record_id":      m.ID,
			"correlation_id": m.CorrelationId,
		}).Warn("balance cache eviction failed: " + err.Error())
	}
	metrics.IncRecomputeOutcome("succeeded")
	return result, nil
}

// settleEarlierJobs marks the license's unprocessed jobs up to recordId as done:
// the recompute just read a ledger that already contains their changes.
func settleEarlierJobs(tx *gorm.DB, licenseId int, recordId int) error {
	now := time.Now().UTC()
	return tx.Model(&models.RecomputeJobRecord{}).
		Where("license_id = ? AND id <= ? AND is_processed = 0", licenseId, recordId).
		Updates(map[string]interface{}{
			"is_processed":            true,
			"processing_status":       models.OutboxProcessStatusSucceeded,
			"processed_at":            &now,
			"next_process_attempt_at": nil,
			"last_process_error":      nil,
		}).Error
}
