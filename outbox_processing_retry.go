package main

import (
	"context"
	"math"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"github.com/sirupsen/logrus"
)

type outboxProcessRetryConfig struct {
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Env overrides:
// - OUTBOX_PROCESS_MAX_ATTEMPTS (default 10)
// - OUTBOX_PROCESS_BASE_BACKOFF_SECONDS (default 5)
// - OUTBOX_PROCESS_MAX_BACKOFF_SECONDS (default 600)
func getOutboxProcessRetryConfig() outboxProcessRetryConfig {
	cfg := outboxProcessRetryConfig{
		maxAttempts: 10,
		baseBackoff: 5 * time.Second,
		maxBackoff:  10 * time.Minute,
	}
	if n := config.IntFromEnv("OUTBOX_PROCESS_MAX_ATTEMPTS", 0); n > 0 {
		cfg.maxAttempts = n
	}
	if n := config.IntFromEnv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS", 0); n > 0 {
		cfg.baseBackoff = time.Duration(n) * time.Second
	}
	if n := config.IntFromEnv("OUTBOX_PROCESS_MAX_BACKOFF_SECONDS", 0); n > 0 {
		cfg.maxBackoff = time.Duration(n) * time.Second
	}
	return cfg
}

func outboxProcessBackoff(attempt int, cfg outboxProcessRetryConfig) time.Duration {
	if attempt <= 0 {
		return cfg.baseBackoff
	}
	// base * 2^(attempt-1), capped.
	exp := float64(attempt - 1)
	delay := time.Duration(float64(cfg.baseBackoff) * math.Pow(2, exp))
	if delay > cfg.maxBackoff {
		return cfg.maxBackoff
	}
	return delay
}

func markOutboxProcessing(ctx context.Context, id int) {
	if id <= 0 {
		return
	}
	_ = config.GetDB().WithContext(ctx).
		Model(&models.RecomputeJobRecord{}).
		Where("id = ? AND is_processed = 0 AND processing_status <> ?", id, models.OutboxProcessStatusDead).
		Updates(map[string]interface{}{
			"processing_status": models.OutboxProcessStatusProcessing,
		}).Error
}

// markOutboxProcessFailure returns whether the record is now DEAD.
func markOutboxProcessFailure(ctx context.Context, logger *logrus.Logger, m config.RecomputeMessage, err error) bool {
	if m.ID <= 0 {
		return false
	}

	cfg := getOutboxProcessRetryConfig()
	now := time.Now().UTC()
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	db := config.GetDB()

	// Fetch current attempts for stable backoff and DEAD cutoff.
	var rec models.RecomputeJobRecord
	if qerr := db.WithContext(ctx).
		Select("id,license_id,process_attempts").
		Where("id = ?", m.ID).
		First(&rec).Error; qerr != nil {
		_ = db.WithContext(ctx).Model(&models.RecomputeJobRecord{}).
			Where("id = ?", m.ID).
			Updates(map[string]interface{}{
				"last_process_error": &errMsg,
				"locked_at":          nil,
				"locked_by":          nil,
				"processing_status":  models.OutboxProcessStatusFailed,
			}).Error
		return false
	}

	attempts := rec.ProcessAttempts + 1
	status := models.OutboxProcessStatusFailed

	var nextAttemptAt *time.Time
	if attempts >= cfg.maxAttempts {
		status = models.OutboxProcessStatusDead
	} else {
		t := now.Add(outboxProcessBackoff(attempts, cfg))
		nextAttemptAt = &t
	}

	_ = db.WithContext(ctx).Model(&models.RecomputeJobRecord{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"last_process_error":      &errMsg,
			"process_attempts":        attempts,
			"next_process_attempt_at": nextAttemptAt,
			"processing_status":       status,
			"locked_at":               nil,
			"locked_by":               nil,
		}).Error

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":             "OutboxProcessing",
			"license_id":        rec.LicenseId,
			"record_id":         rec.ID,
			"processing_status": status,
			"process_attempts":  attempts,
		}).Error("outbox processing failed: " + errMsg)
	}

	return status == models.OutboxProcessStatusDead
}

// markOutboxProcessDead parks a record that can never succeed (e.g. its license is gone).
func markOutboxProcessDead(ctx context.Context, logger *logrus.Logger, m config.RecomputeMessage, err error) {
	if m.ID <= 0 {
		return
	}
	errMsg := err.Error()
	_ = config.GetDB().WithContext(ctx).Model(&models.RecomputeJobRecord{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"last_process_error":      &errMsg,
			"next_process_attempt_at": nil,
			"processing_status":       models.OutboxProcessStatusDead,
			"locked_at":               nil,
			"locked_by":               nil,
		}).Error

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":             "OutboxProcessing",
			"license_id":        m.LicenseId,
			"record_id":         m.ID,
			"processing_status": models.OutboxProcessStatusDead,
		}).Warn("outbox record dropped: " + errMsg)
	}
}

func markOutboxProcessSuccess(ctx context.Context, logger *logrus.Logger, m config.RecomputeMessage) {
	if m.ID <= 0 {
		return
	}
	now := time.Now().UTC()

	// Do not override terminal DEAD rows.
	_ = config.GetDB().WithContext(ctx).Model(&models.RecomputeJobRecord{}).
		Where("id = ? AND processing_status <> ?", m.ID, models.OutboxProcessStatusDead).
		Updates(map[string]interface{}{
			"is_processed":            true,
			"processing_status":       models.OutboxProcessStatusSucceeded,
			"processed_at":            &now,
			"next_process_attempt_at": nil,
			"last_process_error":      nil,
			"locked_at":               nil,
			"locked_by":               nil,
		}).Error

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":             "OutboxProcessing",
			"license_id":        m.LicenseId,
			"record_id":         m.ID,
			"reason":            m.Reason,
			"processing_status": models.OutboxProcessStatusSucceeded,
		}).Info("outbox processed successfully")
	}
}
