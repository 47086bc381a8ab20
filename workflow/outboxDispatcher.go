package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/metrics"
	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxPublishBackoff = 10 * time.Minute

// OutboxDispatcher moves committed recompute jobs onto the recompute topic.
// Batches are claimed with SKIP LOCKED so several instances can share the table.
// Within a batch only the newest job per license is published; the older ones
// are settled as SUPERSEDED in the claiming transaction.
type OutboxDispatcher struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	// Owner is written to locked_by on claimed rows.
	Owner string

	BatchSize      int
	PollInterval   time.Duration
	ClaimTTL       time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration

	// Publish sends one job and returns the transport message id.
	Publish func(ctx context.Context, msg config.RecomputeMessage) (string, error)
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		Owner:          "dispatcher-" + uuid.NewString(),
		BatchSize:      config.IntFromEnv("OUTBOX_DISPATCH_BATCH_SIZE", 50),
		PollInterval:   500 * time.Millisecond,
		ClaimTTL:       30 * time.Second,
		MaxAttempts:    config.IntFromEnv("OUTBOX_PUBLISH_MAX_ATTEMPTS", 20),
		InitialBackoff: 5 * time.Second,
		Publish:        config.PublishRecomputeJob,
	}
}

// Run dispatches until ctx is done.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many jobs were
// handed to the transport.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.DB == nil {
		return 0
	}
	now := time.Now().UTC()
	jobs, err := d.claim(ctx, now)
	if err != nil {
		d.log(logrus.Fields{}).Error("outbox claim failed: " + err.Error())
		return 0
	}

	sent := 0
	for _, job := range jobs {
		id, err := d.Publish(ctx, models.ConvertToRecomputeMessage(job))
		if err != nil {
			d.recordFailure(ctx, job, err)
			continue
		}
		d.recordSent(ctx, job.ID, id, now)
		sent++
	}
	return sent
}

// claim locks due rows, settles the superseded ones, buries rows that ran out of
// attempts and marks the rest PROCESSING under d.Owner. Only that last group is
// returned.
func (d *OutboxDispatcher) claim(ctx context.Context, now time.Time) ([]models.RecomputeJobRecord, error) {
	var ready []models.RecomputeJobRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.RecomputeJobRecord
		// A PROCESSING row whose claim is older than ClaimTTL belongs to a
		// dispatcher that died mid-batch.
		if err := tx.
			Where("is_processed = 0").
			Where("(publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (publish_status = ? AND locked_at <= ?)",
				[]string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now,
				models.OutboxPublishStatusProcessing, now.Add(-d.ClaimTTL)).
			Order("id").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&due).Error; err != nil {
			return err
		}

		newest, superseded := newestJobPerLicense(due)
		if len(superseded) > 0 {
			if err := tx.Model(&models.RecomputeJobRecord{}).Where("id IN ?", superseded).Updates(map[string]interface{}{
				"is_processed":            true,
				"publish_status":          models.OutboxPublishStatusSuperseded,
				"processing_status":       models.OutboxProcessStatusSucceeded,
				"processed_at":            &now,
				"next_attempt_at":         nil,
				"next_process_attempt_at": nil,
				"locked_at":               nil,
				"locked_by":               nil,
			}).Error; err != nil {
				return err
			}
		}

		var claimIds, deadIds []int
		for _, job := range newest {
			if d.MaxAttempts > 0 && job.PublishAttempts >= d.MaxAttempts {
				deadIds = append(deadIds, job.ID)
				continue
			}
			claimIds = append(claimIds, job.ID)
			job.PublishStatus = models.OutboxPublishStatusProcessing
			job.PublishAttempts++
			ready = append(ready, job)
		}
		if len(deadIds) > 0 {
			reason := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
			if err := tx.Model(&models.RecomputeJobRecord{}).Where("id IN ?", deadIds).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusDead,
				"last_publish_error": &reason,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error; err != nil {
				return err
			}
		}
		if len(claimIds) > 0 {
			if err := tx.Model(&models.RecomputeJobRecord{}).Where("id IN ?", claimIds).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"locked_at":          &now,
				"locked_by":          d.Owner,
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		metrics.OutboxPublished.WithLabelValues("superseded").Add(float64(len(superseded)))
		metrics.OutboxPublished.WithLabelValues("dead").Add(float64(len(deadIds)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ready, nil
}

// newestJobPerLicense keeps the highest-id job of each license, preserving the
// input order, and returns the ids of the rest.
func newestJobPerLicense(jobs []models.RecomputeJobRecord) ([]models.RecomputeJobRecord, []int) {
	latest := make(map[int]models.RecomputeJobRecord, len(jobs))
	for _, job := range jobs {
		if cur, ok := latest[job.LicenseId]; !ok || job.ID > cur.ID {
			latest[job.LicenseId] = job
		}
	}
	newest := make([]models.RecomputeJobRecord, 0, len(latest))
	var superseded []int
	for _, job := range jobs {
		if latest[job.LicenseId].ID == job.ID {
			newest = append(newest, job)
		} else {
			superseded = append(superseded, job.ID)
		}
	}
	return newest, superseded
}

// publishBackoff doubles initial per failed attempt, capped at maxPublishBackoff.
func publishBackoff(attempt int, initial time.Duration) time.Duration {
	backoff := initial
	for i := 1; i < attempt && backoff < maxPublishBackoff; i++ {
		backoff *= 2
	}
	return min(backoff, maxPublishBackoff)
}

func (d *OutboxDispatcher) recordSent(ctx context.Context, recordId int, messageId string, now time.Time) {
	if err := d.DB.WithContext(ctx).Model(&models.RecomputeJobRecord{}).
		Where("id = ? AND locked_by = ?", recordId, d.Owner).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &messageId,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error; err != nil {
		d.log(logrus.Fields{"record_id": recordId}).Warn("outbox publish succeeded but status write failed: " + err.Error())
	}
	metrics.IncOutboxPublished("sent")
}

func (d *OutboxDispatcher) recordFailure(ctx context.Context, job models.RecomputeJobRecord, cause error) {
	msg := cause.Error()
	fields := logrus.Fields{
		"license_id": job.LicenseId,
		"record_id":  job.ID,
		"attempt":    job.PublishAttempts,
	}
	updates := map[string]interface{}{
		"last_publish_error": &msg,
		"locked_at":          nil,
		"locked_by":          nil,
	}
	outcome := "failed"
	if d.MaxAttempts > 0 && job.PublishAttempts >= d.MaxAttempts {
		outcome = "dead"
		updates["publish_status"] = models.OutboxPublishStatusDead
		updates["next_attempt_at"] = nil
	} else {
		next := time.Now().UTC().Add(publishBackoff(job.PublishAttempts, d.InitialBackoff))
		updates["publish_status"] = models.OutboxPublishStatusFailed
		updates["next_attempt_at"] = &next
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
	}
	if err := d.DB.WithContext(ctx).Model(&models.RecomputeJobRecord{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		d.log(fields).Warn("outbox failure status write failed: " + err.Error())
	}
	metrics.IncOutboxPublished(outcome)
	d.log(fields).Error(fmt.Sprintf("outbox publish %s: %v", outcome, cause))
}

func (d *OutboxDispatcher) log(fields logrus.Fields) *logrus.Entry {
	logger := d.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	fields["field"] = "OutboxDispatcher"
	return logger.WithFields(fields)
}
