package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecomputeJobRecord is a transactional-outbox row: "recompute License #N".
// It is written in the same transaction as the ledger change and published
// by the dispatcher after commit.
type RecomputeJobRecord struct {
	ID          int    `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	LicenseId   int    `gorm:"not null;index" json:"license_id"`
	Reason      string `gorm:"size:50;not null" json:"reason"`
	IsProcessed bool   `gorm:"index;not null" json:"is_processed"`
	// Publish side (dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	// Processing side (consumer/worker).
	ProcessingStatus     string     `gorm:"size:20;index;not null;default:'PENDING'" json:"processing_status"`
	ProcessAttempts      int        `gorm:"not null;default:0" json:"process_attempts"`
	NextProcessAttemptAt *time.Time `gorm:"index" json:"next_process_attempt_at"`
	LastProcessError     *string    `gorm:"type:text" json:"last_process_error"`
	ProcessedAt          *time.Time `gorm:"index" json:"processed_at"`
	CorrelationId        string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedBy            int        `gorm:"not null;default:0" json:"created_by"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToRecomputeMessage(record RecomputeJobRecord) config.RecomputeMessage {
	return config.RecomputeMessage{
		ID:            record.ID,
		LicenseId:     record.LicenseId,
		Reason:        record.Reason,
		RequestedAt:   record.CreatedAt,
		CorrelationId: record.CorrelationId,
	}
}

// EnqueueRecompute writes a recompute job inside tx. Nothing is published here.
func EnqueueRecompute(ctx context.Context, tx *gorm.DB, licenseId int, reason string) error {
	userId, _ := utils.GetUserIdFromContext(ctx)
	record := RecomputeJobRecord{
		LicenseId:        licenseId,
		Reason:           reason,
		IsProcessed:      false,
		PublishStatus:    OutboxPublishStatusPending,
		ProcessingStatus: OutboxProcessStatusPending,
		CorrelationId:    correlationIdFromContextOrNew(ctx),
		CreatedBy:        userId,
	}
	return tx.Create(&record).Error
}

// RequestRecompute enqueues a job outside of any ledger change (ops, batch tools).
func RequestRecompute(ctx context.Context, licenseId int) error {
	if err := utils.ValidateResourceId[License](ctx, config.GetDB(), licenseId); err != nil {
		return err
	}
	return config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return EnqueueRecompute(ctx, tx, licenseId, RecomputeReasonManual)
	})
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// RecomputeJobStatus is the ops view of the latest job for a license.
type RecomputeJobStatus struct {
	RecordId             int        `json:"record_id"`
	LicenseId            int        `json:"license_id"`
	Reason               string     `json:"reason"`
	PublishStatus        string     `json:"publish_status"`
	ProcessingStatus     string     `json:"processing_status"`
	IsProcessed          bool       `json:"is_processed"`
	PublishAttempts      int        `json:"publish_attempts"`
	ProcessAttempts      int        `json:"process_attempts"`
	NextAttemptAt        *time.Time `json:"next_attempt_at"`
	NextProcessAttemptAt *time.Time `json:"next_process_attempt_at"`
	LastPublishError     *string    `json:"last_publish_error"`
	LastProcessError     *string    `json:"last_process_error"`
	CreatedAt            time.Time  `json:"created_at"`
	PublishedAt          *time.Time `json:"published_at"`
	ProcessedAt          *time.Time `json:"processed_at"`
}

func GetRecomputeJobStatus(ctx context.Context, licenseId int) (*RecomputeJobStatus, error) {
	var rec RecomputeJobRecord
	if err := config.GetDB().WithContext(ctx).
		Where("license_id = ?", licenseId).
		Order("id DESC").
		First(&rec).Error; err != nil {
		return nil, err
	}

	processing := rec.ProcessingStatus
	if rec.IsProcessed {
		processing = OutboxProcessStatusSucceeded
	} else if processing == "" {
		processing = OutboxProcessStatusPending
	}

	return &RecomputeJobStatus{
		RecordId:             rec.ID,
		LicenseId:            rec.LicenseId,
		Reason:               rec.Reason,
		PublishStatus:        rec.PublishStatus,
		ProcessingStatus:     processing,
		IsProcessed:          rec.IsProcessed,
		PublishAttempts:      rec.PublishAttempts,
		ProcessAttempts:      rec.ProcessAttempts,
		NextAttemptAt:        rec.NextAttemptAt,
		NextProcessAttemptAt: rec.NextProcessAttemptAt,
		LastPublishError:     rec.LastPublishError,
		LastProcessError:     rec.LastProcessError,
		CreatedAt:            rec.CreatedAt,
		PublishedAt:          rec.PublishedAt,
		ProcessedAt:          rec.ProcessedAt,
	}, nil
}

// ReprocessRecomputeJobs resets the unprocessed jobs of a license (licenseId > 0)
// or every FAILED/DEAD unprocessed job (licenseId == 0) back to PENDING.
func ReprocessRecomputeJobs(ctx context.Context, licenseId int) (int64, error) {
	now := time.Now().UTC()
	q := config.GetDB().WithContext(ctx).Model(&RecomputeJobRecord{}).Where("is_processed = 0")
	if licenseId > 0 {
		q = q.Where("license_id = ?", licenseId)
	} else {
		q = q.Where("(publish_status IN ? OR processing_status IN ?)",
			[]string{OutboxPublishStatusFailed, OutboxPublishStatusDead},
			[]string{OutboxProcessStatusFailed, OutboxProcessStatusDead})
	}
	res := q.Updates(map[string]interface{}{
		"locked_at":               nil,
		"locked_by":               nil,
		"publish_status":          OutboxPublishStatusPending,
		"publish_attempts":        0,
		"next_attempt_at":         nil,
		"processing_status":       OutboxProcessStatusPending,
		"process_attempts":        0,
		"next_process_attempt_at": &now,
		"last_process_error":      nil,
	})
	return res.RowsAffected, res.Error
}
