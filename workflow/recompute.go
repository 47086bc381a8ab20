package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"bitbucket.org/mmdatafocus/dfia_ledger/metrics"
	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("dfia_ledger/workflow")

// RecomputeResult is what one recompute wrote.
type RecomputeResult struct {
	LicenseId  int             `json:"license_id"`
	BalanceCif decimal.Decimal `json:"balance_cif"`
	IsNull     bool            `json:"is_null"`
	IsExpired  bool            `json:"is_expired"`
	Items      int             `json:"items"`
}

// NewEngine builds an engine over db with the environment's restriction policy.
// Clamped balances are counted.
func NewEngine(db *gorm.DB, logger *logrus.Logger, settings config.EngineSettings) *engine.Engine {
	return engine.New(models.NewGormLedger(db), engine.Options{
		Policy: engine.RestrictionPolicy{
			NoRestrictionNotification: settings.NoRestrictionNotification,
			ConversionPurchaseStatus:  settings.ConversionPurchaseStatus,
		},
		Logger: logger,
		OnNegativeBalance: func(int, decimal.Decimal) {
			metrics.NegativeBalanceClamps.Inc()
		},
	})
}

// RecomputeLicense rewrites the cached columns of a license and its import lines
// from the committed ledger. Running it twice without a ledger change writes the
// same values.
func RecomputeLicense(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, settings config.EngineSettings, licenseId int) (*RecomputeResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.RecomputeLicense",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.Int("license.id", licenseId)))
	defer span.End()
	defer metrics.ObserveRecompute(time.Now())

	tx = tx.WithContext(ctx)
	var license models.License
	if err := tx.Select("id", "expiry_date").Where("id = ?", licenseId).First(&license).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("license %d: %w", licenseId, engine.ErrLicenseNotFound)
		}
		return nil, err
	}

	eng := NewEngine(tx, logger, settings)
	balance, err := eng.Licenses.CalculateBalance(ctx, licenseId)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	items, err := eng.Items.ResolveLicense(ctx, licenseId)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := time.Now().UTC()
	result := &RecomputeResult{
		LicenseId:  licenseId,
		BalanceCif: balance,
		IsNull:     balance.LessThan(settings.LicenseNullThreshold),
		IsExpired:  isExpired(license.ExpiryDate, now),
		Items:      len(items),
	}

	if err := tx.Model(&models.License{}).Where("id = ?", licenseId).Updates(map[string]interface{}{
		"balance_cif":   result.BalanceCif,
		"is_null":       result.IsNull,
		"is_expired":    result.IsExpired,
		"recomputed_at": &now,
	}).Error; err != nil {
		return nil, err
	}

	for _, item := range items {
		if err := tx.Model(&models.ImportLine{}).Where("id = ?", item.ItemId).Updates(map[string]interface{}{
			"debited_quantity":   item.Debited.Quantity,
			"debited_value":      item.Debited.Value,
			"allotted_quantity":  item.Allotted.Quantity,
			"allotted_value":     item.Allotted.Value,
			"available_quantity": item.AvailableQuantity,
			"available_value":    item.AvailableValue,
			"balance_cif":        item.BalanceCif,
		}).Error; err != nil {
			return nil, err
		}
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":      "RecomputeLicense",
			"license_id": licenseId,
			"balance":    result.BalanceCif.String(),
			"is_null":    result.IsNull,
			"items":      result.Items,
		}).Debug("license recomputed")
	}
	return result, nil
}

// A license expires at the end of its expiry date.
func isExpired(expiry *time.Time, now time.Time) bool {
	if expiry == nil {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ey, em, ed := expiry.Date()
	return time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC).Before(today)
}
