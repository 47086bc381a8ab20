package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// LicenseBalanceCalculator derives the authoritative remaining value of a license
// from its ledger on every call.
type LicenseBalanceCalculator struct {
	agg               *Aggregator
	logger            *logrus.Logger
	onNegativeBalance func(licenseId int, raw decimal.Decimal)
}

func (c *LicenseBalanceCalculator) CalculateBalance(ctx context.Context, licenseId int) (decimal.Decimal, error) {
	comps, err := c.CalculateAllComponents(ctx, licenseId)
	if err != nil {
		return decimal.Zero, err
	}
	return comps.Balance, nil
}

// CalculateAllComponents returns credit, debit, allotment and trade (each
// quantized to 2 places) with balance = credit - (debit + allotment + trade),
// rounded half-up and floored at zero.
func (c *LicenseBalanceCalculator) CalculateAllComponents(ctx context.Context, licenseId int) (Components, error) {
	ctx, span := tracer.Start(ctx, "engine.CalculateAllComponents")
	defer span.End()
	span.SetAttributes(attribute.Int("license.id", licenseId))

	credit, err := c.agg.Credit(ctx, licenseId)
	if err != nil {
		span.RecordError(err)
		return Components{}, err
	}
	scope := LicenseScope(licenseId)
	debit, err := c.agg.Debit(ctx, scope)
	if err != nil {
		span.RecordError(err)
		return Components{}, err
	}
	allotment, err := c.agg.Allotment(ctx, scope)
	if err != nil {
		span.RecordError(err)
		return Components{}, err
	}
	trade, err := c.agg.Trade(ctx, scope)
	if err != nil {
		span.RecordError(err)
		return Components{}, err
	}

	raw := credit.Value.Sub(debit.Value.Add(allotment.Value).Add(trade.Value))
	balance := Money(raw)
	if balance.IsNegative() {
		c.logger.WithFields(logrus.Fields{
			"field":      "engine",
			"func":       "CalculateAllComponents",
			"license_id": licenseId,
			"raw":        balance.String(),
			"credit":     credit.Value.String(),
			"debit":      debit.Value.String(),
			"allotment":  allotment.Value.String(),
			"trade":      trade.Value.String(),
		}).Warn("license over-allocated; balance clamped to zero")
		if c.onNegativeBalance != nil {
			c.onNegativeBalance(licenseId, balance)
		}
		balance = decimal.Zero
	}

	return Components{
		Credit:    credit.Value,
		Debit:     debit.Value,
		Allotment: allotment.Value,
		Trade:     trade.Value,
		Balance:   balance,
	}, nil
}
