package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// Aggregator turns ledger sums into null-safe, quantized Totals.
// Quantities are held at 3 places and values at 2.
type Aggregator struct {
	ledger Ledger
}

func NewAggregator(ledger Ledger) *Aggregator {
	return &Aggregator{ledger: ledger}
}

func (a *Aggregator) Credit(ctx context.Context, licenseId int) (Totals, error) {
	raw, err := a.ledger.CreditTotals(ctx, licenseId)
	if err != nil {
		return Totals{}, err
	}
	return normalizeTotals(raw), nil
}

func (a *Aggregator) Debit(ctx context.Context, scope Scope) (Totals, error) {
	return a.scoped(ctx, scope, a.ledger.DebitTotals)
}

func (a *Aggregator) Allotment(ctx context.Context, scope Scope) (Totals, error) {
	return a.scoped(ctx, scope, a.ledger.AllotmentTotals)
}

func (a *Aggregator) Trade(ctx context.Context, scope Scope) (Totals, error) {
	return a.scoped(ctx, scope, a.ledger.TradeTotals)
}

func (a *Aggregator) scoped(ctx context.Context, scope Scope, sum func(context.Context, Scope) (RawTotals, error)) (Totals, error) {
	if scope.Empty() {
		return zeroTotals(), nil
	}
	raw, err := sum(ctx, scope)
	if err != nil {
		return Totals{}, err
	}
	return normalizeTotals(raw), nil
}

func normalizeTotals(raw RawTotals) Totals {
	return Totals{
		Quantity: Quantity(OrZero(raw.Quantity)),
		Value:    Money(OrZero(raw.Value)),
	}
}

func zeroTotals() Totals {
	return Totals{Quantity: decimal.Zero, Value: decimal.Zero}
}
