// Package engine computes DFIA license balances, category restriction budgets
// and per-item available values from a Ledger. Every call reads committed
// ledger state afresh; nothing here caches or writes.
package engine

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("dfia_ledger/engine")

type Options struct {
	Catalog Catalog
	Policy  RestrictionPolicy
	Logger  *logrus.Logger
	// Called whenever a raw balance was negative and got clamped.
	OnNegativeBalance func(licenseId int, raw decimal.Decimal)
}

type Engine struct {
	Aggregator   *Aggregator
	Licenses     *LicenseBalanceCalculator
	Restrictions *RestrictionCalculator
	Items        *ItemBalanceResolver
}

// New wires the calculators over ledger. Zero-valued options fall back to the
// default catalog, the default policy and the standard logrus logger.
func New(ledger Ledger, opts Options) *Engine {
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Policy == (RestrictionPolicy{}) {
		opts.Policy = DefaultRestrictionPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	agg := NewAggregator(ledger)
	licenses := &LicenseBalanceCalculator{agg: agg, logger: opts.Logger, onNegativeBalance: opts.OnNegativeBalance}
	restrictions := &RestrictionCalculator{
		ledger:  ledger,
		agg:     agg,
		balance: licenses,
		catalog: opts.Catalog,
		policy:  opts.Policy,
	}
	items := &ItemBalanceResolver{
		ledger:  ledger,
		agg:     agg,
		balance: licenses,
		availableChain: []ItemStrategy{
			NominalMarkerStrategy{},
			RestrictedCategoryStrategy{restrictions: restrictions},
			SharedPoolStrategy{},
		},
		balanceChain: []ItemStrategy{
			NominalMarkerStrategy{},
			SoleValuedItemStrategy{},
			NominalItemCreditStrategy{},
			ItemCreditStrategy{agg: agg},
		},
	}
	return &Engine{Aggregator: agg, Licenses: licenses, Restrictions: restrictions, Items: items}
}
