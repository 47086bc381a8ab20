package engine

import "context"

//go:generate mockgen -source=ledger.go -destination=mocks/mock_ledger.go -package=mocks

// Ledger is the persistence boundary of the engine. Implementations answer
// from committed state on every call; nothing is cached behind it.
//
// Totals methods sum qty and cif_fc:
//   - CreditTotals: export lines of the license.
//   - DebitTotals: BOE debit rows with transaction type debit.
//   - AllotmentTotals: allotment lines whose allotment has no BOE yet.
//   - TradeTotals: SALE trade lines without a BOE, or whose BOE has no invoice number.
type Ledger interface {
	License(ctx context.Context, licenseId int) (*License, error)
	ImportItem(ctx context.Context, itemId int) (*ImportItem, error)
	ImportItems(ctx context.Context, licenseId int) ([]*ImportItem, error)

	CreditTotals(ctx context.Context, licenseId int) (RawTotals, error)
	DebitTotals(ctx context.Context, scope Scope) (RawTotals, error)
	AllotmentTotals(ctx context.Context, scope Scope) (RawTotals, error)
	TradeTotals(ctx context.Context, scope Scope) (RawTotals, error)
}
