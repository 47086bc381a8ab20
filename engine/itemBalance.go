package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// ItemContext is what a strategy sees of one import item. License components
// are computed at most once per resolution.
type ItemContext struct {
	License *License
	Item    *ImportItem
	// Every item of the license, Item included.
	Items []*ImportItem

	balance    *LicenseBalanceCalculator
	components *Components
}

func (ic *ItemContext) LicenseComponents(ctx context.Context) (Components, error) {
	if ic.components != nil {
		return *ic.components, nil
	}
	comps, err := ic.balance.CalculateAllComponents(ctx, ic.License.ID)
	if err != nil {
		return Components{}, err
	}
	ic.components = &comps
	return comps, nil
}

// ItemStrategy computes one rule of an item balance chain. ok=false passes the
// item to the next strategy.
type ItemStrategy interface {
	Name() string
	Resolve(ctx context.Context, ic *ItemContext) (value decimal.Decimal, ok bool, err error)
}

// NominalMarkerStrategy pins placeholder lines (cif_fc or cif_inr of 0.01) to 0.01.
type NominalMarkerStrategy struct{}

func (NominalMarkerStrategy) Name() string { return "nominal_marker" }

func (NominalMarkerStrategy) Resolve(_ context.Context, ic *ItemContext) (decimal.Decimal, bool, error) {
	if ic.Item.isNominal() {
		return NominalMarker, true, nil
	}
	return decimal.Zero, false, nil
}

// RestrictedCategoryStrategy gives a restricted item the remaining balance of its
// first qualifying category.
type RestrictedCategoryStrategy struct {
	restrictions *RestrictionCalculator
}

func (RestrictedCategoryStrategy) Name() string { return "restricted_category" }

func (s RestrictedCategoryStrategy) Resolve(ctx context.Context, ic *ItemContext) (decimal.Decimal, bool, error) {
	if !ic.Item.IsRestricted {
		return decimal.Zero, false, nil
	}
	cat, ok := s.restrictions.catalog.ItemCategory(ic.License, ic.Item)
	if !ok {
		return decimal.Zero, false, nil
	}
	comps, err := ic.LicenseComponents(ctx)
	if err != nil {
		return decimal.Zero, false, err
	}
	d, err := s.restrictions.categoryDetail(ctx, ic.License, ic.Items, cat, comps)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d.Remaining, true, nil
}

// SharedPoolStrategy returns the license balance. Unrestricted items and
// restricted items without a category all draw from this one pool.
type SharedPoolStrategy struct{}

func (SharedPoolStrategy) Name() string { return "shared_pool" }

func (SharedPoolStrategy) Resolve(ctx context.Context, ic *ItemContext) (decimal.Decimal, bool, error) {
	comps, err := ic.LicenseComponents(ctx)
	if err != nil {
		return decimal.Zero, false, err
	}
	return comps.Balance, true, nil
}

// SoleValuedItemStrategy applies to serial 1 when every other item on the
// license has zero cif_fc and zero cif_inr: the license balance is its own.
type SoleValuedItemStrategy struct{}

func (SoleValuedItemStrategy) Name() string { return "sole_valued_item" }

func (SoleValuedItemStrategy) Resolve(ctx context.Context, ic *ItemContext) (decimal.Decimal, bool, error) {
	if ic.Item.SerialNumber != 1 {
		return decimal.Zero, false, nil
	}
	for _, other := range ic.Items {
		if other.ID == ic.Item.ID {
			continue
		}
		if !other.CifFc.IsZero() || !other.CifInr.IsZero() {
			return decimal.Zero, false, nil
		}
	}
	return SharedPoolStrategy{}.Resolve(ctx, ic)
}

// NominalItemCreditStrategy uses license-level math when the item's cif_fc is 0,
// 0.01 or 0.1, since no item-level credit was recorded.
type NominalItemCreditStrategy struct{}

func (NominalItemCreditStrategy) Name() string { return "nominal_item_credit" }

func (NominalItemCreditStrategy) Resolve(ctx context.Context, ic *ItemContext) (decimal.Decimal, bool, error) {
	if !isEdgeMarker(ic.Item.CifFc) {
		return decimal.Zero, false, nil
	}
	return SharedPoolStrategy{}.Resolve(ctx, ic)
}

// ItemCreditStrategy is item cif_fc less the item's debits and unsettled
// allotments, floored at zero.
type ItemCreditStrategy struct {
	agg *Aggregator
}

func (ItemCreditStrategy) Name() string { return "item_credit" }

func (s ItemCreditStrategy) Resolve(ctx context.Context, ic *ItemContext) (decimal.Decimal, bool, error) {
	scope := ItemScope(ic.License.ID, ic.Item.ID)
	debit, err := s.agg.Debit(ctx, scope)
	if err != nil {
		return decimal.Zero, false, err
	}
	allotment, err := s.agg.Allotment(ctx, scope)
	if err != nil {
		return decimal.Zero, false, err
	}
	v := Money(ic.Item.CifFc).Sub(debit.Value).Sub(allotment.Value)
	return FloorZero(Money(v)), true, nil
}

// ItemBalance is the full derived state of one import item.
type ItemBalance struct {
	ItemId            int             `json:"item_id"`
	LicenseId         int             `json:"license_id"`
	AvailableValue    decimal.Decimal `json:"available_value"`
	AvailableStrategy string          `json:"available_strategy"`
	BalanceCif        decimal.Decimal `json:"balance_cif"`
	BalanceStrategy   string          `json:"balance_strategy"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	Debited           Totals          `json:"debited"`
	Allotted          Totals          `json:"allotted"`
}

// ItemBalanceResolver runs two ordered strategy chains per item:
//   - available value: marker, restricted category, shared pool
//   - balance cif: marker, sole valued item, nominal item credit, item credit
type ItemBalanceResolver struct {
	ledger         Ledger
	agg            *Aggregator
	balance        *LicenseBalanceCalculator
	availableChain []ItemStrategy
	balanceChain   []ItemStrategy
}

func (r *ItemBalanceResolver) AvailableValue(ctx context.Context, itemId int) (decimal.Decimal, error) {
	ic, err := r.itemContext(ctx, itemId)
	if err != nil {
		return decimal.Zero, err
	}
	v, _, err := runChain(ctx, r.availableChain, ic)
	return v, err
}

func (r *ItemBalanceResolver) BalanceCif(ctx context.Context, itemId int) (decimal.Decimal, error) {
	ic, err := r.itemContext(ctx, itemId)
	if err != nil {
		return decimal.Zero, err
	}
	v, _, err := runChain(ctx, r.balanceChain, ic)
	return v, err
}

// AvailableQuantity is item quantity less debited and unsettled allotted
// quantity, floored at zero.
func (r *ItemBalanceResolver) AvailableQuantity(ctx context.Context, itemId int) (decimal.Decimal, error) {
	item, err := r.ledger.ImportItem(ctx, itemId)
	if err != nil {
		return decimal.Zero, err
	}
	b, err := r.quantities(ctx, item)
	if err != nil {
		return decimal.Zero, err
	}
	return b.AvailableQuantity, nil
}

// Resolve computes every derived field of the item in one pass.
func (r *ItemBalanceResolver) Resolve(ctx context.Context, itemId int) (ItemBalance, error) {
	ctx, span := tracer.Start(ctx, "engine.ResolveItem")
	defer span.End()
	span.SetAttributes(attribute.Int("import_item.id", itemId))

	ic, err := r.itemContext(ctx, itemId)
	if err != nil {
		span.RecordError(err)
		return ItemBalance{}, err
	}
	return r.resolve(ctx, ic)
}

// ResolveLicense resolves every item of a license against one license snapshot.
func (r *ItemBalanceResolver) ResolveLicense(ctx context.Context, licenseId int) ([]ItemBalance, error) {
	ctx, span := tracer.Start(ctx, "engine.ResolveLicenseItems")
	defer span.End()
	span.SetAttributes(attribute.Int("license.id", licenseId))

	license, err := r.ledger.License(ctx, licenseId)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	items, err := r.ledger.ImportItems(ctx, licenseId)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var comps *Components
	out := make([]ItemBalance, 0, len(items))
	for _, item := range items {
		ic := &ItemContext{License: license, Item: item, Items: items, balance: r.balance, components: comps}
		b, err := r.resolve(ctx, ic)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		comps = ic.components
		out = append(out, b)
	}
	return out, nil
}

func (r *ItemBalanceResolver) resolve(ctx context.Context, ic *ItemContext) (ItemBalance, error) {
	available, availableBy, err := runChain(ctx, r.availableChain, ic)
	if err != nil {
		return ItemBalance{}, err
	}
	balanceCif, balanceBy, err := runChain(ctx, r.balanceChain, ic)
	if err != nil {
		return ItemBalance{}, err
	}
	b, err := r.quantities(ctx, ic.Item)
	if err != nil {
		return ItemBalance{}, err
	}
	b.AvailableValue = available
	b.AvailableStrategy = availableBy
	b.BalanceCif = balanceCif
	b.BalanceStrategy = balanceBy
	return b, nil
}

func (r *ItemBalanceResolver) quantities(ctx context.Context, item *ImportItem) (ItemBalance, error) {
	scope := ItemScope(item.LicenseId, item.ID)
	debit, err := r.agg.Debit(ctx, scope)
	if err != nil {
		return ItemBalance{}, err
	}
	allotment, err := r.agg.Allotment(ctx, scope)
	if err != nil {
		return ItemBalance{}, err
	}
	qty := Quantity(item.Quantity).Sub(debit.Quantity).Sub(allotment.Quantity)
	return ItemBalance{
		ItemId:            item.ID,
		LicenseId:         item.LicenseId,
		AvailableQuantity: FloorZero(Quantity(qty)),
		Debited:           debit,
		Allotted:          allotment,
	}, nil
}

func (r *ItemBalanceResolver) itemContext(ctx context.Context, itemId int) (*ItemContext, error) {
	item, err := r.ledger.ImportItem(ctx, itemId)
	if err != nil {
		return nil, err
	}
	license, err := r.ledger.License(ctx, item.LicenseId)
	if err != nil {
		return nil, err
	}
	items, err := r.ledger.ImportItems(ctx, item.LicenseId)
	if err != nil {
		return nil, err
	}
	return &ItemContext{License: license, Item: item, Items: items, balance: r.balance}, nil
}

func runChain(ctx context.Context, chain []ItemStrategy, ic *ItemContext) (decimal.Decimal, string, error) {
	for _, s := range chain {
		v, ok, err := s.Resolve(ctx, ic)
		if err != nil {
			return decimal.Zero, s.Name(), err
		}
		if ok {
			return v, s.Name(), nil
		}
	}
	return decimal.Zero, "", nil
}
