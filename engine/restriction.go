package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// RestrictionPolicy names the licenses for which category caps are disabled.
type RestrictionPolicy struct {
	NoRestrictionNotification string
	ConversionPurchaseStatus  string
}

func DefaultRestrictionPolicy() RestrictionPolicy {
	return RestrictionPolicy{NoRestrictionNotification: "098/2009", ConversionPurchaseStatus: "CO"}
}

// Exempt reports whether restrictions are switched off for the license.
func (p RestrictionPolicy) Exempt(license *License) bool {
	if p.NoRestrictionNotification != "" && strings.TrimSpace(license.NotificationNumber) == p.NoRestrictionNotification {
		return true
	}
	if p.ConversionPurchaseStatus != "" && strings.EqualFold(strings.TrimSpace(license.PurchaseStatus), p.ConversionPurchaseStatus) {
		return true
	}
	return false
}

// RestrictionDetail is the working of one category's remaining balance.
type RestrictionDetail struct {
	Category       RestrictionCategory `json:"category"`
	Allowed        decimal.Decimal     `json:"allowed"`
	Consumed       decimal.Decimal     `json:"consumed"`
	LicenseBalance decimal.Decimal     `json:"license_balance"`
	Remaining      decimal.Decimal     `json:"remaining"`
	Exempt         bool                `json:"exempt"`
}

type RestrictionCalculator struct {
	ledger  Ledger
	agg     *Aggregator
	balance *LicenseBalanceCalculator
	catalog Catalog
	policy  RestrictionPolicy
}

// RestrictionBalances maps category key to remaining balance. A nil map means no
// category applies to the license, which is distinct from an empty budget.
func (r *RestrictionCalculator) RestrictionBalances(ctx context.Context, licenseId int) (map[string]decimal.Decimal, error) {
	details, err := r.RestrictionBreakdown(ctx, licenseId)
	if err != nil || details == nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(details))
	for _, d := range details {
		out[d.Category.Key] = d.Remaining
	}
	return out, nil
}

// CategoryBalance is the remaining balance of one category; ok is false when the
// category does not apply to the license.
func (r *RestrictionCalculator) CategoryBalance(ctx context.Context, licenseId int, categoryKey string) (decimal.Decimal, bool, error) {
	details, err := r.RestrictionBreakdown(ctx, licenseId)
	if err != nil {
		return decimal.Zero, false, err
	}
	key := strings.ToUpper(strings.TrimSpace(categoryKey))
	for _, d := range details {
		if d.Category.Key == key {
			return d.Remaining, true, nil
		}
	}
	return decimal.Zero, false, nil
}

// RestrictionBreakdown computes every applicable category. Categories are the
// catalog tiers of the license's norm classes plus any category carried by a
// tag on one of its items, deduplicated by key in that order.
func (r *RestrictionCalculator) RestrictionBreakdown(ctx context.Context, licenseId int) ([]RestrictionDetail, error) {
	ctx, span := tracer.Start(ctx, "engine.RestrictionBreakdown")
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

	categories := r.applicableCategories(license, items)
	if len(categories) == 0 {
		return nil, nil
	}

	comps, err := r.balance.CalculateAllComponents(ctx, licenseId)
	if err != nil {
		return nil, err
	}

	details := make([]RestrictionDetail, 0, len(categories))
	for _, cat := range categories {
		d, err := r.categoryDetail(ctx, license, items, cat, comps)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		details = append(details, d)
	}
	return details, nil
}

func (r *RestrictionCalculator) applicableCategories(license *License, items []*ImportItem) []RestrictionCategory {
	seen := map[string]bool{}
	var out []RestrictionCategory
	for _, cat := range r.catalog.ForLicense(license) {
		if !seen[cat.Key] {
			seen[cat.Key] = true
			out = append(out, cat)
		}
	}
	for _, item := range items {
		for _, tag := range item.Tags {
			cat, ok := r.catalog.TagCategory(tag)
			if !ok || !license.HasNormClass(cat.NormClass) || seen[cat.Key] {
				continue
			}
			seen[cat.Key] = true
			out = append(out, cat)
		}
	}
	return out
}

func (r *RestrictionCalculator) categoryDetail(ctx context.Context, license *License, items []*ImportItem, cat RestrictionCategory, comps Components) (RestrictionDetail, error) {
	if r.policy.Exempt(license) {
		return RestrictionDetail{
			Category:       cat,
			Allowed:        comps.Balance,
			Consumed:       decimal.Zero,
			LicenseBalance: comps.Balance,
			Remaining:      comps.Balance,
			Exempt:         true,
		}, nil
	}

	allowed := MoneyDown(comps.Credit.Mul(cat.Percentage).Div(hundred))

	var ids []int
	for _, item := range items {
		if itemCarriesCategory(r.catalog, item, cat.Key) {
			ids = append(ids, item.ID)
		}
	}
	scope := ItemScope(license.ID, ids...)
	debit, err := r.agg.Debit(ctx, scope)
	if err != nil {
		return RestrictionDetail{}, err
	}
	allotment, err := r.agg.Allotment(ctx, scope)
	if err != nil {
		return RestrictionDetail{}, err
	}
	consumed := debit.Value.Add(allotment.Value)

	remaining := decimal.Min(FloorZero(allowed.Sub(consumed)), comps.Balance)
	return RestrictionDetail{
		Category:       cat,
		Allowed:        allowed,
		Consumed:       consumed,
		LicenseBalance: comps.Balance,
		Remaining:      remaining,
	}, nil
}

func itemCarriesCategory(catalog Catalog, item *ImportItem, key string) bool {
	for _, tag := range item.Tags {
		if cat, ok := catalog.TagCategory(tag); ok && cat.Key == key {
			return true
		}
	}
	return false
}
