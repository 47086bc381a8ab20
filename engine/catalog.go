package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RestrictionCategory caps the share of a license's credit that can be spent on
// items tagged into it.
type RestrictionCategory struct {
	Key        string          `json:"key"`
	NormClass  string          `json:"norm_class"`
	Percentage decimal.Decimal `json:"percentage"`
}

// CategoryKey is the canonical "<NORM>:<pct>" key, e.g. "E1:3".
func CategoryKey(normClass string, percentage decimal.Decimal) string {
	return normKey(normClass) + ":" + percentage.String()
}

func normKey(normClass string) string {
	return strings.ToUpper(strings.TrimSpace(normClass))
}

// Catalog is the configured set of restriction tiers per norm class.
type Catalog []RestrictionCategory

func newCategory(normClass string, pct int64) RestrictionCategory {
	p := decimal.NewFromInt(pct)
	return RestrictionCategory{Key: CategoryKey(normClass, p), NormClass: normKey(normClass), Percentage: p}
}

func DefaultCatalog() Catalog {
	return Catalog{
		newCategory("E5", 10),
		newCategory("E1", 2),
		newCategory("E1", 3),
		newCategory("E1", 5),
		newCategory("E126", 3),
		newCategory("E132", 3),
		newCategory("E132", 5),
	}
}

func (c Catalog) Lookup(key string) (RestrictionCategory, bool) {
	k := strings.ToUpper(strings.TrimSpace(key))
	for _, cat := range c {
		if cat.Key == k {
			return cat, true
		}
	}
	return RestrictionCategory{}, false
}

// ForLicense returns the tiers of the license's norm classes, in catalog order.
func (c Catalog) ForLicense(license *License) []RestrictionCategory {
	var out []RestrictionCategory
	for _, cat := range c {
		if license.HasNormClass(cat.NormClass) {
			out = append(out, cat)
		}
	}
	return out
}

// TagCategory maps a tag to its category. An explicit RestrictionKey wins;
// otherwise the tag's own norm class and percentage form the key. Tags without
// a positive percentage carry no restriction.
func (c Catalog) TagCategory(tag ClassificationTag) (RestrictionCategory, bool) {
	if strings.TrimSpace(tag.RestrictionKey) != "" {
		if cat, ok := c.Lookup(tag.RestrictionKey); ok {
			return cat, true
		}
		if !tag.RestrictionPercentage.IsPositive() {
			return RestrictionCategory{}, false
		}
		return RestrictionCategory{
			Key:        strings.ToUpper(strings.TrimSpace(tag.RestrictionKey)),
			NormClass:  normKey(tag.NormClass),
			Percentage: tag.RestrictionPercentage,
		}, true
	}
	if !tag.RestrictionPercentage.IsPositive() || normKey(tag.NormClass) == "" {
		return RestrictionCategory{}, false
	}
	return RestrictionCategory{
		Key:        CategoryKey(tag.NormClass, tag.RestrictionPercentage),
		NormClass:  normKey(tag.NormClass),
		Percentage: tag.RestrictionPercentage,
	}, true
}

// ItemCategory is the category of the first tag on the item that has a positive
// percentage and whose norm class belongs to the license.
func (c Catalog) ItemCategory(license *License, item *ImportItem) (RestrictionCategory, bool) {
	for _, tag := range item.Tags {
		cat, ok := c.TagCategory(tag)
		if !ok {
			continue
		}
		if cat.NormClass != "" && license.HasNormClass(cat.NormClass) {
			return cat, true
		}
	}
	return RestrictionCategory{}, false
}
