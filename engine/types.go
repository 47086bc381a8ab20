package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// License is the engine's read-only view of a license header.
type License struct {
	ID                 int
	LicenseNumber      string
	NotificationNumber string
	PurchaseStatus     string
	// Distinct norm classes of the license's export lines, e.g. "E1", "E5".
	NormClasses []string
	ExpiryDate  *time.Time
}

func (l *License) HasNormClass(normClass string) bool {
	for _, n := range l.NormClasses {
		if normKey(n) == normKey(normClass) {
			return true
		}
	}
	return false
}

type ClassificationTag struct {
	ID   int
	Name string
	// Optional explicit category key; see Catalog.TagCategory.
	RestrictionKey        string
	RestrictionPercentage decimal.Decimal
	NormClass             string
}

type ImportItem struct {
	ID           int
	LicenseId    int
	SerialNumber int
	Description  string
	Quantity     decimal.Decimal
	CifFc        decimal.Decimal
	CifInr       decimal.Decimal
	IsRestricted bool
	// Ordered; the first qualifying tag decides the restriction category.
	Tags []ClassificationTag
}

func (i *ImportItem) isNominal() bool {
	return i.CifFc.Equal(NominalMarker) || i.CifInr.Equal(NominalMarker)
}

// Scope selects the rows an aggregate covers: every item of a license, or a
// fixed set of its items.
type Scope struct {
	LicenseId  int
	ItemIds    []int
	itemScoped bool
}

func LicenseScope(licenseId int) Scope {
	return Scope{LicenseId: licenseId}
}

func ItemScope(licenseId int, itemIds ...int) Scope {
	return Scope{LicenseId: licenseId, ItemIds: itemIds, itemScoped: true}
}

func (s Scope) IsItemScoped() bool {
	return s.itemScoped
}

// Empty is true for an item scope with no items; its aggregates are zero.
func (s Scope) Empty() bool {
	return s.itemScoped && len(s.ItemIds) == 0
}

// RawTotals is what an aggregation query returns: SUM over no rows is NULL.
type RawTotals struct {
	Quantity decimal.NullDecimal
	Value    decimal.NullDecimal
}

// Totals is a null-safe, quantized aggregate. Value is cif_fc.
type Totals struct {
	Quantity decimal.Decimal `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

func (t Totals) Add(o Totals) Totals {
	return Totals{Quantity: t.Quantity.Add(o.Quantity), Value: t.Value.Add(o.Value)}
}

// Components is the full license balance breakdown.
type Components struct {
	Credit    decimal.Decimal `json:"credit"`
	Debit     decimal.Decimal `json:"debit"`
	Allotment decimal.Decimal `json:"allotment"`
	Trade     decimal.Decimal `json:"trade"`
	Balance   decimal.Decimal `json:"balance"`
}
