package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MoneyPlaces    int32 = 2
	QuantityPlaces int32 = 3
)

var (
	hundred = decimal.NewFromInt(100)

	// NominalMarker on cif_fc or cif_inr marks a placeholder import line.
	NominalMarker = decimal.RequireFromString("0.01")
	tenthMarker   = decimal.RequireFromString("0.1")
)

// Money quantizes to 2 places, half away from zero (ROUND_HALF_UP for the
// non-negative values the ledger carries).
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Quantity quantizes to 3 places, half away from zero.
func Quantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

// MoneyDown quantizes to 2 places toward zero.
func MoneyDown(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(MoneyPlaces)
}

// OrZero maps a SQL NULL aggregate to zero.
func OrZero(n decimal.NullDecimal) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	return n.Decimal
}

// ParseOrZero reads a stored numeric text; empty or malformed input is zero.
func ParseOrZero(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FloorZero clamps negatives to zero.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// SafeDiv returns a/b rounded to places, or zero when b is zero.
func SafeDiv(a, b decimal.Decimal, places int32) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, places)
}

// isEdgeMarker reports whether d is one of the values (0, 0.01, 0.1) that
// stand for "no real item-level value recorded".
func isEdgeMarker(d decimal.Decimal) bool {
	return d.IsZero() || d.Equal(NominalMarker) || d.Equal(tenthMarker)
}
