// Package optimizer splits a shared value pool across competing sub-products.
// Every function is pure; zero prices and quantities contribute nothing and
// never fail.
package optimizer

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrTooManyProducts = errors.New("too many products for optimizer")

// Product is one competing sub-item. It is present when TotalQuantity > 0.
type Product struct {
	Name          string
	UnitPrice     decimal.Decimal
	TotalQuantity decimal.Decimal
}

func (p Product) present() bool {
	return p.TotalQuantity.IsPositive()
}

// capacity is the value the product can absorb at its unit price.
func (p Product) capacity() decimal.Decimal {
	if !p.present() || !p.UnitPrice.IsPositive() {
		return decimal.Zero
	}
	return money(p.TotalQuantity.Mul(p.UnitPrice))
}

type Allocation struct {
	Quantity decimal.Decimal `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

func zeroAllocation() Allocation {
	return Allocation{Quantity: decimal.Zero, Value: decimal.Zero}
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func qty(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func safeDiv(a, b decimal.Decimal, places int32) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, places)
}

// fundSequentially funds each product in order with min(q·price, remaining),
// where q is capped at the product's own total quantity. A product whose funding
// was cut by the budget gets value/price as quantity.
func fundSequentially(products []Product, quantities []decimal.Decimal, budget decimal.Decimal) map[string]Allocation {
	out := make(map[string]Allocation, len(products))
	remaining := floorZero(money(budget))
	for i, p := range products {
		q := decimal.Min(floorZero(quantities[i]), floorZero(p.TotalQuantity))
		want := money(q.Mul(p.UnitPrice))
		value := floorZero(decimal.Min(want, remaining))
		remaining = remaining.Sub(value)

		quantity := qty(q)
		if want.GreaterThan(value) {
			quantity = decimal.Min(safeDiv(value, p.UnitPrice, 3), quantity)
		}
		out[p.Name] = Allocation{Quantity: quantity, Value: value}
	}
	return out
}

// fitToBudget floors negative quantities and scales the rest down so they sum
// to at most budget.
func fitToBudget(quantities []decimal.Decimal, budget decimal.Decimal) []decimal.Decimal {
	budget = floorZero(budget)
	out := make([]decimal.Decimal, len(quantities))
	sum := decimal.Zero
	for i, q := range quantities {
		out[i] = floorZero(q)
		sum = sum.Add(out[i])
	}
	if sum.LessThanOrEqual(budget) {
		return out
	}
	for i := range out {
		out[i] = out[i].Mul(budget).DivRound(sum, 16)
	}
	return out
}

func equalSplit(total decimal.Decimal, n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	share := safeDiv(total, decimal.NewFromInt(int64(n)), 16)
	for i := range out {
		out[i] = share
	}
	return out
}
