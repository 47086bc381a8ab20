package optimizer

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const maxOils = 4

type OilInput struct {
	// Priority order. The fallback oil may sit anywhere in the list.
	Oils         []Product
	FallbackName string
	// Percent of the value budget reserved for the fallback oil.
	FallbackFloorPercent decimal.Decimal
	ValueBudget          decimal.Decimal
}

// OptimizeVegetableOil reserves the fallback's floor share (bounded by what it
// can absorb), funds the other oils greedily in order up to their capacity and
// hands everything left to the fallback, again up to its capacity.
func OptimizeVegetableOil(in OilInput) (map[string]Allocation, error) {
	if len(in.Oils) > maxOils {
		return nil, fmt.Errorf("%d oils, at most %d: %w", len(in.Oils), maxOils, ErrTooManyProducts)
	}
	out := make(map[string]Allocation, len(in.Oils))
	budget := floorZero(money(in.ValueBudget))

	var fallback *Product
	for i := range in.Oils {
		out[in.Oils[i].Name] = zeroAllocation()
		if in.Oils[i].Name == in.FallbackName && in.Oils[i].present() {
			fallback = &in.Oils[i]
		}
	}

	reserve := decimal.Zero
	if fallback != nil {
		reserve = money(budget.Mul(floorZero(in.FallbackFloorPercent)).Div(decimal.NewFromInt(100)))
		reserve = decimal.Min(reserve, fallback.capacity(), budget)
	}

	pool := budget.Sub(reserve)
	for _, oil := range in.Oils {
		if oil.Name == in.FallbackName || !oil.present() {
			continue
		}
		value := decimal.Min(oil.capacity(), pool)
		pool = pool.Sub(value)
		out[oil.Name] = Allocation{Quantity: safeDiv(value, oil.UnitPrice, 3), Value: value}
	}

	if fallback != nil {
		value := decimal.Min(reserve.Add(pool), fallback.capacity())
		out[fallback.Name] = Allocation{Quantity: safeDiv(value, fallback.UnitPrice, 3), Value: value}
	}
	return out, nil
}
