package optimizer

import "github.com/shopspring/decimal"

// MilkInput lists the three milk sub-products in funding priority order.
type MilkInput struct {
	Products       [3]Product
	QuantityBudget decimal.Decimal
	ValueBudget    decimal.Decimal
}

// OptimizeMilk solves for quantities of the present products that use the whole
// quantity and value budgets:
//   - one product: q1 = Q
//   - two products: q1 + q2 = Q, p1·q1 + p2·q2 = V
//   - three products: the same plus q2 = q3
//
// A singular system splits Q equally. Negative quantities are floored and the
// survivors scaled back to Q; no product gets more than its own total quantity.
// Value is then funded in priority order. Absent products get a zero allocation.
func OptimizeMilk(in MilkInput) map[string]Allocation {
	out := make(map[string]Allocation, len(in.Products))
	var present []Product
	for _, p := range in.Products {
		out[p.Name] = zeroAllocation()
		if p.present() {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return out
	}

	q := fitToBudget(solveMilk(present, in.QuantityBudget, in.ValueBudget), in.QuantityBudget)
	for name, a := range fundSequentially(present, q, in.ValueBudget) {
		out[name] = a
	}
	return out
}

func solveMilk(present []Product, qBudget, vBudget decimal.Decimal) []decimal.Decimal {
	one := decimal.NewFromInt(1)
	zero := decimal.Zero
	var (
		a [][]decimal.Decimal
		b []decimal.Decimal
	)
	switch len(present) {
	case 1:
		return []decimal.Decimal{qBudget}
	case 2:
		a = [][]decimal.Decimal{
			{one, one},
			{present[0].UnitPrice, present[1].UnitPrice},
		}
		b = []decimal.Decimal{qBudget, vBudget}
	default:
		a = [][]decimal.Decimal{
			{one, one, one},
			{present[0].UnitPrice, present[1].UnitPrice, present[2].UnitPrice},
			{zero, one, one.Neg()},
		}
		b = []decimal.Decimal{qBudget, vBudget, zero}
	}
	x, ok := Solve(a, b)
	if !ok {
		return equalSplit(qBudget, len(present))
	}
	return x
}
