package optimizer

import "github.com/shopspring/decimal"

// GlassInput describes two substitutable glass formers.
type GlassInput struct {
	A, B           Product
	YieldA, YieldB decimal.Decimal
	// qA + qB = TargetQuantity and YieldA·qA + YieldB·qB = TargetYield.
	TargetQuantity decimal.Decimal
	TargetYield    decimal.Decimal
	ValueBudget    decimal.Decimal
}

// OptimizeGlassFormer solves the 2×2 system and floors a negative component to
// zero, giving the other component the whole target quantity. Value is then
// funded A first, B from what remains.
func OptimizeGlassFormer(in GlassInput) map[string]Allocation {
	one := decimal.NewFromInt(1)
	x, ok := Solve(
		[][]decimal.Decimal{{one, one}, {in.YieldA, in.YieldB}},
		[]decimal.Decimal{in.TargetQuantity, in.TargetYield},
	)
	if !ok {
		x = equalSplit(in.TargetQuantity, 2)
	}

	qA, qB := x[0], x[1]
	target := floorZero(in.TargetQuantity)
	switch {
	case qA.IsNegative():
		qA, qB = decimal.Zero, target
	case qB.IsNegative():
		qA, qB = target, decimal.Zero
	}

	return fundSequentially([]Product{in.A, in.B}, []decimal.Decimal{qA, qB}, in.ValueBudget)
}
