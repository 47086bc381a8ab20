package optimizer

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"
)

// maxCondition bounds the 2-norm condition number a system may have before it is
// treated as singular.
const maxCondition = 1e12

// Solve solves the square system a·x = b by Gaussian elimination with partial
// pivoting in exact decimal arithmetic. ok is false for singular or
// ill-conditioned systems.
func Solve(a [][]decimal.Decimal, b []decimal.Decimal) (x []decimal.Decimal, ok bool) {
	n := len(b)
	if n == 0 || len(a) != n {
		return nil, false
	}
	if !wellConditioned(a) {
		return nil, false
	}

	m := make([][]decimal.Decimal, n)
	for i := range a {
		if len(a[i]) != n {
			return nil, false
		}
		m[i] = append(append(make([]decimal.Decimal, 0, n+1), a[i]...), b[i])
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if m[r][col].Abs().GreaterThan(m[pivot][col].Abs()) {
				pivot = r
			}
		}
		if m[pivot][col].IsZero() {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]

		for r := col + 1; r < n; r++ {
			if m[r][col].IsZero() {
				continue
			}
			f := m[r][col].Div(m[col][col])
			for c := col; c <= n; c++ {
				m[r][c] = m[r][c].Sub(f.Mul(m[col][c]))
			}
		}
	}

	x = make([]decimal.Decimal, n)
	for r := n - 1; r >= 0; r-- {
		acc := m[r][n]
		for c := r + 1; c < n; c++ {
			acc = acc.Sub(m[r][c].Mul(x[c]))
		}
		x[r] = acc.Div(m[r][r])
	}
	return x, true
}

func wellConditioned(a [][]decimal.Decimal) bool {
	n := len(a)
	data := make([]float64, 0, n*n)
	for _, row := range a {
		for _, v := range row {
			f, _ := v.Float64()
			data = append(data, f)
		}
	}
	if len(data) != n*n {
		return false
	}
	c := mat.Cond(mat.NewDense(n, n, data), 2)
	return !math.IsInf(c, 0) && !math.IsNaN(c) && c < maxCondition
}
