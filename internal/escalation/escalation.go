// Package escalation uplifts budget amounts for cost growth relative to a
// project baseline period. Percentages are annual and compound per period.
package escalation

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"budgetline/internal/curve"
	"budgetline/internal/domain"
)

// Basis is the project-level reference for compounding.
type Basis struct {
	BaselinePeriod int
	PeriodsPerYear int
}

// DefaultBasis compounds monthly from period 0.
func DefaultBasis() Basis {
	return Basis{BaselinePeriod: 0, PeriodsPerYear: 12}
}

// Factor is the compounded growth multiplier at period. Periods at or before
// the baseline are not escalated.
func (b Basis) Factor(pct float64, period int) float64 {
	ppy := b.PeriodsPerYear
	if ppy < 1 {
		ppy = 1
	}
	elapsed := period - b.BaselinePeriod
	if elapsed <= 0 || pct == 0 {
		return 1
	}
	return math.Pow(1+pct/100, float64(elapsed)/float64(ppy))
}

// Adjustment is the escalated total of an item and the weights to spread it with.
type Adjustment struct {
	Amount  decimal.Decimal
	Weights []float64
}

// Adjust applies the item's escalation to its total, given its resolved start
// period and its profile weights. The returned weights are a fresh slice.
func Adjust(b Basis, item domain.BudgetItem, start int, weights []float64) (Adjustment, error) {
	out := Adjustment{
		Amount:  item.TotalAmount.Round(curve.Scale),
		Weights: append([]float64(nil), weights...),
	}
	if item.EscalationPct == nil || *item.EscalationPct == 0 {
		return out, nil
	}
	pct := *item.EscalationPct
	if pct <= -100 || math.IsNaN(pct) || math.IsInf(pct, 0) {
		return Adjustment{}, fmt.Errorf("escalation_pct must be greater than -100, got %v", pct)
	}
	switch item.EscalationTiming {
	case domain.EscalateThroughout:
		var base, escalated float64
		for i, w := range weights {
			f := b.Factor(pct, start+i)
			base += w
			out.Weights[i] = w * f
			escalated += out.Weights[i]
		}
		if base == 0 {
			return out, nil
		}
		ratio := decimal.NewFromFloat(escalated / base)
		out.Amount = item.TotalAmount.Mul(ratio).Round(curve.Scale)
	case domain.EscalateToStart, "":
		f := decimal.NewFromFloat(b.Factor(pct, start))
		out.Amount = item.TotalAmount.Mul(f).Round(curve.Scale)
	default:
		return Adjustment{}, fmt.Errorf("unknown escalation timing %q", item.EscalationTiming)
	}
	return out, nil
}
