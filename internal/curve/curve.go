// Package curve spreads a total amount across a run of periods according to a
// distribution profile. All money is handled at cent precision; the final
// period absorbs whatever the truncated shares leave over, so a distribution
// always sums exactly to its (cent-rounded) total.
package curve

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"budgetline/internal/domain"
)

// Scale is the number of fractional digits kept for money (cents).
const Scale = 2

// guardScale absorbs float noise in weights before shares are truncated to cents.
const guardScale = Scale + 6

// ErrNoPeriods is returned when asked to distribute over fewer than one period.
var ErrNoPeriods = errors.New("periods must be at least 1")

// Shape selects and parameterizes a distribution profile.
type Shape struct {
	Profile   domain.DistributionProfile
	Steepness float64
	// Milestones is the number of allocation points used by MILESTONE.
	// Values below 1 mean a single completion milestone.
	Milestones int
}

// Distribute returns periods amounts that sum exactly to total rounded to cents.
func Distribute(total decimal.Decimal, periods int, s Shape) ([]decimal.Decimal, error) {
	w, err := Weights(periods, s)
	if err != nil {
		return nil, err
	}
	return Spread(total, w)
}

// Weights returns the relative (unnormalized) weight of each period for s.
func Weights(periods int, s Shape) ([]float64, error) {
	if periods < 1 {
		return nil, ErrNoPeriods
	}
	w := make([]float64, periods)
	if periods == 1 {
		w[0] = 1
		return w, nil
	}
	switch s.Profile {
	case domain.ProfileLinear:
		for i := range w {
			w[i] = 1
		}
	case domain.ProfileFrontLoaded:
		for i := range w {
			w[i] = float64(periods - i)
		}
	case domain.ProfileBackLoaded:
		for i := range w {
			w[i] = float64(i + 1)
		}
	case domain.ProfileBellCurve:
		k := s.Steepness
		if k < 0 || math.IsNaN(k) || math.IsInf(k, 0) {
			k = 0
		}
		mid := float64(periods-1) / 2
		half := float64(periods) / 2
		sq := make([]float64, periods)
		minSq := math.Inf(1)
		for i := range sq {
			x := (float64(i) - mid) / half
			sq[i] = x * x
			minSq = math.Min(minSq, sq[i])
		}
		// The central weights are exactly 1 at any steepness.
		for i := range w {
			w[i] = math.Exp(-k * (sq[i] - minSq))
		}
	case domain.ProfileMilestone:
		for _, off := range MilestoneOffsets(periods, s.Milestones) {
			w[off]++
		}
	default:
		return nil, fmt.Errorf("unknown distribution profile %q", s.Profile)
	}
	return w, nil
}

// MilestoneOffsets places m allocation points across periods, returning the
// zero-based period offset of each point in order. Point k (1..m) lands at
// ceil(k*periods/m)-1, so the last point is always the final period.
func MilestoneOffsets(periods, m int) []int {
	if periods < 1 {
		return nil
	}
	if m < 1 {
		m = 1
	}
	out := make([]int, m)
	for k := 1; k <= m; k++ {
		out[k-1] = (k*periods+m-1)/m - 1
	}
	return out
}

// Spread splits total proportionally to weights. Every share but the last is
// truncated to cents and the last takes the remainder.
func Spread(total decimal.Decimal, weights []float64) ([]decimal.Decimal, error) {
	if len(weights) == 0 {
		return nil, ErrNoPeriods
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("total amount must not be negative: %s", total)
	}
	total = total.Round(Scale)
	out := make([]decimal.Decimal, len(weights))
	dw := make([]decimal.Decimal, len(weights))
	sum := decimal.Zero
	for i, v := range weights {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid weight %v at period offset %d", v, i)
		}
		dw[i] = decimal.NewFromFloat(v)
		sum = sum.Add(dw[i])
	}
	last := len(weights) - 1
	if sum.IsZero() || total.IsZero() {
		for i := range out {
			out[i] = decimal.Zero
		}
		out[last] = total
		return out, nil
	}
	acc := decimal.Zero
	for i := 0; i < last; i++ {
		out[i] = total.Mul(dw[i]).Div(sum).Round(guardScale).Truncate(Scale)
		acc = acc.Add(out[i])
	}
	out[last] = total.Sub(acc)
	return out, nil
}
