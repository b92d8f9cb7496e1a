// Package trigger answers when a condition on an already-scheduled item first holds.
package trigger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"budgetline/internal/domain"
)

// ErrInvalidTriggerValue marks a trigger value outside its event's domain.
var ErrInvalidTriggerValue = errors.New("invalid trigger value")

var hundred = decimal.NewFromInt(100)

// Schedule is the resolved schedule of a trigger item. Amounts[0] falls in
// period Start.
type Schedule struct {
	Start   int
	End     int
	Total   decimal.Decimal
	Amounts []decimal.Decimal
}

// Validate checks value against the domain of event. Events other than
// PCT_COMPLETE and CUMULATIVE_AMOUNT ignore the value.
func Validate(event domain.TriggerEvent, value decimal.NullDecimal) error {
	switch event {
	case domain.TriggerPctComplete:
		if !value.Valid {
			return fmt.Errorf("%w: PCT_COMPLETE requires a value", ErrInvalidTriggerValue)
		}
		if !value.Decimal.IsPositive() || value.Decimal.GreaterThan(hundred) {
			return fmt.Errorf("%w: PCT_COMPLETE must be in (0,100], got %s", ErrInvalidTriggerValue, value.Decimal)
		}
	case domain.TriggerCumulativeAmount:
		if !value.Valid {
			return fmt.Errorf("%w: CUMULATIVE_AMOUNT requires a value", ErrInvalidTriggerValue)
		}
		if !value.Decimal.IsPositive() {
			return fmt.Errorf("%w: CUMULATIVE_AMOUNT must be > 0, got %s", ErrInvalidTriggerValue, value.Decimal)
		}
	case domain.TriggerAbsolute, domain.TriggerStart, domain.TriggerComplete:
	default:
		return fmt.Errorf("unknown trigger event %q", event)
	}
	return nil
}

// Resolve returns the first period at which event holds for s. The offset of
// the dependency is applied by the caller.
func Resolve(s Schedule, event domain.TriggerEvent, value decimal.NullDecimal) (int, error) {
	if err := Validate(event, value); err != nil {
		return 0, err
	}
	switch event {
	case domain.TriggerAbsolute:
		return 0, nil
	case domain.TriggerStart:
		return s.Start, nil
	case domain.TriggerComplete:
		return s.End, nil
	case domain.TriggerPctComplete:
		return pctComplete(s, value.Decimal)
	case domain.TriggerCumulativeAmount:
		return cumulativeAmount(s, value.Decimal)
	}
	return 0, fmt.Errorf("unknown trigger event %q", event)
}

// pctComplete finds the smallest p with cum(p)/total >= v/100, compared as
// cum*100 >= v*total so the threshold is never missed by rounding.
func pctComplete(s Schedule, v decimal.Decimal) (int, error) {
	if len(s.Amounts) == 0 {
		return 0, errors.New("trigger schedule has no periods")
	}
	n := len(s.Amounts)
	if s.Total.IsZero() {
		// No spend to measure; progress is the share of elapsed periods.
		for i := 0; i < n; i++ {
			if decimal.NewFromInt(int64(i+1)).Mul(hundred).GreaterThanOrEqual(v.Mul(decimal.NewFromInt(int64(n)))) {
				return s.Start + i, nil
			}
		}
		return s.End, nil
	}
	want := v.Mul(s.Total)
	cum := decimal.Zero
	for i, amt := range s.Amounts {
		cum = cum.Add(amt)
		if cum.Mul(hundred).GreaterThanOrEqual(want) {
			return s.Start + i, nil
		}
	}
	return s.End, nil
}

func cumulativeAmount(s Schedule, v decimal.Decimal) (int, error) {
	if v.GreaterThan(s.Total) {
		return 0, fmt.Errorf("%w: CUMULATIVE_AMOUNT %s exceeds trigger item total %s", ErrInvalidTriggerValue, v, s.Total)
	}
	cum := decimal.Zero
	for i, amt := range s.Amounts {
		cum = cum.Add(amt)
		if cum.GreaterThanOrEqual(v) {
			return s.Start + i, nil
		}
	}
	return s.End, nil
}
