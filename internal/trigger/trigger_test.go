package trigger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetline/internal/domain"
)

func val(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func linear400() Schedule {
	hundredEach := decimal.NewFromInt(100)
	return Schedule{
		Start:   0,
		End:     3,
		Total:   decimal.NewFromInt(400),
		Amounts: []decimal.Decimal{hundredEach, hundredEach, hundredEach, hundredEach},
	}
}

func TestResolve_StartAndComplete(t *testing.T) {
	s := linear400()
	s.Start, s.End = 2, 5

	p, err := Resolve(s, domain.TriggerStart, decimal.NullDecimal{})
	require.NoError(t, err)
	assert.Equal(t, 2, p)

	p, err = Resolve(s, domain.TriggerComplete, decimal.NullDecimal{})
	require.NoError(t, err)
	assert.Equal(t, 5, p)
}

func TestResolve_AbsoluteIgnoresTriggerItem(t *testing.T) {
	s := linear400()
	s.Start, s.End = 7, 10
	p, err := Resolve(s, domain.TriggerAbsolute, val("55"))
	require.NoError(t, err)
	assert.Equal(t, 0, p)
}

func TestResolve_PctComplete(t *testing.T) {
	s := linear400()
	cases := []struct {
		pct  string
		want int
	}{
		{"25", 0},
		{"25.01", 1},
		{"50", 1},
		{"75", 2},
		{"100", 3},
		{"0.01", 0},
	}
	for _, tc := range cases {
		p, err := Resolve(s, domain.TriggerPctComplete, val(tc.pct))
		require.NoError(t, err, tc.pct)
		assert.Equal(t, tc.want, p, "pct %s", tc.pct)
	}
}

func TestResolve_PctCompleteCeilingSemantics(t *testing.T) {
	third := decimal.RequireFromString("33.33")
	s := Schedule{
		Start:   0,
		End:     2,
		Total:   decimal.NewFromInt(100),
		Amounts: []decimal.Decimal{third, third, decimal.RequireFromString("33.34")},
	}
	// 66.66 of 100 falls short of 66.67%, so the threshold is met one period later.
	p, err := Resolve(s, domain.TriggerPctComplete, val("66.67"))
	require.NoError(t, err)
	assert.Equal(t, 2, p)

	p, err = Resolve(s, domain.TriggerPctComplete, val("66.66"))
	require.NoError(t, err)
	assert.Equal(t, 1, p)
}

func TestResolve_PctCompleteZeroTotalUsesElapsedPeriods(t *testing.T) {
	s := Schedule{Start: 3, End: 6, Total: decimal.Zero, Amounts: make([]decimal.Decimal, 4)}
	p, err := Resolve(s, domain.TriggerPctComplete, val("50"))
	require.NoError(t, err)
	assert.Equal(t, 4, p)
}

func TestResolve_CumulativeAmount(t *testing.T) {
	s := linear400()
	p, err := Resolve(s, domain.TriggerCumulativeAmount, val("150"))
	require.NoError(t, err)
	assert.Equal(t, 1, p)

	p, err = Resolve(s, domain.TriggerCumulativeAmount, val("400"))
	require.NoError(t, err)
	assert.Equal(t, 3, p)

	_, err = Resolve(s, domain.TriggerCumulativeAmount, val("400.01"))
	assert.ErrorIs(t, err, ErrInvalidTriggerValue)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(domain.TriggerPctComplete, decimal.NullDecimal{}), ErrInvalidTriggerValue)
	assert.ErrorIs(t, Validate(domain.TriggerPctComplete, val("0")), ErrInvalidTriggerValue)
	assert.ErrorIs(t, Validate(domain.TriggerPctComplete, val("100.5")), ErrInvalidTriggerValue)
	assert.NoError(t, Validate(domain.TriggerPctComplete, val("100")))

	assert.ErrorIs(t, Validate(domain.TriggerCumulativeAmount, val("-1")), ErrInvalidTriggerValue)
	assert.ErrorIs(t, Validate(domain.TriggerCumulativeAmount, decimal.NullDecimal{}), ErrInvalidTriggerValue)
	assert.NoError(t, Validate(domain.TriggerCumulativeAmount, val("0.01")))

	assert.NoError(t, Validate(domain.TriggerStart, val("-42")))
	assert.NoError(t, Validate(domain.TriggerComplete, decimal.NullDecimal{}))

	err := Validate("WHENEVER", decimal.NullDecimal{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTriggerValue)
}
