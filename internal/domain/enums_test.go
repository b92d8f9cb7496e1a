package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums_CaseInsensitive(t *testing.T) {
	tm, err := ParseTimingMethod(" dependent ")
	require.NoError(t, err)
	assert.Equal(t, TimingDependent, tm)

	p, err := ParseDistributionProfile("bell_curve")
	require.NoError(t, err)
	assert.Equal(t, ProfileBellCurve, p)

	e, err := ParseTriggerEvent("Pct_Complete")
	require.NoError(t, err)
	assert.Equal(t, TriggerPctComplete, e)

	et, err := ParseEscalationTiming("throughout")
	require.NoError(t, err)
	assert.Equal(t, EscalateThroughout, et)
}

func TestParseEnums_RejectUnknown(t *testing.T) {
	_, err := ParseTimingMethod("FLOATING")
	assert.Error(t, err)
	_, err = ParseDistributionProfile("S_CURVE")
	assert.Error(t, err)
	_, err = ParseTriggerEvent("")
	assert.Error(t, err)
	_, err = ParseEscalationTiming("LATER")
	assert.Error(t, err)
}

func TestTriggerEventHelpers(t *testing.T) {
	assert.False(t, TriggerAbsolute.NeedsTriggerItem())
	assert.True(t, TriggerComplete.NeedsTriggerItem())
	assert.False(t, TriggerEvent("BOGUS").NeedsTriggerItem())

	assert.True(t, TriggerPctComplete.UsesValue())
	assert.True(t, TriggerCumulativeAmount.UsesValue())
	assert.False(t, TriggerStart.UsesValue())
}

func TestTimingMethodFixedStart(t *testing.T) {
	assert.True(t, TimingAbsolute.FixedStart())
	assert.True(t, TimingManual.FixedStart())
	assert.False(t, TimingDependent.FixedStart())
}
