package domain

import (
	"fmt"
	"strings"
)

type TimingMethod string

const (
	TimingAbsolute  TimingMethod = "ABSOLUTE"
	TimingDependent TimingMethod = "DEPENDENT"
	TimingManual    TimingMethod = "MANUAL"
)

func (t TimingMethod) Valid() bool {
	switch t {
	case TimingAbsolute, TimingDependent, TimingManual:
		return true
	}
	return false
}

// FixedStart reports whether the start period is supplied by the author.
func (t TimingMethod) FixedStart() bool {
	return t == TimingAbsolute || t == TimingManual
}

func ParseTimingMethod(s string) (TimingMethod, error) {
	t := TimingMethod(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid timing_method %q", s)
	}
	return t, nil
}

type DistributionProfile string

const (
	ProfileLinear      DistributionProfile = "LINEAR"
	ProfileFrontLoaded DistributionProfile = "FRONT_LOADED"
	ProfileBackLoaded  DistributionProfile = "BACK_LOADED"
	ProfileBellCurve   DistributionProfile = "BELL_CURVE"
	ProfileMilestone   DistributionProfile = "MILESTONE"
)

func (p DistributionProfile) Valid() bool {
	switch p {
	case ProfileLinear, ProfileFrontLoaded, ProfileBackLoaded, ProfileBellCurve, ProfileMilestone:
		return true
	}
	return false
}

func ParseDistributionProfile(s string) (DistributionProfile, error) {
	p := DistributionProfile(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("invalid distribution_profile %q", s)
	}
	return p, nil
}

type TriggerEvent string

const (
	TriggerAbsolute         TriggerEvent = "ABSOLUTE"
	TriggerStart            TriggerEvent = "START"
	TriggerComplete         TriggerEvent = "COMPLETE"
	TriggerPctComplete      TriggerEvent = "PCT_COMPLETE"
	TriggerCumulativeAmount TriggerEvent = "CUMULATIVE_AMOUNT"
)

func (e TriggerEvent) Valid() bool {
	switch e {
	case TriggerAbsolute, TriggerStart, TriggerComplete, TriggerPctComplete, TriggerCumulativeAmount:
		return true
	}
	return false
}

// NeedsTriggerItem is false only for ABSOLUTE, which ignores the trigger item.
func (e TriggerEvent) NeedsTriggerItem() bool {
	return e.Valid() && e != TriggerAbsolute
}

// UsesValue reports whether trigger_value is meaningful for the event.
func (e TriggerEvent) UsesValue() bool {
	return e == TriggerPctComplete || e == TriggerCumulativeAmount
}

func ParseTriggerEvent(s string) (TriggerEvent, error) {
	e := TriggerEvent(strings.ToUpper(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("invalid trigger_event %q", s)
	}
	return e, nil
}

type EscalationTiming string

const (
	EscalateToStart    EscalationTiming = "TO_START"
	EscalateThroughout EscalationTiming = "THROUGHOUT"
)

func (e EscalationTiming) Valid() bool {
	return e == EscalateToStart || e == EscalateThroughout
}

func ParseEscalationTiming(s string) (EscalationTiming, error) {
	e := EscalationTiming(strings.ToUpper(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("invalid escalation_timing %q", s)
	}
	return e, nil
}
