package resolver

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetline/internal/curve"
	"budgetline/internal/domain"
	"budgetline/internal/trigger"
)

func ptr(v int) *int { return &v }

func absolute(id string, start, periods int, total int64) domain.BudgetItem {
	return domain.BudgetItem{
		ID:                  id,
		TotalAmount:         decimal.NewFromInt(total),
		TimingMethod:        domain.TimingAbsolute,
		StartPeriod:         ptr(start),
		PeriodsToComplete:   periods,
		DistributionProfile: domain.ProfileLinear,
	}
}

func dependent(id string, periods int, total int64) domain.BudgetItem {
	return domain.BudgetItem{
		ID:                  id,
		TotalAmount:         decimal.NewFromInt(total),
		TimingMethod:        domain.TimingDependent,
		PeriodsToComplete:   periods,
		DistributionProfile: domain.ProfileLinear,
	}
}

func edge(id, dependent, trig string, ev domain.TriggerEvent, offset int, hard bool) domain.Dependency {
	return domain.Dependency{
		ID:               id,
		DependentItemID:  dependent,
		TriggerItemID:    trig,
		TriggerEvent:     ev,
		OffsetPeriods:    offset,
		IsHardDependency: hard,
	}
}

// linearSchedule spreads each item's undiscounted total with its profile.
func linearSchedule(calls map[string]int) ScheduleFunc {
	return func(it domain.BudgetItem, start, milestones int) (trigger.Schedule, error) {
		if calls != nil {
			calls[it.ID]++
		}
		amounts, err := curve.Distribute(it.TotalAmount, it.PeriodsToComplete, curve.Shape{
			Profile:    it.DistributionProfile,
			Milestones: milestones,
		})
		if err != nil {
			return trigger.Schedule{}, err
		}
		return trigger.Schedule{
			Start:   start,
			End:     start + it.PeriodsToComplete - 1,
			Total:   it.TotalAmount,
			Amounts: amounts,
		}, nil
	}
}

func mustGet(t *testing.T, r Result, id string) *Resolution {
	t.Helper()
	got, ok := r.Get(id)
	require.True(t, ok, "missing resolution for %s", id)
	return got
}

func TestResolve_BasicChain(t *testing.T) {
	items := []domain.BudgetItem{absolute("A", 0, 4, 400), dependent("B", 2, 200)}
	deps := []domain.Dependency{edge("e1", "B", "A", domain.TriggerComplete, 1, true)}

	res := Resolve(items, deps, linearSchedule(nil))

	a := mustGet(t, res, "A")
	require.Equal(t, StateResolved, a.State)
	assert.Equal(t, 3, a.End)

	b := mustGet(t, res, "B")
	require.Equal(t, StateResolved, b.State)
	assert.Equal(t, 4, b.Start)
	assert.Equal(t, 5, b.End)
	require.Len(t, b.Edges, 1)
	assert.True(t, b.Edges[0].Binding)
	assert.Equal(t, 3, b.Edges[0].TriggerPeriod)
	assert.Equal(t, []string{"A", "B"}, res.Order)
}

func TestResolve_PercentTrigger(t *testing.T) {
	items := []domain.BudgetItem{absolute("A", 0, 4, 400), dependent("C", 3, 300)}
	pct := edge("e1", "C", "A", domain.TriggerPctComplete, 0, true)
	pct.TriggerValue = decimal.NewNullDecimal(decimal.NewFromInt(50))

	res := Resolve(items, []domain.Dependency{pct}, linearSchedule(nil))

	c := mustGet(t, res, "C")
	require.Equal(t, StateResolved, c.State)
	assert.Equal(t, 1, c.Start)
}

func TestResolve_HardWinsOverSoft(t *testing.T) {
	items := []domain.BudgetItem{
		absolute("A", 0, 4, 400), // completes at 3
		absolute("S", 0, 6, 600), // completes at 5
		dependent("D", 2, 100),
	}
	deps := []domain.Dependency{
		edge("hard", "D", "A", domain.TriggerComplete, 1, true),
		edge("soft", "D", "S", domain.TriggerComplete, 1, false),
	}

	res := Resolve(items, deps, linearSchedule(nil))

	d := mustGet(t, res, "D")
	require.Equal(t, StateResolved, d.State)
	assert.Equal(t, 4, d.Start)
	require.Len(t, d.Edges, 2)
	assert.True(t, d.Edges[0].Binding)
	assert.False(t, d.Edges[1].Binding)
	assert.Equal(t, 6, d.Edges[1].CandidateStart, "soft edge is still evaluated and reported")
}

func TestResolve_LatestHardEdgeWins(t *testing.T) {
	items := []domain.BudgetItem{
		absolute("A", 0, 2, 100),
		absolute("B", 0, 8, 100),
		dependent("D", 1, 100),
	}
	deps := []domain.Dependency{
		edge("e1", "D", "B", domain.TriggerComplete, 0, true),
		edge("e2", "D", "A", domain.TriggerComplete, 0, true),
	}
	res := Resolve(items, deps, linearSchedule(nil))
	d := mustGet(t, res, "D")
	assert.Equal(t, 7, d.Start)
	assert.True(t, d.Edges[0].Binding)
}

func TestResolve_SoftOnlyUsesLatestSoft(t *testing.T) {
	items := []domain.BudgetItem{
		absolute("A", 0, 2, 100),
		absolute("B", 3, 2, 100),
		dependent("D", 1, 100),
	}
	deps := []domain.Dependency{
		edge("e1", "D", "A", domain.TriggerStart, 0, false),
		edge("e2", "D", "B", domain.TriggerStart, 0, false),
	}
	res := Resolve(items, deps, linearSchedule(nil))
	assert.Equal(t, 3, mustGet(t, res, "D").Start)
}

func TestResolve_DependentWithoutEdgesStartsAtZero(t *testing.T) {
	res := Resolve([]domain.BudgetItem{dependent("D", 3, 90)}, nil, linearSchedule(nil))
	d := mustGet(t, res, "D")
	require.Equal(t, StateResolved, d.State)
	assert.Equal(t, 0, d.Start)
	assert.Equal(t, 2, d.End)
}

func TestResolve_NegativeStartClamped(t *testing.T) {
	items := []domain.BudgetItem{absolute("A", 0, 3, 300), dependent("B", 2, 100)}
	deps := []domain.Dependency{edge("e1", "B", "A", domain.TriggerComplete, -10, true)}

	res := Resolve(items, deps, linearSchedule(nil))

	b := mustGet(t, res, "B")
	require.Equal(t, StateResolved, b.State)
	assert.Equal(t, 0, b.Start)
	assert.Nil(t, b.Err)
	require.Len(t, b.Warnings, 1)
	assert.Equal(t, CodeNegativeStartClamped, b.Warnings[0].Code)
	assert.False(t, b.Warnings[0].Code.Fatal())
	assert.True(t, b.Edges[0].Clamped)
}

func TestResolve_CycleDetected(t *testing.T) {
	items := []domain.BudgetItem{dependent("A", 1, 10), dependent("B", 1, 10), dependent("C", 1, 10)}
	deps := []domain.Dependency{
		edge("ab", "A", "B", domain.TriggerComplete, 0, true),
		edge("bc", "B", "C", domain.TriggerComplete, 0, true),
		edge("ca", "C", "A", domain.TriggerComplete, 0, true),
	}
	calls := map[string]int{}

	res := Resolve(items, deps, linearSchedule(calls))

	for _, id := range []string{"A", "B", "C"} {
		r := mustGet(t, res, id)
		assert.Equal(t, StateBlocked, r.State, id)
		require.NotNil(t, r.Err, id)
		assert.Equal(t, CodeCycleDetected, r.Err.Code)
		assert.Equal(t, []string{"A", "B", "C"}, r.Err.ItemIDs)
		assert.Empty(t, r.Schedule.Amounts, "no partial schedule for %s", id)
	}
	assert.Empty(t, calls)
	assert.Empty(t, res.Order)
}

func TestResolve_CycleMembersReachedThroughCrossEdge(t *testing.T) {
	// A<->B, plus A->C->B: C is on the cycle A->C->B->A.
	items := []domain.BudgetItem{dependent("A", 1, 10), dependent("B", 1, 10), dependent("C", 1, 10)}
	deps := []domain.Dependency{
		edge("ab", "A", "B", domain.TriggerComplete, 0, true),
		edge("ba", "B", "A", domain.TriggerComplete, 0, true),
		edge("ac", "A", "C", domain.TriggerComplete, 0, true),
		edge("cb", "C", "B", domain.TriggerComplete, 0, true),
	}
	res := Resolve(items, deps, linearSchedule(nil))
	for _, id := range []string{"A", "B", "C"} {
		r := mustGet(t, res, id)
		require.NotNil(t, r.Err, id)
		assert.Equal(t, CodeCycleDetected, r.Err.Code, id)
	}
}

func TestResolve_SelfDependencyIsACycle(t *testing.T) {
	items := []domain.BudgetItem{dependent("A", 1, 10)}
	deps := []domain.Dependency{edge("aa", "A", "A", domain.TriggerStart, 0, true)}
	res := Resolve(items, deps, linearSchedule(nil))
	a := mustGet(t, res, "A")
	require.NotNil(t, a.Err)
	assert.Equal(t, CodeCycleDetected, a.Err.Code)
	assert.Equal(t, []string{"A"}, a.Err.ItemIDs)
}

func TestResolve_BlockedPropagatesTransitively(t *testing.T) {
	items := []domain.BudgetItem{
		dependent("A", 1, 10),
		dependent("B", 1, 10),
		dependent("D", 1, 10),
		dependent("E", 1, 10),
		absolute("F", 0, 2, 10),
		dependent("G", 1, 10),
	}
	deps := []domain.Dependency{
		edge("ab", "A", "B", domain.TriggerComplete, 0, true),
		edge("ba", "B", "A", domain.TriggerComplete, 0, true),
		edge("da", "D", "A", domain.TriggerComplete, 0, true),
		edge("ed", "E", "D", domain.TriggerStart, 0, false),
		edge("gf", "G", "F", domain.TriggerComplete, 0, true),
	}
	res := Resolve(items, deps, linearSchedule(nil))

	d := mustGet(t, res, "D")
	require.NotNil(t, d.Err)
	assert.Equal(t, CodeUnresolvedTrigger, d.Err.Code)
	assert.Equal(t, []string{"A"}, d.Err.ItemIDs)

	e := mustGet(t, res, "E")
	require.NotNil(t, e.Err)
	assert.Equal(t, CodeUnresolvedTrigger, e.Err.Code)

	g := mustGet(t, res, "G")
	assert.Equal(t, StateResolved, g.State, "unaffected subgraph still resolves")
	assert.Equal(t, 1, g.Start)
}

func TestResolve_MissingTriggerItem(t *testing.T) {
	items := []domain.BudgetItem{dependent("B", 1, 10)}
	deps := []domain.Dependency{edge("e1", "B", "ghost", domain.TriggerComplete, 0, true)}
	res := Resolve(items, deps, linearSchedule(nil))
	b := mustGet(t, res, "B")
	require.NotNil(t, b.Err)
	assert.Equal(t, CodeUnresolvedTrigger, b.Err.Code)
	assert.Equal(t, "e1", b.Err.DependencyID)
}

func TestResolve_InvalidTriggerValue(t *testing.T) {
	items := []domain.BudgetItem{absolute("A", 0, 4, 400), dependent("B", 1, 10), dependent("C", 1, 10)}
	over := edge("e1", "B", "A", domain.TriggerPctComplete, 0, true)
	over.TriggerValue = decimal.NewNullDecimal(decimal.NewFromInt(150))
	tooMuch := edge("e2", "C", "A", domain.TriggerCumulativeAmount, 0, false)
	tooMuch.TriggerValue = decimal.NewNullDecimal(decimal.NewFromInt(500))

	res := Resolve(items, []domain.Dependency{over, tooMuch}, linearSchedule(nil))

	b := mustGet(t, res, "B")
	require.NotNil(t, b.Err)
	assert.Equal(t, CodeInvalidTriggerValue, b.Err.Code)
	c := mustGet(t, res, "C")
	require.NotNil(t, c.Err)
	assert.Equal(t, CodeInvalidTriggerValue, c.Err.Code)
	assert.Equal(t, StateResolved, mustGet(t, res, "A").State)
}

func TestResolve_AbsoluteEventActsLikeFixedDate(t *testing.T) {
	items := []domain.BudgetItem{dependent("B", 2, 10)}
	deps := []domain.Dependency{edge("e1", "B", "anything", domain.TriggerAbsolute, 6, true)}
	res := Resolve(items, deps, linearSchedule(nil))
	b := mustGet(t, res, "B")
	require.Equal(t, StateResolved, b.State)
	assert.Equal(t, 6, b.Start)
}

func TestResolve_EdgesOfFixedItemsAreIgnored(t *testing.T) {
	items := []domain.BudgetItem{absolute("A", 5, 2, 10), absolute("B", 0, 2, 10)}
	deps := []domain.Dependency{
		edge("ab", "A", "B", domain.TriggerComplete, 4, true),
		edge("ba", "B", "A", domain.TriggerComplete, 4, true),
	}
	res := Resolve(items, deps, linearSchedule(nil))
	a := mustGet(t, res, "A")
	require.Equal(t, StateResolved, a.State)
	assert.Equal(t, 5, a.Start)
	assert.Empty(t, a.Edges)
}

func TestResolve_InvalidItems(t *testing.T) {
	noStart := absolute("A", 0, 2, 10)
	noStart.StartPeriod = nil
	zeroPeriods := dependent("B", 0, 10)
	negative := absolute("C", -1, 2, 10)
	manual := absolute("M", 2, 1, 10)
	manual.TimingMethod = domain.TimingManual

	res := Resolve([]domain.BudgetItem{noStart, zeroPeriods, negative, manual}, nil, linearSchedule(nil))
	for _, id := range []string{"A", "B", "C"} {
		r := mustGet(t, res, id)
		require.NotNil(t, r.Err, id)
		assert.Equal(t, CodeInvalidItem, r.Err.Code, id)
	}
	m := mustGet(t, res, "M")
	require.Equal(t, StateResolved, m.State)
	assert.Equal(t, 2, m.Start)
}

func TestResolve_TriggersResolveBeforeDependents(t *testing.T) {
	// Input order lists dependents first; resolution order must not.
	items := []domain.BudgetItem{
		dependent("C", 1, 10),
		dependent("B", 1, 10),
		absolute("A", 0, 1, 10),
	}
	deps := []domain.Dependency{
		edge("cb", "C", "B", domain.TriggerComplete, 1, true),
		edge("ba", "B", "A", domain.TriggerComplete, 1, true),
	}
	calls := map[string]int{}
	res := Resolve(items, deps, linearSchedule(calls))
	assert.Equal(t, []string{"A", "B", "C"}, res.Order)
	assert.Equal(t, 2, mustGet(t, res, "C").Start)
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, calls)
	assert.Equal(t, "C", res.Items[0].Item.ID, "results keep input order")
}

func TestResolve_MilestoneCountIsHardEdgeCount(t *testing.T) {
	items := []domain.BudgetItem{absolute("A", 0, 1, 10), absolute("B", 0, 1, 10), dependent("M", 4, 1000)}
	items[2].DistributionProfile = domain.ProfileMilestone
	deps := []domain.Dependency{
		edge("e1", "M", "A", domain.TriggerComplete, 0, true),
		edge("e2", "M", "B", domain.TriggerComplete, 0, true),
		edge("e3", "M", "B", domain.TriggerStart, 0, false),
	}
	var got int
	res := Resolve(items, deps, func(it domain.BudgetItem, start, milestones int) (trigger.Schedule, error) {
		if it.ID == "M" {
			got = milestones
		}
		return linearSchedule(nil)(it, start, milestones)
	})
	require.Equal(t, StateResolved, mustGet(t, res, "M").State)
	assert.Equal(t, 2, got)
}

func TestResolve_PeriodsBeyondMaxPeriodAreInvalid(t *testing.T) {
	items := []domain.BudgetItem{
		absolute("huge", math.MaxInt, 1, 10),
		absolute("wraps", math.MaxInt-1, 3, 10),
		absolute("long", 0, domain.MaxPeriod+2, 10),
		absolute("tail", domain.MaxPeriod-1, 3, 10),
		absolute("last", domain.MaxPeriod, 1, 10),
		dependent("late", 5, 10),
	}
	deps := []domain.Dependency{edge("e1", "late", "last", domain.TriggerComplete, 0, true)}

	res := Resolve(items, deps, linearSchedule(nil))

	for _, id := range []string{"huge", "wraps", "long", "tail", "late"} {
		r := mustGet(t, res, id)
		require.Equal(t, StateBlocked, r.State, id)
		assert.Equal(t, CodeInvalidItem, r.Err.Code, id)
	}
	last := mustGet(t, res, "last")
	require.Equal(t, StateResolved, last.State)
	assert.Equal(t, domain.MaxPeriod, last.End)
}

func TestResolve_OffsetOutOfRangeBlocksInsteadOfClamping(t *testing.T) {
	items := []domain.BudgetItem{absolute("A", 0, 4, 400), dependent("B", 2, 200), dependent("C", 2, 200)}
	deps := []domain.Dependency{
		edge("big", "B", "A", domain.TriggerComplete, math.MaxInt, true),
		edge("small", "C", "A", domain.TriggerComplete, math.MinInt, true),
	}

	res := Resolve(items, deps, linearSchedule(nil))

	for _, id := range []string{"B", "C"} {
		r := mustGet(t, res, id)
		require.Equal(t, StateBlocked, r.State, id)
		assert.Equal(t, CodeInvalidItem, r.Err.Code, id)
		assert.Empty(t, r.Warnings, id)
	}
	assert.Equal(t, "big", mustGet(t, res, "B").Err.DependencyID)
}
