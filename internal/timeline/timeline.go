// Package timeline turns a project's budget items and dependency edges into a
// per-item, per-period cost schedule with project-level rollups.
package timeline

import (
	"sort"

	"github.com/shopspring/decimal"

	"budgetline/internal/curve"
	"budgetline/internal/domain"
	"budgetline/internal/escalation"
	"budgetline/internal/resolver"
	"budgetline/internal/trigger"
)

// Inputs is the immutable snapshot a computation runs over.
type Inputs struct {
	ProjectID    string
	Items        []domain.BudgetItem
	Dependencies []domain.Dependency
}

// Options carries project-level settings that shape the computation.
type Options struct {
	Basis escalation.Basis
}

func DefaultOptions() Options {
	return Options{Basis: escalation.DefaultBasis()}
}

type PeriodAmount struct {
	Period int             `json:"period"`
	Amount decimal.Decimal `json:"amount"`
}

// ItemResult is the computed schedule of one budget item. Blocked items carry
// Error and no periods.
type ItemResult struct {
	ItemID              string                     `json:"item_id"`
	Description         string                     `json:"description"`
	TimingMethod        domain.TimingMethod        `json:"timing_method"`
	DistributionProfile domain.DistributionProfile `json:"distribution_profile"`
	State               resolver.State             `json:"state"`
	StartPeriod         *int                       `json:"start_period,omitempty"`
	EndPeriod           *int                       `json:"end_period,omitempty"`
	PeriodsToComplete   int                        `json:"periods_to_complete"`
	BaseAmount          decimal.Decimal            `json:"base_amount"`
	EffectiveAmount     decimal.Decimal            `json:"effective_amount"`
	Periods             []PeriodAmount             `json:"periods"`
	DependencyCount     int                        `json:"dependency_count"`
	Edges               []resolver.EdgeReport      `json:"edges"`
	Warnings            []resolver.Issue           `json:"warnings"`
	Error               *resolver.Issue            `json:"error,omitempty"`
}

type Summary struct {
	TotalAmount   decimal.Decimal `json:"total_amount"`
	FirstPeriod   *int            `json:"first_period,omitempty"`
	LastPeriod    *int            `json:"last_period,omitempty"`
	ItemCount     int             `json:"item_count"`
	ResolvedCount int             `json:"resolved_count"`
	BlockedCount  int             `json:"blocked_count"`
	WarningCount  int             `json:"warning_count"`
}

// Timeline is the full result for one project.
type Timeline struct {
	ProjectID    string         `json:"project_id"`
	Items        []ItemResult   `json:"items"`
	PeriodTotals []PeriodAmount `json:"period_totals"`
	Summary      Summary        `json:"summary"`
	// Issues lists every item error followed by every warning, in item order.
	Issues []resolver.Issue `json:"issues"`
}

// Item returns the result for an item id.
func (t *Timeline) Item(id string) (ItemResult, bool) {
	for _, it := range t.Items {
		if it.ItemID == id {
			return it, true
		}
	}
	return ItemResult{}, false
}

// Compute resolves, escalates and distributes every item. It has no side
// effects and the result depends only on its arguments.
func Compute(in Inputs, opts Options) *Timeline {
	res := resolver.Resolve(in.Items, in.Dependencies, scheduleFunc(opts.Basis))

	depCount := make(map[string]int, len(in.Items))
	for _, d := range in.Dependencies {
		depCount[d.DependentItemID]++
	}

	t := &Timeline{
		ProjectID:    in.ProjectID,
		Items:        make([]ItemResult, 0, len(res.Items)),
		PeriodTotals: []PeriodAmount{},
		Issues:       []resolver.Issue{},
	}
	totals := map[int]decimal.Decimal{}
	var warnings []resolver.Issue
	sum := decimal.Zero

	for _, r := range res.Items {
		ir := ItemResult{
			ItemID:              r.Item.ID,
			Description:         r.Item.Description,
			TimingMethod:        r.Item.TimingMethod,
			DistributionProfile: r.Item.DistributionProfile,
			State:               r.State,
			PeriodsToComplete:   r.Item.PeriodsToComplete,
			BaseAmount:          r.Item.TotalAmount.Round(curve.Scale),
			EffectiveAmount:     decimal.Zero,
			Periods:             []PeriodAmount{},
			DependencyCount:     depCount[r.Item.ID],
			Edges:               r.Edges,
			Warnings:            r.Warnings,
			Error:               r.Err,
		}
		if ir.Edges == nil {
			ir.Edges = []resolver.EdgeReport{}
		}
		if ir.Warnings == nil {
			ir.Warnings = []resolver.Issue{}
		}
		warnings = append(warnings, r.Warnings...)

		if r.State == resolver.StateResolved {
			start, end := r.Start, r.End
			ir.StartPeriod, ir.EndPeriod = &start, &end
			ir.EffectiveAmount = r.Schedule.Total
			for i, a := range r.Schedule.Amounts {
				p := r.Schedule.Start + i
				ir.Periods = append(ir.Periods, PeriodAmount{Period: p, Amount: a})
				totals[p] = totals[p].Add(a)
			}
			sum = sum.Add(r.Schedule.Total)
			t.Summary.ResolvedCount++
		} else {
			t.Summary.BlockedCount++
			if r.Err != nil {
				t.Issues = append(t.Issues, *r.Err)
			}
		}
		t.Items = append(t.Items, ir)
	}
	t.Issues = append(t.Issues, warnings...)

	t.Summary.ItemCount = len(t.Items)
	t.Summary.WarningCount = len(warnings)
	t.Summary.TotalAmount = sum
	t.PeriodTotals = contiguous(totals)
	if n := len(t.PeriodTotals); n > 0 {
		first, last := t.PeriodTotals[0].Period, t.PeriodTotals[n-1].Period
		t.Summary.FirstPeriod, t.Summary.LastPeriod = &first, &last
	}
	return t
}

// contiguous expands sparse totals into the full range from the first to the
// last period, filling gaps with zero.
func contiguous(totals map[int]decimal.Decimal) []PeriodAmount {
	if len(totals) == 0 {
		return []PeriodAmount{}
	}
	keys := make([]int, 0, len(totals))
	for p := range totals {
		keys = append(keys, p)
	}
	sort.Ints(keys)
	first, last := keys[0], keys[len(keys)-1]
	out := make([]PeriodAmount, 0, last-first+1)
	for p := first; p <= last; p++ {
		amt, ok := totals[p]
		if !ok {
			amt = decimal.Zero
		}
		out = append(out, PeriodAmount{Period: p, Amount: amt})
	}
	return out
}

func scheduleFunc(b escalation.Basis) resolver.ScheduleFunc {
	return func(it domain.BudgetItem, start, milestones int) (trigger.Schedule, error) {
		w, err := curve.Weights(it.PeriodsToComplete, curve.Shape{
			Profile:    it.DistributionProfile,
			Steepness:  it.CurveSteepness,
			Milestones: milestones,
		})
		if err != nil {
			return trigger.Schedule{}, err
		}
		adj, err := escalation.Adjust(b, it, start, w)
		if err != nil {
			return trigger.Schedule{}, err
		}
		amounts, err := curve.Spread(adj.Amount, adj.Weights)
		if err != nil {
			return trigger.Schedule{}, err
		}
		return trigger.Schedule{
			Start:   start,
			End:     start + it.PeriodsToComplete - 1,
			Total:   adj.Amount,
			Amounts: amounts,
		}, nil
	}
}
