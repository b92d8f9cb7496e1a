// Package resolver decides the start period of every budget item in a project.
//
// Items with a fixed timing method resolve to their own start period. DEPENDENT
// items take their start from the trigger conditions of their dependency edges,
// evaluated against trigger items that are already resolved. Items are visited
// in a triggers-first order produced by Tarjan's strongly connected components
// walk; any item on a cycle is blocked, and so is everything downstream of a
// blocked item.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"budgetline/internal/domain"
	"budgetline/internal/trigger"
)

type State string

const (
	StateUnresolved State = "unresolved"
	StateResolving  State = "resolving"
	StateResolved   State = "resolved"
	StateBlocked    State = "blocked"
)

type Code string

const (
	CodeCycleDetected        Code = "CycleDetected"
	CodeUnresolvedTrigger    Code = "UnresolvedTrigger"
	CodeInvalidTriggerValue  Code = "InvalidTriggerValue"
	CodeInvalidItem          Code = "InvalidItem"
	CodeNegativeStartClamped Code = "NegativeStartClamped"
)

// Fatal reports whether an issue with this code leaves the item unresolved.
func (c Code) Fatal() bool {
	return c != CodeNegativeStartClamped
}

// Issue is a failure or warning attached to an item.
type Issue struct {
	Code         Code     `json:"code"`
	Message      string   `json:"message"`
	ItemID       string   `json:"item_id"`
	ItemIDs      []string `json:"item_ids,omitempty"`
	DependencyID string   `json:"dependency_id,omitempty"`
}

// EdgeReport describes how one dependency edge was evaluated.
type EdgeReport struct {
	DependencyID   string              `json:"dependency_id"`
	TriggerItemID  string              `json:"trigger_item_id"`
	TriggerEvent   domain.TriggerEvent `json:"trigger_event"`
	Hard           bool                `json:"is_hard_dependency"`
	TriggerPeriod  int                 `json:"trigger_period"`
	OffsetPeriods  int                 `json:"offset_periods"`
	CandidateStart int                 `json:"candidate_start"`
	Clamped        bool                `json:"clamped,omitempty"`
	// Binding marks the edge whose candidate became the item's start.
	Binding bool `json:"binding,omitempty"`
}

// ScheduleFunc builds the schedule of an item once its start is known.
// milestones is the number of hard dependencies the item resolved with.
type ScheduleFunc func(item domain.BudgetItem, start, milestones int) (trigger.Schedule, error)

// Resolution is the outcome for one item.
type Resolution struct {
	Item     domain.BudgetItem
	State    State
	Start    int
	End      int
	Schedule trigger.Schedule
	Edges    []EdgeReport
	Warnings []Issue
	Err      *Issue
}

// Result holds one Resolution per input item, in input order.
type Result struct {
	Items []*Resolution
	// Order lists resolved item ids in the order they were resolved.
	Order []string
}

// Get returns the resolution for an item id.
func (r Result) Get(id string) (*Resolution, bool) {
	for _, it := range r.Items {
		if it.Item.ID == id {
			return it, true
		}
	}
	return nil, false
}

type graph struct {
	items    []domain.BudgetItem
	index    map[string]int
	incoming [][]domain.Dependency
	adj      [][]int
	selfLoop []bool
}

func buildGraph(items []domain.BudgetItem, deps []domain.Dependency) *graph {
	g := &graph{
		items:    items,
		index:    make(map[string]int, len(items)),
		incoming: make([][]domain.Dependency, len(items)),
		adj:      make([][]int, len(items)),
		selfLoop: make([]bool, len(items)),
	}
	for i, it := range items {
		if _, dup := g.index[it.ID]; !dup {
			g.index[it.ID] = i
		}
	}
	for _, d := range deps {
		di, ok := g.index[d.DependentItemID]
		if !ok || items[di].TimingMethod != domain.TimingDependent {
			continue
		}
		g.incoming[di] = append(g.incoming[di], d)
		if !d.TriggerEvent.NeedsTriggerItem() {
			continue
		}
		ti, ok := g.index[d.TriggerItemID]
		if !ok {
			continue
		}
		if ti == di {
			g.selfLoop[di] = true
		}
		g.adj[di] = append(g.adj[di], ti)
	}
	return g
}

// components runs Tarjan's algorithm. Components come out in reverse
// topological order of the condensation: every component is emitted after all
// components it can reach, so triggers precede their dependents.
func (g *graph) components() [][]int {
	n := len(g.items)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var (
		stack []int
		out   [][]int
		next  int
	)
	var visit func(v int)
	visit = func(v int) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.adj[v] {
			if index[w] < 0 {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		sort.Ints(comp)
		out = append(out, comp)
	}
	for v := 0; v < n; v++ {
		if index[v] < 0 {
			visit(v)
		}
	}
	return out
}

// Resolve computes start periods for items. schedule is called exactly once
// for every item that resolves, before any of its dependents is evaluated.
func Resolve(items []domain.BudgetItem, deps []domain.Dependency, schedule ScheduleFunc) Result {
	g := buildGraph(items, deps)
	res := Result{Items: make([]*Resolution, len(items))}
	for i, it := range items {
		res.Items[i] = &Resolution{Item: it, State: StateUnresolved}
	}
	for _, comp := range g.components() {
		if len(comp) > 1 || g.selfLoop[comp[0]] {
			ids := make([]string, len(comp))
			for k, v := range comp {
				ids[k] = items[v].ID
			}
			sort.Strings(ids)
			for _, v := range comp {
				block(res.Items[v], Issue{
					Code:    CodeCycleDetected,
					Message: fmt.Sprintf("dependency cycle between %s", strings.Join(ids, ", ")),
					ItemIDs: ids,
				})
			}
			continue
		}
		r := res.Items[comp[0]]
		r.State = StateResolving
		g.resolveItem(r, comp[0], res.Items, schedule)
		if r.State == StateResolved {
			res.Order = append(res.Order, r.Item.ID)
		}
	}
	return res
}

func block(r *Resolution, issue Issue) {
	issue.ItemID = r.Item.ID
	r.State = StateBlocked
	r.Err = &issue
	r.Schedule = trigger.Schedule{}
}

func (g *graph) resolveItem(r *Resolution, v int, all []*Resolution, schedule ScheduleFunc) {
	it := r.Item
	if it.PeriodsToComplete < 1 || it.PeriodsToComplete > domain.MaxPeriod+1 {
		block(r, Issue{Code: CodeInvalidItem, Message: fmt.Sprintf("periods_to_complete must be between 1 and %d, got %d", domain.MaxPeriod+1, it.PeriodsToComplete)})
		return
	}
	var (
		start      int
		milestones int
	)
	switch it.TimingMethod {
	case domain.TimingAbsolute, domain.TimingManual:
		if it.StartPeriod == nil || *it.StartPeriod < 0 || *it.StartPeriod > domain.MaxPeriod {
			block(r, Issue{Code: CodeInvalidItem, Message: fmt.Sprintf("%s item requires a start_period between 0 and %d", it.TimingMethod, domain.MaxPeriod)})
			return
		}
		start = *it.StartPeriod
	case domain.TimingDependent:
		var ok bool
		start, milestones, ok = g.dependentStart(r, v, all)
		if !ok {
			return
		}
	default:
		block(r, Issue{Code: CodeInvalidItem, Message: fmt.Sprintf("unknown timing method %q", it.TimingMethod)})
		return
	}
	// Starts and offsets are bounded by MaxPeriod, so this sum cannot overflow.
	if start+it.PeriodsToComplete-1 > domain.MaxPeriod {
		block(r, Issue{Code: CodeInvalidItem, Message: fmt.Sprintf("item starting at period %d with %d periods ends after period %d", start, it.PeriodsToComplete, domain.MaxPeriod)})
		return
	}
	sched, err := schedule(it, start, milestones)
	if err != nil {
		block(r, Issue{Code: CodeInvalidItem, Message: err.Error()})
		return
	}
	r.Start = start
	r.End = start + it.PeriodsToComplete - 1
	r.Schedule = sched
	r.State = StateResolved
}

// dependentStart evaluates every edge of a DEPENDENT item. The latest hard
// candidate wins; without hard edges the latest soft candidate is used, or 0.
func (g *graph) dependentStart(r *Resolution, v int, all []*Resolution) (start, hardCount int, ok bool) {
	edges := g.incoming[v]
	r.Edges = make([]EdgeReport, 0, len(edges))
	for _, d := range edges {
		rep := EdgeReport{
			DependencyID:  d.ID,
			TriggerItemID: d.TriggerItemID,
			TriggerEvent:  d.TriggerEvent,
			Hard:          d.IsHardDependency,
			OffsetPeriods: d.OffsetPeriods,
		}
		if d.OffsetPeriods < -domain.MaxPeriod || d.OffsetPeriods > domain.MaxPeriod {
			block(r, Issue{
				Code:         CodeInvalidItem,
				Message:      fmt.Sprintf("offset_periods %d is outside [%d, %d]", d.OffsetPeriods, -domain.MaxPeriod, domain.MaxPeriod),
				DependencyID: d.ID,
			})
			return 0, 0, false
		}
		if err := trigger.Validate(d.TriggerEvent, d.TriggerValue); err != nil {
			block(r, Issue{Code: CodeInvalidTriggerValue, Message: err.Error(), DependencyID: d.ID})
			return 0, 0, false
		}
		var sched trigger.Schedule
		if d.TriggerEvent.NeedsTriggerItem() {
			ti, found := g.index[d.TriggerItemID]
			if !found {
				block(r, Issue{
					Code:         CodeUnresolvedTrigger,
					Message:      fmt.Sprintf("trigger item %s does not exist", d.TriggerItemID),
					ItemIDs:      []string{d.TriggerItemID},
					DependencyID: d.ID,
				})
				return 0, 0, false
			}
			tr := all[ti]
			if tr.State != StateResolved {
				block(r, Issue{
					Code:         CodeUnresolvedTrigger,
					Message:      fmt.Sprintf("trigger item %s is %s", d.TriggerItemID, tr.State),
					ItemIDs:      []string{d.TriggerItemID},
					DependencyID: d.ID,
				})
				return 0, 0, false
			}
			sched = tr.Schedule
		}
		tp, err := trigger.Resolve(sched, d.TriggerEvent, d.TriggerValue)
		if err != nil {
			code := CodeInvalidTriggerValue
			if !errors.Is(err, trigger.ErrInvalidTriggerValue) {
				code = CodeUnresolvedTrigger
			}
			block(r, Issue{Code: code, Message: err.Error(), ItemIDs: []string{d.TriggerItemID}, DependencyID: d.ID})
			return 0, 0, false
		}
		rep.TriggerPeriod = tp
		rep.CandidateStart = tp + d.OffsetPeriods
		if rep.CandidateStart < 0 {
			r.Warnings = append(r.Warnings, Issue{
				Code:         CodeNegativeStartClamped,
				Message:      fmt.Sprintf("candidate start %d clamped to 0", rep.CandidateStart),
				ItemID:       r.Item.ID,
				DependencyID: d.ID,
			})
			rep.CandidateStart = 0
			rep.Clamped = true
		}
		if rep.Hard {
			hardCount++
		}
		r.Edges = append(r.Edges, rep)
	}
	binding := -1
	for i, rep := range r.Edges {
		if hardCount > 0 && !rep.Hard {
			continue
		}
		if binding < 0 || rep.CandidateStart > r.Edges[binding].CandidateStart {
			binding = i
		}
	}
	if binding >= 0 {
		r.Edges[binding].Binding = true
		start = r.Edges[binding].CandidateStart
	}
	return start, hardCount, true
}
