package domain

import "github.com/shopspring/decimal"

// MaxPeriod is the last period index a schedule may reach. Start periods,
// durations and dependency offsets are all bounded by it.
const MaxPeriod = 9999

type Project struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// BudgetItem is one line of a project's development budget.
type BudgetItem struct {
	ID                  string              `json:"id"`
	ProjectID           string              `json:"project_id"`
	Description         string              `json:"description"`
	TotalAmount         decimal.Decimal     `json:"total_amount"`
	TimingMethod        TimingMethod        `json:"timing_method"`
	StartPeriod         *int                `json:"start_period,omitempty"`
	PeriodsToComplete   int                 `json:"periods_to_complete"`
	DistributionProfile DistributionProfile `json:"distribution_profile"`
	CurveSteepness      float64             `json:"curve_steepness"`
	EscalationPct       *float64            `json:"escalation_pct,omitempty"`
	EscalationTiming    EscalationTiming    `json:"escalation_timing"`
	SortOrder           int                 `json:"sort_order"`
	CreatedAt           string              `json:"created_at" format:"date-time"`
	UpdatedAt           string              `json:"updated_at" format:"date-time"`
}

// Dependency is a directed edge: DependentItemID waits on TriggerItemID.
type Dependency struct {
	ID               string              `json:"id"`
	ProjectID        string              `json:"project_id"`
	DependentItemID  string              `json:"dependent_item_id"`
	TriggerItemID    string              `json:"trigger_item_id"`
	TriggerEvent     TriggerEvent        `json:"trigger_event"`
	TriggerValue     decimal.NullDecimal `json:"trigger_value"`
	OffsetPeriods    int                 `json:"offset_periods"`
	IsHardDependency bool                `json:"is_hard_dependency"`
	CreatedAt        string              `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
