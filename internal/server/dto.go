package server

import (
	"encoding/json"

	"budgetline/internal/config"
	"budgetline/internal/curve"
	"budgetline/internal/domain"
	"budgetline/internal/engine"
)

// Request DTOs

type CreateProjectRequest struct {
	ID          string  `json:"id,omitempty"`
	Description *string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Status      string  `json:"status,omitempty" enum:"active,archived"`
	Description *string `json:"description,omitempty"`
}

// Enum fields are strings so that any casing is accepted and rejected with
// the API's own validation error.
type CreateItemRequest struct {
	ID                  string   `json:"id,omitempty"`
	Description         string   `json:"description,omitempty"`
	TotalAmount         string   `json:"total_amount" example:"1000.00"`
	TimingMethod        string   `json:"timing_method,omitempty" example:"ABSOLUTE"`
	StartPeriod         *int     `json:"start_period,omitempty"`
	PeriodsToComplete   int      `json:"periods_to_complete" example:"4"`
	DistributionProfile string   `json:"distribution_profile,omitempty" example:"LINEAR"`
	CurveSteepness      *float64 `json:"curve_steepness,omitempty"`
	EscalationPct       *float64 `json:"escalation_pct,omitempty"`
	EscalationTiming    string   `json:"escalation_timing,omitempty" example:"TO_START"`
	SortOrder           *int     `json:"sort_order,omitempty"`
}

type UpdateItemRequest struct {
	Description         *string  `json:"description,omitempty"`
	TotalAmount         *string  `json:"total_amount,omitempty"`
	TimingMethod        *string  `json:"timing_method,omitempty"`
	StartPeriod         *int     `json:"start_period,omitempty"`
	PeriodsToComplete   *int     `json:"periods_to_complete,omitempty"`
	DistributionProfile *string  `json:"distribution_profile,omitempty"`
	CurveSteepness      *float64 `json:"curve_steepness,omitempty"`
	EscalationPct       *float64 `json:"escalation_pct,omitempty" nullable:"true"`
	EscalationTiming    *string  `json:"escalation_timing,omitempty"`
	SortOrder           *int     `json:"sort_order,omitempty"`
}

type CreateDependencyRequest struct {
	ID               string  `json:"id,omitempty"`
	DependentItemID  string  `json:"dependent_item_id"`
	TriggerItemID    string  `json:"trigger_item_id"`
	TriggerEvent     string  `json:"trigger_event" example:"COMPLETE"`
	TriggerValue     *string `json:"trigger_value,omitempty" example:"50"`
	OffsetPeriods    int     `json:"offset_periods,omitempty"`
	IsHardDependency *bool   `json:"is_hard_dependency,omitempty"`
}

type UpdateConfigRequest struct {
	Timeline timelineConfigSection `json:"timeline"`
	Defaults struct {
		DistributionProfile string  `json:"distribution_profile"`
		CurveSteepness      float64 `json:"curve_steepness"`
		EscalationTiming    string  `json:"escalation_timing"`
	} `json:"defaults"`
}

// Response DTOs

type ProjectResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ItemResponse struct {
	ID                  string   `json:"id"`
	ProjectID           string   `json:"project_id"`
	Description         string   `json:"description"`
	TotalAmount         string   `json:"total_amount" example:"1000.00"`
	TimingMethod        string   `json:"timing_method" enum:"ABSOLUTE,DEPENDENT,MANUAL"`
	StartPeriod         *int     `json:"start_period,omitempty"`
	PeriodsToComplete   int      `json:"periods_to_complete"`
	DistributionProfile string   `json:"distribution_profile" enum:"LINEAR,FRONT_LOADED,BACK_LOADED,BELL_CURVE,MILESTONE"`
	CurveSteepness      float64  `json:"curve_steepness"`
	EscalationPct       *float64 `json:"escalation_pct,omitempty"`
	EscalationTiming    string   `json:"escalation_timing" enum:"TO_START,THROUGHOUT"`
	SortOrder           int      `json:"sort_order"`
	DependencyCount     int      `json:"dependency_count"`
	CreatedAt           string   `json:"created_at" format:"date-time"`
	UpdatedAt           string   `json:"updated_at" format:"date-time"`
}

type DependencyResponse struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"project_id"`
	DependentItemID  string  `json:"dependent_item_id"`
	TriggerItemID    string  `json:"trigger_item_id"`
	TriggerEvent     string  `json:"trigger_event" enum:"ABSOLUTE,START,COMPLETE,PCT_COMPLETE,CUMULATIVE_AMOUNT"`
	TriggerValue     *string `json:"trigger_value,omitempty"`
	OffsetPeriods    int     `json:"offset_periods"`
	IsHardDependency bool    `json:"is_hard_dependency"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type ProjectConfigResponse struct {
	Project  projectConfigSection  `json:"project"`
	Timeline timelineConfigSection `json:"timeline"`
	Defaults defaultsConfigSection `json:"defaults"`
}

type projectConfigSection struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type timelineConfigSection struct {
	BaselinePeriod int `json:"baseline_period"`
	PeriodsPerYear int `json:"periods_per_year" example:"12"`
}

type defaultsConfigSection struct {
	DistributionProfile string  `json:"distribution_profile"`
	CurveSteepness      float64 `json:"curve_steepness"`
	EscalationTiming    string  `json:"escalation_timing"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func itemResponse(it domain.BudgetItem, dependencyCount int) ItemResponse {
	return ItemResponse{
		ID:                  it.ID,
		ProjectID:           it.ProjectID,
		Description:         it.Description,
		TotalAmount:         it.TotalAmount.StringFixed(curve.Scale),
		TimingMethod:        string(it.TimingMethod),
		StartPeriod:         it.StartPeriod,
		PeriodsToComplete:   it.PeriodsToComplete,
		DistributionProfile: string(it.DistributionProfile),
		CurveSteepness:      it.CurveSteepness,
		EscalationPct:       it.EscalationPct,
		EscalationTiming:    string(it.EscalationTiming),
		SortOrder:           it.SortOrder,
		DependencyCount:     dependencyCount,
		CreatedAt:           it.CreatedAt,
		UpdatedAt:           it.UpdatedAt,
	}
}

func itemRowResponses(rows []engine.ItemRow) []ItemResponse {
	out := make([]ItemResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, itemResponse(row.BudgetItem, row.DependencyCount))
	}
	return out
}

func dependencyResponse(d domain.Dependency) DependencyResponse {
	res := DependencyResponse{
		ID:               d.ID,
		ProjectID:        d.ProjectID,
		DependentItemID:  d.DependentItemID,
		TriggerItemID:    d.TriggerItemID,
		TriggerEvent:     string(d.TriggerEvent),
		OffsetPeriods:    d.OffsetPeriods,
		IsHardDependency: d.IsHardDependency,
		CreatedAt:        d.CreatedAt,
	}
	if d.TriggerValue.Valid {
		res.TriggerValue = strPtr(d.TriggerValue.Decimal.String())
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	return ProjectConfigResponse{
		Project: projectConfigSection{
			ID:   cfg.Project.ID,
			Kind: cfg.Project.Kind,
		},
		Timeline: timelineConfigSection{
			BaselinePeriod: cfg.Timeline.BaselinePeriod,
			PeriodsPerYear: cfg.Timeline.PeriodsPerYear,
		},
		Defaults: defaultsConfigSection{
			DistributionProfile: string(cfg.Defaults.DistributionProfile),
			CurveSteepness:      cfg.Defaults.CurveSteepness,
			EscalationTiming:    string(cfg.Defaults.EscalationTiming),
		},
	}
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}
