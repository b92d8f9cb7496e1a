package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"budgetline/internal/curve"
	"budgetline/internal/domain"
	"budgetline/internal/events"
	"budgetline/internal/repo"
)

// ItemCreateOptions are parameters for creating a budget item. Empty profile
// and escalation timing, and a nil steepness, take the project defaults.
type ItemCreateOptions struct {
	ID                  string
	ProjectID           string
	Description         string
	TotalAmount         decimal.Decimal
	TimingMethod        domain.TimingMethod
	StartPeriod         *int
	PeriodsToComplete   int
	DistributionProfile domain.DistributionProfile
	CurveSteepness      *float64
	EscalationPct       *float64
	EscalationTiming    domain.EscalationTiming
	SortOrder           *int
	ActorID             string
}

func (e Engine) CreateItem(ctx context.Context, opts ItemCreateOptions) (domain.BudgetItem, error) {
	if opts.ProjectID == "" {
		return domain.BudgetItem{}, invalid("project_id", "project is required")
	}
	cfg, err := e.ProjectConfig(ctx, opts.ProjectID)
	if err != nil {
		return domain.BudgetItem{}, err
	}
	if opts.TimingMethod == "" {
		opts.TimingMethod = domain.TimingAbsolute
	}
	if opts.DistributionProfile == "" {
		opts.DistributionProfile = cfg.Defaults.DistributionProfile
	}
	if opts.EscalationTiming == "" {
		opts.EscalationTiming = cfg.Defaults.EscalationTiming
	}
	steepness := cfg.Defaults.CurveSteepness
	if opts.CurveSteepness != nil {
		steepness = *opts.CurveSteepness
	}
	now := e.stamp()
	it := domain.BudgetItem{
		ID:                  newID(opts.ID),
		ProjectID:           opts.ProjectID,
		Description:         opts.Description,
		TotalAmount:         opts.TotalAmount,
		TimingMethod:        opts.TimingMethod,
		StartPeriod:         opts.StartPeriod,
		PeriodsToComplete:   opts.PeriodsToComplete,
		DistributionProfile: opts.DistributionProfile,
		CurveSteepness:      steepness,
		EscalationPct:       opts.EscalationPct,
		EscalationTiming:    opts.EscalationTiming,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := normalizeItem(&it); err != nil {
		return domain.BudgetItem{}, err
	}
	if _, err := e.Repo.GetItem(ctx, it.ProjectID, it.ID); err == nil {
		return domain.BudgetItem{}, fmt.Errorf("%w: item %s already exists", ErrConflict, it.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.BudgetItem{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if opts.SortOrder != nil {
			it.SortOrder = *opts.SortOrder
		} else {
			next, err := e.Repo.NextSortOrder(ctx, tx, it.ProjectID)
			if err != nil {
				return err
			}
			it.SortOrder = next
		}
		if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		return e.Events.Append(ctx, tx, events.ItemCreated, it.ProjectID, "budget_item", it.ID, opts.ActorID, events.Payload{
			"timing_method": it.TimingMethod,
			"total_amount":  it.TotalAmount.StringFixed(curve.Scale),
		})
	})
	if err != nil {
		return domain.BudgetItem{}, err
	}
	e.Log.WithField("project_id", it.ProjectID).WithField("item_id", it.ID).Debug("item created")
	return it, nil
}

// ItemUpdateOptions patches an item. Nil fields are left unchanged.
type ItemUpdateOptions struct {
	ProjectID           string
	ID                  string
	Description         *string
	TotalAmount         *decimal.Decimal
	TimingMethod        *domain.TimingMethod
	StartPeriod         *int
	PeriodsToComplete   *int
	DistributionProfile *domain.DistributionProfile
	CurveSteepness      *float64
	EscalationPct       *float64
	// ClearEscalation removes the escalation percentage.
	ClearEscalation  bool
	EscalationTiming *domain.EscalationTiming
	SortOrder        *int
	ActorID          string
}

func (e Engine) UpdateItem(ctx context.Context, opts ItemUpdateOptions) (domain.BudgetItem, error) {
	var it domain.BudgetItem
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetItemTx(ctx, tx, opts.ProjectID, opts.ID)
		if err != nil {
			return err
		}
		var changed []string
		if opts.Description != nil {
			cur.Description = *opts.Description
			changed = append(changed, "description")
		}
		if opts.TotalAmount != nil {
			cur.TotalAmount = *opts.TotalAmount
			changed = append(changed, "total_amount")
		}
		if opts.TimingMethod != nil {
			cur.TimingMethod = *opts.TimingMethod
			changed = append(changed, "timing_method")
		}
		if opts.StartPeriod != nil {
			v := *opts.StartPeriod
			cur.StartPeriod = &v
			changed = append(changed, "start_period")
		}
		if opts.PeriodsToComplete != nil {
			cur.PeriodsToComplete = *opts.PeriodsToComplete
			changed = append(changed, "periods_to_complete")
		}
		if opts.DistributionProfile != nil {
			cur.DistributionProfile = *opts.DistributionProfile
			changed = append(changed, "distribution_profile")
		}
		if opts.CurveSteepness != nil {
			cur.CurveSteepness = *opts.CurveSteepness
			changed = append(changed, "curve_steepness")
		}
		if opts.ClearEscalation {
			cur.EscalationPct = nil
			changed = append(changed, "escalation_pct")
		} else if opts.EscalationPct != nil {
			v := *opts.EscalationPct
			cur.EscalationPct = &v
			changed = append(changed, "escalation_pct")
		}
		if opts.EscalationTiming != nil {
			cur.EscalationTiming = *opts.EscalationTiming
			changed = append(changed, "escalation_timing")
		}
		if opts.SortOrder != nil {
			cur.SortOrder = *opts.SortOrder
			changed = append(changed, "sort_order")
		}
		if err := normalizeItem(&cur); err != nil {
			return err
		}
		cur.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateItemTx(ctx, tx, cur); err != nil {
			return err
		}
		it = cur
		return e.Events.Append(ctx, tx, events.ItemUpdated, cur.ProjectID, "budget_item", cur.ID, opts.ActorID, events.Payload{"fields": changed})
	})
	if err != nil {
		return domain.BudgetItem{}, err
	}
	return it, nil
}

// DeleteItem removes an item and every dependency edge touching it.
func (e Engine) DeleteItem(ctx context.Context, projectID, id, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteItemTx(ctx, tx, projectID, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ItemDeleted, projectID, "budget_item", id, actorID, nil)
	})
}

func (e Engine) GetItem(ctx context.Context, projectID, id string) (domain.BudgetItem, error) {
	return e.Repo.GetItem(ctx, projectID, id)
}

// ItemRow is an item as shown in the budget grid.
type ItemRow struct {
	domain.BudgetItem
	DependencyCount int `json:"dependency_count"`
}

func (e Engine) ListItems(ctx context.Context, projectID string) ([]ItemRow, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	counts, err := e.Repo.DependencyCounts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rows := make([]ItemRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, ItemRow{BudgetItem: it, DependencyCount: counts[it.ID]})
	}
	return rows, nil
}

// normalizeItem validates an item and rounds its amount to cents. DEPENDENT
// items lose any stored start period since theirs is always computed.
func normalizeItem(it *domain.BudgetItem) error {
	if !it.TimingMethod.Valid() {
		return invalid("timing_method", "unknown timing method %q", it.TimingMethod)
	}
	if !it.DistributionProfile.Valid() {
		return invalid("distribution_profile", "unknown distribution profile %q", it.DistributionProfile)
	}
	if !it.EscalationTiming.Valid() {
		return invalid("escalation_timing", "unknown escalation timing %q", it.EscalationTiming)
	}
	if it.TotalAmount.IsNegative() {
		return invalid("total_amount", "must be >= 0")
	}
	it.TotalAmount = it.TotalAmount.Round(curve.Scale)
	if it.PeriodsToComplete < 1 || it.PeriodsToComplete > domain.MaxPeriod+1 {
		return invalid("periods_to_complete", "must be between 1 and %d", domain.MaxPeriod+1)
	}
	if it.TimingMethod.FixedStart() {
		if it.StartPeriod == nil {
			return invalid("start_period", "required for %s items", it.TimingMethod)
		}
		if *it.StartPeriod < 0 || *it.StartPeriod > domain.MaxPeriod {
			return invalid("start_period", "must be between 0 and %d", domain.MaxPeriod)
		}
		if *it.StartPeriod+it.PeriodsToComplete-1 > domain.MaxPeriod {
			return invalid("periods_to_complete", "item would end after period %d", domain.MaxPeriod)
		}
	} else {
		it.StartPeriod = nil
	}
	if math.IsNaN(it.CurveSteepness) || math.IsInf(it.CurveSteepness, 0) || it.CurveSteepness < 0 {
		return invalid("curve_steepness", "must be a finite value >= 0")
	}
	if p := it.EscalationPct; p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0) || *p <= -100) {
		return invalid("escalation_pct", "must be greater than -100")
	}
	return nil
}
