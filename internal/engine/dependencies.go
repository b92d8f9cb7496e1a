package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"budgetline/internal/domain"
	"budgetline/internal/events"
	"budgetline/internal/repo"
	"budgetline/internal/trigger"
)

// DependencyCreateOptions are parameters for adding an edge. Hard defaults to true.
type DependencyCreateOptions struct {
	ID              string
	ProjectID       string
	DependentItemID string
	TriggerItemID   string
	TriggerEvent    domain.TriggerEvent
	TriggerValue    decimal.NullDecimal
	OffsetPeriods   int
	Hard            *bool
	ActorID         string
}

// AddDependency stores a new edge. Cycles are accepted here and reported by
// the next timeline calculation.
func (e Engine) AddDependency(ctx context.Context, opts DependencyCreateOptions) (domain.Dependency, error) {
	if !opts.TriggerEvent.Valid() {
		return domain.Dependency{}, invalid("trigger_event", "unknown trigger event %q", opts.TriggerEvent)
	}
	if opts.DependentItemID == "" {
		return domain.Dependency{}, invalid("dependent_item_id", "is required")
	}
	if opts.TriggerItemID == "" {
		return domain.Dependency{}, invalid("trigger_item_id", "is required")
	}
	if opts.DependentItemID == opts.TriggerItemID {
		return domain.Dependency{}, invalid("trigger_item_id", "an item cannot depend on itself")
	}
	if opts.OffsetPeriods < -domain.MaxPeriod || opts.OffsetPeriods > domain.MaxPeriod {
		return domain.Dependency{}, invalid("offset_periods", "must be between %d and %d", -domain.MaxPeriod, domain.MaxPeriod)
	}
	if !opts.TriggerEvent.UsesValue() {
		opts.TriggerValue = decimal.NullDecimal{}
	}
	if err := trigger.Validate(opts.TriggerEvent, opts.TriggerValue); err != nil {
		return domain.Dependency{}, invalid("trigger_value", "%v", err)
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Dependency{}, err
	}
	hard := true
	if opts.Hard != nil {
		hard = *opts.Hard
	}
	d := domain.Dependency{
		ID:               newID(opts.ID),
		ProjectID:        opts.ProjectID,
		DependentItemID:  opts.DependentItemID,
		TriggerItemID:    opts.TriggerItemID,
		TriggerEvent:     opts.TriggerEvent,
		TriggerValue:     opts.TriggerValue,
		OffsetPeriods:    opts.OffsetPeriods,
		IsHardDependency: hard,
		CreatedAt:        e.stamp(),
	}
	if _, err := e.Repo.GetDependency(ctx, d.ProjectID, d.ID); err == nil {
		return domain.Dependency{}, fmt.Errorf("%w: dependency %s already exists", ErrConflict, d.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Dependency{}, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		endpoints := [][2]string{{"dependent_item_id", d.DependentItemID}, {"trigger_item_id", d.TriggerItemID}}
		for _, ep := range endpoints {
			if _, err := e.Repo.GetItemTx(ctx, tx, d.ProjectID, ep[1]); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return invalid(ep[0], "item %s not found in project %s", ep[1], d.ProjectID)
				}
				return err
			}
		}
		if err := e.Repo.InsertDependencyTx(ctx, tx, d); err != nil {
			return fmt.Errorf("insert dependency: %w", err)
		}
		return e.Events.Append(ctx, tx, events.DependencyCreated, d.ProjectID, "dependency", d.ID, opts.ActorID, events.Payload{
			"dependent_item_id": d.DependentItemID,
			"trigger_item_id":   d.TriggerItemID,
			"trigger_event":     d.TriggerEvent,
			"hard":              d.IsHardDependency,
		})
	})
	if err != nil {
		return domain.Dependency{}, err
	}
	return d, nil
}

func (e Engine) RemoveDependency(ctx context.Context, projectID, id, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteDependencyTx(ctx, tx, projectID, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.DependencyDeleted, projectID, "dependency", id, actorID, nil)
	})
}

func (e Engine) ListDependencies(ctx context.Context, f repo.DependencyFilters) ([]domain.Dependency, error) {
	if _, err := e.Repo.GetProject(ctx, f.ProjectID); err != nil {
		return nil, err
	}
	return e.Repo.ListDependencies(ctx, f)
}
