package repo

import (
	"context"
	"database/sql"
	"fmt"

	"budgetline/internal/config"
	"budgetline/internal/domain"
)

// TimelineInputs is everything a timeline calculation reads for one project.
type TimelineInputs struct {
	Items        []domain.BudgetItem
	Dependencies []domain.Dependency
	Config       *config.Config
}

// LoadTimelineInputs reads the project's config, items and edges inside one
// read transaction so a concurrent write never produces a torn snapshot.
func (r Repo) LoadTimelineInputs(ctx context.Context, projectID string) (TimelineInputs, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return TimelineInputs{}, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id=?`, projectID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return TimelineInputs{}, ErrNotFound
		}
		return TimelineInputs{}, err
	}
	cfg, err := r.getProjectConfig(ctx, tx, projectID)
	if err == ErrNotFound {
		cfg, err = config.Default(projectID), nil
	}
	if err != nil {
		return TimelineInputs{}, fmt.Errorf("project config: %w", err)
	}
	items, err := r.listItems(ctx, tx, projectID)
	if err != nil {
		return TimelineInputs{}, fmt.Errorf("list items: %w", err)
	}
	deps, err := r.listDependencies(ctx, tx, `SELECT `+dependencyColumns+` FROM dependencies WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return TimelineInputs{}, fmt.Errorf("list dependencies: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return TimelineInputs{}, err
	}
	return TimelineInputs{Items: items, Dependencies: deps, Config: cfg}, nil
}

// TimelineSnapshot is the persisted copy of the latest calculation.
type TimelineSnapshot struct {
	ProjectID    string
	TimelineJSON string
	ItemCount    int
	BlockedCount int
	ComputedAt   string
}

// SaveTimelineSnapshotTx replaces the project's stored timeline.
func (r Repo) SaveTimelineSnapshotTx(ctx context.Context, tx *sql.Tx, s TimelineSnapshot) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO timeline_snapshots(project_id,timeline_json,item_count,blocked_count,computed_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET timeline_json=excluded.timeline_json, item_count=excluded.item_count,
blocked_count=excluded.blocked_count, computed_at=excluded.computed_at`,
		s.ProjectID, s.TimelineJSON, s.ItemCount, s.BlockedCount, s.ComputedAt)
	return err
}

func (r Repo) GetTimelineSnapshot(ctx context.Context, projectID string) (TimelineSnapshot, error) {
	var s TimelineSnapshot
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,timeline_json,item_count,blocked_count,computed_at FROM timeline_snapshots WHERE project_id=?`, projectID).
		Scan(&s.ProjectID, &s.TimelineJSON, &s.ItemCount, &s.BlockedCount, &s.ComputedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}
