package repo

import (
	"context"
	"database/sql"

	"budgetline/internal/domain"
)

const dependencyColumns = `id,project_id,dependent_item_id,trigger_item_id,trigger_event,trigger_value,offset_periods,is_hard_dependency,created_at`

func scanDependency(row interface{ Scan(...any) error }) (domain.Dependency, error) {
	var (
		d     domain.Dependency
		event string
		hard  int
	)
	err := row.Scan(&d.ID, &d.ProjectID, &d.DependentItemID, &d.TriggerItemID, &event, &d.TriggerValue, &d.OffsetPeriods, &hard, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if d.TriggerEvent, err = domain.ParseTriggerEvent(event); err != nil {
		return d, err
	}
	d.IsHardDependency = hard != 0
	return d, nil
}

func (r Repo) InsertDependencyTx(ctx context.Context, tx *sql.Tx, d domain.Dependency) error {
	hard := 0
	if d.IsHardDependency {
		hard = 1
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO dependencies(`+dependencyColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.DependentItemID, d.TriggerItemID, string(d.TriggerEvent), d.TriggerValue, d.OffsetPeriods, hard, d.CreatedAt)
	return err
}

func (r Repo) DeleteDependencyTx(ctx context.Context, tx *sql.Tx, projectID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM dependencies WHERE id=? AND project_id=?`, id, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetDependency(ctx context.Context, projectID, id string) (domain.Dependency, error) {
	return scanDependency(r.DB.QueryRowContext(ctx, `SELECT `+dependencyColumns+` FROM dependencies WHERE id=? AND project_id=?`, id, projectID))
}

// DependencyFilters narrows ListDependencies. Empty fields match everything.
type DependencyFilters struct {
	ProjectID       string
	DependentItemID string
	TriggerItemID   string
}

func (r Repo) ListDependencies(ctx context.Context, f DependencyFilters) ([]domain.Dependency, error) {
	query := `SELECT ` + dependencyColumns + ` FROM dependencies WHERE project_id=?`
	args := []any{f.ProjectID}
	if f.DependentItemID != "" {
		query += ` AND dependent_item_id=?`
		args = append(args, f.DependentItemID)
	}
	if f.TriggerItemID != "" {
		query += ` AND trigger_item_id=?`
		args = append(args, f.TriggerItemID)
	}
	return r.listDependencies(ctx, r.DB, query+` ORDER BY created_at, id`, args...)
}

func (r Repo) listDependencies(ctx context.Context, q querier, query string, args ...any) ([]domain.Dependency, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Dependency{}
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
