package repo

import (
	"context"
	"database/sql"

	"budgetline/internal/domain"
)

const itemColumns = `id,project_id,description,total_amount,timing_method,start_period,periods_to_complete,
distribution_profile,curve_steepness,escalation_pct,escalation_timing,sort_order,created_at,updated_at`

func scanItem(row interface{ Scan(...any) error }) (domain.BudgetItem, error) {
	var (
		it          domain.BudgetItem
		timing      string
		profile     string
		escTiming   string
		startPeriod sql.NullInt64
		escPct      sql.NullFloat64
	)
	err := row.Scan(&it.ID, &it.ProjectID, &it.Description, &it.TotalAmount, &timing, &startPeriod, &it.PeriodsToComplete,
		&profile, &it.CurveSteepness, &escPct, &escTiming, &it.SortOrder, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if it.TimingMethod, err = domain.ParseTimingMethod(timing); err != nil {
		return it, err
	}
	if it.DistributionProfile, err = domain.ParseDistributionProfile(profile); err != nil {
		return it, err
	}
	if it.EscalationTiming, err = domain.ParseEscalationTiming(escTiming); err != nil {
		return it, err
	}
	if startPeriod.Valid {
		v := int(startPeriod.Int64)
		it.StartPeriod = &v
	}
	if escPct.Valid {
		v := escPct.Float64
		it.EscalationPct = &v
	}
	return it, nil
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.BudgetItem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO budget_items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ProjectID, it.Description, it.TotalAmount, string(it.TimingMethod), nullableIntPtr(it.StartPeriod), it.PeriodsToComplete,
		string(it.DistributionProfile), it.CurveSteepness, nullableFloatPtr(it.EscalationPct), string(it.EscalationTiming), it.SortOrder,
		it.CreatedAt, it.UpdatedAt)
	return err
}

// UpdateItemTx rewrites every mutable column of an item.
func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.BudgetItem) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE budget_items SET description=?,total_amount=?,timing_method=?,start_period=?,
periods_to_complete=?,distribution_profile=?,curve_steepness=?,escalation_pct=?,escalation_timing=?,sort_order=?,updated_at=?
WHERE id=? AND project_id=?`,
		it.Description, it.TotalAmount, string(it.TimingMethod), nullableIntPtr(it.StartPeriod),
		it.PeriodsToComplete, string(it.DistributionProfile), it.CurveSteepness, nullableFloatPtr(it.EscalationPct),
		string(it.EscalationTiming), it.SortOrder, it.UpdatedAt, it.ID, it.ProjectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteItemTx(ctx context.Context, tx *sql.Tx, projectID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM budget_items WHERE id=? AND project_id=?`, id, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetItem(ctx context.Context, projectID, id string) (domain.BudgetItem, error) {
	return r.GetItemTx(ctx, nil, projectID, id)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, projectID, id string) (domain.BudgetItem, error) {
	return scanItem(r.q(tx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM budget_items WHERE id=? AND project_id=?`, id, projectID))
}

func (r Repo) ListItems(ctx context.Context, projectID string) ([]domain.BudgetItem, error) {
	return r.listItems(ctx, r.DB, projectID)
}

func (r Repo) listItems(ctx context.Context, q querier, projectID string) ([]domain.BudgetItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+itemColumns+` FROM budget_items WHERE project_id=? ORDER BY sort_order, created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.BudgetItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// NextSortOrder returns one past the highest sort order in a project.
func (r Repo) NextSortOrder(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var top sql.NullInt64
	if err := r.q(tx).QueryRowContext(ctx, `SELECT MAX(sort_order) FROM budget_items WHERE project_id=?`, projectID).Scan(&top); err != nil {
		return 0, err
	}
	if !top.Valid {
		return 0, nil
	}
	return int(top.Int64) + 1, nil
}

// DependencyCounts returns the number of incoming edges per dependent item.
func (r Repo) DependencyCounts(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT dependent_item_id, COUNT(*) FROM dependencies WHERE project_id=? GROUP BY dependent_item_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		res[id] = n
	}
	return res, rows.Err()
}
