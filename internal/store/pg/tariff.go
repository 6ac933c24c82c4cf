package pg

import (
	"context"
	"database/sql"
	"errors"

	"sentra.one/internal/tariff"
)

func (s *Store) CreatePlan(ctx context.Context, plan tariff.Plan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into tariff_plans(id, name, description, base_price, is_active, is_points_enabled, points_value, trial_days, max_users, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, plan.ID, plan.Name, plan.Description, plan.BasePrice, plan.IsActive, plan.IsPointsEnabled,
		plan.PointsValue, plan.TrialDays, plan.MaxUsers, plan.CreatedAt, plan.UpdatedAt); err != nil {
		return err
	}
	if err := insertComponents(ctx, tx, plan.ID, plan.Components); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetPlan(ctx context.Context, id string) (tariff.Plan, error) {
	var p tariff.Plan
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, base_price, is_active, is_points_enabled, points_value, trial_days, max_users, created_at, updated_at
		from tariff_plans where id=$1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.BasePrice, &p.IsActive, &p.IsPointsEnabled,
		&p.PointsValue, &p.TrialDays, &p.MaxUsers, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tariff.Plan{}, tariff.ErrNotFound
	}
	if err != nil {
		return tariff.Plan{}, err
	}
	p.Components, err = s.planComponents(ctx, id)
	if err != nil {
		return tariff.Plan{}, err
	}
	return p, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]tariff.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, base_price, is_active, is_points_enabled, points_value, trial_days, max_users, created_at, updated_at
		from tariff_plans
		order by created_at desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tariff.Plan
	for rows.Next() {
		var p tariff.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.BasePrice, &p.IsActive, &p.IsPointsEnabled,
			&p.PointsValue, &p.TrialDays, &p.MaxUsers, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Components, err = s.planComponents(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReplacePlan rewrites the plan row and its full component list, then
// prunes overrides of subscribed orgs that now point outside the plan.
// One transaction: the downgrade and the pruning land together or not at
// all.
func (s *Store) ReplacePlan(ctx context.Context, plan tariff.Plan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update tariff_plans
		set name=$2, description=$3, base_price=$4, is_active=$5, is_points_enabled=$6,
		    points_value=$7, trial_days=$8, max_users=$9, updated_at=$10
		where id=$1
	`, plan.ID, plan.Name, plan.Description, plan.BasePrice, plan.IsActive, plan.IsPointsEnabled,
		plan.PointsValue, plan.TrialDays, plan.MaxUsers, plan.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tariff.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `delete from plan_components where plan_id=$1`, plan.ID); err != nil {
		return err
	}
	if err := insertComponents(ctx, tx, plan.ID, plan.Components); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		delete from module_overrides mo
		using organizations o
		where mo.organization_id = o.id
		  and o.tariff_plan_id = $1
		  and not exists (
			select 1 from plan_components pc
			where pc.plan_id = $1 and pc.component_id = mo.component_id and pc.is_included
		  )
	`, plan.ID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) planComponents(ctx context.Context, planID string) ([]tariff.PlanComponent, error) {
	rows, err := s.db.QueryContext(ctx, `
		select component_id, price, is_included
		from plan_components
		where plan_id=$1
		order by component_id
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tariff.PlanComponent
	for rows.Next() {
		var c tariff.PlanComponent
		if err := rows.Scan(&c.ComponentID, &c.Price, &c.IsIncluded); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func insertComponents(ctx context.Context, tx *sql.Tx, planID string, components []tariff.PlanComponent) error {
	for _, c := range components {
		if _, err := tx.ExecContext(ctx, `
			insert into plan_components(plan_id, component_id, price, is_included)
			values ($1,$2,$3,$4)
		`, planID, c.ComponentID, c.Price, c.IsIncluded); err != nil {
			return err
		}
	}
	return nil
}
