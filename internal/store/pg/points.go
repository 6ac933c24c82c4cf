package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sentra.one/internal/ids"
	"sentra.one/internal/points"
)

func (s *Store) UpsertRule(ctx context.Context, r points.Rule) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into points_rules(id, rule_name, action_type, points_amount, description, is_active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (id) do update
		set rule_name = excluded.rule_name,
		    action_type = excluded.action_type,
		    points_amount = excluded.points_amount,
		    description = excluded.description,
		    is_active = excluded.is_active
	`, r.ID, r.RuleName, r.ActionType, r.PointsAmount, r.Description, r.IsActive, r.CreatedAt)
	return err
}

func (s *Store) GetRule(ctx context.Context, id string) (points.Rule, error) {
	return s.scanRule(s.db.QueryRowContext(ctx, `
		select id, rule_name, action_type, points_amount, coalesce(description,''), is_active, created_at
		from points_rules where id=$1
	`, id))
}

func (s *Store) GetRuleByAction(ctx context.Context, actionType string) (points.Rule, error) {
	return s.scanRule(s.db.QueryRowContext(ctx, `
		select id, rule_name, action_type, points_amount, coalesce(description,''), is_active, created_at
		from points_rules where action_type=$1
	`, actionType))
}

func (s *Store) scanRule(row *sql.Row) (points.Rule, error) {
	var r points.Rule
	err := row.Scan(&r.ID, &r.RuleName, &r.ActionType, &r.PointsAmount, &r.Description, &r.IsActive, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Rule{}, points.ErrNotFound
	}
	if err != nil {
		return points.Rule{}, err
	}
	return r, nil
}

func (s *Store) ListRules(ctx context.Context) ([]points.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, rule_name, action_type, points_amount, coalesce(description,''), is_active, created_at
		from points_rules
		order by action_type, rule_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []points.Rule
	for rows.Next() {
		var r points.Rule
		if err := rows.Scan(&r.ID, &r.RuleName, &r.ActionType, &r.PointsAmount, &r.Description, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertOverride(ctx context.Context, o points.RuleOverride) error {
	_, err := s.db.ExecContext(ctx, `
		insert into points_rule_overrides(organization_id, rule_id, enabled, multiplier, updated_at)
		values ($1,$2,$3,$4,now())
		on conflict (organization_id, rule_id) do update
		set enabled = excluded.enabled,
		    multiplier = excluded.multiplier,
		    updated_at = now()
	`, o.OrganizationID, o.RuleID, o.Enabled, o.Multiplier)
	return err
}

func (s *Store) GetOverride(ctx context.Context, orgID, ruleID string) (points.RuleOverride, error) {
	o := points.RuleOverride{OrganizationID: orgID, RuleID: ruleID}
	err := s.db.QueryRowContext(ctx, `
		select enabled, multiplier, updated_at
		from points_rule_overrides
		where organization_id=$1 and rule_id=$2
	`, orgID, ruleID).Scan(&o.Enabled, &o.Multiplier, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return points.RuleOverride{}, points.ErrNotFound
	}
	if err != nil {
		return points.RuleOverride{}, err
	}
	return o, nil
}

func (s *Store) ListOverrides(ctx context.Context, orgID string) ([]points.RuleOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		select rule_id, enabled, multiplier, updated_at
		from points_rule_overrides
		where organization_id=$1
		order by rule_id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []points.RuleOverride
	for rows.Next() {
		o := points.RuleOverride{OrganizationID: orgID}
		if err := rows.Scan(&o.RuleID, &o.Enabled, &o.Multiplier, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) EnsureBalance(ctx context.Context, orgID string) (points.Balance, error) {
	if _, err := s.db.ExecContext(ctx, `
		insert into points_balances(organization_id, balance, total_earned, total_spent, enabled, updated_at)
		values ($1,0,0,0,true,now())
		on conflict (organization_id) do nothing
	`, orgID); err != nil {
		return points.Balance{}, err
	}
	return s.getBalance(ctx, orgID)
}

func (s *Store) getBalance(ctx context.Context, orgID string) (points.Balance, error) {
	b := points.Balance{OrganizationID: orgID}
	err := s.db.QueryRowContext(ctx, `
		select balance, total_earned, total_spent, enabled, updated_at
		from points_balances where organization_id=$1
	`, orgID).Scan(&b.Balance, &b.TotalEarned, &b.TotalSpent, &b.Enabled, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Balance{}, points.ErrNotFound
	}
	if err != nil {
		return points.Balance{}, err
	}
	return b, nil
}

func (s *Store) SetEnabled(ctx context.Context, orgID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		insert into points_balances(organization_id, balance, total_earned, total_spent, enabled, updated_at)
		values ($1,0,0,0,$2,now())
		on conflict (organization_id) do update
		set enabled = excluded.enabled, updated_at = now()
	`, orgID, enabled)
	return err
}

// Apply appends the ledger row and moves the balance under a row-level
// lock so concurrent awards for the same organization serialize and the
// fold never loses an update.
func (s *Store) Apply(ctx context.Context, orgID string, amount int64, opType, description string) (points.LedgerEntry, points.Balance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return points.LedgerEntry{}, points.Balance{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into points_balances(organization_id, balance, total_earned, total_spent, enabled, updated_at)
		values ($1,0,0,0,true,now())
		on conflict (organization_id) do nothing
	`, orgID); err != nil {
		return points.LedgerEntry{}, points.Balance{}, err
	}

	b := points.Balance{OrganizationID: orgID}
	if err := tx.QueryRowContext(ctx, `
		select balance, total_earned, total_spent, enabled
		from points_balances where organization_id=$1 for update
	`, orgID).Scan(&b.Balance, &b.TotalEarned, &b.TotalSpent, &b.Enabled); err != nil {
		return points.LedgerEntry{}, points.Balance{}, err
	}

	next := b.Balance + amount
	if next < 0 {
		return points.LedgerEntry{}, points.Balance{}, points.ErrInsufficientPoints
	}
	b.Balance = next
	if amount > 0 {
		b.TotalEarned += amount
	} else {
		b.TotalSpent += -amount
	}
	now := time.Now().UTC()
	b.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		update points_balances
		set balance=$2, total_earned=$3, total_spent=$4, updated_at=$5
		where organization_id=$1
	`, orgID, b.Balance, b.TotalEarned, b.TotalSpent, now); err != nil {
		return points.LedgerEntry{}, points.Balance{}, err
	}

	entry := points.LedgerEntry{
		ID:             ids.New(),
		OrganizationID: orgID,
		Amount:         amount,
		OperationType:  opType,
		Description:    description,
		CreatedAt:      now,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into points_ledger(id, organization_id, amount, operation_type, description, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.OrganizationID, entry.Amount, entry.OperationType, entry.Description, entry.CreatedAt); err != nil {
		return points.LedgerEntry{}, points.Balance{}, err
	}

	if err := tx.Commit(); err != nil {
		return points.LedgerEntry{}, points.Balance{}, err
	}
	return entry, b, nil
}

func (s *Store) ListLedger(ctx context.Context, orgID string, limit int) ([]points.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, amount, operation_type, coalesce(description,''), created_at
		from points_ledger
		where organization_id=$1
		order by created_at desc, id desc
		limit $2
	`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []points.LedgerEntry
	for rows.Next() {
		e := points.LedgerEntry{OrganizationID: orgID}
		if err := rows.Scan(&e.ID, &e.Amount, &e.OperationType, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReconcileBalance refolds the ledger into the balance row under the same
// row lock Apply takes, so a concurrent award cannot interleave.
func (s *Store) ReconcileBalance(ctx context.Context, orgID string) (points.Balance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return points.Balance{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into points_balances(organization_id, balance, total_earned, total_spent, enabled, updated_at)
		values ($1,0,0,0,true,now())
		on conflict (organization_id) do nothing
	`, orgID); err != nil {
		return points.Balance{}, err
	}

	b := points.Balance{OrganizationID: orgID}
	if err := tx.QueryRowContext(ctx, `
		select enabled from points_balances where organization_id=$1 for update
	`, orgID).Scan(&b.Enabled); err != nil {
		return points.Balance{}, err
	}

	if err := tx.QueryRowContext(ctx, `
		select coalesce(sum(amount),0),
		       coalesce(sum(amount) filter (where amount > 0),0),
		       coalesce(-sum(amount) filter (where amount < 0),0)
		from points_ledger where organization_id=$1
	`, orgID).Scan(&b.Balance, &b.TotalEarned, &b.TotalSpent); err != nil {
		return points.Balance{}, err
	}

	now := time.Now().UTC()
	b.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		update points_balances
		set balance=$2, total_earned=$3, total_spent=$4, updated_at=$5
		where organization_id=$1
	`, orgID, b.Balance, b.TotalEarned, b.TotalSpent, now); err != nil {
		return points.Balance{}, err
	}

	if err := tx.Commit(); err != nil {
		return points.Balance{}, err
	}
	return b, nil
}
