package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"sentra.one/internal/entitlement"
)

func (s *Store) CreateOrganization(ctx context.Context, org entitlement.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organizations(id, name, registration_code, tariff_plan_id, trial_end_date, is_active, created_at, updated_at)
		values ($1,$2,$3,nullif($4,''),$5,$6,$7,$8)
	`, org.ID, org.Name, org.RegistrationCode, org.TariffPlanID, org.TrialEndDate, org.IsActive, org.CreatedAt, org.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return entitlement.ErrConflict
	}
	return err
}

func (s *Store) GetOrganization(ctx context.Context, id string) (entitlement.Organization, error) {
	return s.scanOrganization(s.db.QueryRowContext(ctx, `
		select id, name, registration_code, coalesce(tariff_plan_id,''), trial_end_date, is_active, created_at, updated_at
		from organizations where id=$1
	`, id))
}

func (s *Store) GetOrganizationByCode(ctx context.Context, code string) (entitlement.Organization, error) {
	return s.scanOrganization(s.db.QueryRowContext(ctx, `
		select id, name, registration_code, coalesce(tariff_plan_id,''), trial_end_date, is_active, created_at, updated_at
		from organizations where registration_code=$1
	`, code))
}

func (s *Store) scanOrganization(row *sql.Row) (entitlement.Organization, error) {
	var org entitlement.Organization
	var trialEnd sql.NullTime
	err := row.Scan(&org.ID, &org.Name, &org.RegistrationCode, &org.TariffPlanID,
		&trialEnd, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlement.Organization{}, entitlement.ErrNotFound
	}
	if err != nil {
		return entitlement.Organization{}, err
	}
	if trialEnd.Valid {
		t := trialEnd.Time
		org.TrialEndDate = &t
	}
	return org, nil
}

func (s *Store) SetOrganizationActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update organizations set is_active=$2, updated_at=now() where id=$1
	`, id, active)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return entitlement.ErrNotFound
	}
	return nil
}

// SetTariffPlan switches the subscription and prunes overrides outside the
// new plan's included set in one transaction.
func (s *Store) SetTariffPlan(ctx context.Context, orgID, planID string, trialEnd *time.Time, included map[string]struct{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update organizations set tariff_plan_id=$2, trial_end_date=$3, updated_at=now() where id=$1
	`, orgID, planID, trialEnd)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return entitlement.ErrNotFound
	}

	keep := make([]string, 0, len(included))
	for id := range included {
		keep = append(keep, id)
	}
	if _, err := tx.ExecContext(ctx, `
		delete from module_overrides
		where organization_id=$1 and not (component_id = any($2))
	`, orgID, keep); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) UpsertUser(ctx context.Context, u entitlement.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, organization_id, email, fio, role, created_at)
		values ($1,nullif($2,''),$3,$4,$5,$6)
		on conflict (id) do update
		set organization_id = excluded.organization_id,
		    email = excluded.email,
		    fio = excluded.fio,
		    role = excluded.role
	`, u.ID, u.OrganizationID, u.Email, u.FIO, string(u.Role), u.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return entitlement.ErrConflict
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (entitlement.User, error) {
	var u entitlement.User
	var role string
	err := s.db.QueryRowContext(ctx, `
		select id, coalesce(organization_id,''), email, coalesce(fio,''), role, created_at
		from users where id=$1
	`, id).Scan(&u.ID, &u.OrganizationID, &u.Email, &u.FIO, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlement.User{}, entitlement.ErrNotFound
	}
	if err != nil {
		return entitlement.User{}, err
	}
	u.Role = entitlement.Role(role)
	return u, nil
}

func (s *Store) SetModuleOverride(ctx context.Context, o entitlement.ModuleOverride) error {
	_, err := s.db.ExecContext(ctx, `
		insert into module_overrides(organization_id, component_id, enabled)
		values ($1,$2,$3)
		on conflict (organization_id, component_id) do update set enabled = excluded.enabled
	`, o.OrganizationID, o.ComponentID, o.Enabled)
	return err
}

func (s *Store) ListModuleOverrides(ctx context.Context, orgID string) ([]entitlement.ModuleOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		select component_id, enabled from module_overrides
		where organization_id=$1
		order by component_id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entitlement.ModuleOverride
	for rows.Next() {
		o := entitlement.ModuleOverride{OrganizationID: orgID}
		if err := rows.Scan(&o.ComponentID, &o.Enabled); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) UpsertGrant(ctx context.Context, g entitlement.PermissionGrant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permission_grants(user_id, organization_id, module_key, can_view, can_edit, can_delete, assigned_by, assigned_at)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8)
		on conflict (user_id, organization_id, module_key) do update
		set can_view = excluded.can_view,
		    can_edit = excluded.can_edit,
		    can_delete = excluded.can_delete,
		    assigned_by = excluded.assigned_by,
		    assigned_at = excluded.assigned_at
	`, g.UserID, g.OrganizationID, g.ModuleKey, g.CanView, g.CanEdit, g.CanDelete, g.AssignedBy, g.AssignedAt)
	return err
}

func (s *Store) GetGrant(ctx context.Context, userID, orgID, moduleKey string) (entitlement.PermissionGrant, error) {
	g := entitlement.PermissionGrant{UserID: userID, OrganizationID: orgID, ModuleKey: moduleKey}
	var assignedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select can_view, can_edit, can_delete, assigned_by, assigned_at
		from permission_grants
		where user_id=$1 and organization_id=$2 and module_key=$3
	`, userID, orgID, moduleKey).Scan(&g.CanView, &g.CanEdit, &g.CanDelete, &assignedBy, &g.AssignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlement.PermissionGrant{}, entitlement.ErrNotFound
	}
	if err != nil {
		return entitlement.PermissionGrant{}, err
	}
	if assignedBy.Valid {
		g.AssignedBy = assignedBy.String
	}
	return g, nil
}

func (s *Store) ListGrants(ctx context.Context, userID string) ([]entitlement.PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select organization_id, module_key, can_view, can_edit, can_delete, coalesce(assigned_by,''), assigned_at
		from permission_grants
		where user_id=$1
		order by module_key
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entitlement.PermissionGrant
	for rows.Next() {
		g := entitlement.PermissionGrant{UserID: userID}
		if err := rows.Scan(&g.OrganizationID, &g.ModuleKey, &g.CanView, &g.CanEdit, &g.CanDelete, &g.AssignedBy, &g.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) DeleteGrants(ctx context.Context, userID, orgID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from permission_grants where user_id=$1 and organization_id=$2
	`, userID, orgID)
	return err
}

// isUniqueViolation matches Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
