package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentra.one/internal/catalog"
	"sentra.one/internal/ids"
	"sentra.one/internal/tariff"
)

// Store persists tenants, overrides, users and grants.
//
// SetTariffPlan switches the organization to the plan and removes every
// module override that references a component outside the new included set.
// The switch and the pruning are one atomic operation.
type Store interface {
	CreateOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
	GetOrganizationByCode(ctx context.Context, code string) (Organization, error)
	SetOrganizationActive(ctx context.Context, id string, active bool) error
	SetTariffPlan(ctx context.Context, orgID, planID string, trialEnd *time.Time, included map[string]struct{}) error

	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)

	SetModuleOverride(ctx context.Context, o ModuleOverride) error
	ListModuleOverrides(ctx context.Context, orgID string) ([]ModuleOverride, error)

	UpsertGrant(ctx context.Context, g PermissionGrant) error
	GetGrant(ctx context.Context, userID, orgID, moduleKey string) (PermissionGrant, error)
	ListGrants(ctx context.Context, userID string) ([]PermissionGrant, error)
	DeleteGrants(ctx context.Context, userID, orgID string) error
}

// PlanReader is the slice of the tariff service the entitlement layer needs.
type PlanReader interface {
	GetPlan(ctx context.Context, id string) (tariff.Plan, error)
}

// Service owns tenant entitlement: subscriptions, overrides, grants, and
// the access resolver. Every "what does this org have" question in the
// system must go through ResolveEnabledModules; nothing else re-derives it.
type Service struct {
	store   Store
	plans   PlanReader
	catalog catalog.Store
}

func NewService(store Store, plans PlanReader, cat catalog.Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("entitlement store is required")
	}
	if plans == nil {
		return nil, errors.New("plan reader is required")
	}
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	return &Service{store: store, plans: plans, catalog: cat}, nil
}

const regCodeAttempts = 5

// CreateOrganization onboards a tenant. The registration code is the
// external join key: globally unique and stable for the tenant's lifetime.
// When planID is non-empty the organization is subscribed immediately and
// the trial clock starts from the plan's trial days.
func (s *Service) CreateOrganization(ctx context.Context, name, planID string) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrValidation)
	}
	planID = strings.TrimSpace(planID)

	var trialEnd *time.Time
	if planID != "" {
		plan, err := s.plans.GetPlan(ctx, planID)
		if err != nil {
			return Organization{}, err
		}
		if plan.TrialDays > 0 {
			t := time.Now().UTC().AddDate(0, 0, plan.TrialDays)
			trialEnd = &t
		}
	}

	now := time.Now().UTC()
	org := Organization{
		Name:         name,
		TariffPlanID: planID,
		TrialEndDate: trialEnd,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// Codes are random; retry a handful of times on collision.
	var err error
	for i := 0; i < regCodeAttempts; i++ {
		org.ID = ids.New()
		org.RegistrationCode = ids.RegistrationCode()
		err = s.store.CreateOrganization(ctx, org)
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Organization{}, err
		}
	}
	return Organization{}, fmt.Errorf("allocate registration code: %w", err)
}

func (s *Service) GetOrganization(ctx context.Context, id string) (Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Organization{}, fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	return s.store.GetOrganization(ctx, id)
}

// LookupByRegistrationCode resolves the external join key used in
// registration links. Inactive organizations resolve too; the caller
// decides what a blocked tenant may see.
func (s *Service) LookupByRegistrationCode(ctx context.Context, code string) (Organization, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Organization{}, fmt.Errorf("%w: registration code is required", ErrValidation)
	}
	return s.store.GetOrganizationByCode(ctx, code)
}

// SetOrganizationActive blocks or unblocks a tenant. Organizations are
// never deleted so the ledger and audit history stay intact.
func (s *Service) SetOrganizationActive(ctx context.Context, id string, active bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	return s.store.SetOrganizationActive(ctx, id, active)
}

// SubscribeToPlan switches the organization's tariff. Overrides enabling
// components outside the new plan are pruned in the same transaction:
// either the switch and the pruning both happen, or neither does.
func (s *Service) SubscribeToPlan(ctx context.Context, orgID, planID string) error {
	orgID = strings.TrimSpace(orgID)
	planID = strings.TrimSpace(planID)
	if orgID == "" || planID == "" {
		return fmt.Errorf("%w: organization id and plan id are required", ErrValidation)
	}
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return err
	}
	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	var trialEnd *time.Time
	if plan.TrialDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, plan.TrialDays)
		trialEnd = &t
	}
	return s.store.SetTariffPlan(ctx, orgID, planID, trialEnd, plan.IncludedComponents())
}

// SetModuleEnabled toggles a plan component for one tenant. Enabling a
// component the current plan does not include fails with ErrNotEntitled;
// overrides narrow entitlement, they never widen it.
func (s *Service) SetModuleEnabled(ctx context.Context, orgID, componentID string, enabled bool) error {
	orgID = strings.TrimSpace(orgID)
	componentID = strings.TrimSpace(componentID)
	if orgID == "" || componentID == "" {
		return fmt.Errorf("%w: organization id and component id are required", ErrValidation)
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if enabled {
		if org.TariffPlanID == "" {
			return fmt.Errorf("%w: organization has no tariff plan", ErrNotEntitled)
		}
		plan, err := s.plans.GetPlan(ctx, org.TariffPlanID)
		if err != nil {
			return err
		}
		if !plan.Includes(componentID) {
			return fmt.Errorf("%w: component %s", ErrNotEntitled, componentID)
		}
	}
	return s.store.SetModuleOverride(ctx, ModuleOverride{
		OrganizationID: orgID,
		ComponentID:    componentID,
		Enabled:        enabled,
	})
}

// ResolveEnabledModules computes the effective component set for a tenant:
// plan-included components minus components explicitly disabled by
// override. This is the canonical read path; the result is always a subset
// of the plan entitlement.
func (s *Service) ResolveEnabledModules(ctx context.Context, orgID string) (map[string]struct{}, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org.TariffPlanID == "" {
		return map[string]struct{}{}, nil
	}
	plan, err := s.plans.GetPlan(ctx, org.TariffPlanID)
	if err != nil {
		return nil, err
	}
	enabled := plan.IncludedComponents()
	overrides, err := s.store.ListModuleOverrides(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if !o.Enabled {
			delete(enabled, o.ComponentID)
		}
	}
	return enabled, nil
}

// RegisterUser records identity facts delivered by the auth collaborator.
func (s *Service) RegisterUser(ctx context.Context, u User) (User, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	u.OrganizationID = strings.TrimSpace(u.OrganizationID)
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if !u.Role.IsValid() {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrValidation, u.Role)
	}
	if u.Role == RoleSuperadmin {
		u.OrganizationID = ""
	} else if u.OrganizationID == "" {
		return User{}, fmt.Errorf("%w: organization id is required for role %s", ErrValidation, u.Role)
	} else if _, err := s.store.GetOrganization(ctx, u.OrganizationID); err != nil {
		return User{}, err
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return s.store.GetUser(ctx, id)
}

// AssignPermissionGrant upserts the per-module bits for a miniadmin.
// Assigning twice with the same key produces one row reflecting the last
// write. A user/org mismatch is a security-relevant refusal, never coerced.
func (s *Service) AssignPermissionGrant(ctx context.Context, g PermissionGrant) (PermissionGrant, error) {
	g.UserID = strings.TrimSpace(g.UserID)
	g.OrganizationID = strings.TrimSpace(g.OrganizationID)
	g.ModuleKey = strings.TrimSpace(g.ModuleKey)
	if g.UserID == "" || g.OrganizationID == "" || g.ModuleKey == "" {
		return PermissionGrant{}, fmt.Errorf("%w: user id, organization id and module key are required", ErrValidation)
	}
	user, err := s.store.GetUser(ctx, g.UserID)
	if err != nil {
		return PermissionGrant{}, err
	}
	if user.OrganizationID != g.OrganizationID {
		return PermissionGrant{}, fmt.Errorf("%w: user %s does not belong to organization %s", ErrCrossTenant, g.UserID, g.OrganizationID)
	}
	if _, err := s.catalog.GetByKey(ctx, g.ModuleKey); err != nil {
		return PermissionGrant{}, fmt.Errorf("%w: unknown module key %q", ErrValidation, g.ModuleKey)
	}
	g.AssignedAt = time.Now().UTC()
	if err := s.store.UpsertGrant(ctx, g); err != nil {
		return PermissionGrant{}, err
	}
	return g, nil
}

func (s *Service) GetPermissionGrants(ctx context.Context, userID string) ([]PermissionGrant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return s.store.ListGrants(ctx, userID)
}

// RevokePermissionGrants removes a user's grants inside one organization.
// Grants are not revoked automatically when a role changes; a downgraded
// miniadmin's rows stay inert until the role is restored or this is called.
func (s *Service) RevokePermissionGrants(ctx context.Context, userID, orgID string) error {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" || orgID == "" {
		return fmt.Errorf("%w: user id and organization id are required", ErrValidation)
	}
	return s.store.DeleteGrants(ctx, userID, orgID)
}

// PointsEnabledByPlan reports whether the organization's tariff plan has
// the points system switched on. Used by the points engine as its plan
// gate.
func (s *Service) PointsEnabledByPlan(ctx context.Context, orgID string) (bool, error) {
	org, err := s.store.GetOrganization(ctx, strings.TrimSpace(orgID))
	if err != nil {
		return false, err
	}
	if org.TariffPlanID == "" {
		return false, nil
	}
	plan, err := s.plans.GetPlan(ctx, org.TariffPlanID)
	if err != nil {
		return false, err
	}
	return plan.IsPointsEnabled, nil
}
