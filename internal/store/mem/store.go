// Package mem is the in-process store backend. It backs tests and DSN-less
// deployments with the same semantics the Postgres backend provides,
// including atomic plan-switch pruning and serialized ledger application.
package mem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sentra.one/internal/entitlement"
	"sentra.one/internal/ids"
	"sentra.one/internal/points"
	"sentra.one/internal/tariff"
)

// Store keeps everything under one mutex so multi-entity writes (plan
// switch + override pruning, ledger append + balance move) are atomic with
// respect to every reader.
type Store struct {
	mu sync.RWMutex

	plans map[string]tariff.Plan

	orgs     map[string]entitlement.Organization
	orgCodes map[string]string // registration code -> org id
	users    map[string]entitlement.User

	overrides map[string]map[string]bool // org id -> component id -> enabled
	grants    map[string]entitlement.PermissionGrant

	rules         map[string]points.Rule
	rulesByAction map[string]string // action type -> rule id
	ruleOverrides map[string]points.RuleOverride
	balances      map[string]points.Balance
	ledger        map[string][]points.LedgerEntry
}

var (
	_ tariff.Store      = (*Store)(nil)
	_ entitlement.Store = (*Store)(nil)
	_ points.Store      = (*Store)(nil)
)

func New() *Store {
	return &Store{
		plans:         make(map[string]tariff.Plan),
		orgs:          make(map[string]entitlement.Organization),
		orgCodes:      make(map[string]string),
		users:         make(map[string]entitlement.User),
		overrides:     make(map[string]map[string]bool),
		grants:        make(map[string]entitlement.PermissionGrant),
		rules:         make(map[string]points.Rule),
		rulesByAction: make(map[string]string),
		ruleOverrides: make(map[string]points.RuleOverride),
		balances:      make(map[string]points.Balance),
		ledger:        make(map[string][]points.LedgerEntry),
	}
}

// --- tariff.Store ---

func (s *Store) CreatePlan(ctx context.Context, plan tariff.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.ID]; ok {
		return tariff.ErrConflict
	}
	plan.Components = clonePlanComponents(plan.Components)
	s.plans[plan.ID] = plan
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (tariff.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[id]
	if !ok {
		return tariff.Plan{}, tariff.ErrNotFound
	}
	plan.Components = clonePlanComponents(plan.Components)
	return plan, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]tariff.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tariff.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		p.Components = clonePlanComponents(p.Components)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ReplacePlan(ctx context.Context, plan tariff.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.ID]; !ok {
		return tariff.ErrNotFound
	}
	plan.Components = clonePlanComponents(plan.Components)
	s.plans[plan.ID] = plan

	// Prune overrides of every subscribed org that now point outside the
	// plan, in the same critical section as the component replacement.
	included := plan.IncludedComponents()
	for orgID, org := range s.orgs {
		if org.TariffPlanID != plan.ID {
			continue
		}
		s.pruneOverridesLocked(orgID, included)
	}
	return nil
}

// --- entitlement.Store ---

func (s *Store) CreateOrganization(ctx context.Context, org entitlement.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return entitlement.ErrConflict
	}
	if _, ok := s.orgCodes[org.RegistrationCode]; ok {
		return entitlement.ErrConflict
	}
	s.orgs[org.ID] = org
	s.orgCodes[org.RegistrationCode] = org.ID
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (entitlement.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return entitlement.Organization{}, entitlement.ErrNotFound
	}
	return org, nil
}

func (s *Store) GetOrganizationByCode(ctx context.Context, code string) (entitlement.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.orgCodes[code]
	if !ok {
		return entitlement.Organization{}, entitlement.ErrNotFound
	}
	return s.orgs[id], nil
}

func (s *Store) SetOrganizationActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return entitlement.ErrNotFound
	}
	org.IsActive = active
	org.UpdatedAt = time.Now().UTC()
	s.orgs[id] = org
	return nil
}

func (s *Store) SetTariffPlan(ctx context.Context, orgID, planID string, trialEnd *time.Time, included map[string]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[orgID]
	if !ok {
		return entitlement.ErrNotFound
	}
	org.TariffPlanID = planID
	org.TrialEndDate = trialEnd
	org.UpdatedAt = time.Now().UTC()
	s.orgs[orgID] = org
	s.pruneOverridesLocked(orgID, included)
	return nil
}

func (s *Store) UpsertUser(ctx context.Context, u entitlement.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Emails are unique across users, matching the lower(email) unique
	// index of the Postgres backend.
	for _, other := range s.users {
		if other.ID != u.ID && strings.EqualFold(other.Email, u.Email) {
			return entitlement.ErrConflict
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (entitlement.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return entitlement.User{}, entitlement.ErrNotFound
	}
	return u, nil
}

func (s *Store) SetModuleOverride(ctx context.Context, o entitlement.ModuleOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.overrides[o.OrganizationID]
	if !ok {
		m = make(map[string]bool)
		s.overrides[o.OrganizationID] = m
	}
	m[o.ComponentID] = o.Enabled
	return nil
}

func (s *Store) ListModuleOverrides(ctx context.Context, orgID string) ([]entitlement.ModuleOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.overrides[orgID]
	out := make([]entitlement.ModuleOverride, 0, len(m))
	for componentID, enabled := range m {
		out = append(out, entitlement.ModuleOverride{
			OrganizationID: orgID,
			ComponentID:    componentID,
			Enabled:        enabled,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComponentID < out[j].ComponentID })
	return out, nil
}

func grantKey(userID, orgID, moduleKey string) string {
	return userID + "\x00" + orgID + "\x00" + moduleKey
}

func (s *Store) UpsertGrant(ctx context.Context, g entitlement.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey(g.UserID, g.OrganizationID, g.ModuleKey)] = g
	return nil
}

func (s *Store) GetGrant(ctx context.Context, userID, orgID, moduleKey string) (entitlement.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantKey(userID, orgID, moduleKey)]
	if !ok {
		return entitlement.PermissionGrant{}, entitlement.ErrNotFound
	}
	return g, nil
}

func (s *Store) ListGrants(ctx context.Context, userID string) ([]entitlement.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entitlement.PermissionGrant
	for _, g := range s.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleKey < out[j].ModuleKey })
	return out, nil
}

func (s *Store) DeleteGrants(ctx context.Context, userID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := userID + "\x00" + orgID + "\x00"
	for k := range s.grants {
		if strings.HasPrefix(k, prefix) {
			delete(s.grants, k)
		}
	}
	return nil
}

// --- points.Store ---

func (s *Store) UpsertRule(ctx context.Context, r points.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.rules[r.ID] = r
	s.rulesByAction[r.ActionType] = r.ID
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (points.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return points.Rule{}, points.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetRuleByAction(ctx context.Context, actionType string) (points.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.rulesByAction[actionType]
	if !ok {
		return points.Rule{}, points.ErrNotFound
	}
	return s.rules[id], nil
}

func (s *Store) ListRules(ctx context.Context) ([]points.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]points.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActionType != out[j].ActionType {
			return out[i].ActionType < out[j].ActionType
		}
		return out[i].RuleName < out[j].RuleName
	})
	return out, nil
}

func overrideKey(orgID, ruleID string) string {
	return orgID + "\x00" + ruleID
}

func (s *Store) UpsertOverride(ctx context.Context, o points.RuleOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.UpdatedAt = time.Now().UTC()
	s.ruleOverrides[overrideKey(o.OrganizationID, o.RuleID)] = o
	return nil
}

func (s *Store) GetOverride(ctx context.Context, orgID, ruleID string) (points.RuleOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.ruleOverrides[overrideKey(orgID, ruleID)]
	if !ok {
		return points.RuleOverride{}, points.ErrNotFound
	}
	return o, nil
}

func (s *Store) ListOverrides(ctx context.Context, orgID string) ([]points.RuleOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []points.RuleOverride
	for _, o := range s.ruleOverrides {
		if o.OrganizationID == orgID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

func (s *Store) EnsureBalance(ctx context.Context, orgID string) (points.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureBalanceLocked(orgID), nil
}

func (s *Store) SetEnabled(ctx context.Context, orgID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.ensureBalanceLocked(orgID)
	bal.Enabled = enabled
	bal.UpdatedAt = time.Now().UTC()
	s.balances[orgID] = bal
	return nil
}

func (s *Store) Apply(ctx context.Context, orgID string, amount int64, opType, description string) (points.LedgerEntry, points.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.ensureBalanceLocked(orgID)
	next := bal.Balance + amount
	if next < 0 {
		return points.LedgerEntry{}, points.Balance{}, points.ErrInsufficientPoints
	}
	now := time.Now().UTC()
	entry := points.LedgerEntry{
		ID:             ids.New(),
		OrganizationID: orgID,
		Amount:         amount,
		OperationType:  opType,
		Description:    description,
		CreatedAt:      now,
	}
	bal.Balance = next
	if amount > 0 {
		bal.TotalEarned += amount
	} else {
		bal.TotalSpent += -amount
	}
	bal.UpdatedAt = now
	s.balances[orgID] = bal
	s.ledger[orgID] = append(s.ledger[orgID], entry)
	return entry, bal, nil
}

func (s *Store) ListLedger(ctx context.Context, orgID string, limit int) ([]points.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.ledger[orgID]
	// Newest first.
	out := make([]points.LedgerEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *Store) ReconcileBalance(ctx context.Context, orgID string) (points.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.ensureBalanceLocked(orgID)
	var sum, earned, spent int64
	for _, e := range s.ledger[orgID] {
		sum += e.Amount
		if e.Amount > 0 {
			earned += e.Amount
		} else {
			spent += -e.Amount
		}
	}
	bal.Balance = sum
	bal.TotalEarned = earned
	bal.TotalSpent = spent
	bal.UpdatedAt = time.Now().UTC()
	s.balances[orgID] = bal
	return bal, nil
}

// --- helpers ---

func (s *Store) ensureBalanceLocked(orgID string) points.Balance {
	if bal, ok := s.balances[orgID]; ok {
		return bal
	}
	bal := points.Balance{
		OrganizationID: orgID,
		Enabled:        true,
		UpdatedAt:      time.Now().UTC(),
	}
	s.balances[orgID] = bal
	return bal
}

func (s *Store) pruneOverridesLocked(orgID string, included map[string]struct{}) {
	m := s.overrides[orgID]
	for componentID := range m {
		if _, ok := included[componentID]; !ok {
			delete(m, componentID)
		}
	}
}

func clonePlanComponents(in []tariff.PlanComponent) []tariff.PlanComponent {
	if in == nil {
		return nil
	}
	out := make([]tariff.PlanComponent, len(in))
	copy(out, in)
	return out
}
