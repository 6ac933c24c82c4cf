package points

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists rules, overrides, balances and the ledger.
//
// Apply appends a ledger entry and moves the balance in one atomic step.
// A balance must never move without its ledger row, and vice versa.
// Concurrent Apply calls for the same organization serialize at the balance
// update so the running fold never loses an update. Apply fails with
// ErrInsufficientPoints when the entry would take the balance below zero.
type Store interface {
	UpsertRule(ctx context.Context, r Rule) error
	GetRule(ctx context.Context, id string) (Rule, error)
	GetRuleByAction(ctx context.Context, actionType string) (Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)

	UpsertOverride(ctx context.Context, o RuleOverride) error
	GetOverride(ctx context.Context, orgID, ruleID string) (RuleOverride, error)
	ListOverrides(ctx context.Context, orgID string) ([]RuleOverride, error)

	// EnsureBalance returns the balance row for the organization, creating
	// an empty enabled one on first touch.
	EnsureBalance(ctx context.Context, orgID string) (Balance, error)
	SetEnabled(ctx context.Context, orgID string, enabled bool) error
	Apply(ctx context.Context, orgID string, amount int64, opType, description string) (LedgerEntry, Balance, error)
	ListLedger(ctx context.Context, orgID string, limit int) ([]LedgerEntry, error)
	// ReconcileBalance refolds the ledger into the balance row and returns
	// the result.
	ReconcileBalance(ctx context.Context, orgID string) (Balance, error)
}

// PlanGate answers whether the organization's tariff has points switched
// on. Implemented by the entitlement service.
type PlanGate interface {
	PointsEnabledByPlan(ctx context.Context, orgID string) (bool, error)
}

// Service is the points rule engine and ledger front door.
type Service struct {
	store Store
	plans PlanGate
}

func NewService(store Store, plans PlanGate) (*Service, error) {
	if store == nil {
		return nil, errors.New("points store is required")
	}
	if plans == nil {
		return nil, errors.New("plan gate is required")
	}
	return &Service{store: store, plans: plans}, nil
}

func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.store.ListRules(ctx)
}

// ListRulesForOrg joins every active rule with the organization's override
// so admin screens render one list instead of re-deriving it per page.
func (s *Service) ListRulesForOrg(ctx context.Context, orgID string) ([]OrgRule, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := s.store.ListOverrides(ctx, orgID)
	if err != nil {
		return nil, err
	}
	byRule := make(map[string]RuleOverride, len(overrides))
	for _, o := range overrides {
		byRule[o.RuleID] = o
	}
	out := make([]OrgRule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		or := OrgRule{Rule: r, OrgMultiplier: OneMultiplier}
		if o, ok := byRule[r.ID]; ok {
			or.OrgEnabled = o.Enabled
			or.OrgMultiplier = ClampMultiplier(o.Multiplier)
		}
		out = append(out, or)
	}
	return out, nil
}

// UpsertRuleOverride enables or tunes one rule for one organization.
func (s *Service) UpsertRuleOverride(ctx context.Context, orgID, ruleID string, enabled bool, multiplier int64) (RuleOverride, error) {
	orgID = strings.TrimSpace(orgID)
	ruleID = strings.TrimSpace(ruleID)
	if orgID == "" || ruleID == "" {
		return RuleOverride{}, fmt.Errorf("%w: organization id and rule id are required", ErrValidation)
	}
	if multiplier < 0 || multiplier > MaxMultiplier {
		return RuleOverride{}, fmt.Errorf("%w: multiplier must be between 0 and %d", ErrValidation, MaxMultiplier)
	}
	if _, err := s.store.GetRule(ctx, ruleID); err != nil {
		return RuleOverride{}, err
	}
	o := RuleOverride{
		OrganizationID: orgID,
		RuleID:         ruleID,
		Enabled:        enabled,
		Multiplier:     multiplier,
	}
	if err := s.store.UpsertOverride(ctx, o); err != nil {
		return RuleOverride{}, err
	}
	return o, nil
}

// SetPointsEnabled is the organization-level master switch, AND-ed with the
// tariff plan's points flag.
func (s *Service) SetPointsEnabled(ctx context.Context, orgID string, enabled bool) error {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	return s.store.SetEnabled(ctx, orgID, enabled)
}

// AwardPoints resolves the effective delta for a completed action and
// applies it. Unknown or inactive action types, disabled plans, switched-off
// organizations and missing or disabled overrides all yield a zero delta
// silently: action telemetry evolves independently of the rule catalog and
// must never break the calling workflow.
func (s *Service) AwardPoints(ctx context.Context, orgID, userID, actionType string) (Delta, error) {
	orgID = strings.TrimSpace(orgID)
	actionType = strings.TrimSpace(actionType)
	if orgID == "" || actionType == "" {
		return Delta{}, fmt.Errorf("%w: organization id and action type are required", ErrValidation)
	}

	rule, err := s.store.GetRuleByAction(ctx, actionType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Delta{}, nil
		}
		return Delta{}, err
	}
	if !rule.IsActive {
		return Delta{}, nil
	}

	planEnabled, err := s.plans.PointsEnabledByPlan(ctx, orgID)
	if err != nil {
		return Delta{}, err
	}
	if !planEnabled {
		return Delta{}, nil
	}

	bal, err := s.store.EnsureBalance(ctx, orgID)
	if err != nil {
		return Delta{}, err
	}
	if !bal.Enabled {
		return Delta{}, nil
	}

	override, err := s.store.GetOverride(ctx, orgID, rule.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Delta{}, nil
		}
		return Delta{}, err
	}
	if !override.Enabled {
		return Delta{}, nil
	}

	amount := rule.PointsAmount * ClampMultiplier(override.Multiplier) / OneMultiplier
	if amount == 0 {
		return Delta{RuleName: rule.RuleName}, nil
	}

	desc := "auto award: " + rule.RuleName
	if userID = strings.TrimSpace(userID); userID != "" {
		desc += " (user " + userID + ")"
	}
	if _, _, err := s.store.Apply(ctx, orgID, amount, actionType, desc); err != nil {
		return Delta{}, err
	}
	return Delta{Amount: amount, RuleName: rule.RuleName}, nil
}

// ManualAdjust credits or debits the organization outside the rule system.
// The caller is responsible for restricting this to superadmins. A debit
// below zero fails with ErrInsufficientPoints.
func (s *Service) ManualAdjust(ctx context.Context, orgID string, amount int64, description, adminID string) (Balance, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return Balance{}, fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	if amount == 0 {
		return Balance{}, fmt.Errorf("%w: amount cannot be zero", ErrValidation)
	}
	opType := OpAdminAdd
	if amount < 0 {
		opType = OpAdminSubtract
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "manual adjustment"
	}
	if adminID = strings.TrimSpace(adminID); adminID != "" {
		description += " (by " + adminID + ")"
	}
	if _, err := s.store.EnsureBalance(ctx, orgID); err != nil {
		return Balance{}, err
	}
	_, bal, err := s.store.Apply(ctx, orgID, amount, opType, description)
	if err != nil {
		return Balance{}, err
	}
	return bal, nil
}

func (s *Service) GetBalance(ctx context.Context, orgID string) (Balance, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return Balance{}, fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	return s.store.EnsureBalance(ctx, orgID)
}

func (s *Service) GetLedger(ctx context.Context, orgID string, limit int) ([]LedgerEntry, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.ListLedger(ctx, orgID, limit)
}

// RecomputeBalance refolds the ledger. Exposed for the reconciliation job
// run by the scheduling collaborator.
func (s *Service) RecomputeBalance(ctx context.Context, orgID string) (Balance, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return Balance{}, fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	return s.store.ReconcileBalance(ctx, orgID)
}
