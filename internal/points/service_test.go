package points_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sentra.one/internal/catalog"
	"sentra.one/internal/entitlement"
	"sentra.one/internal/points"
	"sentra.one/internal/store/mem"
	"sentra.one/internal/tariff"
)

type stack struct {
	store   *mem.Store
	tariffs *tariff.Service
	ents    *entitlement.Service
	points  *points.Service
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store := mem.New()
	tariffs, err := tariff.NewService(store)
	if err != nil {
		t.Fatal(err)
	}
	ents, err := entitlement.NewService(store, tariffs, catalog.NewInMemory(catalog.Builtin()))
	if err != nil {
		t.Fatal(err)
	}
	pts, err := points.NewService(store, ents)
	if err != nil {
		t.Fatal(err)
	}
	return &stack{store: store, tariffs: tariffs, ents: ents, points: pts}
}

// orgOnPointsPlan creates an organization subscribed to a plan with the
// points system switched on.
func (s *stack) orgOnPointsPlan(t *testing.T, pointsEnabled bool) entitlement.Organization {
	t.Helper()
	plan, err := s.tariffs.CreatePlan(context.Background(), tariff.CreatePlanInput{
		Name:            "Plan",
		IsPointsEnabled: pointsEnabled,
		PointsValue:     100,
	})
	if err != nil {
		t.Fatal(err)
	}
	org, err := s.ents.CreateOrganization(context.Background(), "Org", plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	return org
}

func (s *stack) rule(t *testing.T, actionType string, amount int64, active bool) points.Rule {
	t.Helper()
	r := points.Rule{
		ID:           "rule:" + actionType,
		RuleName:     actionType,
		ActionType:   actionType,
		PointsAmount: amount,
		IsActive:     active,
	}
	if err := s.store.UpsertRule(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestAwardPointsAppliesMultiplier(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	org := s.orgOnPointsPlan(t, true)
	rule := s.rule(t, "pab_registration_create", 1000, true)

	// 10.00 points at 1.5x.
	if _, err := s.points.UpsertRuleOverride(ctx, org.ID, rule.ID, true, 150); err != nil {
		t.Fatal(err)
	}
	delta, err := s.points.AwardPoints(ctx, org.ID, "user-1", "pab_registration_create")
	if err != nil {
		t.Fatal(err)
	}
	if delta.Amount != 1500 {
		t.Fatalf("delta %d, want 1500", delta.Amount)
	}
	if delta.RuleName != rule.RuleName {
		t.Fatalf("rule name %q, want %q", delta.RuleName, rule.RuleName)
	}

	bal, err := s.points.GetBalance(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Balance != 1500 || bal.TotalEarned != 1500 {
		t.Fatalf("balance %+v, want 1500 earned", bal)
	}
	entries, err := s.points.GetLedger(ctx, org.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Amount != 1500 || entries[0].OperationType != "pab_registration_create" {
		t.Fatalf("unexpected ledger: %+v", entries)
	}
}

func TestAwardPointsSilentZeroChain(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	// Unknown action type.
	org := s.orgOnPointsPlan(t, true)
	delta, err := s.points.AwardPoints(ctx, org.ID, "u", "unknown_action")
	if err != nil || delta.Amount != 0 {
		t.Fatalf("unknown action: delta=%+v err=%v", delta, err)
	}

	// Inactive rule.
	inactive := s.rule(t, "inactive_action", 1000, false)
	if _, err := s.points.UpsertRuleOverride(ctx, org.ID, inactive.ID, true, 100); err != nil {
		t.Fatal(err)
	}
	delta, err = s.points.AwardPoints(ctx, org.ID, "u", "inactive_action")
	if err != nil || delta.Amount != 0 {
		t.Fatalf("inactive rule: delta=%+v err=%v", delta, err)
	}

	// Rule active, but no override for the org.
	s.rule(t, "no_override", 1000, true)
	delta, err = s.points.AwardPoints(ctx, org.ID, "u", "no_override")
	if err != nil || delta.Amount != 0 {
		t.Fatalf("missing override: delta=%+v err=%v", delta, err)
	}

	// Override disabled.
	disabled := s.rule(t, "disabled_override", 1000, true)
	if _, err := s.points.UpsertRuleOverride(ctx, org.ID, disabled.ID, false, 100); err != nil {
		t.Fatal(err)
	}
	delta, err = s.points.AwardPoints(ctx, org.ID, "u", "disabled_override")
	if err != nil || delta.Amount != 0 {
		t.Fatalf("disabled override: delta=%+v err=%v", delta, err)
	}

	// Plan has points switched off.
	orgNoPoints := s.orgOnPointsPlan(t, false)
	enabledRule := s.rule(t, "plan_disabled", 1000, true)
	if _, err := s.points.UpsertRuleOverride(ctx, orgNoPoints.ID, enabledRule.ID, true, 100); err != nil {
		t.Fatal(err)
	}
	delta, err = s.points.AwardPoints(ctx, orgNoPoints.ID, "u", "plan_disabled")
	if err != nil || delta.Amount != 0 {
		t.Fatalf("plan disabled: delta=%+v err=%v", delta, err)
	}

	// Organization-level master switch off.
	orgSwitched := s.orgOnPointsPlan(t, true)
	switched := s.rule(t, "org_switched_off", 1000, true)
	if _, err := s.points.UpsertRuleOverride(ctx, orgSwitched.ID, switched.ID, true, 100); err != nil {
		t.Fatal(err)
	}
	if err := s.points.SetPointsEnabled(ctx, orgSwitched.ID, false); err != nil {
		t.Fatal(err)
	}
	delta, err = s.points.AwardPoints(ctx, orgSwitched.ID, "u", "org_switched_off")
	if err != nil || delta.Amount != 0 {
		t.Fatalf("org switched off: delta=%+v err=%v", delta, err)
	}

	// None of the zero outcomes may write ledger rows.
	for _, id := range []string{org.ID, orgNoPoints.ID, orgSwitched.ID} {
		entries, err := s.points.GetLedger(ctx, id, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Fatalf("org %s: zero award wrote ledger rows: %+v", id, entries)
		}
	}
}

func TestMultiplierClamping(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	org := s.orgOnPointsPlan(t, true)
	rule := s.rule(t, "clamped", 1000, true)

	// Out-of-range multipliers are rejected at the API.
	if _, err := s.points.UpsertRuleOverride(ctx, org.ID, rule.ID, true, points.MaxMultiplier+1); !errors.Is(err, points.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	if _, err := s.points.UpsertRuleOverride(ctx, org.ID, rule.ID, true, -1); !errors.Is(err, points.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}

	// Stored corrupt values are clamped on read, not a crash.
	if err := s.store.UpsertOverride(ctx, points.RuleOverride{
		OrganizationID: org.ID, RuleID: rule.ID, Enabled: true, Multiplier: 5000,
	}); err != nil {
		t.Fatal(err)
	}
	delta, err := s.points.AwardPoints(ctx, org.ID, "u", "clamped")
	if err != nil {
		t.Fatal(err)
	}
	if delta.Amount != 1000*points.MaxMultiplier/points.OneMultiplier {
		t.Fatalf("clamped delta %d", delta.Amount)
	}
}

func TestManualAdjustAndInsufficientBalance(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	org := s.orgOnPointsPlan(t, true)

	bal, err := s.points.ManualAdjust(ctx, org.ID, 5000, "welcome bonus", "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Balance != 5000 {
		t.Fatalf("balance %d, want 5000", bal.Balance)
	}

	bal, err = s.points.ManualAdjust(ctx, org.ID, -2000, "correction", "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Balance != 3000 || bal.TotalSpent != 2000 {
		t.Fatalf("after debit: %+v", bal)
	}

	if _, err := s.points.ManualAdjust(ctx, org.ID, -4000, "too much", "admin-1"); !errors.Is(err, points.ErrInsufficientPoints) {
		t.Fatalf("want ErrInsufficientPoints, got %v", err)
	}
	if _, err := s.points.ManualAdjust(ctx, org.ID, 0, "", "admin-1"); !errors.Is(err, points.ErrValidation) {
		t.Fatalf("zero amount: want ErrValidation, got %v", err)
	}

	entries, err := s.points.GetLedger(ctx, org.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("failed debit wrote a ledger row: %+v", entries)
	}
	// Newest first.
	if entries[0].OperationType != points.OpAdminSubtract || entries[1].OperationType != points.OpAdminAdd {
		t.Fatalf("unexpected operation order: %+v", entries)
	}
}

func TestRecomputeBalanceRefoldsLedger(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	org := s.orgOnPointsPlan(t, true)

	if _, err := s.points.ManualAdjust(ctx, org.ID, 3000, "", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.points.ManualAdjust(ctx, org.ID, -1000, "", "a"); err != nil {
		t.Fatal(err)
	}
	bal, err := s.points.RecomputeBalance(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Balance != 2000 || bal.TotalEarned != 3000 || bal.TotalSpent != 1000 {
		t.Fatalf("recomputed: %+v", bal)
	}
}

func TestListRulesForOrgJoinsOverrides(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	org := s.orgOnPointsPlan(t, true)
	active := s.rule(t, "a_active", 1000, true)
	s.rule(t, "b_inactive", 1000, false)
	s.rule(t, "c_plain", 500, true)

	if _, err := s.points.UpsertRuleOverride(ctx, org.ID, active.ID, true, 200); err != nil {
		t.Fatal(err)
	}
	rules, err := s.points.ListRulesForOrg(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("inactive rules must be hidden: %+v", rules)
	}
	if !rules[0].OrgEnabled || rules[0].OrgMultiplier != 200 {
		t.Fatalf("override not joined: %+v", rules[0])
	}
	if rules[1].OrgEnabled || rules[1].OrgMultiplier != points.OneMultiplier {
		t.Fatalf("default join wrong: %+v", rules[1])
	}
}

func TestConcurrentAwardsConserveBalance(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	org := s.orgOnPointsPlan(t, true)
	rule := s.rule(t, "burst", 100, true)
	if _, err := s.points.UpsertRuleOverride(ctx, org.ID, rule.ID, true, 100); err != nil {
		t.Fatal(err)
	}

	const workers = 100
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.points.AwardPoints(ctx, org.ID, "u", "burst"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	bal, err := s.points.GetBalance(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Balance != workers*100 {
		t.Fatalf("balance %d, want %d", bal.Balance, workers*100)
	}
	entries, err := s.points.GetLedger(ctx, org.ID, 1000)
	if err != nil {
		t.Fatal(err)
	}
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	if len(entries) != workers || sum != bal.Balance {
		t.Fatalf("ledger/balance diverged: %d entries, sum %d, balance %d", len(entries), sum, bal.Balance)
	}
}
