package entitlement_test

import (
	"context"
	"errors"
	"testing"

	"sentra.one/internal/entitlement"
	"sentra.one/internal/tariff"
)

func TestCreateOrganizationIssuesRegistrationCode(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	org := s.org(t, "")

	if len(org.RegistrationCode) != 10 {
		t.Fatalf("registration code %q: want 10 characters", org.RegistrationCode)
	}
	found, err := s.ents.LookupByRegistrationCode(ctx, org.RegistrationCode)
	if err != nil {
		t.Fatal(err)
	}
	if found.ID != org.ID {
		t.Fatalf("lookup resolved %s, want %s", found.ID, org.ID)
	}
	// Lookup is case-insensitive on input.
	if _, err := s.ents.LookupByRegistrationCode(ctx, "  "+lower(org.RegistrationCode)+" "); err != nil {
		t.Fatalf("case-insensitive lookup failed: %v", err)
	}
}

func lower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}

func TestCreateOrganizationStartsTrial(t *testing.T) {
	s := newStack(t)
	plan, err := s.tariffs.CreatePlan(context.Background(), tariff.CreatePlanInput{
		Name:      "Trial",
		TrialDays: 14,
	})
	if err != nil {
		t.Fatal(err)
	}
	org := s.org(t, plan.ID)
	if org.TrialEndDate == nil {
		t.Fatal("trial end date not set")
	}
	if org.TariffPlanID != plan.ID {
		t.Fatalf("org not subscribed: %q", org.TariffPlanID)
	}
}

func TestResolveEnabledModulesIsSubsetOfPlan(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	plan := s.plan(t, "Full", "module:storage", "module:pab", "module:metrics")
	org := s.org(t, plan.ID)

	if err := s.ents.SetModuleEnabled(ctx, org.ID, "module:pab", false); err != nil {
		t.Fatal(err)
	}
	enabled, err := s.ents.ResolveEnabledModules(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	included := plan.IncludedComponents()
	for id := range enabled {
		if _, ok := included[id]; !ok {
			t.Fatalf("enabled component %s not in plan", id)
		}
	}
	if _, ok := enabled["module:pab"]; ok {
		t.Fatal("disabled override still enabled")
	}
	if len(enabled) != 2 {
		t.Fatalf("want 2 enabled components, got %d", len(enabled))
	}
}

func TestResolveEnabledModulesWithoutPlanIsEmpty(t *testing.T) {
	s := newStack(t)
	org := s.org(t, "")
	enabled, err := s.ents.ResolveEnabledModules(context.Background(), org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 0 {
		t.Fatalf("planless org has %d enabled components", len(enabled))
	}
}

func TestOverridesOnlyNarrow(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	plan := s.plan(t, "Slim", "module:pab")
	org := s.org(t, plan.ID)

	err := s.ents.SetModuleEnabled(ctx, org.ID, "module:storage", true)
	if !errors.Is(err, entitlement.ErrNotEntitled) {
		t.Fatalf("want ErrNotEntitled, got %v", err)
	}
	// Disabling a not-included component is allowed; it is inert.
	if err := s.ents.SetModuleEnabled(ctx, org.ID, "module:storage", false); err != nil {
		t.Fatalf("disable outside plan: %v", err)
	}
}

func TestPlanSwitchPrunesStaleOverrides(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	full := s.plan(t, "Full", "module:storage", "module:pab")
	slim := s.plan(t, "Slim", "module:pab")
	org := s.org(t, full.ID)

	if err := s.ents.SetModuleEnabled(ctx, org.ID, "module:storage", false); err != nil {
		t.Fatal(err)
	}
	if err := s.ents.SubscribeToPlan(ctx, org.ID, slim.ID); err != nil {
		t.Fatal(err)
	}
	overrides, err := s.store.ListModuleOverrides(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(overrides) != 0 {
		t.Fatalf("stale overrides survived the switch: %+v", overrides)
	}

	// Back on the full plan the component is enabled again; the old
	// disable must not resurrect.
	if err := s.ents.SubscribeToPlan(ctx, org.ID, full.ID); err != nil {
		t.Fatal(err)
	}
	enabled, err := s.ents.ResolveEnabledModules(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := enabled["module:storage"]; !ok {
		t.Fatal("pruned override still disables the component")
	}
}

func TestPlanUpdatePrunesSubscribedOrgs(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	plan := s.plan(t, "Full", "module:storage", "module:pab")
	org := s.org(t, plan.ID)

	if err := s.ents.SetModuleEnabled(ctx, org.ID, "module:storage", false); err != nil {
		t.Fatal(err)
	}
	comps := []tariff.PlanComponent{{ComponentID: "module:pab", Price: 100000, IsIncluded: true}}
	if _, err := s.tariffs.UpdatePlan(ctx, plan.ID, tariff.PlanUpdate{Components: &comps}); err != nil {
		t.Fatal(err)
	}
	overrides, err := s.store.ListModuleOverrides(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(overrides) != 0 {
		t.Fatalf("plan downgrade left stale overrides: %+v", overrides)
	}
}

func TestRegisterUserValidation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	org := s.org(t, "")

	if _, err := s.ents.RegisterUser(ctx, entitlement.User{
		Email: "no-at-sign", Role: entitlement.RoleUser, OrganizationID: org.ID,
	}); !errors.Is(err, entitlement.ErrValidation) {
		t.Fatalf("bad email: want ErrValidation, got %v", err)
	}
	if _, err := s.ents.RegisterUser(ctx, entitlement.User{
		Email: "a@b.com", Role: "owner", OrganizationID: org.ID,
	}); !errors.Is(err, entitlement.ErrValidation) {
		t.Fatalf("bad role: want ErrValidation, got %v", err)
	}
	if _, err := s.ents.RegisterUser(ctx, entitlement.User{
		Email: "a@b.com", Role: entitlement.RoleAdmin,
	}); !errors.Is(err, entitlement.ErrValidation) {
		t.Fatalf("missing org: want ErrValidation, got %v", err)
	}

	// Superadmins are platform-wide; any passed org id is dropped.
	super, err := s.ents.RegisterUser(ctx, entitlement.User{
		Email: "root@b.com", Role: entitlement.RoleSuperadmin, OrganizationID: org.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if super.OrganizationID != "" {
		t.Fatalf("superadmin kept org scope: %q", super.OrganizationID)
	}
}

func TestRegisterUserRejectsDuplicateEmail(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	org := s.org(t, "")

	first, err := s.ents.RegisterUser(ctx, entitlement.User{
		Email: "dup@example.com", Role: entitlement.RoleUser, OrganizationID: org.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ents.RegisterUser(ctx, entitlement.User{
		Email: "dup@example.com", Role: entitlement.RoleUser, OrganizationID: org.ID,
	}); !errors.Is(err, entitlement.ErrConflict) {
		t.Fatalf("duplicate email: want ErrConflict, got %v", err)
	}
	// Case only differs on input; emails compare case-insensitively.
	if _, err := s.ents.RegisterUser(ctx, entitlement.User{
		Email: "DUP@example.com", Role: entitlement.RoleUser, OrganizationID: org.ID,
	}); !errors.Is(err, entitlement.ErrConflict) {
		t.Fatalf("case-folded duplicate: want ErrConflict, got %v", err)
	}

	// Re-registering the same user id with its own email stays an upsert,
	// not a conflict.
	first.FIO = "Updated Name"
	if _, err := s.ents.RegisterUser(ctx, first); err != nil {
		t.Fatalf("self upsert: %v", err)
	}
}

func TestRevokePermissionGrants(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	plan := s.plan(t, "Full", "module:storage", "module:pab")
	org := s.org(t, plan.ID)
	mini := s.user(t, org.ID, entitlement.RoleMiniadmin)

	for _, key := range []string{"storage", "pab"} {
		if _, err := s.ents.AssignPermissionGrant(ctx, entitlement.PermissionGrant{
			UserID: mini.ID, OrganizationID: org.ID, ModuleKey: key, CanView: true,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.ents.RevokePermissionGrants(ctx, mini.ID, org.ID); err != nil {
		t.Fatal(err)
	}
	grants, err := s.ents.GetPermissionGrants(ctx, mini.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 0 {
		t.Fatalf("grants survived revocation: %+v", grants)
	}
}

func TestStarterPlanScenario(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	// Starter includes storage; the total price is base plus included
	// component prices.
	starter, err := s.tariffs.CreatePlan(ctx, tariff.CreatePlanInput{
		Name:      "Starter",
		BasePrice: 500000,
		Components: []tariff.PlanComponent{
			{ComponentID: "module:storage", Price: 120000, IsIncluded: true},
			{ComponentID: "module:metrics", Price: 100000, IsIncluded: false},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := starter.TotalPrice(); got != 620000 {
		t.Fatalf("total price %d, want 620000", got)
	}

	org := s.org(t, starter.ID)
	user := s.user(t, org.ID, entitlement.RoleUser)

	d, err := s.ents.CanAccessModule(ctx, user.ID, org.ID, "storage")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Granted {
		t.Fatalf("starter user denied storage: %+v", d)
	}
	d, err = s.ents.CanAccessModule(ctx, user.ID, org.ID, "metrics")
	if err != nil {
		t.Fatal(err)
	}
	if d.Granted || d.Reason != entitlement.ReasonNotEntitled {
		t.Fatalf("non-included component must deny not_entitled: %+v", d)
	}
}
