package tariff_test

import (
	"context"
	"errors"
	"testing"

	"sentra.one/internal/store/mem"
	"sentra.one/internal/tariff"
)

func newService(t *testing.T) *tariff.Service {
	t.Helper()
	svc, err := tariff.NewService(mem.New())
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestCreatePlanValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   tariff.CreatePlanInput
	}{
		{"empty name", tariff.CreatePlanInput{}},
		{"negative base price", tariff.CreatePlanInput{Name: "P", BasePrice: -1}},
		{"negative points value", tariff.CreatePlanInput{Name: "P", IsPointsEnabled: true, PointsValue: -1}},
		{"blank component id", tariff.CreatePlanInput{Name: "P", Components: []tariff.PlanComponent{{ComponentID: " "}}}},
		{"negative component price", tariff.CreatePlanInput{Name: "P", Components: []tariff.PlanComponent{{ComponentID: "c", Price: -5}}}},
	}
	for _, tc := range cases {
		if _, err := svc.CreatePlan(ctx, tc.in); !errors.Is(err, tariff.ErrValidation) {
			t.Fatalf("%s: want ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestCreatePlanDedupesComponents(t *testing.T) {
	svc := newService(t)
	plan, err := svc.CreatePlan(context.Background(), tariff.CreatePlanInput{
		Name: "P",
		Components: []tariff.PlanComponent{
			{ComponentID: "module:pab", Price: 100, IsIncluded: true},
			{ComponentID: "module:storage", Price: 200, IsIncluded: true},
			{ComponentID: "module:pab", Price: 300, IsIncluded: false},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Components) != 2 {
		t.Fatalf("want 2 components, got %d", len(plan.Components))
	}
	// Last entry wins, first-appearance order preserved.
	if plan.Components[0].ComponentID != "module:pab" || plan.Components[0].Price != 300 || plan.Components[0].IsIncluded {
		t.Fatalf("dedupe kept the wrong entry: %+v", plan.Components[0])
	}
}

func TestUpdatePlanPartialFields(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	plan, err := svc.CreatePlan(ctx, tariff.CreatePlanInput{
		Name:      "P",
		BasePrice: 100,
		Components: []tariff.PlanComponent{
			{ComponentID: "module:pab", Price: 50, IsIncluded: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	price := int64(250)
	updated, err := svc.UpdatePlan(ctx, plan.ID, tariff.PlanUpdate{BasePrice: &price})
	if err != nil {
		t.Fatal(err)
	}
	if updated.BasePrice != 250 {
		t.Fatalf("base price %d", updated.BasePrice)
	}
	if updated.Name != "P" || len(updated.Components) != 1 {
		t.Fatalf("untouched fields changed: %+v", updated)
	}

	empty := ""
	if _, err := svc.UpdatePlan(ctx, plan.ID, tariff.PlanUpdate{Name: &empty}); !errors.Is(err, tariff.ErrValidation) {
		t.Fatalf("blank name: want ErrValidation, got %v", err)
	}
	if _, err := svc.UpdatePlan(ctx, "missing", tariff.PlanUpdate{}); !errors.Is(err, tariff.ErrNotFound) {
		t.Fatalf("missing plan: want ErrNotFound, got %v", err)
	}
}

func TestSetPlanActive(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	plan, err := svc.CreatePlan(ctx, tariff.CreatePlanInput{Name: "P"})
	if err != nil {
		t.Fatal(err)
	}
	if !plan.IsActive {
		t.Fatal("new plans start active")
	}
	plan, err = svc.SetPlanActive(ctx, plan.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if plan.IsActive {
		t.Fatal("plan still active")
	}
}

func TestTotalPriceCountsIncludedOnly(t *testing.T) {
	plan := tariff.Plan{
		BasePrice: 1000,
		Components: []tariff.PlanComponent{
			{ComponentID: "a", Price: 100, IsIncluded: true},
			{ComponentID: "b", Price: 9999, IsIncluded: false},
			{ComponentID: "c", Price: 50, IsIncluded: true},
		},
	}
	if got := plan.TotalPrice(); got != 1150 {
		t.Fatalf("total %d, want 1150", got)
	}
	if plan.Includes("b") {
		t.Fatal("excluded component reported as included")
	}
	if set := plan.IncludedComponents(); len(set) != 2 {
		t.Fatalf("included set %v", set)
	}
}
