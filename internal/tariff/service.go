package tariff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentra.one/internal/ids"
)

// Store persists tariff plans.
//
// ReplacePlan writes the plan row and its full component list, and prunes
// every organization module override that enables a component no longer
// included in the plan. Implementations must apply the replacement and the
// pruning atomically: a plan downgrade that leaves a stale enabled override
// behind is a security defect, not a display glitch.
type Store interface {
	CreatePlan(ctx context.Context, plan Plan) error
	GetPlan(ctx context.Context, id string) (Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	ReplacePlan(ctx context.Context, plan Plan) error
}

// CreatePlanInput carries the authored fields of a new plan.
type CreatePlanInput struct {
	Name            string
	Description     string
	BasePrice       int64
	IsPointsEnabled bool
	PointsValue     int64
	TrialDays       int
	MaxUsers        int
	Components      []PlanComponent
}

// PlanUpdate updates plan fields. Nil pointers leave the field unchanged.
// A non-nil Components slice replaces the full component list; components
// omitted from it are removed, which cascades to override pruning for every
// subscribed organization.
type PlanUpdate struct {
	Name            *string
	Description     *string
	BasePrice       *int64
	IsActive        *bool
	IsPointsEnabled *bool
	PointsValue     *int64
	TrialDays       *int
	MaxUsers        *int
	Components      *[]PlanComponent
}

// Service validates and orchestrates tariff plan management.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("tariff store is required")
	}
	return &Service{store: store}, nil
}

func (s *Service) CreatePlan(ctx context.Context, in CreatePlanInput) (Plan, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Plan{}, fmt.Errorf("%w: plan name is required", ErrValidation)
	}
	if err := validatePricing(in.BasePrice, in.IsPointsEnabled, in.PointsValue, in.Components); err != nil {
		return Plan{}, err
	}
	now := time.Now().UTC()
	plan := Plan{
		ID:              ids.New(),
		Name:            in.Name,
		Description:     strings.TrimSpace(in.Description),
		BasePrice:       in.BasePrice,
		IsActive:        true,
		IsPointsEnabled: in.IsPointsEnabled,
		PointsValue:     in.PointsValue,
		TrialDays:       in.TrialDays,
		MaxUsers:        in.MaxUsers,
		Components:      dedupeComponents(in.Components),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (s *Service) GetPlan(ctx context.Context, id string) (Plan, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Plan{}, fmt.Errorf("%w: plan id is required", ErrValidation)
	}
	return s.store.GetPlan(ctx, id)
}

func (s *Service) ListPlans(ctx context.Context) ([]Plan, error) {
	return s.store.ListPlans(ctx)
}

// UpdatePlan applies the update and persists the result. When the update
// replaces the component list, the store prunes overrides for components
// that fell out of the plan in the same transaction.
func (s *Service) UpdatePlan(ctx context.Context, id string, upd PlanUpdate) (Plan, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Plan{}, fmt.Errorf("%w: plan id is required", ErrValidation)
	}
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return Plan{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Plan{}, fmt.Errorf("%w: plan name is required", ErrValidation)
		}
		plan.Name = name
	}
	if upd.Description != nil {
		plan.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.BasePrice != nil {
		plan.BasePrice = *upd.BasePrice
	}
	if upd.IsActive != nil {
		plan.IsActive = *upd.IsActive
	}
	if upd.IsPointsEnabled != nil {
		plan.IsPointsEnabled = *upd.IsPointsEnabled
	}
	if upd.PointsValue != nil {
		plan.PointsValue = *upd.PointsValue
	}
	if upd.TrialDays != nil {
		plan.TrialDays = *upd.TrialDays
	}
	if upd.MaxUsers != nil {
		plan.MaxUsers = *upd.MaxUsers
	}
	if upd.Components != nil {
		plan.Components = dedupeComponents(*upd.Components)
	}
	if err := validatePricing(plan.BasePrice, plan.IsPointsEnabled, plan.PointsValue, plan.Components); err != nil {
		return Plan{}, err
	}
	plan.UpdatedAt = time.Now().UTC()
	if err := s.store.ReplacePlan(ctx, plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (s *Service) SetPlanActive(ctx context.Context, id string, active bool) (Plan, error) {
	return s.UpdatePlan(ctx, id, PlanUpdate{IsActive: &active})
}

func validatePricing(basePrice int64, pointsEnabled bool, pointsValue int64, components []PlanComponent) error {
	if basePrice < 0 {
		return fmt.Errorf("%w: base price cannot be negative", ErrValidation)
	}
	if pointsEnabled && pointsValue < 0 {
		return fmt.Errorf("%w: points value cannot be negative", ErrValidation)
	}
	for _, c := range components {
		if strings.TrimSpace(c.ComponentID) == "" {
			return fmt.Errorf("%w: component id is required", ErrValidation)
		}
		if c.Price < 0 {
			return fmt.Errorf("%w: component %s price cannot be negative", ErrValidation, c.ComponentID)
		}
	}
	return nil
}

// dedupeComponents keeps the last entry per component id, preserving order
// of first appearance.
func dedupeComponents(components []PlanComponent) []PlanComponent {
	if len(components) == 0 {
		return nil
	}
	index := make(map[string]int, len(components))
	out := make([]PlanComponent, 0, len(components))
	for _, c := range components {
		c.ComponentID = strings.TrimSpace(c.ComponentID)
		if i, ok := index[c.ComponentID]; ok {
			out[i] = c
			continue
		}
		index[c.ComponentID] = len(out)
		out = append(out, c)
	}
	return out
}
