package tariff

import (
	"errors"
	"time"
)

// All prices are in minor units (hundredths). No floats.

// PlanComponent marks a catalog component as part of a plan, with a
// plan-specific price. A component absent from a plan's component list is
// treated as not included.
type PlanComponent struct {
	ComponentID string `json:"component_id"`
	Price       int64  `json:"price"`
	IsIncluded  bool   `json:"is_included"`
}

// Plan is a named bundle of catalog components sold as a subscription
// tariff. Plans are authored independently of any tenant; one active plan
// may be attached to many organizations.
type Plan struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	BasePrice       int64           `json:"base_price"`
	IsActive        bool            `json:"is_active"`
	IsPointsEnabled bool            `json:"is_points_enabled"`
	PointsValue     int64           `json:"points_value"`
	TrialDays       int             `json:"trial_days"`
	MaxUsers        int             `json:"max_users"`
	Components      []PlanComponent `json:"components"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TotalPrice is the plan base price plus the price of every included
// component.
func (p Plan) TotalPrice() int64 {
	total := p.BasePrice
	for _, c := range p.Components {
		if c.IsIncluded {
			total += c.Price
		}
	}
	return total
}

// IncludedComponents returns the set of component ids the plan entitles.
func (p Plan) IncludedComponents() map[string]struct{} {
	set := make(map[string]struct{}, len(p.Components))
	for _, c := range p.Components {
		if c.IsIncluded {
			set[c.ComponentID] = struct{}{}
		}
	}
	return set
}

// Includes reports whether the component is included in the plan.
func (p Plan) Includes(componentID string) bool {
	for _, c := range p.Components {
		if c.ComponentID == componentID {
			return c.IsIncluded
		}
	}
	return false
}

var (
	ErrValidation = errors.New("tariff: invalid input")
	ErrNotFound   = errors.New("tariff: plan not found")
	ErrConflict   = errors.New("tariff: plan already exists")
)
