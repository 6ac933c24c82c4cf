package entitlement

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of global user roles. Adding a role means
// revisiting every switch in the resolver; that is the point.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
	RoleMiniadmin  Role = "miniadmin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperadmin, RoleMiniadmin:
		return true
	}
	return false
}

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
	return r, nil
}

// Action is a capability inside a module checked by CanPerform.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionView, ActionEdit, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
}

// DenyReason explains a negative access decision.
type DenyReason string

const (
	ReasonCrossTenant      DenyReason = "cross_tenant"
	ReasonOrgBlocked       DenyReason = "org_blocked"
	ReasonNotEntitled      DenyReason = "not_entitled"
	ReasonRoleInsufficient DenyReason = "role_insufficient"
	ReasonNoGrant          DenyReason = "no_grant"
)

// Decision is the result of an access check. Denial is a value, never an
// error: only malformed input (unknown user or organization) errors.
type Decision struct {
	Granted bool       `json:"granted"`
	Reason  DenyReason `json:"reason,omitempty"`
}

func Granted() Decision            { return Decision{Granted: true} }
func Denied(r DenyReason) Decision { return Decision{Reason: r} }

// Organization is a tenant. Organizations are never deleted, only
// deactivated, to preserve ledger and audit history.
type Organization struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	RegistrationCode string     `json:"registration_code"`
	TariffPlanID     string     `json:"tariff_plan_id,omitempty"`
	TrialEndDate     *time.Time `json:"trial_end_date,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// User carries the identity facts the resolver needs. Superadmins are
// platform-wide and have an empty OrganizationID; every other role is
// scoped to exactly one organization.
type User struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Email          string    `json:"email"`
	FIO            string    `json:"fio,omitempty"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// ModuleOverride turns a plan-included component off for one organization.
// Overrides only narrow: a component included in the plan but absent from
// overrides is enabled, and an override can never enable a component the
// plan does not include.
type ModuleOverride struct {
	OrganizationID string `json:"organization_id"`
	ComponentID    string `json:"component_id"`
	Enabled        bool   `json:"enabled"`
}

// PermissionGrant gives a miniadmin per-module view/edit/delete bits inside
// one organization. Grants of users with any other role are inert data, not
// an error.
type PermissionGrant struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	ModuleKey      string    `json:"module_key"`
	CanView        bool      `json:"can_view"`
	CanEdit        bool      `json:"can_edit"`
	CanDelete      bool      `json:"can_delete"`
	AssignedBy     string    `json:"assigned_by,omitempty"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// Allows reports whether the grant permits the action.
func (g PermissionGrant) Allows(a Action) bool {
	switch a {
	case ActionView:
		return g.CanView
	case ActionEdit:
		return g.CanEdit
	case ActionDelete:
		return g.CanDelete
	}
	return false
}

// Any reports whether the grant carries at least one capability.
func (g PermissionGrant) Any() bool {
	return g.CanView || g.CanEdit || g.CanDelete
}

var (
	ErrValidation  = errors.New("entitlement: invalid input")
	ErrNotFound    = errors.New("entitlement: not found")
	ErrNotEntitled = errors.New("entitlement: component not included in plan")
	ErrConflict    = errors.New("entitlement: resource conflict")
	ErrCrossTenant = errors.New("entitlement: cross-tenant access")
)
