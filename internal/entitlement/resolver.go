package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// The resolver is a strict precedence chain: evaluate top to bottom, stop
// at the first decision, never aggregate reasons.
//
//  1. superadmin          -> granted, no tenant scoping
//  2. tenant mismatch     -> denied cross_tenant
//  3. organization blocked-> denied org_blocked
//  4. module not entitled -> denied not_entitled
//  5. admin               -> granted
//  6. user                -> granted iff the module is user-facing
//  7. miniadmin           -> granted iff a grant with any capability exists

// CanAccessModule decides whether the user may open the module inside the
// organization. Unknown user or organization ids error with ErrNotFound;
// denial itself is a normal return value.
func (s *Service) CanAccessModule(ctx context.Context, userID, orgID, moduleKey string) (Decision, error) {
	user, org, err := s.resolveIdentity(ctx, userID, orgID)
	if err != nil {
		return Decision{}, err
	}
	if user.Role == RoleSuperadmin {
		return Granted(), nil
	}
	d, ok, err := s.tenantGate(ctx, user, org, moduleKey)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return d, nil
	}

	switch user.Role {
	case RoleAdmin:
		return Granted(), nil
	case RoleUser:
		comp, err := s.catalog.GetByKey(ctx, moduleKey)
		if err != nil || !comp.UserFacing {
			return Denied(ReasonRoleInsufficient), nil
		}
		return Granted(), nil
	case RoleMiniadmin:
		grant, err := s.store.GetGrant(ctx, user.ID, org.ID, moduleKey)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Denied(ReasonNoGrant), nil
			}
			return Decision{}, err
		}
		if grant.Any() {
			return Granted(), nil
		}
		return Denied(ReasonNoGrant), nil
	}
	return Denied(ReasonRoleInsufficient), nil
}

// CanPerform decides a specific view/edit/delete action on a module. Full
// admin roles always pass; plain users never get per-action capabilities on
// modules; miniadmins need the matching bit on their grant.
func (s *Service) CanPerform(ctx context.Context, userID, orgID, moduleKey string, action Action) (Decision, error) {
	switch action {
	case ActionView, ActionEdit, ActionDelete:
	default:
		return Decision{}, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
	user, org, err := s.resolveIdentity(ctx, userID, orgID)
	if err != nil {
		return Decision{}, err
	}
	if user.Role == RoleSuperadmin {
		return Granted(), nil
	}
	d, ok, err := s.tenantGate(ctx, user, org, moduleKey)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return d, nil
	}

	switch user.Role {
	case RoleAdmin:
		return Granted(), nil
	case RoleUser:
		return Denied(ReasonRoleInsufficient), nil
	case RoleMiniadmin:
		grant, err := s.store.GetGrant(ctx, user.ID, org.ID, moduleKey)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Denied(ReasonNoGrant), nil
			}
			return Decision{}, err
		}
		if grant.Allows(action) {
			return Granted(), nil
		}
		return Denied(ReasonNoGrant), nil
	}
	return Denied(ReasonRoleInsufficient), nil
}

func (s *Service) resolveIdentity(ctx context.Context, userID, orgID string) (User, Organization, error) {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" || orgID == "" {
		return User{}, Organization{}, fmt.Errorf("%w: user id and organization id are required", ErrValidation)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, Organization{}, err
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return User{}, Organization{}, err
	}
	return user, org, nil
}

// tenantGate runs steps 2-4 shared by both checks. The tenant match comes
// before the entitlement check on purpose: a grant row for a foreign org is
// data corruption and must never shortcut the denial.
func (s *Service) tenantGate(ctx context.Context, user User, org Organization, moduleKey string) (Decision, bool, error) {
	if user.OrganizationID != org.ID {
		return Denied(ReasonCrossTenant), false, nil
	}
	if !org.IsActive {
		return Denied(ReasonOrgBlocked), false, nil
	}
	comp, err := s.catalog.GetByKey(ctx, moduleKey)
	if err != nil {
		// Unknown module keys deny rather than error: the catalog and the
		// callers' telemetry evolve independently.
		return Denied(ReasonNotEntitled), false, nil
	}
	enabled, err := s.ResolveEnabledModules(ctx, org.ID)
	if err != nil {
		return Decision{}, false, err
	}
	if _, ok := enabled[comp.ID]; !ok {
		return Denied(ReasonNotEntitled), false, nil
	}
	return Decision{}, true, nil
}
