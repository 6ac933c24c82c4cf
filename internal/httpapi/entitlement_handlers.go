package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"sentra.one/internal/entitlement"
)

type createOrganizationRequest struct {
	Name         string `json:"name"`
	TariffPlanID string `json:"tariff_plan_id"`
}

type subscribeRequest struct {
	PlanID string `json:"plan_id"`
}

type moduleToggleRequest struct {
	ComponentID string `json:"component_id"`
	Enabled     bool   `json:"enabled"`
}

type orgActiveRequest struct {
	IsActive bool `json:"is_active"`
}

type registerUserRequest struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	FIO            string `json:"fio"`
	Role           string `json:"role"`
}

type assignGrantRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	ModuleKey      string `json:"module_key"`
	CanView        bool   `json:"can_view"`
	CanEdit        bool   `json:"can_edit"`
	CanDelete      bool   `json:"can_delete"`
}

func (a *API) handleOrganizationsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireSuperadmin(w, r); !ok {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.ents.CreateOrganization(r.Context(), req.Name, req.TariffPlanID)
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	a.audit(r.Context(), "entitlement.organization.create", "organization", org.ID, map[string]string{
		"name":              org.Name,
		"registration_code": org.RegistrationCode,
	})
	w.Header().Set("Location", "/v1/organizations/"+org.ID)
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleOrganizationLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.principal(w, r); !ok {
		return
	}
	org, err := a.ents.LookupByRegistrationCode(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getOrganization(w, r, orgID)
		return
	}
	switch parts[1] {
	case "subscribe":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.subscribeOrganization(w, r, orgID)
	case "modules":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleOrganizationModules(w, r, orgID)
	case "active":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.setOrganizationActive(w, r, orgID)
	case "points":
		a.handleOrganizationPoints(w, r, orgID, parts[2:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getOrganization(w http.ResponseWriter, r *http.Request, orgID string) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	org, err := a.ents.GetOrganization(r.Context(), orgID)
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) subscribeOrganization(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireSuperadmin(w, r); !ok {
		return
	}
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.ents.SubscribeToPlan(r.Context(), orgID, req.PlanID); err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	a.audit(r.Context(), "entitlement.organization.subscribe", "organization", orgID, map[string]string{
		"plan_id": req.PlanID,
	})
	org, err := a.ents.GetOrganization(r.Context(), orgID)
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleOrganizationModules(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		a.listEnabledModules(w, r, orgID)
	case http.MethodPost:
		a.setModuleEnabled(w, r, orgID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listEnabledModules(w http.ResponseWriter, r *http.Request, orgID string) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	enabled, err := a.ents.ResolveEnabledModules(r.Context(), orgID)
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	items := make([]string, 0, len(enabled))
	for id := range enabled {
		items = append(items, id)
	}
	sort.Strings(items)
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) setModuleEnabled(w http.ResponseWriter, r *http.Request, orgID string) {
	if _, ok := a.requireOrgAdmin(w, r, orgID); !ok {
		return
	}
	var req moduleToggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.ents.SetModuleEnabled(r.Context(), orgID, req.ComponentID, req.Enabled); err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	a.audit(r.Context(), "entitlement.module.toggle", "organization", orgID, map[string]string{
		"component_id": req.ComponentID,
		"enabled":      boolString(req.Enabled),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setOrganizationActive(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireSuperadmin(w, r); !ok {
		return
	}
	var req orgActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.ents.SetOrganizationActive(r.Context(), orgID, req.IsActive); err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	a.audit(r.Context(), "entitlement.organization.set_active", "organization", orgID, map[string]string{
		"is_active": boolString(req.IsActive),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := entitlement.ParseRole(req.Role)
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	if role == entitlement.RoleSuperadmin {
		if _, ok := a.requireSuperadmin(w, r); !ok {
			return
		}
	} else if _, ok := a.requireOrgAdmin(w, r, req.OrganizationID); !ok {
		return
	}
	user, err := a.ents.RegisterUser(r.Context(), entitlement.User{
		ID:             req.ID,
		OrganizationID: req.OrganizationID,
		Email:          req.Email,
		FIO:            req.FIO,
		Role:           role,
	})
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	a.audit(r.Context(), "entitlement.user.register", "user", user.ID, map[string]string{
		"organization_id": user.OrganizationID,
		"role":            string(user.Role),
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.assignGrant(w, r)
	case http.MethodGet:
		a.listGrants(w, r)
	case http.MethodDelete:
		a.revokeGrants(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) assignGrant(w http.ResponseWriter, r *http.Request) {
	var req assignGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, ok := a.requireOrgAdmin(w, r, req.OrganizationID)
	if !ok {
		return
	}
	grant, err := a.ents.AssignPermissionGrant(r.Context(), entitlement.PermissionGrant{
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		ModuleKey:      req.ModuleKey,
		CanView:        req.CanView,
		CanEdit:        req.CanEdit,
		CanDelete:      req.CanDelete,
		AssignedBy:     p.UserID,
	})
	if err != nil {
		if errors.Is(err, entitlement.ErrCrossTenant) {
			a.audit(r.Context(), "entitlement.grant.cross_tenant_refused", "user", req.UserID, map[string]string{
				"organization_id": req.OrganizationID,
				"module_key":      req.ModuleKey,
			})
		}
		handleEntitlementError(w, r, err)
		return
	}
	a.audit(r.Context(), "entitlement.grant.assign", "user", grant.UserID, map[string]string{
		"organization_id": grant.OrganizationID,
		"module_key":      grant.ModuleKey,
	})
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	userID := r.URL.Query().Get("user_id")
	grants, err := a.ents.GetPermissionGrants(r.Context(), userID)
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": grants})
}

func (a *API) revokeGrants(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	orgID := r.URL.Query().Get("org_id")
	if _, ok := a.requireOrgAdmin(w, r, orgID); !ok {
		return
	}
	if err := a.ents.RevokePermissionGrants(r.Context(), userID, orgID); err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	a.audit(r.Context(), "entitlement.grant.revoke", "user", userID, map[string]string{
		"organization_id": orgID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAccessModule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.principal(w, r); !ok {
		return
	}
	q := r.URL.Query()
	decision, err := a.ents.CanAccessModule(r.Context(), q.Get("user_id"), q.Get("org_id"), q.Get("module"))
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	a.recordDecision(r, "module", decision, q.Get("user_id"), q.Get("org_id"), q.Get("module"))
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleAccessAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.principal(w, r); !ok {
		return
	}
	q := r.URL.Query()
	action, err := entitlement.ParseAction(q.Get("action"))
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	decision, err := a.ents.CanPerform(r.Context(), q.Get("user_id"), q.Get("org_id"), q.Get("module"), action)
	if err != nil {
		handleEntitlementError(w, r, err)
		return
	}
	a.recordDecision(r, "action", decision, q.Get("user_id"), q.Get("org_id"), q.Get("module"))
	writeJSON(w, http.StatusOK, decision)
}

func handleEntitlementError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entitlement.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, entitlement.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, entitlement.ErrNotEntitled):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, entitlement.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, entitlement.ErrCrossTenant):
		writeError(w, r, http.StatusForbidden, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "entitlement operation failed")
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
