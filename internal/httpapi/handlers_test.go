package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"sentra.one/internal/auth"
	"sentra.one/internal/catalog"
	"sentra.one/internal/entitlement"
	"sentra.one/internal/points"
	"sentra.one/internal/store/mem"
	"sentra.one/internal/tariff"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type testEnv struct {
	*apiClient
	store *mem.Store
}

// newAPI wires the services over a fresh in-memory store and configures the
// shared test auth secret.
func newAPI(t *testing.T) (*API, *mem.Store) {
	t.Helper()

	t.Setenv("SENTRA_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	st := mem.New()
	cat := catalog.NewInMemory(catalog.Builtin())
	tariffs, err := tariff.NewService(st)
	if err != nil {
		t.Fatalf("tariff service: %v", err)
	}
	ents, err := entitlement.NewService(st, tariffs, cat)
	if err != nil {
		t.Fatalf("entitlement service: %v", err)
	}
	pts, err := points.NewService(st, ents)
	if err != nil {
		t.Fatalf("points service: %v", err)
	}
	return New(cat, tariffs, ents, pts, ReadyProbe{}, "test"), st
}

func newTestAPI(t *testing.T) *testEnv {
	t.Helper()

	api, st := newAPI(t)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		apiClient: &apiClient{baseURL: srv.URL, client: srv.Client(), t: t},
		store:     st,
	}
}

func mintBearer(t *testing.T, userID, role, orgID string) map[string]string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, role, orgID, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func (c *apiClient) do(method, path string, params url.Values, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(method, u.String(), bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	return c.do(http.MethodGet, path, params, nil, headers)
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, nil, body, headers)
}

func (c *apiClient) put(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPut, path, nil, body, headers)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d (%s %s)", resp.StatusCode, want, resp.Request.Method, resp.Request.URL.Path)
	}
}

// createPlan provisions a plan over the API and returns its id.
func (e *testEnv) createPlan(name string, pointsEnabled bool, components []map[string]any) string {
	e.t.Helper()
	resp := e.post("/v1/plans", map[string]any{
		"name":              name,
		"base_price":        500000,
		"is_points_enabled": pointsEnabled,
		"trial_days":        14,
		"components":        components,
	}, mintBearer(e.t, "root", "superadmin", ""))
	wantStatus(e.t, resp, http.StatusCreated)
	plan := decode[map[string]any](e.t, resp)
	return plan["id"].(string)
}

// createOrg provisions an organization on the given plan.
func (e *testEnv) createOrg(name, planID string) map[string]any {
	e.t.Helper()
	resp := e.post("/v1/organizations", map[string]any{
		"name":           name,
		"tariff_plan_id": planID,
	}, mintBearer(e.t, "root", "superadmin", ""))
	wantStatus(e.t, resp, http.StatusCreated)
	return decode[map[string]any](e.t, resp)
}

// registerUser creates a user in the given org and returns its id.
func (e *testEnv) registerUser(orgID, email, role string) string {
	e.t.Helper()
	resp := e.post("/v1/users", map[string]any{
		"organization_id": orgID,
		"email":           email,
		"role":            role,
	}, mintBearer(e.t, "org-admin", "admin", orgID))
	wantStatus(e.t, resp, http.StatusCreated)
	u := decode[map[string]any](e.t, resp)
	return u["id"].(string)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := newTestAPI(t)

	resp := env.get("/v1/catalog", nil, nil)
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = env.get("/v1/catalog", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Probes stay open.
	resp = env.get("/healthz", nil, nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.get("/readyz", nil, nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestCatalogListing(t *testing.T) {
	env := newTestAPI(t)

	resp := env.get("/v1/catalog", nil, mintBearer(t, "u1", "user", "org-x"))
	wantStatus(t, resp, http.StatusOK)
	body := decode[struct {
		Items []catalog.Component `json:"items"`
	}](t, resp)
	if len(body.Items) == 0 {
		t.Fatal("empty catalog")
	}
	seen := map[string]bool{}
	for _, c := range body.Items {
		seen[c.ID] = true
	}
	if !seen["module:pab"] || !seen["module:storage"] {
		t.Fatalf("builtin modules missing from listing: %v", seen)
	}
}

func TestPlanEndpointsRequireSuperadmin(t *testing.T) {
	env := newTestAPI(t)

	body := map[string]any{"name": "Basic", "base_price": 100000}

	resp := env.post("/v1/plans", body, mintBearer(t, "a1", "admin", "org-1"))
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = env.post("/v1/plans", body, mintBearer(t, "root", "superadmin", ""))
	wantStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
}

func TestPlanLifecycle(t *testing.T) {
	env := newTestAPI(t)
	root := mintBearer(t, "root", "superadmin", "")

	planID := env.createPlan("Standard", false, []map[string]any{
		{"component_id": "module:pab", "price": 150000, "is_included": true},
		{"component_id": "module:storage", "price": 120000, "is_included": false},
	})

	resp := env.get("/v1/plans/"+planID, nil, root)
	wantStatus(t, resp, http.StatusOK)
	plan := decode[map[string]any](t, resp)
	// base 500000 + included pab 150000; storage is priced but not included.
	if got := int64(plan["total_price"].(float64)); got != 650000 {
		t.Fatalf("total_price = %d, want 650000", got)
	}

	resp = env.put("/v1/plans/"+planID, map[string]any{"base_price": 600000}, root)
	wantStatus(t, resp, http.StatusOK)
	plan = decode[map[string]any](t, resp)
	if got := int64(plan["total_price"].(float64)); got != 750000 {
		t.Fatalf("total_price after update = %d, want 750000", got)
	}

	resp = env.get("/v1/plans", nil, root)
	wantStatus(t, resp, http.StatusOK)
	list := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, resp)
	if len(list.Items) != 1 {
		t.Fatalf("plans listed = %d, want 1", len(list.Items))
	}

	resp = env.get("/v1/plans/no-such-plan", nil, root)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestOrganizationProvisioningFlow(t *testing.T) {
	env := newTestAPI(t)
	root := mintBearer(t, "root", "superadmin", "")

	planID := env.createPlan("Full", false, []map[string]any{
		{"component_id": "module:pab", "price": 150000, "is_included": true},
		{"component_id": "module:storage", "price": 120000, "is_included": true},
	})

	resp := env.post("/v1/organizations", map[string]any{
		"name":           "Acme Safety",
		"tariff_plan_id": planID,
	}, root)
	wantStatus(t, resp, http.StatusCreated)
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Fatal("missing Location header")
	}
	org := decode[map[string]any](t, resp)
	orgID := org["id"].(string)
	code := org["registration_code"].(string)
	if len(code) != 10 {
		t.Fatalf("registration code %q, want 10 chars", code)
	}

	resp = env.get("/v1/organizations/lookup", url.Values{"code": {code}}, mintBearer(t, "u1", "user", orgID))
	wantStatus(t, resp, http.StatusOK)
	found := decode[map[string]any](t, resp)
	if found["id"] != orgID {
		t.Fatalf("lookup returned %v, want %s", found["id"], orgID)
	}

	admin := mintBearer(t, "org-admin", "admin", orgID)

	resp = env.get("/v1/organizations/"+orgID+"/modules", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	mods := decode[struct {
		Items []string `json:"items"`
	}](t, resp)
	if len(mods.Items) != 2 {
		t.Fatalf("enabled modules = %v, want pab and storage", mods.Items)
	}

	// Narrow: the org admin switches storage off.
	resp = env.post("/v1/organizations/"+orgID+"/modules", map[string]any{
		"component_id": "module:storage",
		"enabled":      false,
	}, admin)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = env.get("/v1/organizations/"+orgID+"/modules", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	mods = decode[struct {
		Items []string `json:"items"`
	}](t, resp)
	if len(mods.Items) != 1 || mods.Items[0] != "module:pab" {
		t.Fatalf("enabled modules = %v, want [module:pab]", mods.Items)
	}

	// Widening past the plan is refused.
	resp = env.post("/v1/organizations/"+orgID+"/modules", map[string]any{
		"component_id": "module:metrics",
		"enabled":      true,
	}, admin)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// A foreign admin cannot touch this org.
	resp = env.post("/v1/organizations/"+orgID+"/modules", map[string]any{
		"component_id": "module:pab",
		"enabled":      false,
	}, mintBearer(t, "other-admin", "admin", "some-other-org"))
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestAccessDecisionEndpoints(t *testing.T) {
	env := newTestAPI(t)

	planID := env.createPlan("Audit", false, []map[string]any{
		{"component_id": "module:pab", "price": 150000, "is_included": true},
	})
	org := env.createOrg("Acme", planID)
	orgID := org["id"].(string)
	userID := env.registerUser(orgID, "worker@acme.kz", "user")

	caller := mintBearer(t, userID, "user", orgID)
	q := url.Values{"user_id": {userID}, "org_id": {orgID}, "module": {"pab"}}

	resp := env.get("/v1/access/module", q, caller)
	wantStatus(t, resp, http.StatusOK)
	d := decode[entitlement.Decision](t, resp)
	if !d.Granted {
		t.Fatalf("pab denied: %s", d.Reason)
	}

	q.Set("module", "storage")
	resp = env.get("/v1/access/module", q, caller)
	wantStatus(t, resp, http.StatusOK)
	d = decode[entitlement.Decision](t, resp)
	if d.Granted || d.Reason != entitlement.ReasonNotEntitled {
		t.Fatalf("storage decision = %+v, want not_entitled", d)
	}

	// Plain users never get action-level access.
	q.Set("module", "pab")
	q.Set("action", "edit")
	resp = env.get("/v1/access/action", q, caller)
	wantStatus(t, resp, http.StatusOK)
	d = decode[entitlement.Decision](t, resp)
	if d.Granted || d.Reason != entitlement.ReasonRoleInsufficient {
		t.Fatalf("action decision = %+v, want role_insufficient", d)
	}

	q.Set("action", "fly")
	resp = env.get("/v1/access/action", q, caller)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// Blocking the org flips every decision.
	resp = env.post("/v1/organizations/"+orgID+"/active", map[string]any{"is_active": false}, mintBearer(t, "root", "superadmin", ""))
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	q.Del("action")
	resp = env.get("/v1/access/module", q, caller)
	wantStatus(t, resp, http.StatusOK)
	d = decode[entitlement.Decision](t, resp)
	if d.Granted || d.Reason != entitlement.ReasonOrgBlocked {
		t.Fatalf("blocked-org decision = %+v, want org_blocked", d)
	}
}

func TestGrantEndpoints(t *testing.T) {
	env := newTestAPI(t)

	planID := env.createPlan("Audit", false, []map[string]any{
		{"component_id": "module:pab", "price": 150000, "is_included": true},
	})
	org := env.createOrg("Acme", planID)
	orgID := org["id"].(string)
	miniID := env.registerUser(orgID, "mini@acme.kz", "miniadmin")

	admin := mintBearer(t, "org-admin", "admin", orgID)

	resp := env.post("/v1/grants", map[string]any{
		"user_id":         miniID,
		"organization_id": orgID,
		"module_key":      "pab",
		"can_view":        true,
		"can_edit":        true,
	}, admin)
	wantStatus(t, resp, http.StatusCreated)
	grant := decode[entitlement.PermissionGrant](t, resp)
	if grant.AssignedBy != "org-admin" {
		t.Fatalf("assigned_by = %q, want org-admin", grant.AssignedBy)
	}

	q := url.Values{"user_id": {miniID}, "org_id": {orgID}, "module": {"pab"}, "action": {"edit"}}
	resp = env.get("/v1/access/action", q, admin)
	wantStatus(t, resp, http.StatusOK)
	d := decode[entitlement.Decision](t, resp)
	if !d.Granted {
		t.Fatalf("miniadmin edit denied: %s", d.Reason)
	}

	q.Set("action", "delete")
	resp = env.get("/v1/access/action", q, admin)
	wantStatus(t, resp, http.StatusOK)
	d = decode[entitlement.Decision](t, resp)
	if d.Granted || d.Reason != entitlement.ReasonNoGrant {
		t.Fatalf("delete decision = %+v, want no_grant", d)
	}

	resp = env.get("/v1/grants", url.Values{"user_id": {miniID}}, admin)
	wantStatus(t, resp, http.StatusOK)
	list := decode[struct {
		Items []entitlement.PermissionGrant `json:"items"`
	}](t, resp)
	if len(list.Items) != 1 {
		t.Fatalf("grants = %d, want 1", len(list.Items))
	}

	resp = env.do(http.MethodDelete, "/v1/grants", url.Values{"user_id": {miniID}, "org_id": {orgID}}, nil, admin)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = env.get("/v1/grants", url.Values{"user_id": {miniID}}, admin)
	wantStatus(t, resp, http.StatusOK)
	list = decode[struct {
		Items []entitlement.PermissionGrant `json:"items"`
	}](t, resp)
	if len(list.Items) != 0 {
		t.Fatalf("grants after revoke = %d, want 0", len(list.Items))
	}
}

func TestPointsFlow(t *testing.T) {
	env := newTestAPI(t)
	root := mintBearer(t, "root", "superadmin", "")

	planID := env.createPlan("Incentive", true, []map[string]any{
		{"component_id": "module:pab", "price": 150000, "is_included": true},
	})
	org := env.createOrg("Acme", planID)
	orgID := org["id"].(string)
	userID := env.registerUser(orgID, "worker@acme.kz", "user")

	err := env.store.UpsertRule(context.Background(), points.Rule{
		ID:           "rule:pab_registration_create",
		RuleName:     "PAB registration",
		ActionType:   "pab_registration_create",
		PointsAmount: 1000,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	admin := mintBearer(t, "org-admin", "admin", orgID)

	resp := env.put("/v1/organizations/"+orgID+"/points/rules/rule:pab_registration_create", map[string]any{
		"enabled":    true,
		"multiplier": 200,
	}, admin)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.post("/v1/organizations/"+orgID+"/points/award", map[string]any{
		"user_id":     userID,
		"action_type": "pab_registration_create",
	}, mintBearer(t, userID, "user", orgID))
	wantStatus(t, resp, http.StatusOK)
	delta := decode[points.Delta](t, resp)
	if delta.Amount != 2000 {
		t.Fatalf("award delta = %d, want 2000", delta.Amount)
	}

	resp = env.get("/v1/organizations/"+orgID+"/points", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	bal := decode[points.Balance](t, resp)
	if bal.Balance != 2000 || bal.TotalEarned != 2000 {
		t.Fatalf("balance = %+v, want 2000 earned", bal)
	}

	// Manual adjust is platform-level.
	resp = env.post("/v1/organizations/"+orgID+"/points/adjust", map[string]any{
		"amount":      -500,
		"description": "correction",
	}, admin)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = env.post("/v1/organizations/"+orgID+"/points/adjust", map[string]any{
		"amount":      -500,
		"description": "correction",
	}, root)
	wantStatus(t, resp, http.StatusOK)
	bal = decode[points.Balance](t, resp)
	if bal.Balance != 1500 {
		t.Fatalf("balance after adjust = %d, want 1500", bal.Balance)
	}

	// Debiting past zero is refused.
	resp = env.post("/v1/organizations/"+orgID+"/points/adjust", map[string]any{
		"amount":      -5000,
		"description": "too much",
	}, root)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = env.get("/v1/organizations/"+orgID+"/points/ledger", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	ledger := decode[struct {
		Items []points.LedgerEntry `json:"items"`
	}](t, resp)
	if len(ledger.Items) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(ledger.Items))
	}

	resp = env.get("/v1/organizations/"+orgID+"/points/ledger", url.Values{"limit": {"0"}}, admin)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = env.post("/v1/organizations/"+orgID+"/points/recompute", nil, root)
	wantStatus(t, resp, http.StatusOK)
	bal = decode[points.Balance](t, resp)
	if bal.Balance != 1500 {
		t.Fatalf("recomputed balance = %d, want 1500", bal.Balance)
	}
}

func TestAwardIsSilentlyZeroWhenPointsDisabled(t *testing.T) {
	env := newTestAPI(t)

	planID := env.createPlan("NoPoints", false, []map[string]any{
		{"component_id": "module:pab", "price": 150000, "is_included": true},
	})
	org := env.createOrg("Acme", planID)
	orgID := org["id"].(string)
	userID := env.registerUser(orgID, "worker@acme.kz", "user")

	resp := env.post("/v1/organizations/"+orgID+"/points/award", map[string]any{
		"user_id":     userID,
		"action_type": "pab_registration_create",
	}, mintBearer(t, userID, "user", orgID))
	wantStatus(t, resp, http.StatusOK)
	delta := decode[points.Delta](t, resp)
	if delta.Amount != 0 {
		t.Fatalf("award delta = %d, want 0 on a points-disabled plan", delta.Amount)
	}
}

func TestMalformedBodiesRejected(t *testing.T) {
	env := newTestAPI(t)
	root := mintBearer(t, "root", "superadmin", "")

	req, err := http.NewRequest(http.MethodPost, env.baseURL+"/v1/plans", bytes.NewReader([]byte(`{"name": "x", "bogus_field": 1}`)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", root["Authorization"])
	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}
