// Package httpapi is the REST adapter over the entitlement engine. It owns
// routing, request decoding, caller authorization and error mapping; all
// domain decisions happen in the services it wraps.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"sentra.one/internal/audit"
	"sentra.one/internal/catalog"
	"sentra.one/internal/entitlement"
	"sentra.one/internal/obs"
	"sentra.one/internal/points"
	"sentra.one/internal/tariff"
)

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires the domain services to HTTP routes.
type API struct {
	mux        *http.ServeMux
	catalog    catalog.Store
	tariffs    *tariff.Service
	ents       *entitlement.Service
	points     *points.Service
	readyProbe ReadyProbe
	version    string

	ratePerSec int
	rateBurst  int
}

func New(cat catalog.Store, tariffs *tariff.Service, ents *entitlement.Service, pts *points.Service, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		catalog:    cat,
		tariffs:    tariffs,
		ents:       ents,
		points:     pts,
		readyProbe: rp,
		version:    version,
		ratePerSec: 25,
		rateBurst:  50,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/catalog", a.handleCatalog)

	a.mux.HandleFunc("/v1/plans", a.handlePlansCollection)
	a.mux.HandleFunc("/v1/plans/", a.handlePlanResource)

	a.mux.HandleFunc("/v1/organizations", a.handleOrganizationsCollection)
	a.mux.HandleFunc("/v1/organizations/lookup", a.handleOrganizationLookup)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)

	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/grants", a.handleGrants)

	a.mux.HandleFunc("/v1/access/module", a.handleAccessModule)
	a.mux.HandleFunc("/v1/access/action", a.handleAccessAction)

	a.mux.HandleFunc("/v1/points/rules", a.handlePointsRules)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sentra-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sentra-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	components, err := a.catalog.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": components})
}

// recordDecision counts the resolver outcome and audits cross-tenant
// refusals, which are the security-relevant denials.
func (a *API) recordDecision(r *http.Request, check string, d entitlement.Decision, userID, orgID, moduleKey string) {
	obs.RecordDecision(check, d.Granted, string(d.Reason))
	if !d.Granted && d.Reason == entitlement.ReasonCrossTenant {
		a.audit(r.Context(), "entitlement.access.cross_tenant_denied", "user", userID, map[string]string{
			"organization_id": orgID,
			"module_key":      moduleKey,
			"check":           check,
		})
	}
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, meta map[string]string) {
	fields := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}
