package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"sentra.one/internal/tariff"
)

type createPlanRequest struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	BasePrice       int64                  `json:"base_price"`
	IsPointsEnabled bool                   `json:"is_points_enabled"`
	PointsValue     int64                  `json:"points_value"`
	TrialDays       int                    `json:"trial_days"`
	MaxUsers        int                    `json:"max_users"`
	Components      []tariff.PlanComponent `json:"components"`
}

type updatePlanRequest struct {
	Name            *string                 `json:"name"`
	Description     *string                 `json:"description"`
	BasePrice       *int64                  `json:"base_price"`
	IsActive        *bool                   `json:"is_active"`
	IsPointsEnabled *bool                   `json:"is_points_enabled"`
	PointsValue     *int64                  `json:"points_value"`
	TrialDays       *int                    `json:"trial_days"`
	MaxUsers        *int                    `json:"max_users"`
	Components      *[]tariff.PlanComponent `json:"components"`
}

type planResponse struct {
	tariff.Plan
	TotalPrice int64 `json:"total_price"`
}

func (a *API) handlePlansCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createPlan(w, r)
	case http.MethodGet:
		a.listPlans(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePlanResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/plans/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getPlan(w, r, id)
	case http.MethodPut:
		a.updatePlan(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) createPlan(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireSuperadmin(w, r); !ok {
		return
	}
	var req createPlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := a.tariffs.CreatePlan(r.Context(), tariff.CreatePlanInput{
		Name:            req.Name,
		Description:     req.Description,
		BasePrice:       req.BasePrice,
		IsPointsEnabled: req.IsPointsEnabled,
		PointsValue:     req.PointsValue,
		TrialDays:       req.TrialDays,
		MaxUsers:        req.MaxUsers,
		Components:      req.Components,
	})
	if err != nil {
		handleTariffError(w, r, err)
		return
	}
	a.audit(r.Context(), "tariff.plan.create", "plan", plan.ID, map[string]string{
		"name":       plan.Name,
		"base_price": strconv.FormatInt(plan.BasePrice, 10),
	})
	w.Header().Set("Location", "/v1/plans/"+plan.ID)
	writeJSON(w, http.StatusCreated, planResponse{Plan: plan, TotalPrice: plan.TotalPrice()})
}

func (a *API) listPlans(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	plans, err := a.tariffs.ListPlans(r.Context())
	if err != nil {
		handleTariffError(w, r, err)
		return
	}
	items := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		items = append(items, planResponse{Plan: p, TotalPrice: p.TotalPrice()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getPlan(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	plan, err := a.tariffs.GetPlan(r.Context(), id)
	if err != nil {
		handleTariffError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse{Plan: plan, TotalPrice: plan.TotalPrice()})
}

func (a *API) updatePlan(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requireSuperadmin(w, r); !ok {
		return
	}
	var req updatePlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := a.tariffs.UpdatePlan(r.Context(), id, tariff.PlanUpdate{
		Name:            req.Name,
		Description:     req.Description,
		BasePrice:       req.BasePrice,
		IsActive:        req.IsActive,
		IsPointsEnabled: req.IsPointsEnabled,
		PointsValue:     req.PointsValue,
		TrialDays:       req.TrialDays,
		MaxUsers:        req.MaxUsers,
		Components:      req.Components,
	})
	if err != nil {
		handleTariffError(w, r, err)
		return
	}
	a.audit(r.Context(), "tariff.plan.update", "plan", plan.ID, map[string]string{
		"name": plan.Name,
	})
	writeJSON(w, http.StatusOK, planResponse{Plan: plan, TotalPrice: plan.TotalPrice()})
}

func handleTariffError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tariff.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tariff.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, tariff.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "tariff operation failed")
	}
}
