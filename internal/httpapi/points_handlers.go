package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"sentra.one/internal/obs"
	"sentra.one/internal/points"
)

type ruleOverrideRequest struct {
	Enabled    bool  `json:"enabled"`
	Multiplier int64 `json:"multiplier"`
}

type pointsEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type awardPointsRequest struct {
	UserID     string `json:"user_id"`
	ActionType string `json:"action_type"`
}

type adjustPointsRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (a *API) handlePointsRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.principal(w, r); !ok {
		return
	}
	rules, err := a.points.ListRules(r.Context())
	if err != nil {
		handlePointsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rules})
}

// handleOrganizationPoints dispatches /v1/organizations/{id}/points and its
// subresources.
func (a *API) handleOrganizationPoints(w http.ResponseWriter, r *http.Request, orgID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getPointsBalance(w, r, orgID)
		return
	}
	switch rest[0] {
	case "enabled":
		if len(rest) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.setPointsEnabled(w, r, orgID)
	case "rules":
		switch len(rest) {
		case 1:
			a.listOrgRules(w, r, orgID)
		case 2:
			a.upsertRuleOverride(w, r, orgID, rest[1])
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	case "award":
		if len(rest) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.awardPoints(w, r, orgID)
	case "adjust":
		if len(rest) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.adjustPoints(w, r, orgID)
	case "ledger":
		if len(rest) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.listLedger(w, r, orgID)
	case "recompute":
		if len(rest) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.recomputeBalance(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getPointsBalance(w http.ResponseWriter, r *http.Request, orgID string) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	bal, err := a.points.GetBalance(r.Context(), orgID)
	if err != nil {
		handlePointsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (a *API) setPointsEnabled(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireOrgAdmin(w, r, orgID); !ok {
		return
	}
	var req pointsEnabledRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.points.SetPointsEnabled(r.Context(), orgID, req.Enabled); err != nil {
		handlePointsError(w, r, err)
		return
	}
	a.audit(r.Context(), "points.enabled.set", "organization", orgID, map[string]string{
		"enabled": boolString(req.Enabled),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listOrgRules(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.principal(w, r); !ok {
		return
	}
	rules, err := a.points.ListRulesForOrg(r.Context(), orgID)
	if err != nil {
		handlePointsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rules})
}

func (a *API) upsertRuleOverride(w http.ResponseWriter, r *http.Request, orgID, ruleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if _, ok := a.requireOrgAdmin(w, r, orgID); !ok {
		return
	}
	var req ruleOverrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	override, err := a.points.UpsertRuleOverride(r.Context(), orgID, ruleID, req.Enabled, req.Multiplier)
	if err != nil {
		handlePointsError(w, r, err)
		return
	}
	a.audit(r.Context(), "points.rule_override.set", "organization", orgID, map[string]string{
		"rule_id":    ruleID,
		"enabled":    boolString(req.Enabled),
		"multiplier": strconv.FormatInt(req.Multiplier, 10),
	})
	writeJSON(w, http.StatusOK, override)
}

func (a *API) awardPoints(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.principal(w, r); !ok {
		return
	}
	var req awardPointsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	delta, err := a.points.AwardPoints(r.Context(), orgID, req.UserID, req.ActionType)
	if err != nil {
		handlePointsError(w, r, err)
		return
	}
	if delta.Amount != 0 {
		obs.RecordPointsOp(req.ActionType)
	}
	writeJSON(w, http.StatusOK, delta)
}

func (a *API) adjustPoints(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.requireSuperadmin(w, r)
	if !ok {
		return
	}
	var req adjustPointsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := a.points.ManualAdjust(r.Context(), orgID, req.Amount, req.Description, p.UserID)
	if err != nil {
		handlePointsError(w, r, err)
		return
	}
	op := points.OpAdminAdd
	if req.Amount < 0 {
		op = points.OpAdminSubtract
	}
	obs.RecordPointsOp(op)
	a.audit(r.Context(), "points.manual_adjust", "organization", orgID, map[string]string{
		"amount": strconv.FormatInt(req.Amount, 10),
	})
	writeJSON(w, http.StatusOK, bal)
}

func (a *API) listLedger(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.principal(w, r); !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := a.points.GetLedger(r.Context(), orgID, limit)
	if err != nil {
		handlePointsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) recomputeBalance(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireSuperadmin(w, r); !ok {
		return
	}
	bal, err := a.points.RecomputeBalance(r.Context(), orgID)
	if err != nil {
		handlePointsError(w, r, err)
		return
	}
	a.audit(r.Context(), "points.balance.recompute", "organization", orgID, map[string]string{
		"balance": strconv.FormatInt(bal.Balance, 10),
	})
	writeJSON(w, http.StatusOK, bal)
}

func handlePointsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, points.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, points.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, points.ErrInsufficientPoints):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "points operation failed")
	}
}
