package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tenant_schema_guard/internal/auth"
	"tenant_schema_guard/internal/engine"
	"tenant_schema_guard/internal/executor"
	"tenant_schema_guard/internal/history"
	"tenant_schema_guard/internal/plan"
	"tenant_schema_guard/internal/preflight"
)

// Operations is the engine surface exposed over HTTP.
type Operations interface {
	CreatePlan(ctx context.Context, tenantID string) (*plan.Plan, error)
	GetPlan(ctx context.Context, tenantID, planID string) (*plan.Plan, error)
	RunPreflight(ctx context.Context, tenantID, planID string, queries []preflight.Query) ([]preflight.Result, error)
	ApplySafe(ctx context.Context, tenantID, planID string, changeIDs []string) (executor.Result, error)
	ApplyDestructive(ctx context.Context, tenantID, planID string, allow bool, phrase string) (executor.Result, error)
	FetchHistory(ctx context.Context, tenantID string, limit int) ([]history.Record, error)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type PlanHandler struct {
	logger requestLogger
	ops    Operations
}

func NewPlanHandler(logger requestLogger, ops Operations) *PlanHandler {
	return &PlanHandler{logger: logger, ops: ops}
}

type preflightRequest struct {
	Queries []preflight.Query `json:"queries"`
}

type applySafeRequest struct {
	ChangeIDs []string `json:"change_ids"`
}

type applyDestructiveRequest struct {
	AllowDestructive bool   `json:"allow_destructive"`
	Confirmation     string `json:"confirmation"`
}

func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := h.ops.CreatePlan(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.ops.GetPlan(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "planID"))
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PlanHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	var req preflightRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	results, err := h.ops.RunPreflight(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "planID"), req.Queries)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ApplySafe answers 422 with the result body when validation rejects the batch.
func (h *PlanHandler) ApplySafe(w http.ResponseWriter, r *http.Request) {
	var req applySafeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.ops.ApplySafe(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "planID"), req.ChangeIDs)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	h.writeResult(w, r, "apply_safe", res)
}

func (h *PlanHandler) ApplyDestructive(w http.ResponseWriter, r *http.Request) {
	var req applyDestructiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.ops.ApplyDestructive(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "planID"), req.AllowDestructive, req.Confirmation)
	if errors.Is(err, engine.ErrConfirmationRequired) {
		writeJSON(w, http.StatusPreconditionRequired, map[string]any{
			"error":  errorDetail{Code: "confirmation_required", Message: err.Error()},
			"result": res,
		})
		return
	}
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	h.writeResult(w, r, "apply_destructive", res)
}

func (h *PlanHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	records, err := h.ops.FetchHistory(r.Context(), chi.URLParam(r, "tenantID"), limit)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (h *PlanHandler) writeResult(w http.ResponseWriter, r *http.Request, op string, res executor.Result) {
	status := http.StatusOK
	if res.State == executor.StateRejected {
		status = http.StatusUnprocessableEntity
	}
	h.logger.Info(op,
		"tenant_id", chi.URLParam(r, "tenantID"),
		"plan_id", res.PlanID,
		"state", res.State,
		"actor", actorEmail(r),
	)
	writeJSON(w, status, res)
}

func actorEmail(r *http.Request) string {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		return user.Email
	}
	return ""
}
