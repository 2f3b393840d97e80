package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/engine"
	"tenant_schema_guard/internal/reference"
	"tenant_schema_guard/internal/store"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return false
	}
	return true
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{engine.ErrMissingTenant, http.StatusBadRequest, "missing_tenant"},
	{engine.ErrMissingPlan, http.StatusBadRequest, "missing_plan"},
	{store.ErrTenantInvalid, http.StatusBadRequest, "invalid_tenant"},
	{engine.ErrTenantNotFound, http.StatusNotFound, "tenant_not_found"},
	{engine.ErrPlanNotFound, http.StatusNotFound, "plan_not_found"},
	{engine.ErrTenantInactive, http.StatusConflict, "tenant_disabled"},
	{engine.ErrPlanStale, http.StatusConflict, "plan_stale"},
	{engine.ErrBootstrapRequired, http.StatusConflict, "bootstrap_required"},
	{engine.ErrConfirmationRequired, http.StatusPreconditionRequired, "confirmation_required"},
	{reference.ErrParse, http.StatusInternalServerError, "parse_error"},
	{db.ErrConnection, http.StatusBadGateway, "connection_error"},
}

// writeEngineError maps operation errors onto status codes. Unknown errors
// are logged and reported without detail.
func writeEngineError(w http.ResponseWriter, logger requestLogger, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, err.Error())
			return
		}
	}
	if kind := db.KindOf(err); kind != db.KindUnknown {
		code := string(kind)
		if kind == db.KindConnection {
			code = "connection_error"
		}
		writeError(w, http.StatusBadGateway, code, err.Error())
		return
	}
	logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
