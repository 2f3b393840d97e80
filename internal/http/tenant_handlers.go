package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tenant_schema_guard/internal/audit"
	"tenant_schema_guard/internal/config"
	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/engine"
	"tenant_schema_guard/internal/store"
)

// TenantRegistry is the tenant catalog kept in the control database.
type TenantRegistry interface {
	CreateTenant(ctx context.Context, input store.CreateTenantInput) (*store.Tenant, error)
	ListTenants(ctx context.Context, activeOnly bool) ([]store.Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error)
	DisableTenant(ctx context.Context, id uuid.UUID) error
}

// TenantChecker checks a tenant for connectivity and prerequisites.
type TenantChecker interface {
	CheckTenant(ctx context.Context, tenantID string) (*db.BootstrapRequired, error)
}

type TenantHandler struct {
	logger    requestLogger
	tenants   TenantRegistry
	checker   TenantChecker
	bootstrap config.BootstrapConfig
	audit     audit.Sink
}

func NewTenantHandler(logger requestLogger, tenants TenantRegistry, checker TenantChecker, bootstrap config.BootstrapConfig, sink audit.Sink) *TenantHandler {
	return &TenantHandler{
		logger:    logger,
		tenants:   tenants,
		checker:   checker,
		bootstrap: bootstrap,
		audit:     sink,
	}
}

func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	items, err := h.tenants.ListTenants(r.Context(), activeOnly)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []store.Tenant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantParam(w, r)
	if !ok {
		return
	}
	t, err := h.tenants.GetTenant(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input store.CreateTenantInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if err := input.Normalize(h.bootstrap.Namespace, h.bootstrap.Role); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant", err.Error())
		return
	}
	t, err := h.tenants.CreateTenant(r.Context(), input)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	h.logger.Info("tenant_created", "tenant_id", t.ID, "name", t.Name, "actor", actorEmail(r))
	_ = h.audit.Record(r.Context(), audit.Event{
		Actor:      actorEmail(r),
		Action:     audit.ActionTenantCreated,
		EntityType: "tenant",
		EntityID:   &t.ID,
		Payload:    map[string]any{"name": t.Name, "host": t.Host, "dbname": t.DBName},
	})
	writeJSON(w, http.StatusCreated, t)
}

func (h *TenantHandler) Disable(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantParam(w, r)
	if !ok {
		return
	}
	if err := h.tenants.DisableTenant(r.Context(), id); err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	h.logger.Info("tenant_disabled", "tenant_id", id, "actor", actorEmail(r))
	_ = h.audit.Record(r.Context(), audit.Event{
		Actor:      actorEmail(r),
		Action:     audit.ActionTenantDisabled,
		EntityType: "tenant",
		EntityID:   &id,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

// TestConnection reports "ok" or the bootstrap SQL the tenant still needs.
func (h *TenantHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	boot, err := h.checker.CheckTenant(r.Context(), tenantID)
	if err != nil {
		writeEngineError(w, h.logger, err)
		return
	}
	if boot != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "bootstrap_required", "bootstrap": boot})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func tenantParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "tenant_not_found", engine.ErrTenantNotFound.Error())
		return uuid.Nil, false
	}
	return id, true
}
