package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status names one lifecycle transition.
type Status string

const (
	StatusPlanCreated                Status = "plan_created"
	StatusBootstrapRequired          Status = "bootstrap_required"
	StatusPlanFailed                 Status = "plan_failed"
	StatusPreflightRun               Status = "preflight_run"
	StatusSafeApplied                Status = "safe_applied"
	StatusSafePartiallyFailed        Status = "safe_partially_failed"
	StatusSafeRejected               Status = "safe_rejected"
	StatusDestructiveApplied         Status = "destructive_applied"
	StatusDestructivePartiallyFailed Status = "destructive_partially_failed"
	StatusDestructiveRejected        Status = "destructive_rejected"
)

const DefaultLimit = 50

var ErrMissingTenant = errors.New("history record requires a tenant id")

type Logger interface {
	Error(msg string, args ...any)
}

// Record is one immutable history row.
type Record struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Status    Status         `json:"status"`
	SSOTHash  string         `json:"ssot_version_hash"`
	PlanID    *uuid.UUID     `json:"plan_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Detail    map[string]any `json:"detail"`
}

// Store persists records. It has no update or delete method.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]Record, error)
}

// Recorder appends lifecycle records. Writes ignore caller cancellation so a
// canceled request still leaves its terminal record.
type Recorder struct {
	store  Store
	logger Logger
}

func NewRecorder(store Store, logger Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, rec Record) (Record, error) {
	if rec.TenantID == uuid.Nil {
		return Record{}, ErrMissingTenant
	}
	if rec.Detail == nil {
		rec.Detail = map[string]any{}
	}
	if err := r.store.Append(context.WithoutCancel(ctx), &rec); err != nil {
		if r.logger != nil {
			r.logger.Error("history append failed", "tenant_id", rec.TenantID, "status", rec.Status, "error", err)
		}
		return Record{}, fmt.Errorf("append history: %w", err)
	}
	return rec, nil
}

// List returns the newest records first.
func (r *Recorder) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]Record, error) {
	if tenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return r.store.List(ctx, tenantID, limit)
}
