// Package audit records control-plane actions that are not tied to a
// tenant's schema history: logins, tenant registration and disabling.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	ActionLogin          = "login"
	ActionTenantCreated  = "tenant_created"
	ActionTenantDisabled = "tenant_disabled"
	ActionServerStarted  = "server_started"
)

type Logger interface {
	Error(msg string, args ...any)
}

type Event struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	Payload    map[string]any
}

// Sink stores audit events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// PGSink writes events to the audit_events table.
type PGSink struct {
	pool   *pgxpool.Pool
	logger Logger
}

func NewPGSink(pool *pgxpool.Pool, logger Logger) *PGSink {
	return &PGSink{pool: pool, logger: logger}
}

// Record inserts the event. Failures are logged and returned; callers treat
// them as non-fatal.
func (s *PGSink) Record(ctx context.Context, event Event) error {
	body, err := marshalPayload(event.Payload)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(context.WithoutCancel(ctx), `
INSERT INTO audit_events (id, actor, action, entity_type, entity_id, payload)
VALUES ($1, $2, $3, $4, $5, $6)
`, uuid.New(), event.Actor, event.Action, event.EntityType, event.EntityID, body); err != nil {
		if s.logger != nil {
			s.logger.Error("audit log failed", "action", event.Action, "error", err)
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return body, nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) error { return nil }
