package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tenant_schema_guard/internal/plan"
)

var ErrPlanNotFound = errors.New("plan not found")

// SavePlan stores an immutable plan snapshot. There is no update path.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return fmt.Errorf("plan id: %w", err)
	}
	tenantID, err := uuid.Parse(p.TenantID)
	if err != nil {
		return fmt.Errorf("plan tenant id: %w", err)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO plans (id, tenant_id, reference_version, reference_hash, created_at, body)
VALUES ($1, $2, $3, $4, $5, $6)`,
		id, tenantID, p.ReferenceVersion, p.ReferenceHash, p.CreatedAt, body); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// GetPlan loads a snapshot owned by the tenant. Plans of other tenants are
// reported as not found.
func (s *Store) GetPlan(ctx context.Context, tenantID, planID uuid.UUID) (*plan.Plan, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM plans WHERE id = $1 AND tenant_id = $2`, planID, tenantID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	var p plan.Plan
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}
