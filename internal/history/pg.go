package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps history in the control-plane schema_history table, which
// also rejects UPDATE and DELETE with a trigger.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Append(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec.Detail)
	if err != nil {
		return fmt.Errorf("marshal history detail: %w", err)
	}
	rec.ID = uuid.New()
	err = s.pool.QueryRow(ctx, `
INSERT INTO schema_history (id, tenant_id, status, ssot_version_hash, plan_id, actor, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`,
		rec.ID, rec.TenantID, string(rec.Status), rec.SSOTHash, rec.PlanID, rec.Actor, body).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, tenant_id, status, ssot_version_hash, plan_id, actor, created_at, detail
FROM schema_history
WHERE tenant_id = $1
ORDER BY created_at DESC, seq DESC
LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			rec    Record
			status string
			body   []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &status, &rec.SSOTHash, &rec.PlanID, &rec.Actor, &rec.CreatedAt, &body); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Status = Status(status)
		if err := json.Unmarshal(body, &rec.Detail); err != nil {
			return nil, fmt.Errorf("decode history detail: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
