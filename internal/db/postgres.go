package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tenant_schema_guard/internal/schema"
)

// PostgresConn is a Conn over a single pgx connection.
type PostgresConn struct {
	conn *pgx.Conn
}

// NewPostgresConn wraps an established pgx connection.
func NewPostgresConn(conn *pgx.Conn) *PostgresConn {
	return &PostgresConn{conn: conn}
}

func (p *PostgresConn) usable() error {
	if p == nil || p.conn == nil || p.conn.IsClosed() {
		return &Error{Kind: KindConnection, Message: "tenant handle is closed", Err: ErrConnection}
	}
	return nil
}

func (p *PostgresConn) Ping(ctx context.Context) error {
	if err := p.usable(); err != nil {
		return err
	}
	return Classify(p.conn.Ping(ctx))
}

func (p *PostgresConn) Close(ctx context.Context) error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close(ctx)
}

func (p *PostgresConn) Exec(ctx context.Context, statement string) error {
	if err := p.usable(); err != nil {
		return err
	}
	_, err := p.conn.Exec(ctx, statement)
	return Classify(err)
}

func (p *PostgresConn) Prerequisites(ctx context.Context, req Prerequisites) (PrerequisiteStatus, error) {
	if err := p.usable(); err != nil {
		return PrerequisiteStatus{}, err
	}
	var st PrerequisiteStatus
	err := p.conn.QueryRow(ctx, `
SELECT
  EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1),
  EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $2)`, req.Role, req.Namespace).Scan(&st.RoleExists, &st.NamespaceExists)
	if err != nil {
		return PrerequisiteStatus{}, Classify(err)
	}
	return st, nil
}

func (p *PostgresConn) QueryReadOnly(ctx context.Context, query string, maxRows int) (Rows, error) {
	if err := p.usable(); err != nil {
		return Rows{}, err
	}
	tx, err := p.conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return Rows{}, Classify(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return Rows{}, Classify(err)
	}
	defer rows.Close()

	out := Rows{Rows: [][]any{}}
	for _, fd := range rows.FieldDescriptions() {
		out.Columns = append(out.Columns, fd.Name)
	}
	for rows.Next() {
		if len(out.Rows) >= maxRows {
			out.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return Rows{}, Classify(err)
		}
		for i, v := range values {
			values[i] = jsonValue(v)
		}
		out.Rows = append(out.Rows, values)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Rows{}, Classify(err)
	}
	return out, nil
}

// jsonValue converts driver values that do not encode cleanly to JSON.
func jsonValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int16, int32, int64, float32, float64, time.Time:
		return t
	case []byte:
		return string(t)
	case [16]byte:
		return uuid.UUID(t).String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = jsonValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonValue(e)
		}
		return out
	case driver.Valuer:
		// pgtype numerics and intervals render their SQL text form.
		dv, err := t.Value()
		if err != nil {
			return fmt.Sprint(t)
		}
		return jsonValue(dv)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Catalog reads the namespace inside one REPEATABLE READ READ ONLY
// transaction so every query sees the same catalog state.
func (p *PostgresConn) Catalog(ctx context.Context, namespace string) (*schema.Snapshot, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	tx, err := p.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, Classify(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	snap := schema.NewSnapshot(namespace)
	for _, load := range []func(context.Context, pgx.Tx, string, *schema.Snapshot) error{
		loadTables, loadColumns, loadConstraints, loadIndexes, loadPolicies, loadViews, loadExtensions,
	} {
		if err := load(ctx, tx, namespace, snap); err != nil {
			return nil, Classify(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, Classify(err)
	}
	return snap, nil
}
