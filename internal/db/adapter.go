package db

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tenant_schema_guard/internal/schema"
)

// Conn abstracts a connection to one tenant database.
type Conn interface {
	// Prerequisites reports whether the application role and namespace exist.
	Prerequisites(ctx context.Context, p Prerequisites) (PrerequisiteStatus, error)
	// Catalog reads every compared object of the namespace in one read-only
	// snapshot.
	Catalog(ctx context.Context, namespace string) (*schema.Snapshot, error)
	// Exec runs one statement in autocommit mode. Errors are *Error.
	Exec(ctx context.Context, statement string) error
	// QueryReadOnly runs a query in its own read-only transaction and returns
	// at most maxRows rows.
	QueryReadOnly(ctx context.Context, query string, maxRows int) (Rows, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Connector opens tenant connections.
type Connector interface {
	Connect(ctx context.Context, t Target) (Conn, error)
}

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

const connectMaxElapsed = 20 * time.Second

// PGConnector connects with pgx and retries transient failures.
type PGConnector struct {
	Logger     Logger
	MaxElapsed time.Duration
}

func (c PGConnector) Connect(ctx context.Context, t Target) (Conn, error) {
	cfg, err := pgx.ParseConfig(t.DSN())
	if err != nil {
		return nil, &Error{Kind: KindConnection, Message: "invalid tenant target", Err: err}
	}
	if t.Namespace != "" {
		cfg.RuntimeParams["search_path"] = schema.QuoteIdent(t.Namespace)
	}
	cfg.RuntimeParams["application_name"] = "driftguard"

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.MaxElapsed
	if bo.MaxElapsedTime == 0 {
		bo.MaxElapsedTime = connectMaxElapsed
	}

	var conn *pgx.Conn
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		var err error
		conn, err = pgx.ConnectConfig(ctx, cfg)
		if err == nil {
			return nil
		}
		if !retryableConnectError(err) {
			return backoff.Permanent(err)
		}
		if c.Logger != nil {
			c.Logger.Info("tenant connect retry", "host", t.Host, "database", t.Database, "attempt", attempt, "error", err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Message: err.Error(), Err: errors.Join(ErrConnection, err)}
	}
	return &PostgresConn{conn: conn}, nil
}

// retryableConnectError rejects authentication and missing-database failures,
// which never resolve by waiting.
func retryableConnectError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000", "3D000", "42501":
			return false
		}
		return pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57"
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Introspect loads the live snapshot of a tenant. When prerequisites are
// missing it returns a BootstrapRequired signal and no snapshot.
func Introspect(ctx context.Context, conn Conn, p Prerequisites) (*schema.Snapshot, *BootstrapRequired, error) {
	if conn == nil {
		return nil, nil, &Error{Kind: KindConnection, Message: "nil tenant handle", Err: ErrConnection}
	}
	status, err := conn.Prerequisites(ctx, p)
	if err != nil {
		return nil, nil, Classify(err)
	}
	if boot := DetectBootstrap(p, status); boot != nil {
		return nil, boot, nil
	}
	snap, err := conn.Catalog(ctx, p.Namespace)
	if err != nil {
		return nil, nil, Classify(err)
	}
	return snap, nil, nil
}
