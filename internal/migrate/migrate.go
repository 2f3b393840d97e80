package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenant_schema_guard/migrations"
)

// Runner applies the embedded control-plane migrations (tenants, plans,
// schema_history) in filename order.
type Runner struct {
	pool   *pgxpool.Pool
	logger Logger
	fs     fs.FS
}

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type File struct {
	Version  int64
	Name     string
	Path     string
	Checksum string
	Body     string
}

func New(pool *pgxpool.Pool, logger Logger) *Runner {
	return &Runner{
		pool:   pool,
		logger: logger,
		fs:     migrations.FS(),
	}
}

// Up applies pending files. An applied file whose checksum changed is an
// error, since the recorded schema no longer matches the embedded source.
func (r *Runner) Up(ctx context.Context) (int, error) {
	if err := r.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := r.appliedChecksums(ctx)
	if err != nil {
		return 0, err
	}
	files, err := Load(r.fs)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, f := range files {
		if sum, ok := applied[f.Version]; ok {
			if sum != "" && sum != f.Checksum {
				return count, fmt.Errorf("migration %s was modified after it was applied", f.Path)
			}
			continue
		}
		if err := r.apply(ctx, f); err != nil {
			r.logger.Error("migration failed", "version", f.Version, "name", f.Name, "error", err)
			return count, fmt.Errorf("apply migration %s: %w", f.Path, err)
		}
		r.logger.Info("migration applied", "version", f.Version, "name", f.Name)
		count++
	}
	return count, nil
}

// Load reads and orders the migration files in fsys.
func Load(fsys fs.FS) ([]File, error) {
	paths, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(paths)

	out := make([]File, 0, len(paths))
	seen := map[int64]string{}
	for _, path := range paths {
		version, name, err := parseVersion(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, path)
		}
		seen[version] = path
		body, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", path, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, File{
			Version:  version,
			Name:     name,
			Path:     path,
			Checksum: hex.EncodeToString(sum[:]),
			Body:     string(body),
		})
	}
	return out, nil
}

func (r *Runner) apply(ctx context.Context, f File) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, f.Body); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, name, checksum) VALUES ($1, $2, $3)`, f.Version, f.Name, f.Checksum); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version    BIGINT PRIMARY KEY,
  name       TEXT NOT NULL,
  checksum   TEXT NOT NULL DEFAULT '',
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func (r *Runner) appliedChecksums(ctx context.Context) (map[int64]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			v   int64
			sum string
		)
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = sum
	}
	return applied, rows.Err()
}

func parseVersion(path string) (int64, string, error) {
	base := filepath.Base(path)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("invalid migration filename: %s", base)
	}
	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid migration version in %s: %w", base, err)
	}
	return version, strings.TrimSuffix(parts[1], ".sql"), nil
}
