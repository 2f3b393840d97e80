// Package engine exposes the tenant schema operations: create a plan, run
// preflight queries, apply the SAFE tier, apply the confirmed non-SAFE tiers
// and read the history log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/executor"
	"tenant_schema_guard/internal/history"
	"tenant_schema_guard/internal/metrics"
	"tenant_schema_guard/internal/plan"
	"tenant_schema_guard/internal/preflight"
	"tenant_schema_guard/internal/reference"
	"tenant_schema_guard/internal/risk"
	"tenant_schema_guard/internal/store"
	"tenant_schema_guard/internal/telemetry"
)

var (
	ErrMissingTenant        = errors.New("tenant id is required")
	ErrMissingPlan          = errors.New("plan id is required")
	ErrTenantNotFound       = store.ErrTenantNotFound
	ErrTenantInactive       = store.ErrTenantInactive
	ErrPlanNotFound         = store.ErrPlanNotFound
	ErrPlanStale            = errors.New("plan was computed against a different reference version")
	ErrBootstrapRequired    = errors.New("tenant must be bootstrapped before changes can be applied")
	ErrConfirmationRequired = executor.ErrConfirmationRequired
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Tenants resolves a registered tenant into connection details.
type Tenants interface {
	Target(ctx context.Context, id uuid.UUID) (db.Target, *store.Tenant, error)
}

// Plans persists immutable plan snapshots.
type Plans interface {
	SavePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, tenantID, planID uuid.UUID) (*plan.Plan, error)
}

type Options struct {
	Reference *reference.Reference
	Tenants   Tenants
	Plans     Plans
	Connector db.Connector
	History   *history.Recorder
	Metrics   *metrics.Collector
	Logger    Logger
	Now       func() time.Time
}

// Service runs every operation synchronously against one tenant. It holds
// no per-tenant state besides the stores it is given.
type Service struct {
	ref       *reference.Reference
	tenants   Tenants
	plans     Plans
	connector db.Connector
	history   *history.Recorder
	metrics   *metrics.Collector
	logger    Logger
	now       func() time.Time
	safe      *executor.Executor
	preflight *preflight.Runner
}

func New(opts Options) (*Service, error) {
	if opts.Reference == nil {
		return nil, plan.ErrNoReference
	}
	if opts.Tenants == nil || opts.Plans == nil || opts.Connector == nil || opts.History == nil {
		return nil, errors.New("engine: tenants, plans, connector and history are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	for _, s := range opts.Reference.Skipped {
		logger.Info("reference statement skipped", "line", s.Line, "statement", s.Statement, "reason", s.Reason)
	}
	return &Service{
		ref:       opts.Reference,
		tenants:   opts.Tenants,
		plans:     opts.Plans,
		connector: opts.Connector,
		history:   opts.History,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       now,
		safe:      executor.New(logger),
		preflight: preflight.NewRunner(logger),
	}, nil
}

// Reference returns the loaded reference schema.
func (s *Service) Reference() *reference.Reference { return s.ref }

type actorKey struct{}

// WithActor attaches the acting principal recorded in history.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// CreatePlan introspects the tenant and stores a fresh plan snapshot. A
// tenant missing its role or namespace yields a plan carrying only the
// bootstrap script.
func (s *Service) CreatePlan(ctx context.Context, tenantID string) (_ *plan.Plan, err error) {
	start := time.Now()
	ctx, span := telemetry.Start(ctx, "create_plan", attribute.String("tenant_id", tenantID))
	defer func() { telemetry.End(span, err); s.metrics.Observe("create_plan", start) }()

	tid, err := parseTenant(tenantID)
	if err != nil {
		return nil, err
	}
	conn, tenant, err := s.connect(ctx, tid)
	if err != nil {
		if tenant != nil {
			s.planFailed(ctx, tid, err)
		}
		return nil, err
	}
	defer s.close(ctx, conn)

	live, boot, err := db.Introspect(ctx, conn, db.Prerequisites{Role: tenant.AppRole, Namespace: tenant.Namespace})
	if err != nil {
		s.planFailed(ctx, tid, err)
		return nil, fmt.Errorf("introspect tenant %s: %w", tid, err)
	}
	p, err := plan.Build(plan.Input{TenantID: tid.String(), Reference: s.ref, Live: live, Bootstrap: boot, Now: s.now()})
	if err != nil {
		s.planFailed(ctx, tid, err)
		return nil, err
	}
	if err := s.plans.SavePlan(ctx, p); err != nil {
		s.planFailed(ctx, tid, err)
		return nil, fmt.Errorf("save plan: %w", err)
	}

	pid := uuid.MustParse(p.ID)
	if p.BootstrapRequired() {
		s.count(func(m *metrics.Collector) { m.Plans.WithLabelValues("bootstrap_required").Inc() })
		s.record(ctx, tid, history.StatusBootstrapRequired, &pid, map[string]any{"missing": p.Missing})
		s.logger.Info("bootstrap required", "tenant_id", tid, "plan_id", p.ID, "missing", strings.Join(p.Missing, ","))
		return p, nil
	}

	counts := p.Counts()
	s.count(func(m *metrics.Collector) {
		m.Plans.WithLabelValues("created").Inc()
		for level, n := range counts {
			m.PlannedChanges.WithLabelValues(string(level)).Add(float64(n))
		}
	})
	s.record(ctx, tid, history.StatusPlanCreated, &pid, map[string]any{
		"summary_counts": counts,
		"change_ids":     changeIDs(p),
	})
	s.logger.Info("plan created", "tenant_id", tid, "plan_id", p.ID, "changes", len(p.Changes))
	return p, nil
}

// GetPlan returns a stored snapshot owned by the tenant.
func (s *Service) GetPlan(ctx context.Context, tenantID, planID string) (*plan.Plan, error) {
	tid, pid, err := parseIDs(tenantID, planID)
	if err != nil {
		return nil, err
	}
	return s.plans.GetPlan(ctx, tid, pid)
}

// RunPreflight runs read-only verification queries. An empty query list runs
// the plan's curated queries.
func (s *Service) RunPreflight(ctx context.Context, tenantID, planID string, queries []preflight.Query) (_ []preflight.Result, err error) {
	start := time.Now()
	ctx, span := telemetry.Start(ctx, "run_preflight", attribute.String("tenant_id", tenantID), attribute.String("plan_id", planID))
	defer func() { telemetry.End(span, err); s.metrics.Observe("run_preflight", start) }()

	tid, p, err := s.loadPlan(ctx, tenantID, planID)
	if err != nil {
		if p != nil {
			s.preflightFailed(ctx, tid, p, err)
		}
		return nil, err
	}
	conn, _, err := s.connect(ctx, tid)
	if err != nil {
		s.preflightFailed(ctx, tid, p, err)
		return nil, err
	}
	defer s.close(ctx, conn)

	results := s.preflight.Run(ctx, conn, p, queries)
	passed := 0
	for _, r := range results {
		outcome := "ok"
		if r.OK {
			passed++
		} else {
			outcome = r.ErrorKind
		}
		s.count(func(m *metrics.Collector) { m.PreflightQueries.WithLabelValues(outcome).Inc() })
	}
	pid := uuid.MustParse(p.ID)
	s.record(ctx, tid, history.StatusPreflightRun, &pid, map[string]any{
		"queries": len(results),
		"passed":  passed,
		"failed":  len(results) - passed,
	})
	return results, nil
}

// ApplySafe executes the SAFE tier of a stored plan, optionally restricted
// to changeIDs. A rejected batch is returned as a Rejected result, not an
// error.
func (s *Service) ApplySafe(ctx context.Context, tenantID, planID string, changeIDs []string) (_ executor.Result, err error) {
	start := time.Now()
	ctx, span := telemetry.Start(ctx, "apply_safe", attribute.String("tenant_id", tenantID), attribute.String("plan_id", planID))
	defer func() { telemetry.End(span, err); s.metrics.Observe("apply_safe", start) }()

	tid, p, err := s.loadPlan(ctx, tenantID, planID)
	if err != nil {
		if p != nil {
			s.applyRefused(ctx, tid, p, "safe", history.StatusSafeRejected, err)
		}
		return executor.Result{}, err
	}
	if p.BootstrapRequired() {
		s.applyRefused(ctx, tid, p, "safe", history.StatusSafeRejected, ErrBootstrapRequired)
		return executor.Result{}, ErrBootstrapRequired
	}

	var res executor.Result
	if _, rej := executor.CheckSafe(p, changeIDs); rej != nil {
		res = s.safe.ApplySafe(ctx, nil, p, changeIDs)
	} else {
		conn, _, err := s.connect(ctx, tid)
		if err != nil {
			s.applyRefused(ctx, tid, p, "safe", history.StatusSafeRejected, err)
			return executor.Result{}, err
		}
		defer s.close(ctx, conn)
		res = s.safe.ApplySafe(ctx, conn, p, changeIDs)
	}

	status := map[executor.State]history.Status{
		executor.StateCommitted:       history.StatusSafeApplied,
		executor.StatePartiallyFailed: history.StatusSafePartiallyFailed,
		executor.StateRejected:        history.StatusSafeRejected,
	}[res.State]
	s.finishApply(ctx, tid, p, "safe", status, res)
	return res, nil
}

// ApplyDestructive executes the CAUTION and DESTRUCTIVE tiers once the exact
// confirmation phrase is supplied. A mismatch touches nothing and returns
// ErrConfirmationRequired alongside the Rejected result.
func (s *Service) ApplyDestructive(ctx context.Context, tenantID, planID string, allow bool, phrase string) (_ executor.Result, err error) {
	start := time.Now()
	ctx, span := telemetry.Start(ctx, "apply_destructive", attribute.String("tenant_id", tenantID), attribute.String("plan_id", planID))
	defer func() { telemetry.End(span, err); s.metrics.Observe("apply_destructive", start) }()

	tid, p, err := s.loadPlan(ctx, tenantID, planID)
	if err != nil {
		if p != nil {
			s.applyRefused(ctx, tid, p, "destructive", history.StatusDestructiveRejected, err)
		}
		return executor.Result{}, err
	}
	if p.BootstrapRequired() {
		s.applyRefused(ctx, tid, p, "destructive", history.StatusDestructiveRejected, ErrBootstrapRequired)
		return executor.Result{}, ErrBootstrapRequired
	}

	var res executor.Result
	if !executor.Confirmed(allow, phrase) {
		res = s.safe.ApplyDestructive(ctx, nil, p, allow, phrase)
	} else {
		conn, _, err := s.connect(ctx, tid)
		if err != nil {
			s.applyRefused(ctx, tid, p, "destructive", history.StatusDestructiveRejected, err)
			return executor.Result{}, err
		}
		defer s.close(ctx, conn)
		res = s.safe.ApplyDestructive(ctx, conn, p, allow, phrase)
	}

	status := map[executor.State]history.Status{
		executor.StateCommitted:       history.StatusDestructiveApplied,
		executor.StatePartiallyFailed: history.StatusDestructivePartiallyFailed,
		executor.StateRejected:        history.StatusDestructiveRejected,
	}[res.State]
	s.finishApply(ctx, tid, p, "destructive", status, res)
	if errors.Is(res.Err, executor.ErrConfirmationRequired) {
		return res, ErrConfirmationRequired
	}
	return res, nil
}

// FetchHistory lists the tenant's records, newest first.
func (s *Service) FetchHistory(ctx context.Context, tenantID string, limit int) ([]history.Record, error) {
	tid, err := parseTenant(tenantID)
	if err != nil {
		return nil, err
	}
	return s.history.List(ctx, tid, limit)
}

// CheckTenant connects to a tenant and reports missing prerequisites, if any.
func (s *Service) CheckTenant(ctx context.Context, tenantID string) (*db.BootstrapRequired, error) {
	tid, err := parseTenant(tenantID)
	if err != nil {
		return nil, err
	}
	conn, tenant, err := s.connect(ctx, tid)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx, conn)
	if err := conn.Ping(ctx); err != nil {
		return nil, db.Classify(err)
	}
	status, err := conn.Prerequisites(ctx, db.Prerequisites{Role: tenant.AppRole, Namespace: tenant.Namespace})
	if err != nil {
		return nil, db.Classify(err)
	}
	return db.DetectBootstrap(db.Prerequisites{Role: tenant.AppRole, Namespace: tenant.Namespace}, status), nil
}

func (s *Service) loadPlan(ctx context.Context, tenantID, planID string) (uuid.UUID, *plan.Plan, error) {
	tid, pid, err := parseIDs(tenantID, planID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	p, err := s.plans.GetPlan(ctx, tid, pid)
	if err != nil {
		return tid, nil, err
	}
	if p.ReferenceHash != s.ref.Hash {
		return tid, p, fmt.Errorf("%w: plan %s has %s, loaded reference has %s", ErrPlanStale, p.ID, short(p.ReferenceHash), short(s.ref.Hash))
	}
	return tid, p, nil
}

func (s *Service) connect(ctx context.Context, tid uuid.UUID) (db.Conn, *store.Tenant, error) {
	target, tenant, err := s.tenants.Target(ctx, tid)
	if err != nil {
		return nil, tenant, err
	}
	conn, err := s.connector.Connect(ctx, target)
	if err != nil {
		s.logger.Error("tenant connect failed", "tenant_id", tid, "error", err)
		return nil, tenant, err
	}
	return conn, tenant, nil
}

func (s *Service) close(ctx context.Context, conn db.Conn) {
	if err := conn.Close(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("tenant connection close failed", "error", err)
	}
}

func (s *Service) finishApply(ctx context.Context, tid uuid.UUID, p *plan.Plan, mode string, status history.Status, res executor.Result) {
	executed, failed := 0, 0
	for _, st := range res.Statements {
		if st.Executed {
			executed++
		}
		outcome := "ok"
		if !st.OK {
			failed++
			outcome = string(st.ErrorKind)
		}
		s.count(func(m *metrics.Collector) { m.Statements.WithLabelValues(mode, outcome).Inc() })
	}
	s.count(func(m *metrics.Collector) { m.Applies.WithLabelValues(mode, string(res.State)).Inc() })

	detail := map[string]any{
		"state":      res.State,
		"statements": len(res.Statements),
		"executed":   executed,
		"failed":     failed,
	}
	if res.Code != "" {
		detail["error_code"] = res.Code
		detail["error"] = res.Error
	}
	pid := uuid.MustParse(p.ID)
	s.record(ctx, tid, status, &pid, detail)
	s.logger.Info("apply finished", "tenant_id", tid, "plan_id", p.ID, "mode", mode, "state", res.State, "executed", executed, "failed", failed)
}

// applyRefused records an apply that was turned away before any statement
// ran. Unknown tenants have no trail to write to.
func (s *Service) applyRefused(ctx context.Context, tid uuid.UUID, p *plan.Plan, mode string, status history.Status, cause error) {
	if errors.Is(cause, ErrTenantNotFound) {
		return
	}
	code := refusalCode(cause)
	s.count(func(m *metrics.Collector) { m.Applies.WithLabelValues(mode, string(executor.StateRejected)).Inc() })
	pid := uuid.MustParse(p.ID)
	s.record(ctx, tid, status, &pid, map[string]any{
		"state":      executor.StateRejected,
		"statements": 0,
		"executed":   0,
		"failed":     0,
		"error_code": code,
		"error":      cause.Error(),
	})
	s.logger.Info("apply refused", "tenant_id", tid, "plan_id", p.ID, "mode", mode, "code", code)
}

func (s *Service) preflightFailed(ctx context.Context, tid uuid.UUID, p *plan.Plan, cause error) {
	if errors.Is(cause, ErrTenantNotFound) {
		return
	}
	pid := uuid.MustParse(p.ID)
	s.record(ctx, tid, history.StatusPreflightRun, &pid, map[string]any{
		"queries":    0,
		"passed":     0,
		"failed":     0,
		"error_code": refusalCode(cause),
		"error":      cause.Error(),
	})
}

// refusalCode matches the codes the HTTP layer reports for the same errors.
func refusalCode(err error) string {
	switch {
	case errors.Is(err, ErrPlanStale):
		return "plan_stale"
	case errors.Is(err, ErrBootstrapRequired):
		return "bootstrap_required"
	case errors.Is(err, ErrTenantInactive):
		return "tenant_disabled"
	}
	switch kind := db.KindOf(err); kind {
	case db.KindCanceled:
		return "canceled"
	case db.KindConnection:
		return "connection_error"
	default:
		return string(kind)
	}
}

func (s *Service) planFailed(ctx context.Context, tid uuid.UUID, cause error) {
	s.count(func(m *metrics.Collector) { m.Plans.WithLabelValues("failed").Inc() })
	detail := map[string]any{"error": cause.Error()}
	if kind := db.KindOf(cause); kind != db.KindUnknown {
		detail["error_kind"] = kind
	}
	s.record(ctx, tid, history.StatusPlanFailed, nil, detail)
}

func (s *Service) record(ctx context.Context, tid uuid.UUID, status history.Status, planID *uuid.UUID, detail map[string]any) {
	// Recorder logs its own failures; operations still report their outcome.
	_, _ = s.history.Record(ctx, history.Record{
		TenantID: tid,
		Status:   status,
		SSOTHash: s.ref.Hash,
		PlanID:   planID,
		Actor:    actorFrom(ctx),
		Detail:   detail,
	})
}

func (s *Service) count(fn func(*metrics.Collector)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}

func parseTenant(tenantID string) (uuid.UUID, error) {
	if strings.TrimSpace(tenantID) == "" {
		return uuid.Nil, ErrMissingTenant
	}
	tid, err := uuid.Parse(strings.TrimSpace(tenantID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrTenantNotFound, tenantID)
	}
	return tid, nil
}

func parseIDs(tenantID, planID string) (uuid.UUID, uuid.UUID, error) {
	tid, err := parseTenant(tenantID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if strings.TrimSpace(planID) == "" {
		return uuid.Nil, uuid.Nil, ErrMissingPlan
	}
	pid, err := uuid.Parse(strings.TrimSpace(planID))
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %q", ErrPlanNotFound, planID)
	}
	return tid, pid, nil
}

func changeIDs(p *plan.Plan) map[risk.Level][]string {
	out := map[risk.Level][]string{}
	for _, c := range p.Changes {
		out[c.Level] = append(out[c.Level], c.ID)
	}
	return out
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
