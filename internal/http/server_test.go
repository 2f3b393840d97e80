package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_schema_guard/internal/audit"
	"tenant_schema_guard/internal/auth"
	"tenant_schema_guard/internal/config"
	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/engine"
	"tenant_schema_guard/internal/executor"
	"tenant_schema_guard/internal/history"
	"tenant_schema_guard/internal/metrics"
	"tenant_schema_guard/internal/plan"
	"tenant_schema_guard/internal/preflight"
	"tenant_schema_guard/internal/rbac"
	"tenant_schema_guard/internal/store"
)

const (
	tenantID = "5f0c2d2e-8a54-4d8a-9a43-0d1f3c1b7e11"
	planID   = "0b8f6a8e-3c1d-4b6e-9a7f-2f5e1c9d4a22"
	csrf     = "csrf-token"
)

type fakeOps struct {
	createErr   error
	safeResult  executor.Result
	destResult  executor.Result
	destErr     error
	lastActor   string
	lastIDs     []string
	lastPhrase  string
	lastLimit   int
	lastQueries []preflight.Query
	history     []history.Record
}

func (f *fakeOps) CreatePlan(ctx context.Context, tid string) (*plan.Plan, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &plan.Plan{ID: planID, TenantID: tid, ReferenceVersion: "v1"}, nil
}

func (f *fakeOps) GetPlan(ctx context.Context, tid, pid string) (*plan.Plan, error) {
	if pid != planID {
		return nil, engine.ErrPlanNotFound
	}
	return &plan.Plan{ID: pid, TenantID: tid}, nil
}

func (f *fakeOps) RunPreflight(ctx context.Context, tid, pid string, queries []preflight.Query) ([]preflight.Result, error) {
	f.lastQueries = queries
	return []preflight.Result{{ChangeID: "c1", Query: "SELECT 1", OK: true}}, nil
}

func (f *fakeOps) ApplySafe(ctx context.Context, tid, pid string, ids []string) (executor.Result, error) {
	f.lastIDs = ids
	if u, ok := auth.UserFromContext(ctx); ok {
		f.lastActor = u.Email
	}
	return f.safeResult, nil
}

func (f *fakeOps) ApplyDestructive(ctx context.Context, tid, pid string, allow bool, phrase string) (executor.Result, error) {
	f.lastPhrase = phrase
	return f.destResult, f.destErr
}

func (f *fakeOps) FetchHistory(ctx context.Context, tid string, limit int) ([]history.Record, error) {
	f.lastLimit = limit
	return f.history, nil
}

type fakeRegistry struct {
	created []store.CreateTenantInput
}

func (f *fakeRegistry) CreateTenant(ctx context.Context, in store.CreateTenantInput) (*store.Tenant, error) {
	f.created = append(f.created, in)
	return &store.Tenant{ID: uuid.MustParse(tenantID), Name: in.Name, Namespace: in.Namespace, AppRole: in.AppRole, IsActive: true}, nil
}

func (f *fakeRegistry) ListTenants(ctx context.Context, activeOnly bool) ([]store.Tenant, error) {
	return nil, nil
}

func (f *fakeRegistry) GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	return nil, store.ErrTenantNotFound
}

func (f *fakeRegistry) DisableTenant(ctx context.Context, id uuid.UUID) error { return nil }

type recordingSink struct {
	events []audit.Event
}

func (s *recordingSink) Record(ctx context.Context, e audit.Event) error {
	s.events = append(s.events, e)
	return nil
}

type fakeChecker struct {
	boot *db.BootstrapRequired
	err  error
}

func (f fakeChecker) CheckTenant(ctx context.Context, tid string) (*db.BootstrapRequired, error) {
	return f.boot, f.err
}

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

type fixture struct {
	handler  http.Handler
	ops      *fakeOps
	tenants  *fakeRegistry
	metrics  *metrics.Collector
	sessions *auth.SessionManager
	dev      *auth.DevHeaderAuthenticator
	audit    *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ops := &fakeOps{}
	tenants := &fakeRegistry{}
	m := metrics.New()
	sink := &recordingSink{}
	sessions := auth.NewSessionManager([]byte(strings.Repeat("k", 32)))
	roles := auth.NewRoleMapper([]string{"admin@example.com"}, nil)
	dev := auth.NewDevHeaderAuthenticator(true)
	authn := auth.NewMultiAuthenticator(auth.NewSessionAuthenticator(sessions, roles), dev)

	srv := New(":0", logger, m, authn, Handlers{
		Health:  HealthHandler{DB: okPinger{}, ReferenceVersion: "v1", ReferenceHash: "abc"},
		Auth:    NewAuthHandler(logger, nil, sessions, roles, sink),
		Tenants: NewTenantHandler(logger, tenants, fakeChecker{}, config.BootstrapConfig{Role: "app_user", Namespace: "public"}, sink),
		Plans:   NewPlanHandler(logger, ops),
	})
	return &fixture{handler: srv.Handler(), ops: ops, tenants: tenants, metrics: m, sessions: sessions, dev: dev, audit: sink}
}

func (f *fixture) do(method, path, role, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if role != "" {
		req.Header.Set(auth.DevEmailHeader, role+"@example.com")
		req.Header.Set(auth.DevRoleHeader, role)
		req.Header.Set(CSRFHeader, f.dev.TokenFor(role+"@example.com", rbac.Role(role)))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func planPath(suffix string) string {
	return fmt.Sprintf("/api/v1/tenants/%s/plans/%s%s", tenantID, planID, suffix)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "abc", body["reference_version_hash"])
}

func TestUnauthenticatedIsRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/tenants", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleGates(t *testing.T) {
	f := newFixture(t)
	tenantPlans := "/api/v1/tenants/" + tenantID + "/plans"

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/tenants", "auditor", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, tenantPlans, "auditor", "").Code)
	assert.Equal(t, http.StatusCreated, f.do(http.MethodPost, tenantPlans, "operator", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, planPath("/apply-destructive"), "operator", `{}`).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/tenants", "operator", `{}`).Code)
}

func TestCSRFRequiredOnWrites(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/"+tenantID+"/plans", nil)
	req.Header.Set(auth.DevEmailHeader, "op@example.com")
	req.Header.Set(auth.DevRoleHeader, "operator")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "csrf_invalid")
}

func TestDevHeaderTokenIsNotCallerChosen(t *testing.T) {
	f := newFixture(t)
	post := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/"+tenantID+"/plans", nil)
		req.Header.Set(auth.DevEmailHeader, "op@example.com")
		req.Header.Set(auth.DevRoleHeader, "operator")
		req.Header.Set(CSRFHeader, token)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusForbidden, post("anything"))

	me := f.do(http.MethodGet, "/api/v1/me", "operator", "")
	require.Equal(t, http.StatusOK, me.Code)
	token, _ := decode(t, me)["csrf_token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, http.StatusCreated, post(token))
}

func TestSessionLogin(t *testing.T) {
	f := newFixture(t)
	cookies := httptest.NewRecorder()
	require.NoError(t, f.sessions.SetSession(cookies, auth.Session{Email: "admin@example.com", CSRFToken: csrf}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	for _, c := range cookies.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", decode(t, rec)["role"])
}

func TestOIDCDisabled(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/auth/oidc/start", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngineErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{engine.ErrTenantNotFound, http.StatusNotFound, "tenant_not_found"},
		{engine.ErrTenantInactive, http.StatusConflict, "tenant_disabled"},
		{fmt.Errorf("load: %w", engine.ErrPlanStale), http.StatusConflict, "plan_stale"},
		{engine.ErrBootstrapRequired, http.StatusConflict, "bootstrap_required"},
		{&db.Error{Kind: db.KindConnection, Err: assert.AnError}, http.StatusBadGateway, "connection_error"},
		{assert.AnError, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			f := newFixture(t)
			f.ops.createErr = tc.err
			rec := f.do(http.MethodPost, "/api/v1/tenants/"+tenantID+"/plans", "operator", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decode(t, rec)["error"].(map[string]any)["code"])
		})
	}
}

func TestGetUnknownPlan(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/tenants/"+tenantID+"/plans/"+uuid.NewString(), "auditor", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreflightPassesQueries(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, planPath("/preflight"), "operator", `{"queries":[{"change_id":"c1","query":"SELECT 1"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.ops.lastQueries, 1)
	assert.Equal(t, "SELECT 1", f.ops.lastQueries[0].SQL)
}

func TestUnknownBodyFieldIsRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, planPath("/apply-safe"), "operator", `{"changes":["x"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplySafeStatuses(t *testing.T) {
	f := newFixture(t)
	f.ops.safeResult = executor.Result{PlanID: planID, State: executor.StateCommitted, OverallOK: true}
	rec := f.do(http.MethodPost, planPath("/apply-safe"), "operator", `{"change_ids":["a","b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a", "b"}, f.ops.lastIDs)
	assert.Equal(t, "operator@example.com", f.ops.lastActor)

	f.ops.safeResult = executor.Result{PlanID: planID, State: executor.StateRejected, Code: "denylisted"}
	rec = f.do(http.MethodPost, planPath("/apply-safe"), "operator", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Rejected", decode(t, rec)["state"])
}

func TestApplyDestructiveNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.ops.destResult = executor.Result{PlanID: planID, State: executor.StateRejected}
	f.ops.destErr = engine.ErrConfirmationRequired
	rec := f.do(http.MethodPost, planPath("/apply-destructive"), "admin", `{"allow_destructive":true,"confirmation":"yes"}`)
	require.Equal(t, http.StatusPreconditionRequired, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "confirmation_required", body["error"].(map[string]any)["code"])
	assert.Equal(t, "Rejected", body["result"].(map[string]any)["state"])
	assert.Equal(t, "yes", f.ops.lastPhrase)
}

func TestHistoryLimit(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/tenants/" + tenantID + "/history"

	rec := f.do(http.MethodGet, path, "auditor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, f.ops.lastLimit)
	assert.Equal(t, []any{}, decode(t, rec)["items"])

	f.do(http.MethodGet, path+"?limit=100000", "auditor", "")
	assert.Equal(t, maxHistoryLimit, f.ops.lastLimit)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, path+"?limit=-1", "auditor", "").Code)
}

func TestCreateTenantAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/tenants", "admin", `{"name":"acme","host":"db","dbname":"acme","username":"svc","password":"pw"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.tenants.created, 1)
	in := f.tenants.created[0]
	assert.Equal(t, "public", in.Namespace)
	assert.Equal(t, "app_user", in.AppRole)
	assert.Equal(t, 5432, in.Port)
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, audit.ActionTenantCreated, f.audit.events[0].Action)
	assert.Equal(t, "admin@example.com", f.audit.events[0].Actor)

	rec = f.do(http.MethodPost, "/api/v1/tenants", "admin", `{"name":"acme"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTenantMalformedID(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/tenants/nope", "auditor", "").Code)
}

func TestRequestsAreCounted(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/health", "200")))
}
