package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_schema_guard/internal/change"
	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/plan"
	"tenant_schema_guard/internal/risk"
	"tenant_schema_guard/internal/schema"
)

type fakeConn struct {
	errs   map[string]error
	onExec func(sql string)
	execed []string
}

func (f *fakeConn) Exec(_ context.Context, sql string) error {
	f.execed = append(f.execed, sql)
	if f.onExec != nil {
		f.onExec(sql)
	}
	return f.errs[sql]
}

func (f *fakeConn) Prerequisites(context.Context, db.Prerequisites) (db.PrerequisiteStatus, error) {
	return db.PrerequisiteStatus{}, nil
}

func (f *fakeConn) Catalog(context.Context, string) (*schema.Snapshot, error) { return nil, nil }

func (f *fakeConn) QueryReadOnly(context.Context, string, int) (db.Rows, error) {
	return db.Rows{}, nil
}

func (f *fakeConn) Ping(context.Context) error { return nil }

func (f *fakeConn) Close(context.Context) error { return nil }

const (
	createTable = "CREATE TABLE IF NOT EXISTS students (id uuid)"
	createIndex = "CREATE INDEX IF NOT EXISTS students_name_idx ON students USING btree (name)"
	setNotNull  = "ALTER TABLE students ALTER COLUMN name SET NOT NULL"
	retype      = "ALTER TABLE students ALTER COLUMN email TYPE varchar(255) USING email::varchar(255)"
)

func mk(category risk.Category, action risk.Action, table, name, sql string, order int) change.Change {
	c := change.New(category, action, change.Object{Table: table, Name: name})
	c.SQL = sql
	c.ApplyOrder = order
	return c
}

func samplePlan() *plan.Plan {
	return &plan.Plan{
		ID:       "plan-1",
		TenantID: "tenant-1",
		Changes: []change.Change{
			mk(risk.CategoryIndex, risk.ActionCreate, "students", "students_name_idx", createIndex, 4),
			mk(risk.CategoryColumn, risk.ActionAlter, "students", "email", retype, 3),
			mk(risk.CategoryColumn, risk.ActionTighten, "students", "name", setNotNull, 2),
			mk(risk.CategoryTable, risk.ActionCreate, "students", "students", createTable, 1),
		},
	}
}

func changeID(p *plan.Plan, category risk.Category, name string) string {
	for _, c := range p.Changes {
		if c.Category == category && c.Object.Name == name {
			return c.ID
		}
	}
	return ""
}

func TestValidateSafeAccepts(t *testing.T) {
	stmts := []string{
		createTable + ";",
		"ALTER TABLE students ADD COLUMN IF NOT EXISTS note text DEFAULT 'a;b'",
		createIndex,
		"CREATE UNIQUE INDEX IF NOT EXISTS students_email_key ON students (email)",
		"ALTER TABLE students ENABLE ROW LEVEL SECURITY",
		"CREATE POLICY own_rows ON students USING (true)",
		"ALTER TABLE students ADD CONSTRAINT positive_age CHECK (age > 0)",
		"CREATE EXTENSION IF NOT EXISTS pgcrypto",
		"CREATE OR REPLACE VIEW active_students AS SELECT id FROM students",
		"CREATE TABLE IF NOT EXISTS dropped_items (drop_date date)",
	}
	for _, sql := range stmts {
		assert.Nil(t, ValidateSafe([]Statement{{ChangeID: "c", SQL: sql}}), sql)
	}
}

func TestValidateSafeRejects(t *testing.T) {
	cases := []struct {
		sql    string
		intent risk.Intent
		code   string
		err    error
	}{
		{"DROP TABLE students", "", "destructive_keyword_detected", ErrDestructiveKeyword},
		{"ALTER TABLE students RENAME TO pupils", "", "destructive_keyword_detected", ErrDestructiveKeyword},
		{"TRUNCATE students", "", "destructive_keyword_detected", ErrDestructiveKeyword},
		{"ALTER TABLE students ALTER COLUMN age TYPE bigint", "", "destructive_keyword_detected", ErrDestructiveKeyword},
		{"ALTER TABLE students ALTER age SET DATA TYPE bigint", "", "destructive_keyword_detected", ErrDestructiveKeyword},
		{"CREATE TABLE students (id int)", "", "statement_not_allowed", ErrStatementNotAllowed},
		{"ALTER TABLE students ADD COLUMN note text", "", "statement_not_allowed", ErrStatementNotAllowed},
		{"CREATE TABLE IF NOT EXISTS a (id int); CREATE TABLE IF NOT EXISTS b (id int)", "", "statement_not_allowed", ErrStatementNotAllowed},
		{"UPDATE students SET name = ''", "", "statement_not_allowed", ErrStatementNotAllowed},
		{createIndex, risk.IntentCreateTable, "statement_not_allowed", ErrStatementNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.sql, func(t *testing.T) {
			rej := ValidateSafe([]Statement{
				{ChangeID: "first", SQL: createTable, Intent: risk.IntentCreateTable},
				{ChangeID: "bad", SQL: tc.sql, Intent: tc.intent},
			})
			require.NotNil(t, rej)
			assert.Equal(t, "bad", rej.ChangeID)
			assert.Equal(t, tc.code, rej.Code)
			assert.ErrorIs(t, rej, tc.err)
		})
	}
}

func TestRejectionMessage(t *testing.T) {
	rej := ValidateSafe([]Statement{{ChangeID: "c1", SQL: "DROP TABLE x"}})
	require.NotNil(t, rej)
	assert.Equal(t, `destructive keyword detected: change c1: found "DROP"`, rej.Error())
}

func TestMatchIntent(t *testing.T) {
	assert.Equal(t, risk.IntentCreateTable, MatchIntent(createTable))
	assert.Equal(t, risk.IntentCreateIndex, MatchIntent("  "+createIndex))
	assert.Equal(t, risk.IntentEnableRLS, MatchIntent("alter table students enable row level security"))
	assert.Equal(t, risk.IntentNone, MatchIntent(setNotNull))
}

func TestStateMachine(t *testing.T) {
	m := newMachine()
	assert.ErrorIs(t, m.to(StateExecuting), ErrInvalidTransition)
	require.NoError(t, m.to(StateValidating))
	require.NoError(t, m.to(StateRejected))
	assert.ErrorIs(t, m.to(StateExecuting), ErrInvalidTransition)
	assert.Equal(t, []State{StateIdle, StateValidating, StateRejected}, m.trail)

	assert.True(t, StateCommitted.Terminal())
	assert.True(t, StatePartiallyFailed.Terminal())
	assert.True(t, StateRejected.Terminal())
	assert.False(t, StateExecuting.Terminal())
}

func TestConfirmed(t *testing.T) {
	assert.True(t, Confirmed(true, ConfirmationPhrase))
	assert.False(t, Confirmed(false, ConfirmationPhrase))
	assert.False(t, Confirmed(true, "allow destructive changes"))
	assert.False(t, Confirmed(true, ConfirmationPhrase+" "))
	assert.False(t, Confirmed(true, ""))
}

func TestSafeStatements(t *testing.T) {
	p := samplePlan()
	stmts, rej := SafeStatements(p, nil)
	require.Nil(t, rej)
	require.Len(t, stmts, 2)
	assert.Equal(t, createTable, stmts[0].SQL)
	assert.Equal(t, risk.IntentCreateTable, stmts[0].Intent)
	assert.Equal(t, createIndex, stmts[1].SQL)

	indexID := changeID(p, risk.CategoryIndex, "students_name_idx")
	stmts, rej = SafeStatements(p, []string{indexID})
	require.Nil(t, rej)
	require.Len(t, stmts, 1)
	assert.Equal(t, indexID, stmts[0].ChangeID)

	_, rej = SafeStatements(p, []string{indexID, "nope"})
	require.NotNil(t, rej)
	assert.Equal(t, "unknown_change", rej.Code)

	_, rej = SafeStatements(p, []string{changeID(p, risk.CategoryColumn, "name")})
	require.NotNil(t, rej)
	assert.ErrorIs(t, rej, ErrUnknownChange)
}

func TestApplySafeCommits(t *testing.T) {
	conn := &fakeConn{}
	res := New(nil).ApplySafe(context.Background(), conn, samplePlan(), nil)

	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, []State{StateIdle, StateValidating, StateExecuting, StateCommitted}, res.Transitions)
	assert.True(t, res.OverallOK)
	assert.Equal(t, []string{createTable, createIndex}, conn.execed)
	for _, s := range res.Statements {
		assert.True(t, s.OK)
		assert.True(t, s.Executed)
	}
}

func TestApplySafeRejectsTamperedStatementsWithoutExecuting(t *testing.T) {
	p := samplePlan()
	for i := range p.Changes {
		if p.Changes[i].Category == risk.CategoryIndex {
			p.Changes[i].SQL = "DROP INDEX students_name_idx"
		}
	}
	res := New(nil).ApplySafe(context.Background(), nil, p, nil)

	assert.Equal(t, StateRejected, res.State)
	assert.False(t, res.OverallOK)
	assert.Empty(t, res.Statements)
	assert.Equal(t, "destructive_keyword_detected", res.Code)
	assert.True(t, errors.Is(res.Err, ErrDestructiveKeyword))
}

func TestApplySafeTreatsDuplicatesAsApplied(t *testing.T) {
	conn := &fakeConn{errs: map[string]error{
		createTable: &pgconn.PgError{Code: "42P07", Message: `relation "students" already exists`},
	}}
	res := New(nil).ApplySafe(context.Background(), conn, samplePlan(), nil)

	assert.Equal(t, StateCommitted, res.State)
	require.Len(t, res.Statements, 2)
	assert.True(t, res.Statements[0].OK)
	assert.Equal(t, "already present", res.Statements[0].Note)
}

func TestApplySafeContinuesAfterFailure(t *testing.T) {
	conn := &fakeConn{errs: map[string]error{
		createTable: &pgconn.PgError{Code: "42501", Message: "permission denied for schema public"},
	}}
	res := New(nil).ApplySafe(context.Background(), conn, samplePlan(), nil)

	assert.Equal(t, StatePartiallyFailed, res.State)
	assert.False(t, res.OverallOK)
	require.Len(t, res.Statements, 2)
	assert.False(t, res.Statements[0].OK)
	assert.Equal(t, db.KindInsufficientPrivilege, res.Statements[0].ErrorKind)
	assert.Contains(t, res.Statements[0].Error, "permission denied")
	assert.True(t, res.Statements[1].OK)
	assert.Len(t, conn.execed, 2)
}

func TestApplySafeStopsExecutingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &fakeConn{onExec: func(string) { cancel() }}
	res := New(nil).ApplySafe(ctx, conn, samplePlan(), nil)

	assert.Equal(t, StatePartiallyFailed, res.State)
	require.Len(t, res.Statements, 2)
	assert.True(t, res.Statements[0].Executed)
	assert.False(t, res.Statements[1].Executed)
	assert.Equal(t, db.KindCanceled, res.Statements[1].ErrorKind)
	assert.Len(t, conn.execed, 1)
}

func TestApplySafeEmptyTier(t *testing.T) {
	p := &plan.Plan{ID: "empty"}
	res := New(nil).ApplySafe(context.Background(), &fakeConn{}, p, nil)
	assert.Equal(t, StateCommitted, res.State)
	assert.True(t, res.OverallOK)
	assert.Empty(t, res.Statements)
}

func TestApplyDestructiveNeedsPhrase(t *testing.T) {
	res := New(nil).ApplyDestructive(context.Background(), nil, samplePlan(), true, "allow destructive changes")

	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, "confirmation_required", res.Code)
	assert.ErrorIs(t, res.Err, ErrConfirmationRequired)
	assert.Empty(t, res.Statements)
}

func TestApplyDestructiveRunsNonSafeTiers(t *testing.T) {
	conn := &fakeConn{}
	res := New(nil).ApplyDestructive(context.Background(), conn, samplePlan(), true, ConfirmationPhrase)

	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, []string{setNotNull, retype}, conn.execed)
}
