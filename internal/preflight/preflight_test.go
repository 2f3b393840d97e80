package preflight

import (
	"context"
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
	queries []string
	maxRows int
	err     error
}

func (f *fakeConn) QueryReadOnly(_ context.Context, query string, maxRows int) (db.Rows, error) {
	f.queries = append(f.queries, query)
	f.maxRows = maxRows
	if f.err != nil {
		return db.Rows{}, f.err
	}
	return db.Rows{Columns: []string{"count"}, Rows: [][]any{{int64(3)}}}, nil
}

func (f *fakeConn) Prerequisites(context.Context, db.Prerequisites) (db.PrerequisiteStatus, error) {
	return db.PrerequisiteStatus{}, nil
}

func (f *fakeConn) Catalog(context.Context, string) (*schema.Snapshot, error) { return nil, nil }

func (f *fakeConn) Exec(context.Context, string) error { return nil }

func (f *fakeConn) Ping(context.Context) error { return nil }

func (f *fakeConn) Close(context.Context) error { return nil }

func samplePlan() *plan.Plan {
	tighten := change.New(risk.CategoryColumn, risk.ActionTighten, change.Object{Table: "students", Name: "name"})
	tighten.Preflight = []string{
		"SELECT count(*) FROM students WHERE name IS NULL",
		"SELECT min(length(name)) FROM students",
	}
	index := change.New(risk.CategoryIndex, risk.ActionCreate, change.Object{Table: "students", Name: "students_name_idx"})
	return &plan.Plan{ID: "p1", Changes: []change.Change{tighten, index}}
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check("SELECT 1"))
	assert.NoError(t, Check("  select count(*) from students\n"))

	for _, q := range []string{
		"DELETE FROM students",
		"SELECT 1; DROP TABLE students",
		"SELECT 1;",
		"WITH x AS (DELETE FROM students RETURNING *) SELECT * FROM x",
		"selector",
		"",
	} {
		assert.ErrorIs(t, Check(q), ErrQueryNotAllowed, q)
	}
}

func TestCuratedQueries(t *testing.T) {
	p := samplePlan()
	qs := CuratedQueries(p)
	require.Len(t, qs, 2)
	assert.Equal(t, p.Changes[0].ID, qs[0].ChangeID)
	assert.Equal(t, "SELECT min(length(name)) FROM students", qs[1].SQL)
	assert.Empty(t, CuratedQueries(&plan.Plan{}))
}

func TestRunDefaultsToCuratedQueries(t *testing.T) {
	conn := &fakeConn{}
	results := NewRunner(nil).Run(context.Background(), conn, samplePlan(), nil)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.OK)
		require.NotNil(t, r.Rows)
		assert.Equal(t, []string{"count"}, r.Rows.Columns)
	}
	assert.Len(t, conn.queries, 2)
	assert.Equal(t, MaxRows, conn.maxRows)
}

func TestRunReportsEachQueryIndependently(t *testing.T) {
	p := samplePlan()
	conn := &fakeConn{}
	results := NewRunner(nil).Run(context.Background(), conn, p, []Query{
		{ChangeID: "unknown", SQL: "SELECT 1"},
		{ChangeID: p.Changes[0].ID, SQL: "UPDATE students SET name = ''"},
		{ChangeID: p.Changes[1].ID, SQL: "  SELECT 2  "},
	})

	require.Len(t, results, 3)
	assert.Equal(t, KindUnknownChange, results[0].ErrorKind)
	assert.False(t, results[0].OK)
	assert.Equal(t, KindQueryNotAllowed, results[1].ErrorKind)
	assert.True(t, results[2].OK)
	assert.Equal(t, []string{"SELECT 2"}, conn.queries, "rejected queries never reach the tenant")
}

func TestRunClassifiesQueryErrors(t *testing.T) {
	p := samplePlan()
	conn := &fakeConn{err: db.Classify(&pgconn.PgError{Code: "42P01", Message: `relation "nope" does not exist`})}
	results := NewRunner(nil).Run(context.Background(), conn, p, []Query{{ChangeID: p.Changes[0].ID, SQL: "SELECT * FROM nope"}})

	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Equal(t, string(db.KindUndefinedTable), results[0].ErrorKind)
	assert.Contains(t, results[0].Error, "does not exist")
	assert.Nil(t, results[0].Rows)
}

func TestRunRejectsSeparatorBeforeChangeLookup(t *testing.T) {
	conn := &fakeConn{}
	results := NewRunner(nil).Run(context.Background(), conn, samplePlan(), []Query{
		{ChangeID: "", SQL: "SELECT 1; DROP TABLE students"},
		{ChangeID: "unknown", SQL: "SELECT 1;"},
	})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.OK)
		assert.Equal(t, KindQueryNotAllowed, r.ErrorKind)
	}
	assert.Empty(t, conn.queries)
}
