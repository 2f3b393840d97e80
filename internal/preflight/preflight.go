package preflight

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/plan"
)

// MaxRows caps the rows returned per query.
const MaxRows = 100

var (
	ErrQueryNotAllowed = errors.New("query not allowed")
	ErrUnknownChange   = errors.New("unknown change")
)

const (
	KindQueryNotAllowed = "query_not_allowed"
	KindUnknownChange   = "unknown_change"
)

var selectHead = regexp.MustCompile(`(?is)^select\b`)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Query is a verification query tied to a change of the plan.
type Query struct {
	ChangeID string `json:"change_id"`
	SQL      string `json:"query"`
}

// Result is the outcome of one query.
type Result struct {
	ChangeID  string   `json:"change_id"`
	Query     string   `json:"query"`
	OK        bool     `json:"ok"`
	Rows      *db.Rows `json:"result,omitempty"`
	Error     string   `json:"error,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
}

type Runner struct {
	logger  Logger
	maxRows int
}

func NewRunner(logger Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{logger: logger, maxRows: MaxRows}
}

// Check rejects anything but a single SELECT statement.
func Check(query string) error {
	q := strings.TrimSpace(query)
	if strings.Contains(q, ";") {
		return errors.Join(ErrQueryNotAllowed, errors.New("statement separator is not allowed"))
	}
	if !selectHead.MatchString(q) {
		return errors.Join(ErrQueryNotAllowed, errors.New("query must begin with SELECT"))
	}
	return nil
}

// CuratedQueries returns the reviewed preflight queries carried by the plan.
func CuratedQueries(p *plan.Plan) []Query {
	var out []Query
	for _, c := range p.Changes {
		for _, q := range c.Preflight {
			out = append(out, Query{ChangeID: c.ID, SQL: q})
		}
	}
	return out
}

// Run executes each query in its own read-only transaction. A rejected or
// failing query is reported and never stops the batch. An empty query list
// runs the plan's curated queries.
func (r *Runner) Run(ctx context.Context, conn db.Conn, p *plan.Plan, queries []Query) []Result {
	if len(queries) == 0 {
		queries = CuratedQueries(p)
	}
	out := make([]Result, 0, len(queries))
	for _, q := range queries {
		res := Result{ChangeID: q.ChangeID, Query: q.SQL}
		if err := Check(q.SQL); err != nil {
			res.Error = err.Error()
			res.ErrorKind = KindQueryNotAllowed
			out = append(out, res)
			continue
		}
		if _, ok := p.Find(q.ChangeID); !ok {
			res.Error = ErrUnknownChange.Error() + ": " + q.ChangeID
			res.ErrorKind = KindUnknownChange
			out = append(out, res)
			continue
		}
		rows, err := conn.QueryReadOnly(ctx, strings.TrimSpace(q.SQL), r.maxRows)
		if err != nil {
			res.Error = err.Error()
			res.ErrorKind = string(db.KindOf(err))
			r.logger.Error("preflight query failed", "change_id", q.ChangeID, "error", err)
			out = append(out, res)
			continue
		}
		res.OK = true
		res.Rows = &rows
		out = append(out, res)
	}
	return out
}
