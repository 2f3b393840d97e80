package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"tenant_schema_guard/internal/change"
	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/plan"
	"tenant_schema_guard/internal/risk"
)

// ConfirmationPhrase must be typed exactly to run non-SAFE changes.
const ConfirmationPhrase = "ALLOW DESTRUCTIVE CHANGES"

var ErrConfirmationRequired = errors.New("confirmation required")

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// StatementResult is the outcome of one statement.
type StatementResult struct {
	ChangeID   string       `json:"change_id"`
	Statement  string       `json:"statement"`
	OK         bool         `json:"ok"`
	Executed   bool         `json:"executed"`
	Error      string       `json:"error,omitempty"`
	ErrorKind  db.ErrorKind `json:"error_kind,omitempty"`
	Note       string       `json:"note,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// Result is the outcome of one apply call.
type Result struct {
	PlanID      string            `json:"plan_id"`
	State       State             `json:"state"`
	Transitions []State           `json:"transitions"`
	Statements  []StatementResult `json:"statements"`
	OverallOK   bool              `json:"overall_ok"`
	Error       string            `json:"error,omitempty"`
	Code        string            `json:"error_code,omitempty"`

	// Err is the rejection cause for errors.Is checks; it is not serialized.
	Err error `json:"-"`
}

// Executor applies plan tiers to one tenant connection.
type Executor struct {
	logger Logger
	now    func() time.Time
}

func New(logger Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{logger: logger, now: time.Now}
}

// SafeStatements renders the SAFE tier of a plan, optionally restricted to
// changeIDs. Ids that are unknown or not SAFE reject the whole batch.
func SafeStatements(p *plan.Plan, changeIDs []string) ([]Statement, *Rejection) {
	tier := p.Tier(risk.Safe)
	if len(changeIDs) > 0 {
		want := map[string]bool{}
		for _, id := range changeIDs {
			c, ok := p.Find(id)
			if !ok || c.Level != risk.Safe {
				return nil, &Rejection{ChangeID: id, Code: "unknown_change", Err: ErrUnknownChange, Detail: "not a SAFE change of plan " + p.ID}
			}
			want[id] = true
		}
		var subset []change.Change
		for _, c := range tier {
			if want[c.ID] {
				subset = append(subset, c)
			}
		}
		tier = subset
	}
	out := make([]Statement, 0, len(tier))
	for _, c := range tier {
		out = append(out, Statement{ChangeID: c.ID, SQL: c.SQL, Intent: c.Intent})
	}
	return out, nil
}

// CheckSafe renders the requested SAFE statements and validates all of them
// without touching a database.
func CheckSafe(p *plan.Plan, changeIDs []string) ([]Statement, *Rejection) {
	stmts, rej := SafeStatements(p, changeIDs)
	if rej == nil {
		rej = ValidateSafe(stmts)
	}
	return stmts, rej
}

// Confirmed reports whether the destructive gate is satisfied. The phrase
// must match byte for byte.
func Confirmed(allow bool, phrase string) bool {
	return allow && phrase == ConfirmationPhrase
}

// ApplySafe validates every SAFE statement and, only if all pass, executes
// them one by one. Validation failures execute nothing, so conn may be nil
// when CheckSafe already rejected the batch.
func (e *Executor) ApplySafe(ctx context.Context, conn db.Conn, p *plan.Plan, changeIDs []string) Result {
	m := newMachine()
	res := Result{PlanID: p.ID, Statements: []StatementResult{}}
	e.must(m.to(StateValidating))

	stmts, rej := CheckSafe(p, changeIDs)
	if rej != nil {
		e.must(m.to(StateRejected))
		e.logger.Error("safe apply rejected", "plan_id", p.ID, "change_id", rej.ChangeID, "code", rej.Code, "detail", rej.Detail)
		return e.finish(m, reject(res, rej))
	}

	e.must(m.to(StateExecuting))
	res.Statements = e.run(ctx, conn, stmts)
	return e.finish(m, res)
}

// ApplyDestructive runs the CAUTION and DESTRUCTIVE tiers. The confirmation
// phrase is the only gate; allow-list validation does not apply. conn is not
// used when the phrase does not match.
func (e *Executor) ApplyDestructive(ctx context.Context, conn db.Conn, p *plan.Plan, allow bool, phrase string) Result {
	m := newMachine()
	res := Result{PlanID: p.ID, Statements: []StatementResult{}}
	e.must(m.to(StateValidating))

	if !Confirmed(allow, phrase) {
		e.must(m.to(StateRejected))
		e.logger.Error("destructive apply rejected", "plan_id", p.ID, "allow_destructive", allow)
		return e.finish(m, reject(res, &Rejection{
			Code:   "confirmation_required",
			Err:    ErrConfirmationRequired,
			Detail: fmt.Sprintf("allow_destructive must be true and the phrase must be exactly %q", ConfirmationPhrase),
		}))
	}

	tier := p.Tier(risk.Caution, risk.Destructive)
	stmts := make([]Statement, 0, len(tier))
	for _, c := range tier {
		stmts = append(stmts, Statement{ChangeID: c.ID, SQL: c.SQL})
	}
	e.must(m.to(StateExecuting))
	res.Statements = e.run(ctx, conn, stmts)
	return e.finish(m, res)
}

// run executes statements independently. A failure is recorded and the next
// statement still runs; cancellation marks the rest as not executed.
func (e *Executor) run(ctx context.Context, conn db.Conn, stmts []Statement) []StatementResult {
	out := make([]StatementResult, 0, len(stmts))
	for _, st := range stmts {
		r := StatementResult{ChangeID: st.ChangeID, Statement: st.SQL}
		if err := ctx.Err(); err != nil {
			r.Error = "not executed: " + err.Error()
			r.ErrorKind = db.KindCanceled
			out = append(out, r)
			continue
		}

		start := e.now()
		err := conn.Exec(ctx, st.SQL)
		r.Executed = true
		r.DurationMS = e.now().Sub(start).Milliseconds()
		switch kind := db.KindOf(err); {
		case err == nil:
			r.OK = true
		case kind.Duplicate():
			r.OK = true
			r.Note = "already present"
		default:
			r.Error = err.Error()
			r.ErrorKind = kind
			e.logger.Error("statement failed", "change_id", st.ChangeID, "kind", kind, "error", err)
		}
		if r.OK {
			e.logger.Info("statement applied", "change_id", st.ChangeID, "note", r.Note, "duration_ms", r.DurationMS)
		}
		out = append(out, r)
	}
	return out
}

func (e *Executor) finish(m *machine, res Result) Result {
	if m.state == StateExecuting {
		ok := true
		for _, s := range res.Statements {
			ok = ok && s.OK
		}
		if ok {
			e.must(m.to(StateCommitted))
		} else {
			e.must(m.to(StatePartiallyFailed))
		}
		res.OverallOK = ok
	}
	res.State = m.state
	res.Transitions = append([]State(nil), m.trail...)
	return res
}

// must panics on a transition the code paths above never attempt.
func (e *Executor) must(err error) {
	if err != nil {
		panic(err)
	}
}

func reject(res Result, rej *Rejection) Result {
	res.OverallOK = false
	res.Error = rej.Error()
	res.Code = rej.Code
	res.Err = rej
	return res
}
