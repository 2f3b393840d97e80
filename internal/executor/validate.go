package executor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"tenant_schema_guard/internal/risk"
)

var (
	ErrStatementNotAllowed = errors.New("statement not allowed")
	ErrDestructiveKeyword  = errors.New("destructive keyword detected")
	ErrUnknownChange       = errors.New("change is not in the plan's SAFE tier")
)

const ident = `(?:"(?:[^"]|"")+"|[\w$]+)(?:\s*\.\s*(?:"(?:[^"]|"")+"|[\w$]+))?`

// allowList maps each statement intent to the only shape it may take.
var allowList = map[risk.Intent]*regexp.Regexp{
	risk.IntentCreateTable:     regexp.MustCompile(`(?is)^create\s+table\s+if\s+not\s+exists\s+` + ident + `\s*\(.*\)$`),
	risk.IntentAddColumn:       regexp.MustCompile(`(?is)^alter\s+table\s+(?:only\s+)?` + ident + `\s+add\s+column\s+if\s+not\s+exists\s+` + ident + `\s+\S.*$`),
	risk.IntentCreateIndex:     regexp.MustCompile(`(?is)^create\s+(?:unique\s+)?index\s+(?:concurrently\s+)?if\s+not\s+exists\s+` + ident + `\s+on\s+\S.*$`),
	risk.IntentEnableRLS:       regexp.MustCompile(`(?is)^alter\s+table\s+(?:only\s+)?` + ident + `\s+enable\s+row\s+level\s+security$`),
	risk.IntentCreatePolicy:    regexp.MustCompile(`(?is)^create\s+policy\s+` + ident + `\s+on\s+` + ident + `(?:\s.*)?$`),
	risk.IntentAddConstraint:   regexp.MustCompile(`(?is)^alter\s+table\s+(?:only\s+)?` + ident + `\s+add\s+constraint\s+` + ident + `\s+\S.*$`),
	risk.IntentCreateExtension: regexp.MustCompile(`(?is)^create\s+extension\s+if\s+not\s+exists\s+` + ident + `(?:\s.*)?$`),
	risk.IntentCreateView:      regexp.MustCompile(`(?is)^create\s+or\s+replace\s+view\s+` + ident + `.*\sas\s+\S.*$`),
}

var intentOrder = []risk.Intent{
	risk.IntentCreateTable, risk.IntentAddColumn, risk.IntentCreateIndex, risk.IntentEnableRLS,
	risk.IntentCreatePolicy, risk.IntentAddConstraint, risk.IntentCreateExtension, risk.IntentCreateView,
}

var denyList = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdrop\b`),
	regexp.MustCompile(`(?i)\brename\b`),
	regexp.MustCompile(`(?i)\btruncate\b`),
	regexp.MustCompile(`(?is)\balter\s+(?:column\s+)?(?:"(?:[^"]|"")+"|[\w$]+)\s+(?:set\s+data\s+)?type\b`),
}

// Statement is one rendered DDL statement tied to the change it implements.
type Statement struct {
	ChangeID string      `json:"change_id"`
	SQL      string      `json:"statement"`
	Intent   risk.Intent `json:"intent,omitempty"`
}

// Rejection explains why a batch was refused before execution.
type Rejection struct {
	ChangeID string
	Code     string
	Err      error
	Detail   string
}

func (r *Rejection) Error() string {
	if r.ChangeID == "" {
		return fmt.Sprintf("%s: %s", r.Err, r.Detail)
	}
	return fmt.Sprintf("%s: change %s: %s", r.Err, r.ChangeID, r.Detail)
}

func (r *Rejection) Unwrap() error { return r.Err }

// ValidateSafe checks every statement before any is executed. It does not
// trust the risk classification: each statement must match an allow-listed
// shape, match its declared intent and contain no denylisted keyword.
func ValidateSafe(stmts []Statement) *Rejection {
	for _, st := range stmts {
		if r := validateStatement(st); r != nil {
			return r
		}
	}
	return nil
}

func validateStatement(st Statement) *Rejection {
	text, ok := stripTrailingSeparator(st.SQL)
	if !ok {
		return &Rejection{ChangeID: st.ChangeID, Code: "statement_not_allowed", Err: ErrStatementNotAllowed, Detail: "statement separator inside statement"}
	}
	for _, re := range denyList {
		if m := re.FindString(text); m != "" {
			return &Rejection{ChangeID: st.ChangeID, Code: "destructive_keyword_detected", Err: ErrDestructiveKeyword, Detail: fmt.Sprintf("found %q", strings.ToUpper(m))}
		}
	}
	matched := MatchIntent(text)
	if matched == risk.IntentNone {
		return &Rejection{ChangeID: st.ChangeID, Code: "statement_not_allowed", Err: ErrStatementNotAllowed, Detail: "statement matches no allowed pattern"}
	}
	if st.Intent != risk.IntentNone && st.Intent != matched {
		return &Rejection{ChangeID: st.ChangeID, Code: "statement_not_allowed", Err: ErrStatementNotAllowed,
			Detail: fmt.Sprintf("statement is %s but the change declares %s", matched, st.Intent)}
	}
	return nil
}

// MatchIntent returns the allow-listed intent a statement matches.
func MatchIntent(sql string) risk.Intent {
	text := strings.TrimSpace(sql)
	for _, intent := range intentOrder {
		if allowList[intent].MatchString(text) {
			return intent
		}
	}
	return risk.IntentNone
}

// stripTrailingSeparator removes one trailing ';' and reports false when
// another separator appears outside quoted text.
func stripTrailingSeparator(sql string) (string, bool) {
	text := strings.TrimSpace(sql)
	text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	inSingle, inDouble := false, false
	for _, r := range text {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case r == ';' && !inSingle && !inDouble:
			return text, false
		}
	}
	return text, true
}
