package schema

import (
	"errors"
	"regexp"
	"strings"
)

var ErrUnbalanced = errors.New("unbalanced parentheses")

// IndexDef is a decomposed CREATE INDEX statement.
type IndexDef struct {
	Name    string
	Table   string
	Unique  bool
	Method  string
	Keys    string
	Include string
	Where   string
}

var indexHead = regexp.MustCompile(`(?is)^\s*create\s+(unique\s+)?index\s+(concurrently\s+)?(if\s+not\s+exists\s+)?((?:"[^"]+"|[\w$]+)(?:\.(?:"[^"]+"|[\w$]+))?)\s+on\s+(only\s+)?((?:"[^"]+"|[\w$]+)(?:\.(?:"[^"]+"|[\w$]+))?)\s*(?:using\s+(\w+)\s*)?\(`)

var (
	includeHead = regexp.MustCompile(`(?is)^\s*include\s*\(`)
	whereHead   = regexp.MustCompile(`(?is)^\s*where\s+`)
)

// ParseIndex decomposes both reference DDL and pg_indexes.indexdef output.
func ParseIndex(def string) (IndexDef, error) {
	m := indexHead.FindStringSubmatchIndex(def)
	if m == nil {
		return IndexDef{}, errors.New("not a CREATE INDEX statement")
	}
	sub := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return def[m[2*i]:m[2*i+1]]
	}
	out := IndexDef{
		Unique: strings.TrimSpace(sub(1)) != "",
		Name:   Ident(sub(4)),
		Table:  Ident(sub(6)),
		Method: strings.ToLower(sub(7)),
	}
	if out.Method == "" {
		out.Method = "btree"
	}
	open := m[1] - 1
	closeIdx, err := MatchParen(def, open)
	if err != nil {
		return IndexDef{}, err
	}
	out.Keys = strings.TrimSpace(def[open+1 : closeIdx])
	rest := def[closeIdx+1:]

	if loc := includeHead.FindStringIndex(rest); loc != nil {
		incOpen := loc[1] - 1
		incClose, err := MatchParen(rest, incOpen)
		if err != nil {
			return IndexDef{}, err
		}
		out.Include = strings.TrimSpace(rest[incOpen+1 : incClose])
		rest = rest[incClose+1:]
	}
	if loc := whereHead.FindStringIndex(rest); loc != nil {
		out.Where = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest[loc[1]:]), ";"))
	}
	return out, nil
}

// Attributes returns the canonical comparable attributes of the index.
func (d IndexDef) Attributes() map[string]string {
	return map[string]string{
		AttrUnique:  Bool(d.Unique),
		AttrMethod:  d.Method,
		AttrKeys:    CanonicalExpr(d.Keys),
		AttrInclude: CanonicalExpr(d.Include),
		AttrWhere:   CanonicalExpr(d.Where),
	}
}

// ConstraintType maps a constraint definition to its pg_constraint.contype code.
func ConstraintType(def string) string {
	d := strings.ToLower(strings.TrimSpace(def))
	switch {
	case strings.HasPrefix(d, "primary key"):
		return "p"
	case strings.HasPrefix(d, "foreign key"):
		return "f"
	case strings.HasPrefix(d, "unique"):
		return "u"
	case strings.HasPrefix(d, "check"):
		return "c"
	case strings.HasPrefix(d, "exclude"):
		return "x"
	default:
		return ""
	}
}

var notValid = regexp.MustCompile(`(?i)\s+not\s+valid\s*$`)

// ConstraintAttributes returns the comparable attributes of a constraint body
// such as "FOREIGN KEY (a) REFERENCES b(id)".
func ConstraintAttributes(def string) map[string]string {
	def = notValid.ReplaceAllString(strings.TrimSpace(def), "")
	return map[string]string{
		AttrConType:    ConstraintType(def),
		AttrDefinition: CanonicalExpr(def),
	}
}

// MatchParen returns the index of the parenthesis closing the one at open,
// skipping quoted text.
func MatchParen(s string, open int) (int, error) {
	if open < 0 || open >= len(s) || s[open] != '(' {
		return -1, ErrUnbalanced
	}
	depth := 0
	inSingle, inDouble := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return -1, ErrUnbalanced
}

// SplitTopLevel splits s on commas that are not nested in parentheses or quotes.
func SplitTopLevel(s string) []string {
	var (
		out      []string
		current  strings.Builder
		depth    int
		inSingle bool
		inDouble bool
	)
	for _, r := range s {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == ',' && depth == 0:
			if part := strings.TrimSpace(current.String()); part != "" {
				out = append(out, part)
			}
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if part := strings.TrimSpace(current.String()); part != "" {
		out = append(out, part)
	}
	return out
}
