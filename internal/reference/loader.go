package reference

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"tenant_schema_guard/internal/schema"
)

// Reference is a parsed, versioned reference schema.
type Reference struct {
	Version  string
	Hash     string
	Snapshot *schema.Snapshot
	Skipped  []Skipped
	Curated  *Manifest
}

// Skipped is a reference statement that declares nothing the diff compares.
type Skipped struct {
	Line      int    `json:"line"`
	Statement string `json:"statement"`
	Reason    string `json:"reason"`
}

const identPattern = `((?:"(?:[^"]|"")+"|[\w$]+)(?:\s*\.\s*(?:"(?:[^"]|"")+"|[\w$]+))?)`

var (
	createTableRe  = regexp.MustCompile(`(?is)^create\s+(?:unlogged\s+)?table\s+(if\s+not\s+exists\s+)?` + identPattern + `\s*\(`)
	alterTableRe   = regexp.MustCompile(`(?is)^alter\s+table\s+(?:if\s+exists\s+)?(?:only\s+)?` + identPattern + `\s+(.+)$`)
	createIndexRe  = regexp.MustCompile(`(?is)^create\s+(?:unique\s+)?index\s`)
	createPolicyRe = regexp.MustCompile(`(?is)^create\s+policy\s+` + identPattern + `\s+on\s+` + identPattern + `(.*)$`)
	createExtRe    = regexp.MustCompile(`(?is)^create\s+extension\s+(?:if\s+not\s+exists\s+)?` + identPattern + `(.*)$`)
	createViewRe   = regexp.MustCompile(`(?is)^create\s+(?:or\s+replace\s+)?view\s+` + identPattern + `(.*?)\s+as\s+(.+)$`)

	addColumnRe     = regexp.MustCompile(`(?is)^add\s+(?:column\s+)?(if\s+not\s+exists\s+)?(.+)$`)
	addConstraintRe = regexp.MustCompile(`(?is)^add\s+((?:constraint|primary|unique|foreign|check|exclude)\b.+)$`)
	enableRLSRe     = regexp.MustCompile(`(?is)^enable\s+row\s+level\s+security$`)
	setDefaultRe    = regexp.MustCompile(`(?is)^alter\s+(?:column\s+)?` + identPattern + `\s+set\s+default\s+(.+)$`)
	setNotNullRe    = regexp.MustCompile(`(?is)^alter\s+(?:column\s+)?` + identPattern + `\s+set\s+not\s+null$`)

	policyAsRe    = regexp.MustCompile(`(?is)^as\s+(permissive|restrictive)\b`)
	policyForRe   = regexp.MustCompile(`(?is)^for\s+(all|select|insert|update|delete)\b`)
	policyToRe    = regexp.MustCompile(`(?is)^to\s+(.+?)(?:\s+using\b|\s+with\s+check\b|$)`)
	policyUsing   = regexp.MustCompile(`(?is)^using\s*\(`)
	policyWCheck  = regexp.MustCompile(`(?is)^with\s+check\s*\(`)
	viewColumnsRe = regexp.MustCompile(`(?is)^\s*\(`)
)

// LoadFile reads the reference schema and the optional curated manifest from
// disk and parses them.
func LoadFile(schemaPath, version, curatedPath string) (*Reference, error) {
	text, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("read reference schema: %w", err)
	}
	var curated []byte
	if curatedPath != "" {
		curated, err = os.ReadFile(curatedPath)
		if err != nil {
			return nil, fmt.Errorf("read curated manifest: %w", err)
		}
	}
	return Build(version, text, curated)
}

// Parse parses schema text without a curated manifest.
func Parse(version, text string) (*Reference, error) {
	return Build(version, []byte(text), nil)
}

// Build parses schema text and an optional curated manifest into a Reference.
func Build(version string, text, curated []byte) (*Reference, error) {
	manifest, err := ParseManifest(curated)
	if err != nil {
		return nil, err
	}
	stmts, err := splitStatements(string(text))
	if err != nil {
		return nil, err
	}

	p := &parser{snap: schema.NewSnapshot("")}
	for _, st := range stmts {
		if err := p.statement(st); err != nil {
			return nil, err
		}
	}
	if err := p.finishConstraints(); err != nil {
		return nil, err
	}
	if p.snap.Len() == 0 {
		return nil, &ParseError{Line: 1, Reason: ErrNoObjects.Error()}
	}

	return &Reference{
		Version:  version,
		Hash:     versionHash(version, text, curated),
		Snapshot: p.snap,
		Skipped:  p.skipped,
		Curated:  manifest,
	}, nil
}

func versionHash(version string, text, curated []byte) string {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write(text)
	h.Write([]byte{0})
	h.Write(curated)
	return hex.EncodeToString(h.Sum(nil))
}

type pendingConstraint struct {
	table   string
	def     constraintDef
	ordinal int
	inline  bool
	line    int
	stmt    string
}

type parser struct {
	snap        *schema.Snapshot
	skipped     []Skipped
	constraints []pendingConstraint
	ordinal     int
}

func (p *parser) next() int {
	p.ordinal++
	return p.ordinal
}

func (p *parser) fail(st statement, format string, args ...any) error {
	return &ParseError{Statement: abbreviate(st.Text), Line: st.Line, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) skip(st statement, reason string) {
	p.skipped = append(p.skipped, Skipped{Line: st.Line, Statement: abbreviate(st.Text), Reason: reason})
}

func (p *parser) statement(st statement) error {
	text := st.Text
	switch {
	case createTableRe.MatchString(text):
		return p.createTable(st)
	case alterTableRe.MatchString(text):
		return p.alterTable(st)
	case createIndexRe.MatchString(text):
		return p.createIndex(st)
	case createPolicyRe.MatchString(text):
		return p.createPolicy(st)
	case createExtRe.MatchString(text):
		return p.createExtension(st)
	case createViewRe.MatchString(text):
		return p.createView(st)
	default:
		p.skip(st, "statement declares no compared object")
		return nil
	}
}

func (p *parser) createTable(st statement) error {
	m := createTableRe.FindStringSubmatchIndex(st.Text)
	name := schema.Ident(st.Text[m[4]:m[5]])
	open := m[1] - 1
	closeIdx, err := schema.MatchParen(st.Text, open)
	if err != nil {
		return p.fail(st, "table %s: %v", name, err)
	}
	if tail := strings.TrimSpace(st.Text[closeIdx+1:]); strings.HasPrefix(strings.ToUpper(tail), "PARTITION OF") || strings.HasPrefix(strings.ToUpper(tail), "INHERITS") {
		return p.fail(st, "table %s: inheritance is not supported", name)
	}
	if p.snap.Has(schema.Key{Kind: schema.KindTable, Table: name, Name: name}) {
		p.skip(st, "table "+name+" already declared")
		return nil
	}

	body := st.Text[open+1 : closeIdx]
	p.snap.Put(schema.Descriptor{
		Kind:       schema.KindTable,
		Table:      name,
		Name:       name,
		Attributes: map[string]string{schema.AttrRLS: schema.Bool(false)},
		Source:     "CREATE TABLE IF NOT EXISTS " + schema.QuoteIdent(name) + " (" + strings.TrimSpace(body) + ")",
		Ordinal:    p.next(),
	})

	for _, element := range schema.SplitTopLevel(body) {
		if strings.HasPrefix(strings.ToUpper(element), "LIKE ") {
			return p.fail(st, "table %s: LIKE clauses are not supported", name)
		}
		if isTableConstraint(element) {
			def, err := parseTableConstraint(element)
			if err != nil {
				return p.fail(st, "table %s: %v", name, err)
			}
			p.constraints = append(p.constraints, pendingConstraint{table: name, def: def, ordinal: p.next(), inline: true, line: st.Line, stmt: st.Text})
			continue
		}
		col, err := parseColumn(element)
		if err != nil {
			return p.fail(st, "table %s: %v", name, err)
		}
		p.addColumn(st, name, col, true)
	}
	return nil
}

func (p *parser) addColumn(st statement, table string, col columnDef, inline bool) bool {
	key := schema.Key{Kind: schema.KindColumn, Table: table, Name: col.Name}
	if p.snap.Has(key) {
		return false
	}
	p.snap.Put(schema.Descriptor{
		Kind:       schema.KindColumn,
		Table:      table,
		Name:       col.Name,
		Attributes: col.attributes(),
		Raw:        map[string]string{schema.AttrType: col.Type, schema.AttrDefault: col.Default},
		Source:     "ALTER TABLE " + schema.QuoteIdent(table) + " ADD COLUMN IF NOT EXISTS " + col.render(),
		Ordinal:    p.next(),
		Inline:     inline,
	})
	for _, c := range col.Constraint {
		p.constraints = append(p.constraints, pendingConstraint{table: table, def: c, ordinal: p.next(), inline: inline, line: st.Line, stmt: st.Text})
	}
	return true
}

func (p *parser) requireTable(st statement, table string) error {
	if _, ok := p.snap.Table(table); !ok {
		return p.fail(st, "table %s is not declared before use", table)
	}
	return nil
}

func (p *parser) alterTable(st statement) error {
	m := alterTableRe.FindStringSubmatch(st.Text)
	table := schema.Ident(m[1])
	actions := schema.SplitTopLevel(m[2])
	supported := false
	for _, action := range actions {
		supported = supported || isDeclarativeAction(action)
	}
	if !supported {
		p.skip(st, "ALTER TABLE declares no compared object")
		return nil
	}
	if err := p.requireTable(st, table); err != nil {
		return err
	}
	for _, action := range actions {
		switch {
		case enableRLSRe.MatchString(action):
			d, _ := p.snap.Table(table)
			d.Attributes[schema.AttrRLS] = schema.Bool(true)
			p.snap.Put(d)
		case addConstraintRe.MatchString(action):
			def, err := parseTableConstraint(addConstraintRe.FindStringSubmatch(action)[1])
			if err != nil {
				return p.fail(st, "table %s: %v", table, err)
			}
			p.constraints = append(p.constraints, pendingConstraint{table: table, def: def, ordinal: p.next(), line: st.Line, stmt: st.Text})
		case addColumnRe.MatchString(action):
			col, err := parseColumn(addColumnRe.FindStringSubmatch(action)[2])
			if err != nil {
				return p.fail(st, "table %s: %v", table, err)
			}
			if !p.addColumn(st, table, col, false) {
				p.skip(st, "column "+table+"."+col.Name+" already declared")
			}
		case setDefaultRe.MatchString(action):
			sm := setDefaultRe.FindStringSubmatch(action)
			if err := p.mergeColumn(st, table, sm[1], func(d *schema.Descriptor) {
				d.Attributes[schema.AttrDefault] = schema.CanonicalDefault(sm[2])
				d.Raw[schema.AttrDefault] = strings.TrimSpace(sm[2])
			}); err != nil {
				return err
			}
		case setNotNullRe.MatchString(action):
			sm := setNotNullRe.FindStringSubmatch(action)
			if err := p.mergeColumn(st, table, sm[1], func(d *schema.Descriptor) {
				d.Attributes[schema.AttrNullable] = schema.Bool(false)
			}); err != nil {
				return err
			}
		default:
			p.skip(st, "unsupported ALTER TABLE action: "+abbreviate(action))
		}
	}
	return nil
}

func isDeclarativeAction(action string) bool {
	for _, re := range []*regexp.Regexp{enableRLSRe, addConstraintRe, addColumnRe, setDefaultRe, setNotNullRe} {
		if re.MatchString(action) {
			return true
		}
	}
	return false
}

func (p *parser) mergeColumn(st statement, table, rawColumn string, apply func(*schema.Descriptor)) error {
	key := schema.Key{Kind: schema.KindColumn, Table: table, Name: schema.Ident(rawColumn)}
	d, ok := p.snap.Get(key)
	if !ok {
		return p.fail(st, "column %s.%s is not declared", table, key.Name)
	}
	apply(&d)
	p.snap.Put(d)
	return nil
}

func (p *parser) createIndex(st statement) error {
	idx, err := schema.ParseIndex(st.Text)
	if err != nil {
		return p.fail(st, "%v", err)
	}
	if err := p.requireTable(st, idx.Table); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "INDEX IF NOT EXISTS %s ON %s USING %s (%s)",
		schema.QuoteIdent(idx.Name), schema.QuoteIdent(idx.Table), idx.Method, idx.Keys)
	if idx.Include != "" {
		fmt.Fprintf(&b, " INCLUDE (%s)", idx.Include)
	}
	if idx.Where != "" {
		fmt.Fprintf(&b, " WHERE %s", idx.Where)
	}
	p.snap.Put(schema.Descriptor{
		Kind:       schema.KindIndex,
		Table:      idx.Table,
		Name:       idx.Name,
		Attributes: idx.Attributes(),
		Source:     b.String(),
		Ordinal:    p.next(),
	})
	return nil
}

func (p *parser) createPolicy(st statement) error {
	m := createPolicyRe.FindStringSubmatch(st.Text)
	name, table := schema.Ident(m[1]), schema.Ident(m[2])
	if err := p.requireTable(st, table); err != nil {
		return err
	}
	attrs := map[string]string{
		schema.AttrPermissive: "permissive",
		schema.AttrCommand:    "all",
		schema.AttrRoles:      schema.CanonicalRoles(nil),
		schema.AttrUsing:      "",
		schema.AttrCheck:      "",
	}
	rest := strings.TrimSpace(m[3])
	for rest != "" {
		switch {
		case policyAsRe.MatchString(rest):
			sm := policyAsRe.FindStringSubmatch(rest)
			attrs[schema.AttrPermissive] = strings.ToLower(sm[1])
			rest = rest[len(sm[0]):]
		case policyForRe.MatchString(rest):
			sm := policyForRe.FindStringSubmatch(rest)
			attrs[schema.AttrCommand] = schema.CanonicalCommand(sm[1])
			rest = rest[len(sm[0]):]
		case policyUsing.MatchString(rest):
			expr, after, err := parenClause(rest, policyUsing)
			if err != nil {
				return p.fail(st, "policy %s: %v", name, err)
			}
			attrs[schema.AttrUsing] = schema.CanonicalExpr(expr)
			rest = after
		case policyWCheck.MatchString(rest):
			expr, after, err := parenClause(rest, policyWCheck)
			if err != nil {
				return p.fail(st, "policy %s: %v", name, err)
			}
			attrs[schema.AttrCheck] = schema.CanonicalExpr(expr)
			rest = after
		case policyToRe.MatchString(rest):
			sm := policyToRe.FindStringSubmatch(rest)
			attrs[schema.AttrRoles] = schema.CanonicalRoles(strings.Split(sm[1], ","))
			rest = rest[len(sm[1])+strings.Index(sm[0], sm[1]):]
		default:
			return p.fail(st, "policy %s: unexpected clause %q", name, abbreviate(rest))
		}
		rest = strings.TrimSpace(rest)
	}
	p.snap.Put(schema.Descriptor{
		Kind:       schema.KindPolicy,
		Table:      table,
		Name:       name,
		Attributes: attrs,
		Source:     st.Text,
		Ordinal:    p.next(),
	})
	return nil
}

// parenClause extracts the parenthesized expression opened at the end of the
// head match and returns it with the remaining text.
func parenClause(s string, head *regexp.Regexp) (string, string, error) {
	loc := head.FindStringIndex(s)
	open := loc[1] - 1
	closeIdx, err := schema.MatchParen(s, open)
	if err != nil {
		return "", "", err
	}
	return s[open+1 : closeIdx], s[closeIdx+1:], nil
}

func (p *parser) createExtension(st statement) error {
	m := createExtRe.FindStringSubmatch(st.Text)
	name := schema.Ident(m[1])
	p.snap.Put(schema.Descriptor{
		Kind:    schema.KindExtension,
		Name:    name,
		Source:  "CREATE EXTENSION IF NOT EXISTS " + schema.QuoteIdent(name) + m[2],
		Ordinal: p.next(),
	})
	return nil
}

func (p *parser) createView(st statement) error {
	m := createViewRe.FindStringSubmatch(st.Text)
	name := schema.Ident(m[1])
	columns := strings.TrimSpace(m[2])
	if columns != "" && !viewColumnsRe.MatchString(columns) {
		return p.fail(st, "view %s: unexpected %q before AS", name, abbreviate(columns))
	}
	if columns != "" {
		columns = " " + columns
	}
	p.snap.Put(schema.Descriptor{
		Kind:    schema.KindView,
		Table:   name,
		Name:    name,
		Source:  "CREATE OR REPLACE VIEW " + schema.QuoteIdent(name) + columns + " AS " + strings.TrimSpace(m[3]),
		Ordinal: p.next(),
	})
	return nil
}

var referencesTargetRe = regexp.MustCompile(`(?is)\breferences\s+` + identPattern + `\s*(\()?`)

// finishConstraints names unnamed constraints, completes foreign keys that
// omit the referenced columns and stores the constraint descriptors.
func (p *parser) finishConstraints() error {
	for _, pc := range p.constraints {
		def := pc.def
		if schema.ConstraintType(def.Body) == "f" {
			body, err := p.completeForeignKey(def.Body)
			if err != nil {
				return &ParseError{Statement: abbreviate(pc.stmt), Line: pc.line, Reason: err.Error()}
			}
			def.Body = body
		}
		name := def.Name
		if name == "" {
			name = def.implicitName(pc.table)
		}
		p.snap.Put(schema.Descriptor{
			Kind:       schema.KindConstraint,
			Table:      pc.table,
			Name:       name,
			Attributes: schema.ConstraintAttributes(def.Body),
			Source:     "ALTER TABLE " + schema.QuoteIdent(pc.table) + " ADD CONSTRAINT " + schema.QuoteIdent(name) + " " + def.Body,
			Ordinal:    pc.ordinal,
			Inline:     pc.inline,
		})
	}
	return nil
}

// completeForeignKey appends the referenced table's primary key columns when
// the REFERENCES clause names only a table, matching the catalog rendering.
func (p *parser) completeForeignKey(body string) (string, error) {
	m := referencesTargetRe.FindStringSubmatchIndex(body)
	if m == nil || m[4] >= 0 {
		return body, nil
	}
	target := schema.Ident(body[m[2]:m[3]])
	for _, pc := range p.constraints {
		if pc.table == target && schema.ConstraintType(pc.def.Body) == "p" {
			cols := make([]string, 0, len(pc.def.Columns))
			for _, c := range pc.def.Columns {
				cols = append(cols, schema.QuoteIdent(c))
			}
			if len(cols) == 0 {
				break
			}
			return body[:m[3]] + "(" + strings.Join(cols, ", ") + ")" + body[m[3]:], nil
		}
	}
	return "", fmt.Errorf("foreign key references %s without columns and %s has no declared primary key", target, target)
}
