package reference

import (
	"fmt"
	"strings"

	"tenant_schema_guard/internal/schema"
)

// columnDef is one column declaration with its inline constraints split off.
type columnDef struct {
	Name       string
	Type       string
	Default    string
	NotNull    bool
	Collate    string
	Generated  string
	Constraint []constraintDef
}

// constraintDef is a constraint body in table-constraint form, e.g.
// "FOREIGN KEY (a) REFERENCES b(id)". Name is empty until one is chosen.
type constraintDef struct {
	Name string
	Body string
	// Columns lists the constrained columns for implicit naming.
	Columns []string
}

var columnClauseWords = map[string]bool{
	"CONSTRAINT": true, "NOT": true, "NULL": true, "DEFAULT": true, "PRIMARY": true,
	"UNIQUE": true, "REFERENCES": true, "CHECK": true, "GENERATED": true, "COLLATE": true,
}

var tableConstraintWords = map[string]bool{
	"CONSTRAINT": true, "PRIMARY": true, "UNIQUE": true, "FOREIGN": true, "CHECK": true, "EXCLUDE": true,
}

// isTableConstraint reports whether a CREATE TABLE element is a table
// constraint rather than a column.
func isTableConstraint(element string) bool {
	fields := strings.Fields(element)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToUpper(fields[0])
	if i := strings.IndexByte(first, '('); i > 0 {
		first = first[:i]
	}
	return tableConstraintWords[first]
}

func parseColumn(def string) (columnDef, error) {
	toks, err := tokenize(def)
	if err != nil {
		return columnDef{}, err
	}
	if len(toks) < 2 || (toks[0].Kind != tokWord && toks[0].Kind != tokQuoted) {
		return columnDef{}, fmt.Errorf("column definition %q has no type", def)
	}
	col := columnDef{Name: schema.Ident(toks[0].Text)}

	i := 1
	for i < len(toks) && !columnClauseWords[toks[i].upper()] {
		i++
	}
	if i == 1 {
		return columnDef{}, fmt.Errorf("column %s has no type", col.Name)
	}
	col.Type = strings.TrimSpace(def[toks[1].Start:toks[i-1].End])

	pendingName := ""
	for i < len(toks) {
		switch toks[i].upper() {
		case "CONSTRAINT":
			if i+1 >= len(toks) {
				return columnDef{}, fmt.Errorf("column %s: CONSTRAINT without a name", col.Name)
			}
			pendingName = schema.Ident(toks[i+1].Text)
			i += 2
			continue
		case "NOT":
			if i+1 >= len(toks) || toks[i+1].upper() != "NULL" {
				return columnDef{}, fmt.Errorf("column %s: expected NULL after NOT", col.Name)
			}
			col.NotNull = true
			i += 2
		case "NULL":
			i++
		case "DEFAULT":
			j := i + 2
			for j < len(toks) && !columnClauseWords[toks[j].upper()] {
				j++
			}
			if i+1 >= len(toks) {
				return columnDef{}, fmt.Errorf("column %s: DEFAULT without an expression", col.Name)
			}
			col.Default = strings.TrimSpace(def[toks[i+1].Start:toks[j-1].End])
			i = j
		case "PRIMARY":
			if i+1 >= len(toks) || toks[i+1].upper() != "KEY" {
				return columnDef{}, fmt.Errorf("column %s: expected KEY after PRIMARY", col.Name)
			}
			col.NotNull = true
			col.Constraint = append(col.Constraint, constraintDef{
				Name: pendingName, Body: "PRIMARY KEY (" + schema.QuoteIdent(col.Name) + ")", Columns: []string{col.Name},
			})
			i += 2
		case "UNIQUE":
			col.Constraint = append(col.Constraint, constraintDef{
				Name: pendingName, Body: "UNIQUE (" + schema.QuoteIdent(col.Name) + ")", Columns: []string{col.Name},
			})
			i++
		case "REFERENCES":
			start := i
			j := i + 1
			if _, next, ok := readName(def, toks, j); ok {
				j = next
			} else {
				return columnDef{}, fmt.Errorf("column %s: REFERENCES without a table", col.Name)
			}
			if j < len(toks) && toks[j].Kind == tokParen {
				j++
			}
			j = skipReferentialActions(toks, j)
			col.Constraint = append(col.Constraint, constraintDef{
				Name:    pendingName,
				Body:    "FOREIGN KEY (" + schema.QuoteIdent(col.Name) + ") " + def[toks[start].Start:toks[j-1].End],
				Columns: []string{col.Name},
			})
			i = j
		case "CHECK":
			if i+1 >= len(toks) || toks[i+1].Kind != tokParen {
				return columnDef{}, fmt.Errorf("column %s: CHECK without an expression", col.Name)
			}
			col.Constraint = append(col.Constraint, constraintDef{
				Name: pendingName, Body: "CHECK " + toks[i+1].Text, Columns: []string{col.Name},
			})
			i += 2
		case "GENERATED":
			j := i + 1
			for j < len(toks) && toks[j].upper() != "AS" {
				j++
			}
			j++
			if j < len(toks) && toks[j].upper() == "IDENTITY" {
				j++
			}
			if j < len(toks) && toks[j].Kind == tokParen {
				j++
			}
			if j < len(toks) && toks[j].upper() == "STORED" {
				j++
			}
			if j > len(toks) {
				return columnDef{}, fmt.Errorf("column %s: incomplete GENERATED clause", col.Name)
			}
			col.Generated = def[toks[i].Start:toks[j-1].End]
			i = j
		case "COLLATE":
			if i+1 >= len(toks) {
				return columnDef{}, fmt.Errorf("column %s: COLLATE without a collation", col.Name)
			}
			col.Collate = toks[i+1].Text
			i += 2
		default:
			return columnDef{}, fmt.Errorf("column %s: unexpected %q", col.Name, toks[i].Text)
		}
		pendingName = ""
	}
	return col, nil
}

// skipReferentialActions consumes ON DELETE/UPDATE, MATCH and deferrability
// clauses following a REFERENCES target.
func skipReferentialActions(toks []token, j int) int {
	for j < len(toks) {
		switch toks[j].upper() {
		case "ON":
			j += 2
			if j < len(toks) {
				switch toks[j].upper() {
				case "SET", "NO":
					j += 2
					if j < len(toks) && toks[j].Kind == tokParen {
						j++
					}
				default:
					j++
				}
			}
		case "MATCH", "INITIALLY":
			j += 2
		case "DEFERRABLE":
			j++
		case "NOT":
			if j+1 < len(toks) && toks[j+1].upper() == "DEFERRABLE" {
				j += 2
				continue
			}
			return j
		default:
			return j
		}
	}
	if j > len(toks) {
		return len(toks)
	}
	return j
}

// render returns the column as an ADD COLUMN clause body. Inline constraints
// are excluded; they become their own descriptors.
func (c columnDef) render() string {
	var b strings.Builder
	b.WriteString(schema.QuoteIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.Collate != "" {
		b.WriteString(" COLLATE " + c.Collate)
	}
	if c.Generated != "" {
		b.WriteString(" " + c.Generated)
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT " + c.Default)
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	return b.String()
}

func (c columnDef) attributes() map[string]string {
	typ, serial := schema.CanonicalType(c.Type)
	attrs := map[string]string{
		schema.AttrType:     typ,
		schema.AttrNullable: schema.Bool(!c.NotNull),
		schema.AttrSerial:   schema.Bool(serial),
	}
	if c.Default != "" {
		attrs[schema.AttrDefault] = schema.CanonicalDefault(c.Default)
	}
	return attrs
}

// parseTableConstraint parses "[CONSTRAINT name] body".
func parseTableConstraint(element string) (constraintDef, error) {
	toks, err := tokenize(element)
	if err != nil {
		return constraintDef{}, err
	}
	var out constraintDef
	i := 0
	if len(toks) > 0 && toks[0].upper() == "CONSTRAINT" {
		if len(toks) < 3 {
			return constraintDef{}, fmt.Errorf("incomplete constraint %q", element)
		}
		out.Name = schema.Ident(toks[1].Text)
		i = 2
	}
	if i >= len(toks) {
		return constraintDef{}, fmt.Errorf("incomplete constraint %q", element)
	}
	out.Body = strings.TrimSpace(element[toks[i].Start:])
	if schema.ConstraintType(out.Body) == "" {
		return constraintDef{}, fmt.Errorf("unsupported constraint %q", element)
	}
	for j := i; j < len(toks); j++ {
		if toks[j].Kind == tokParen {
			if schema.ConstraintType(out.Body) != "c" {
				for _, c := range schema.SplitTopLevel(parenBody(toks[j])) {
					out.Columns = append(out.Columns, schema.Ident(c))
				}
			}
			break
		}
	}
	return out, nil
}

// implicitName chooses the name PostgreSQL would give an unnamed constraint.
func (c constraintDef) implicitName(table string) string {
	switch schema.ConstraintType(c.Body) {
	case "p":
		return objectName(table, "", "pkey")
	case "u":
		return objectName(table, strings.Join(c.Columns, "_"), "key")
	case "f":
		return objectName(table, strings.Join(c.Columns, "_"), "fkey")
	case "x":
		return objectName(table, strings.Join(c.Columns, "_"), "excl")
	default:
		if len(c.Columns) == 1 {
			return objectName(table, c.Columns[0], "check")
		}
		return objectName(table, "", "check")
	}
}
