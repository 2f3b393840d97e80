package diff

import (
	"fmt"
	"strings"

	"tenant_schema_guard/internal/change"
	"tenant_schema_guard/internal/reference"
	"tenant_schema_guard/internal/risk"
	"tenant_schema_guard/internal/schema"
)

var (
	indexAttrs  = []string{schema.AttrUnique, schema.AttrMethod, schema.AttrKeys, schema.AttrInclude, schema.AttrWhere}
	policyAttrs = []string{schema.AttrPermissive, schema.AttrCommand, schema.AttrRoles, schema.AttrUsing, schema.AttrCheck}
	conAttrs    = []string{schema.AttrConType, schema.AttrDefinition}
)

// Compare diffs the reference snapshot against a live snapshot. Objects that
// exist only live are never reported. The result is sorted by table, object
// name and category and is identical for identical inputs.
func Compare(ref, live *schema.Snapshot, curated *reference.Manifest) []change.Change {
	var out []change.Change
	absentTables := map[string]bool{}

	emit := func(c change.Change, ordinal int) {
		c.ApplyOrder = ordinal
		if c.Level != risk.Safe {
			c = applyCurated(c, curated)
		}
		out = append(out, c)
	}

	for _, want := range ref.Objects() {
		have, present := live.Get(want.Key())
		switch want.Kind {
		case schema.KindExtension:
			if !present {
				emit(created(risk.CategoryExtension, want, "Create extension "+want.Name), want.Ordinal)
			}

		case schema.KindTable:
			if !present {
				absentTables[want.Name] = true
				emit(created(risk.CategoryTable, want, "Create table "+want.Name), want.Ordinal)
			}
			if want.Attr(schema.AttrRLS) == "true" && (!present || have.Attr(schema.AttrRLS) != "true") {
				c := change.New(risk.CategoryRLS, risk.ActionEnable, objectOf(want))
				c.Title = "Enable row level security on " + want.Name
				c.Reason = "row level security is enabled in the reference but not on the live table"
				c.SQL = "ALTER TABLE " + schema.QuoteIdent(want.Name) + " ENABLE ROW LEVEL SECURITY"
				emit(c, want.Ordinal)
			}

		case schema.KindColumn:
			if want.Inline && absentTables[want.Table] {
				continue
			}
			if !present {
				emit(created(risk.CategoryColumn, want, "Add column "+want.Table+"."+want.Name), want.Ordinal)
				continue
			}
			for _, c := range compareColumn(want, have) {
				emit(c, want.Ordinal)
			}

		case schema.KindConstraint:
			if want.Inline && absentTables[want.Table] {
				continue
			}
			if !present {
				emit(created(risk.CategoryConstraint, want, "Add constraint "+want.Name+" on "+want.Table), want.Ordinal)
				continue
			}
			if field := firstDifference(want, have, conAttrs); field != "" {
				c := change.New(risk.CategoryConstraint, risk.ActionReplace, objectOf(want))
				c.Title = "Replace constraint " + want.Name + " on " + want.Table
				c.Reason = divergence(want, have, field)
				c.SQL = fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s, ADD CONSTRAINT %s %s",
					schema.QuoteIdent(want.Table), schema.QuoteIdent(want.Name), schema.QuoteIdent(want.Name), constraintBody(want))
				emit(c, want.Ordinal)
			}

		case schema.KindIndex:
			if !present {
				emit(created(risk.CategoryIndex, want, "Create index "+want.Name+" on "+want.Table), want.Ordinal)
				continue
			}
			if field := firstDifference(want, have, indexAttrs); field != "" {
				c := change.New(risk.CategoryIndex, risk.ActionReplace, objectOf(want))
				c.Title = "Replace index " + want.Name + " on " + want.Table
				c.Reason = divergence(want, have, field)
				c.SQL = "DROP INDEX IF EXISTS " + schema.QuoteIdent(want.Name) + ";\n" + want.Source
				emit(c, want.Ordinal)
			}

		case schema.KindPolicy:
			if !present {
				emit(created(risk.CategoryPolicy, want, "Create policy "+want.Name+" on "+want.Table), want.Ordinal)
				continue
			}
			if field := firstDifference(want, have, policyAttrs); field != "" {
				c := change.New(risk.CategoryPolicy, risk.ActionAlter, objectOf(want))
				c.Title = "Update policy " + want.Name + " on " + want.Table
				c.Reason = divergence(want, have, field)
				c.SQL = "DROP POLICY IF EXISTS " + schema.QuoteIdent(want.Name) + " ON " + schema.QuoteIdent(want.Table) + ";\n" + want.Source
				emit(c, want.Ordinal)
			}

		case schema.KindView:
			if !present {
				emit(created(risk.CategoryView, want, "Create view "+want.Name), want.Ordinal)
			}
		}
	}

	change.Sort(out)
	return out
}

func compareColumn(want, have schema.Descriptor) []change.Change {
	var out []change.Change
	obj := objectOf(want)
	table, col := schema.QuoteIdent(want.Table), schema.QuoteIdent(want.Name)

	if want.Attr(schema.AttrType) != have.Attr(schema.AttrType) {
		c := change.New(risk.CategoryColumn, risk.ActionAlter, obj)
		c.Title = "Change type of " + want.Table + "." + want.Name
		c.Reason = divergence(want, have, schema.AttrType)
		rawType := want.Raw[schema.AttrType]
		if rawType == "" {
			rawType = want.Attr(schema.AttrType)
		}
		c.SQL = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", table, col, rawType, col, rawType)
		out = append(out, c)
	}

	if want.Attr(schema.AttrNullable) == "false" && have.Attr(schema.AttrNullable) == "true" {
		c := change.New(risk.CategoryColumn, risk.ActionTighten, obj)
		c.Title = "Set NOT NULL on " + want.Table + "." + want.Name
		c.Reason = "column is nullable live but NOT NULL in the reference; existing NULL rows block the change"
		c.SQL = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", table, col)
		out = append(out, c)
	}

	wantDefault := want.Attr(schema.AttrDefault)
	if wantDefault != "" && want.Attr(schema.AttrSerial) != "true" && wantDefault != have.Attr(schema.AttrDefault) {
		c := change.New(risk.CategoryDefault, risk.ActionAlter, obj)
		c.Title = "Change default of " + want.Table + "." + want.Name
		c.Reason = divergence(want, have, schema.AttrDefault)
		c.SQL = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", table, col, want.Raw[schema.AttrDefault])
		out = append(out, c)
	}
	return out
}

func created(category risk.Category, want schema.Descriptor, title string) change.Change {
	c := change.New(category, risk.ActionCreate, objectOf(want))
	c.Title = title
	c.Reason = fmt.Sprintf("%s is declared in the reference but missing live", want.Kind)
	c.SQL = want.Source
	return c
}

func objectOf(d schema.Descriptor) change.Object {
	return change.Object{Table: d.Table, Name: d.Name}
}

// firstDifference returns the first compared attribute that differs.
func firstDifference(want, have schema.Descriptor, attrs []string) string {
	for _, a := range attrs {
		if want.Attr(a) != have.Attr(a) {
			return a
		}
	}
	return ""
}

func divergence(want, have schema.Descriptor, attr string) string {
	return fmt.Sprintf("%s differs: live %q, reference %q", attr, have.Attr(attr), want.Attr(attr))
}

// constraintBody strips the ALTER TABLE ... ADD CONSTRAINT name prefix of the
// constraint source.
func constraintBody(d schema.Descriptor) string {
	prefix := "ALTER TABLE " + schema.QuoteIdent(d.Table) + " ADD CONSTRAINT " + schema.QuoteIdent(d.Name) + " "
	return strings.TrimPrefix(d.Source, prefix)
}

func applyCurated(c change.Change, curated *reference.Manifest) change.Change {
	entry, ok := curated.Lookup(string(c.Category), c.Object.Table, c.Object.Name)
	if !ok || (entry.Action != "" && entry.Action != string(c.Action)) {
		return c
	}
	if entry.Title != "" {
		c.Title = entry.Title
	}
	if entry.Reason != "" {
		c.Reason = entry.Reason
	}
	c.SQL = entry.SQL
	c.Preflight = append([]string(nil), entry.Preflight...)
	c.Curated = true
	return c
}

// Describe returns a human-readable summary of the changes. One column can
// diverge in type, nullability and default at once; such changes are
// numbered against their shared object.
func Describe(changes []change.Change) string {
	if len(changes) == 0 {
		return "schemas match"
	}
	total := map[change.Object]int{}
	for _, c := range changes {
		total[c.Object]++
	}
	seen := map[change.Object]int{}
	lines := make([]string, 0, len(changes))
	for _, c := range changes {
		line := fmt.Sprintf("[%s] %s: %s", c.Level, c.Title, c.Reason)
		if n := total[c.Object]; n > 1 {
			seen[c.Object]++
			line += fmt.Sprintf(" (%d of %d on %s)", seen[c.Object], n, objectLabel(c.Object))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func objectLabel(o change.Object) string {
	if o.Table == "" || o.Table == o.Name {
		return o.Name
	}
	return o.Table + "." + o.Name
}
