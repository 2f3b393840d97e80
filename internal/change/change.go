package change

import (
	"sort"

	"github.com/google/uuid"

	"tenant_schema_guard/internal/risk"
)

// idNamespace scopes change ids so equal (category, action, table, name)
// tuples always produce the same id.
var idNamespace = uuid.MustParse("3b0f7c52-1d8e-4f6a-9c21-7e5d40a8b913")

// Object identifies the table and object a change targets. For table-level
// objects Name equals Table; extensions have an empty Table.
type Object struct {
	Table string `json:"table"`
	Name  string `json:"name"`
}

// Change is one reference-vs-live divergence. It is never mutated after the
// diff returns it.
type Change struct {
	ID         string        `json:"change_id"`
	Category   risk.Category `json:"category"`
	Action     risk.Action   `json:"action"`
	Object     Object        `json:"object"`
	Level      risk.Level    `json:"risk_level"`
	Intent     risk.Intent   `json:"intent,omitempty"`
	Title      string        `json:"title"`
	Reason     string        `json:"reason"`
	SQL        string        `json:"sql_preview"`
	Curated    bool          `json:"curated"`
	Preflight  []string      `json:"preflight,omitempty"`
	ApplyOrder int           `json:"apply_order"`
}

// New builds a change with its deterministic id, risk level and intent.
func New(category risk.Category, action risk.Action, obj Object) Change {
	c := Change{
		ID:       ID(category, action, obj),
		Category: category,
		Action:   action,
		Object:   obj,
		Level:    risk.Classify(category, action),
	}
	if intent, ok := risk.IntentFor(category, action); ok {
		c.Intent = intent
	}
	return c
}

// ID derives the name-based change id.
func ID(category risk.Category, action risk.Action, obj Object) string {
	name := string(category) + "\x00" + string(action) + "\x00" + obj.Table + "\x00" + obj.Name
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

// Sort orders changes for presentation: table, object name, then category.
func Sort(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		return presentationLess(changes[i], changes[j])
	})
}

func presentationLess(a, b Change) bool {
	if a.Object.Table != b.Object.Table {
		return a.Object.Table < b.Object.Table
	}
	if a.Object.Name != b.Object.Name {
		return a.Object.Name < b.Object.Name
	}
	if a.Category.Rank() != b.Category.Rank() {
		return a.Category.Rank() < b.Category.Rank()
	}
	return a.Action < b.Action
}

// InApplyOrder returns a copy ordered for execution: reference declaration
// order first so tables precede their columns, indexes and policies.
func InApplyOrder(changes []Change) []Change {
	out := append([]Change(nil), changes...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ApplyOrder != b.ApplyOrder {
			return a.ApplyOrder < b.ApplyOrder
		}
		if a.Category.Rank() != b.Category.Rank() {
			return a.Category.Rank() < b.Category.Rank()
		}
		return presentationLess(a, b)
	})
	return out
}

// Tally counts changes per risk level. Every level is present in the result.
func Tally(changes []Change) map[risk.Level]int {
	out := make(map[risk.Level]int, 3)
	for _, l := range risk.Levels() {
		out[l] = 0
	}
	for _, c := range changes {
		out[c.Level]++
	}
	return out
}

// Filter returns the changes at the given levels, preserving order.
func Filter(changes []Change, levels ...risk.Level) []Change {
	want := map[risk.Level]bool{}
	for _, l := range levels {
		want[l] = true
	}
	var out []Change
	for _, c := range changes {
		if want[c.Level] {
			out = append(out, c)
		}
	}
	return out
}
