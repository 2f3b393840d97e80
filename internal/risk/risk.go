package risk

// Level is the risk tier a change is assigned at construction time.
type Level string

const (
	Safe        Level = "SAFE"
	Caution     Level = "CAUTION"
	Destructive Level = "DESTRUCTIVE"
)

// Levels lists every tier in ascending risk.
func Levels() []Level {
	return []Level{Safe, Caution, Destructive}
}

func (l Level) Valid() bool {
	switch l {
	case Safe, Caution, Destructive:
		return true
	default:
		return false
	}
}

// Category is the kind of object a change touches.
type Category string

const (
	CategoryExtension  Category = "extension"
	CategoryTable      Category = "table"
	CategoryRLS        Category = "rls"
	CategoryColumn     Category = "column"
	CategoryDefault    Category = "default"
	CategoryConstraint Category = "constraint"
	CategoryIndex      Category = "index"
	CategoryPolicy     Category = "policy"
	CategoryView       Category = "view"
)

var categoryRank = map[Category]int{
	CategoryExtension:  0,
	CategoryTable:      1,
	CategoryRLS:        2,
	CategoryColumn:     3,
	CategoryDefault:    4,
	CategoryConstraint: 5,
	CategoryIndex:      6,
	CategoryPolicy:     7,
	CategoryView:       8,
}

// Rank orders categories so prerequisites come first.
func (c Category) Rank() int {
	if r, ok := categoryRank[c]; ok {
		return r
	}
	return len(categoryRank)
}

// Action is the structural operation a change performs.
type Action string

const (
	ActionCreate  Action = "create"
	ActionEnable  Action = "enable"
	ActionAlter   Action = "alter"
	ActionTighten Action = "tighten"
	ActionReplace Action = "replace"
	ActionDrop    Action = "drop"
	ActionRename  Action = "rename"
)

// Intent tags the only statement shape a SAFE change may render to. The
// executor checks rendered SQL against the pattern of the tag independently.
type Intent string

const (
	IntentNone            Intent = ""
	IntentCreateTable     Intent = "create-table-if-not-exists"
	IntentAddColumn       Intent = "add-column-if-not-exists"
	IntentCreateIndex     Intent = "create-index-if-not-exists"
	IntentEnableRLS       Intent = "enable-row-level-security"
	IntentCreatePolicy    Intent = "create-policy"
	IntentAddConstraint   Intent = "add-constraint"
	IntentCreateExtension Intent = "create-extension-if-not-exists"
	IntentCreateView      Intent = "create-or-replace-view"
)

type rule struct {
	level  Level
	intent Intent
}

type pair struct {
	category Category
	action   Action
}

var policy = map[pair]rule{
	{CategoryTable, ActionCreate}:     {Safe, IntentCreateTable},
	{CategoryColumn, ActionCreate}:    {Safe, IntentAddColumn},
	{CategoryIndex, ActionCreate}:     {Safe, IntentCreateIndex},
	{CategoryRLS, ActionEnable}:       {Safe, IntentEnableRLS},
	{CategoryPolicy, ActionCreate}:    {Safe, IntentCreatePolicy},
	{CategoryExtension, ActionCreate}: {Safe, IntentCreateExtension},
	{CategoryView, ActionCreate}:      {Safe, IntentCreateView},

	{CategoryConstraint, ActionCreate}: {Caution, IntentAddConstraint},
	{CategoryColumn, ActionTighten}:    {Caution, IntentNone},
	{CategoryDefault, ActionAlter}:     {Caution, IntentNone},
	{CategoryPolicy, ActionAlter}:      {Caution, IntentNone},

	{CategoryColumn, ActionAlter}:       {Destructive, IntentNone},
	{CategoryIndex, ActionReplace}:      {Destructive, IntentNone},
	{CategoryConstraint, ActionReplace}: {Destructive, IntentNone},
	{CategoryView, ActionReplace}:       {Destructive, IntentNone},
}

// Classify returns the risk tier for a category and action. Drops, renames
// and any pair without a rule are DESTRUCTIVE.
func Classify(category Category, action Action) Level {
	if action == ActionDrop || action == ActionRename {
		return Destructive
	}
	if r, ok := policy[pair{category, action}]; ok {
		return r.level
	}
	return Destructive
}

// IntentFor returns the statement intent for a pair, if it has one.
func IntentFor(category Category, action Action) (Intent, bool) {
	r, ok := policy[pair{category, action}]
	if !ok || r.intent == IntentNone {
		return IntentNone, false
	}
	return r.intent, true
}
