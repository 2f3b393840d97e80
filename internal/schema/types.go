package schema

import (
	"sort"
	"strings"
)

// Kind identifies the catalog object a descriptor describes.
type Kind string

const (
	KindExtension  Kind = "extension"
	KindTable      Kind = "table"
	KindColumn     Kind = "column"
	KindConstraint Kind = "constraint"
	KindIndex      Kind = "index"
	KindPolicy     Kind = "policy"
	KindView       Kind = "view"
)

// Attribute keys shared by the reference loader and the live introspector.
const (
	AttrType       = "type"
	AttrNullable   = "nullable"
	AttrDefault    = "default"
	AttrSerial     = "serial"
	AttrRLS        = "rls"
	AttrUnique     = "unique"
	AttrMethod     = "method"
	AttrKeys       = "keys"
	AttrInclude    = "include"
	AttrWhere      = "where"
	AttrConType    = "contype"
	AttrDefinition = "definition"
	AttrCommand    = "command"
	AttrRoles      = "roles"
	AttrUsing      = "using"
	AttrCheck      = "check"
	AttrPermissive = "permissive"
)

// Key identifies an object by identity, never by ordinal position.
type Key struct {
	Kind  Kind
	Table string
	Name  string
}

func (k Key) String() string {
	if k.Table == "" || k.Table == k.Name {
		return string(k.Kind) + ":" + k.Name
	}
	return string(k.Kind) + ":" + k.Table + "." + k.Name
}

// Descriptor is the normalized shape both sides of a diff are reduced to.
// Attributes hold canonical values only; Source carries the reference DDL that
// would create the object and is empty for introspected objects. Raw keeps
// declared text (column type and default) needed to render ALTER statements.
// Inline marks columns and constraints declared inside their table's CREATE
// TABLE body.
type Descriptor struct {
	Kind       Kind              `json:"kind"`
	Table      string            `json:"table"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Raw        map[string]string `json:"raw,omitempty"`
	Source     string            `json:"source,omitempty"`
	Ordinal    int               `json:"ordinal,omitempty"`
	Inline     bool              `json:"inline,omitempty"`
}

func (d Descriptor) Key() Key {
	return Key{Kind: d.Kind, Table: d.Table, Name: d.Name}
}

// Attr returns the named attribute or the empty string.
func (d Descriptor) Attr(name string) string {
	if d.Attributes == nil {
		return ""
	}
	return d.Attributes[name]
}

// Snapshot is a set of descriptors for one namespace.
type Snapshot struct {
	Namespace string
	objects   map[Key]Descriptor
}

func NewSnapshot(namespace string) *Snapshot {
	return &Snapshot{Namespace: namespace, objects: map[Key]Descriptor{}}
}

// Put inserts or replaces a descriptor.
func (s *Snapshot) Put(d Descriptor) {
	if d.Attributes == nil {
		d.Attributes = map[string]string{}
	}
	s.objects[d.Key()] = d
}

func (s *Snapshot) Get(k Key) (Descriptor, bool) {
	d, ok := s.objects[k]
	return d, ok
}

func (s *Snapshot) Has(k Key) bool {
	_, ok := s.objects[k]
	return ok
}

func (s *Snapshot) Len() int {
	return len(s.objects)
}

// Table returns the table descriptor by name.
func (s *Snapshot) Table(name string) (Descriptor, bool) {
	return s.Get(Key{Kind: KindTable, Table: name, Name: name})
}

// Objects returns every descriptor ordered by table, then name, then kind.
func (s *Snapshot) Objects() []Descriptor {
	out := make([]Descriptor, 0, len(s.objects))
	for _, d := range s.objects {
		out = append(out, d)
	}
	SortDescriptors(out)
	return out
}

// OfKind returns descriptors of one kind in Objects order.
func (s *Snapshot) OfKind(kind Kind) []Descriptor {
	var out []Descriptor
	for _, d := range s.Objects() {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Tables lists table names in sorted order.
func (s *Snapshot) Tables() []string {
	var names []string
	for k := range s.objects {
		if k.Kind == KindTable {
			names = append(names, k.Name)
		}
	}
	sort.Strings(names)
	return names
}

var kindRank = map[Kind]int{
	KindExtension:  0,
	KindTable:      1,
	KindColumn:     2,
	KindConstraint: 3,
	KindIndex:      4,
	KindPolicy:     5,
	KindView:       6,
}

// Rank orders kinds so that prerequisites come first.
func (k Kind) Rank() int {
	if r, ok := kindRank[k]; ok {
		return r
	}
	return len(kindRank)
}

// SortDescriptors orders descriptors by table, name, then kind rank.
func SortDescriptors(ds []Descriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Kind.Rank() < b.Kind.Rank()
	})
}

// Ident normalizes an identifier the way PostgreSQL folds it: quoted names keep
// their case, unquoted names are lower-cased. Schema qualification is dropped.
func Ident(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parts := splitQualified(raw)
	last := strings.TrimSpace(parts[len(parts)-1])
	if len(last) >= 2 && last[0] == '"' && last[len(last)-1] == '"' {
		return strings.ReplaceAll(last[1:len(last)-1], `""`, `"`)
	}
	return strings.ToLower(last)
}

func splitQualified(raw string) []string {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range raw {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case r == '.' && !quoted:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	parts = append(parts, current.String())
	return parts
}

// QuoteIdent renders an identifier for DDL, quoting only when needed.
func QuoteIdent(name string) string {
	if name != "" && name == strings.ToLower(name) && isPlainIdent(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isPlainIdent(name string) bool {
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9', r == '$':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
