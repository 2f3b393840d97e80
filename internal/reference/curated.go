package reference

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"tenant_schema_guard/internal/schema"
)

// Manifest holds reviewed SQL for changes that are never applied by the safe
// path. It is versioned together with the reference schema.
type Manifest struct {
	Version string          `yaml:"version"`
	Changes []CuratedChange `yaml:"changes"`
}

// CuratedChange is an operator-reviewed entry for one non-SAFE change.
type CuratedChange struct {
	Category  string   `yaml:"category"`
	Action    string   `yaml:"action"`
	Table     string   `yaml:"table"`
	Name      string   `yaml:"name"`
	Title     string   `yaml:"title"`
	Reason    string   `yaml:"reason"`
	SQL       string   `yaml:"sql"`
	Preflight []string `yaml:"preflight"`
}

type curatedKey struct {
	category string
	table    string
	name     string
}

// ParseManifest decodes a curated manifest. Empty input yields an empty manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return m, nil
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode curated manifest: %w", err)
	}
	seen := map[curatedKey]bool{}
	for i := range m.Changes {
		c := &m.Changes[i]
		c.Category = strings.ToLower(strings.TrimSpace(c.Category))
		c.Action = strings.ToLower(strings.TrimSpace(c.Action))
		c.Table = schema.Ident(c.Table)
		c.Name = schema.Ident(c.Name)
		c.SQL = strings.TrimSpace(c.SQL)
		if c.Category == "" || c.Name == "" {
			return nil, fmt.Errorf("curated manifest entry %d: category and name are required", i+1)
		}
		if c.SQL == "" {
			return nil, fmt.Errorf("curated manifest entry %d (%s %s): sql is required", i+1, c.Category, c.Name)
		}
		k := curatedKey{c.Category, c.Table, c.Name}
		if seen[k] {
			return nil, fmt.Errorf("curated manifest entry %d: duplicate entry for %s %s.%s", i+1, c.Category, c.Table, c.Name)
		}
		seen[k] = true
	}
	return m, nil
}

// Lookup finds the reviewed entry for a change.
func (m *Manifest) Lookup(category, table, name string) (CuratedChange, bool) {
	if m == nil {
		return CuratedChange{}, false
	}
	for _, c := range m.Changes {
		if c.Category == category && c.Name == name && (c.Table == table || c.Table == "") {
			return c, true
		}
	}
	return CuratedChange{}, false
}
