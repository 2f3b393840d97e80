package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
version: v1
changes:
  - category: Column
    action: drop
    table: Students
    name: legacy_flag
    title: Drop legacy_flag
    reason: replaced by status
    sql: |
      ALTER TABLE students DROP COLUMN legacy_flag;
    preflight:
      - SELECT count(*) FROM students WHERE legacy_flag
  - category: extension
    action: drop
    name: hstore
    sql: DROP EXTENSION hstore
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, m.Changes, 2)

	c, ok := m.Lookup("column", "students", "legacy_flag")
	require.True(t, ok)
	assert.Equal(t, "Drop legacy_flag", c.Title)
	assert.Equal(t, "ALTER TABLE students DROP COLUMN legacy_flag;", c.SQL)
	assert.Equal(t, []string{"SELECT count(*) FROM students WHERE legacy_flag"}, c.Preflight)

	_, ok = m.Lookup("extension", "", "hstore")
	assert.True(t, ok)
	_, ok = m.Lookup("column", "courses", "legacy_flag")
	assert.False(t, ok)

	var nilManifest *Manifest
	_, ok = nilManifest.Lookup("column", "students", "legacy_flag")
	assert.False(t, ok)
}

func TestParseManifestEmpty(t *testing.T) {
	m, err := ParseManifest(nil)
	require.NoError(t, err)
	assert.Empty(t, m.Changes)
}

func TestParseManifestRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing sql":  "changes:\n  - category: column\n    name: a\n",
		"missing name": "changes:\n  - category: column\n    sql: SELECT 1\n",
		"duplicate":    "changes:\n  - {category: column, table: t, name: a, sql: x}\n  - {category: column, table: t, name: a, sql: y}\n",
		"bad yaml":     "changes: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(body))
			assert.Error(t, err)
		})
	}
}
