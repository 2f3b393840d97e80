package reference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_schema_guard/internal/schema"
)

const sampleSchema = `-- canonical tenant schema
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS public.students (
  id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  name text NOT NULL,
  email varchar(255) UNIQUE,
  status text DEFAULT 'active' CHECK (status IN ('active', 'left'))
);

CREATE TABLE courses (
  id bigserial PRIMARY KEY,
  student_id uuid REFERENCES students ON DELETE CASCADE
);

/* indexes and security */
CREATE INDEX IF NOT EXISTS students_name_idx ON students (name);
ALTER TABLE students ENABLE ROW LEVEL SECURITY;
CREATE POLICY tenant_isolation ON students FOR SELECT TO app_user USING (true);

CREATE OR REPLACE FUNCTION touch() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql;
GRANT SELECT ON students TO reporting;
`

func column(t *testing.T, ref *Reference, table, name string) schema.Descriptor {
	t.Helper()
	d, ok := ref.Snapshot.Get(schema.Key{Kind: schema.KindColumn, Table: table, Name: name})
	require.True(t, ok, "column %s.%s", table, name)
	return d
}

func constraint(t *testing.T, ref *Reference, table, name string) schema.Descriptor {
	t.Helper()
	d, ok := ref.Snapshot.Get(schema.Key{Kind: schema.KindConstraint, Table: table, Name: name})
	require.True(t, ok, "constraint %s.%s", table, name)
	return d
}

func TestParseSampleSchema(t *testing.T) {
	ref, err := Parse("v1", sampleSchema)
	require.NoError(t, err)
	assert.Equal(t, "v1", ref.Version)
	assert.Len(t, ref.Hash, 64)

	assert.True(t, ref.Snapshot.Has(schema.Key{Kind: schema.KindExtension, Name: "pgcrypto"}))
	assert.Equal(t, []string{"courses", "students"}, ref.Snapshot.Tables())

	students, _ := ref.Snapshot.Table("students")
	assert.Equal(t, "true", students.Attr(schema.AttrRLS))
	assert.Contains(t, students.Source, "CREATE TABLE IF NOT EXISTS students")

	id := column(t, ref, "students", "id")
	assert.Equal(t, "uuid", id.Attr(schema.AttrType))
	assert.Equal(t, "false", id.Attr(schema.AttrNullable))
	assert.True(t, id.Inline)

	assert.Equal(t, "false", column(t, ref, "students", "name").Attr(schema.AttrNullable))
	assert.Equal(t, "character varying(255)", column(t, ref, "students", "email").Attr(schema.AttrType))
	assert.Equal(t, "'active'", column(t, ref, "students", "status").Attr(schema.AttrDefault))

	courseID := column(t, ref, "courses", "id")
	assert.Equal(t, "bigint", courseID.Attr(schema.AttrType))
	assert.Equal(t, "true", courseID.Attr(schema.AttrSerial))

	assert.Equal(t, "p", constraint(t, ref, "students", "students_pkey").Attr(schema.AttrConType))
	assert.Equal(t, "u", constraint(t, ref, "students", "students_email_key").Attr(schema.AttrConType))
	assert.Equal(t, "c", constraint(t, ref, "students", "students_status_check").Attr(schema.AttrConType))

	fk := constraint(t, ref, "courses", "courses_student_id_fkey")
	assert.Equal(t, "f", fk.Attr(schema.AttrConType))
	assert.Contains(t, fk.Source, "REFERENCES students(id) ON DELETE CASCADE")

	idx, ok := ref.Snapshot.Get(schema.Key{Kind: schema.KindIndex, Table: "students", Name: "students_name_idx"})
	require.True(t, ok)
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS students_name_idx ON students USING btree (name)", idx.Source)

	policy, ok := ref.Snapshot.Get(schema.Key{Kind: schema.KindPolicy, Table: "students", Name: "tenant_isolation"})
	require.True(t, ok)
	assert.Equal(t, "select", policy.Attr(schema.AttrCommand))
	assert.Equal(t, "app_user", policy.Attr(schema.AttrRoles))
	assert.Equal(t, "true", policy.Attr(schema.AttrUsing))
	assert.Equal(t, "permissive", policy.Attr(schema.AttrPermissive))

	require.Len(t, ref.Skipped, 2)
	assert.Contains(t, ref.Skipped[0].Statement, "FUNCTION touch()")
	assert.Contains(t, ref.Skipped[1].Statement, "GRANT SELECT")
	assert.Equal(t, 22, ref.Skipped[1].Line)
}

func TestTablesPrecedeTheirObjects(t *testing.T) {
	ref, err := Parse("v1", sampleSchema)
	require.NoError(t, err)
	students, _ := ref.Snapshot.Table("students")
	idx, _ := ref.Snapshot.Get(schema.Key{Kind: schema.KindIndex, Table: "students", Name: "students_name_idx"})
	assert.Less(t, students.Ordinal, column(t, ref, "students", "name").Ordinal)
	assert.Less(t, column(t, ref, "students", "name").Ordinal, idx.Ordinal)
}

func TestHashTracksInputs(t *testing.T) {
	a, err := Parse("v1", sampleSchema)
	require.NoError(t, err)
	b, err := Parse("v1", sampleSchema)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)

	c, err := Parse("v2", sampleSchema)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, c.Hash)

	manifest := []byte("changes:\n  - category: column\n    action: drop\n    table: students\n    name: legacy\n    sql: ALTER TABLE students DROP COLUMN legacy\n")
	d, err := Build("v1", []byte(sampleSchema), manifest)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, d.Hash)
}

func TestAlterTableDeclarations(t *testing.T) {
	ref, err := Parse("v1", `
CREATE TABLE t (id int);
ALTER TABLE t ADD COLUMN IF NOT EXISTS note text;
ALTER TABLE t ALTER COLUMN note SET DEFAULT 'x', ALTER COLUMN note SET NOT NULL;
ALTER TABLE t ADD CONSTRAINT t_note_len CHECK (length(note) < 10);
ALTER TABLE t OWNER TO admin;
`)
	require.NoError(t, err)
	note := column(t, ref, "t", "note")
	assert.False(t, note.Inline)
	assert.Equal(t, "'x'", note.Attr(schema.AttrDefault))
	assert.Equal(t, "false", note.Attr(schema.AttrNullable))
	assert.Equal(t, "c", constraint(t, ref, "t", "t_note_len").Attr(schema.AttrConType))
	require.Len(t, ref.Skipped, 1)
	assert.Equal(t, "ALTER TABLE declares no compared object", ref.Skipped[0].Reason)
}

func TestDuplicateDeclarationsAreSkipped(t *testing.T) {
	ref, err := Parse("v1", `
CREATE TABLE t (id int);
CREATE TABLE IF NOT EXISTS t (id int, extra text);
ALTER TABLE t ADD COLUMN id int;
`)
	require.NoError(t, err)
	assert.Len(t, ref.Skipped, 2)
	assert.False(t, ref.Snapshot.Has(schema.Key{Kind: schema.KindColumn, Table: "t", Name: "extra"}))
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"undeclared table":      "CREATE INDEX i ON missing (a);",
		"no objects":            "GRANT SELECT ON t TO r;",
		"unterminated literal":  "CREATE TABLE t (a text DEFAULT 'x);",
		"unterminated comment":  "CREATE TABLE t (a int); /* open",
		"fk without pk":         "CREATE TABLE a (x int); CREATE TABLE b (a_x int REFERENCES a);",
		"inheritance":           "CREATE TABLE p (id int); CREATE TABLE c (id int) INHERITS (p);",
		"unknown column merge":  "CREATE TABLE t (id int); ALTER TABLE t ALTER COLUMN nope SET NOT NULL;",
		"column without a type": "CREATE TABLE t (id);",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("v1", text)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParse)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Positive(t, pe.Line)
		})
	}
}

func TestParseErrorLine(t *testing.T) {
	_, err := Parse("v1", "CREATE TABLE t (id int);\n\nCREATE INDEX i ON missing (a);")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Line)
	assert.Contains(t, pe.Error(), "missing is not declared")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.sql")
	require.NoError(t, os.WriteFile(schemaPath, []byte(sampleSchema), 0o600))

	ref, err := LoadFile(schemaPath, "v9", "")
	require.NoError(t, err)
	assert.Equal(t, "v9", ref.Version)
	assert.Empty(t, ref.Curated.Changes)

	_, err = LoadFile(filepath.Join(dir, "missing.sql"), "v9", "")
	assert.Error(t, err)
	_, err = LoadFile(schemaPath, "v9", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
