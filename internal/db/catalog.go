package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"tenant_schema_guard/internal/schema"
)

func loadTables(ctx context.Context, tx pgx.Tx, ns string, snap *schema.Snapshot) error {
	rows, err := tx.Query(ctx, `
SELECT c.relname, c.relrowsecurity
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')`, ns)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var rls bool
		if err := rows.Scan(&name, &rls); err != nil {
			return err
		}
		snap.Put(TableDescriptor(name, rls))
	}
	return rows.Err()
}

func loadColumns(ctx context.Context, tx pgx.Tx, ns string, snap *schema.Snapshot) error {
	rows, err := tx.Query(ctx, `
SELECT c.relname, a.attname, format_type(a.atttypid, a.atttypmod), a.attnotnull, pg_get_expr(d.adbin, d.adrelid)
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE n.nspname = $1 AND c.relkind IN ('r', 'p') AND a.attnum > 0 AND NOT a.attisdropped`, ns)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var table, name, typ string
		var notNull bool
		var def *string
		if err := rows.Scan(&table, &name, &typ, &notNull, &def); err != nil {
			return err
		}
		snap.Put(ColumnDescriptor(table, name, typ, notNull, def))
	}
	return rows.Err()
}

func loadConstraints(ctx context.Context, tx pgx.Tx, ns string, snap *schema.Snapshot) error {
	rows, err := tx.Query(ctx, `
SELECT c.relname, con.conname, pg_get_constraintdef(con.oid)
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND con.contype IN ('p', 'u', 'f', 'c', 'x')`, ns)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var table, name, def string
		if err := rows.Scan(&table, &name, &def); err != nil {
			return err
		}
		snap.Put(schema.Descriptor{
			Kind:       schema.KindConstraint,
			Table:      table,
			Name:       name,
			Attributes: schema.ConstraintAttributes(def),
		})
	}
	return rows.Err()
}

// loadIndexes skips indexes owned by primary key, unique and exclusion
// constraints; those are compared as constraints.
func loadIndexes(ctx context.Context, tx pgx.Tx, ns string, snap *schema.Snapshot) error {
	rows, err := tx.Query(ctx, `
SELECT t.relname, i.relname, pg_get_indexdef(ix.indexrelid)
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = $1
  AND NOT EXISTS (
    SELECT 1 FROM pg_constraint con
    WHERE con.conindid = ix.indexrelid AND con.contype IN ('p', 'u', 'x')
  )`, ns)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var table, name, def string
		if err := rows.Scan(&table, &name, &def); err != nil {
			return err
		}
		d, err := IndexDescriptor(table, name, def)
		if err != nil {
			return err
		}
		snap.Put(d)
	}
	return rows.Err()
}

func loadPolicies(ctx context.Context, tx pgx.Tx, ns string, snap *schema.Snapshot) error {
	rows, err := tx.Query(ctx, `
SELECT tablename, policyname, permissive, roles::text[], cmd, qual, with_check
FROM pg_policies
WHERE schemaname = $1`, ns)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var table, name, permissive, cmd string
		var roles []string
		var qual, check *string
		if err := rows.Scan(&table, &name, &permissive, &roles, &cmd, &qual, &check); err != nil {
			return err
		}
		snap.Put(PolicyDescriptor(table, name, permissive, cmd, roles, qual, check))
	}
	return rows.Err()
}

func loadViews(ctx context.Context, tx pgx.Tx, ns string, snap *schema.Snapshot) error {
	rows, err := tx.Query(ctx, `SELECT viewname FROM pg_views WHERE schemaname = $1`, ns)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		snap.Put(schema.Descriptor{Kind: schema.KindView, Table: name, Name: name})
	}
	return rows.Err()
}

func loadExtensions(ctx context.Context, tx pgx.Tx, _ string, snap *schema.Snapshot) error {
	rows, err := tx.Query(ctx, `SELECT extname FROM pg_extension`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		snap.Put(schema.Descriptor{Kind: schema.KindExtension, Name: name})
	}
	return rows.Err()
}

// TableDescriptor builds the live descriptor of a table.
func TableDescriptor(name string, rls bool) schema.Descriptor {
	return schema.Descriptor{
		Kind:       schema.KindTable,
		Table:      name,
		Name:       name,
		Attributes: map[string]string{schema.AttrRLS: schema.Bool(rls)},
	}
}

// ColumnDescriptor builds the live descriptor of a column from catalog values.
func ColumnDescriptor(table, name, formattedType string, notNull bool, def *string) schema.Descriptor {
	typ, _ := schema.CanonicalType(formattedType)
	attrs := map[string]string{
		schema.AttrType:     typ,
		schema.AttrNullable: schema.Bool(!notNull),
	}
	if def != nil {
		attrs[schema.AttrDefault] = schema.CanonicalDefault(*def)
	}
	return schema.Descriptor{Kind: schema.KindColumn, Table: table, Name: name, Attributes: attrs}
}

// IndexDescriptor builds the live descriptor of an index from pg_get_indexdef.
func IndexDescriptor(table, name, def string) (schema.Descriptor, error) {
	idx, err := schema.ParseIndex(def)
	if err != nil {
		return schema.Descriptor{}, err
	}
	return schema.Descriptor{Kind: schema.KindIndex, Table: table, Name: name, Attributes: idx.Attributes()}, nil
}

// PolicyDescriptor builds the live descriptor of a policy from pg_policies.
func PolicyDescriptor(table, name, permissive, cmd string, roles []string, qual, check *string) schema.Descriptor {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return schema.CanonicalExpr(*s)
	}
	return schema.Descriptor{
		Kind:  schema.KindPolicy,
		Table: table,
		Name:  name,
		Attributes: map[string]string{
			schema.AttrPermissive: strings.ToLower(permissive),
			schema.AttrCommand:    schema.CanonicalCommand(cmd),
			schema.AttrRoles:      schema.CanonicalRoles(roles),
			schema.AttrUsing:      deref(qual),
			schema.AttrCheck:      deref(check),
		},
	}
}
