package store

import (
	"fmt"
	"strings"

	"github.com/roach88/unitwork/internal/orm"
	"github.com/roach88/unitwork/internal/schema"
)

// DDL returns the statements creating every table of reg, in role order.
//
// SQLite declares foreign keys inline. Postgres adds them after all tables
// exist, so those statements are only valid against a fresh database.
func DDL(d Dialect, reg *schema.Registry) []string {
	var (
		creates []string
		alters  []string
	)
	for _, e := range reg.Tables() {
		creates = append(creates, createTable(d, reg, e))
		for _, idx := range e.Indexes {
			name := fmt.Sprintf("%s_%s_key", e.Table, strings.Join(idx, "_"))
			creates = append(creates, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
				d.Quote(name), d.Quote(e.Table), d.quoteAll(idx)))
		}
		if d.inlineFKs {
			continue
		}
		for _, fk := range reg.ForeignKeys(e.Role) {
			alters = append(alters, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
				d.Quote(e.Table),
				d.Quote(fmt.Sprintf("%s_%s_fkey", e.Table, strings.Join(fk.Columns, "_"))),
				d.quoteAll(fk.Columns), d.Quote(fk.Table), d.quoteAll(fk.References)))
		}
	}
	return append(creates, alters...)
}

func createTable(d Dialect, reg *schema.Registry, e *orm.Entity) string {
	auto := e.Keys == orm.KeyAuto && len(e.PrimaryKey) == 1

	lines := make([]string, 0, len(e.Columns)+2)
	for _, col := range e.Columns {
		if auto && col == e.PrimaryKey[0] {
			lines = append(lines, fmt.Sprintf("%s %s", d.Quote(col), d.autoKey))
			continue
		}
		def := fmt.Sprintf("%s %s", d.Quote(col), d.types[reg.ColumnType(e.Role, col)])
		if e.IsPrimary(col) {
			def += " NOT NULL"
		}
		lines = append(lines, def)
	}
	if !auto {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", d.quoteAll(e.PrimaryKey)))
	}
	if d.inlineFKs {
		for _, fk := range reg.ForeignKeys(e.Role) {
			lines = append(lines, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
				d.quoteAll(fk.Columns), d.Quote(fk.Table), d.quoteAll(fk.References)))
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", d.Quote(e.Table), strings.Join(lines, ",\n  "))
}
