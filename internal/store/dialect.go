package store

import (
	"fmt"
	"strings"

	"github.com/roach88/unitwork/internal/schema"
)

// Dialect holds the SQL differences between supported backends.
type Dialect struct {
	Name   string
	Driver string

	// Returning reports whether INSERT ... RETURNING is used for generated
	// keys instead of LastInsertId.
	Returning bool

	placeholder func(n int) string
	types       map[string]string
	autoKey     string
	inlineFKs   bool
}

// SQLite uses github.com/mattn/go-sqlite3.
var SQLite = Dialect{
	Name:        "sqlite",
	Driver:      "sqlite3",
	placeholder: func(int) string { return "?" },
	types: map[string]string{
		schema.TypeInteger: "INTEGER",
		schema.TypeReal:    "REAL",
		schema.TypeText:    "TEXT",
		schema.TypeBoolean: "INTEGER",
		schema.TypeBlob:    "BLOB",
	},
	autoKey:   "INTEGER PRIMARY KEY AUTOINCREMENT",
	inlineFKs: true,
}

// Postgres uses the pgx database/sql driver.
var Postgres = Dialect{
	Name:        "postgres",
	Driver:      "pgx",
	Returning:   true,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	types: map[string]string{
		schema.TypeInteger: "BIGINT",
		schema.TypeReal:    "DOUBLE PRECISION",
		schema.TypeText:    "TEXT",
		schema.TypeBoolean: "BOOLEAN",
		schema.TypeBlob:    "BYTEA",
	},
	autoKey: "BIGSERIAL PRIMARY KEY",
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unknown dialect %q (want sqlite or postgres)", name)
	}
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Placeholder returns the n-th (1-based) parameter marker.
func (d Dialect) Placeholder(n int) string {
	return d.placeholder(n)
}

func (d Dialect) quoteAll(idents []string) string {
	out := make([]string, len(idents))
	for i, s := range idents {
		out[i] = d.Quote(s)
	}
	return strings.Join(out, ", ")
}
