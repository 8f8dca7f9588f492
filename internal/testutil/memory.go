package testutil

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/unitwork/internal/heap"
	"github.com/roach88/unitwork/internal/orm"
	"github.com/roach88/unitwork/internal/schema"
)

var (
	// ErrInjected is the default error of a failure injected with FailAt.
	ErrInjected = errors.New("injected backend failure")

	// ErrDuplicateKey is returned when an insert reuses a primary key.
	ErrDuplicateKey = errors.New("duplicate primary key")

	// ErrForeignKey is returned when a write breaks a foreign key.
	ErrForeignKey = errors.New("foreign key violation")
)

var _ orm.Executor = (*MemoryDB)(nil)

// Row is one stored row.
type Row map[string]any

type foreignKey struct {
	columns    []string
	table      string
	references []string
}

type table struct {
	pk      []string
	rows    []Row
	seq     int64
	foreign []foreignKey
}

func (t *table) clone() *table {
	cp := &table{pk: t.pk, seq: t.seq, foreign: t.foreign, rows: make([]Row, len(t.rows))}
	for i, r := range t.rows {
		cp.rows[i] = maps.Clone(r)
	}
	return cp
}

// MemoryDB is an in-memory relational store with primary and foreign key
// checks, used to verify command ordering without a database.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryDB struct {
	mu     sync.Mutex
	tables map[string]*table
}

// NewMemoryDB creates an empty database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{tables: make(map[string]*table)}
}

// Define creates a table for every table-owning role of reg, with its
// foreign keys.
func (db *MemoryDB) Define(reg *schema.Registry) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, e := range reg.Tables() {
		t := &table{pk: e.PrimaryKey}
		for _, fk := range reg.ForeignKeys(e.Role) {
			t.foreign = append(t.foreign, foreignKey{columns: fk.Columns, table: fk.Table, references: fk.References})
		}
		db.tables[e.Table] = t
	}
}

// Rows returns a copy of the rows of table in insertion order.
func (db *MemoryDB) Rows(name string) []Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[name]
	if !ok {
		return nil
	}
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = maps.Clone(r)
	}
	return out
}

// Seed inserts a row directly, bypassing foreign key checks.
func (db *MemoryDB) Seed(name string, row Row) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.table(name)
	r := normalizeRow(row)
	t.rows = append(t.rows, r)
	if len(t.pk) == 1 {
		if id, ok := r[t.pk[0]].(int64); ok && id > t.seq {
			t.seq = id
		}
	}
}

func (db *MemoryDB) table(name string) *table {
	t, ok := db.tables[name]
	if !ok {
		t = &table{pk: []string{"id"}}
		db.tables[name] = t
	}
	return t
}

func (db *MemoryDB) snapshot() map[string]*table {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := make(map[string]*table, len(db.tables))
	for name, t := range db.tables {
		cp[name] = t.clone()
	}
	return cp
}

func (db *MemoryDB) restore(tables map[string]*table) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables = tables
}

// Insert implements orm.Executor.
func (db *MemoryDB) Insert(_ context.Context, name string, columns []string, values []any, returning string) (any, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.table(name)

	row := make(Row, len(columns)+1)
	for i, c := range columns {
		row[c] = heap.Normalize(values[i])
	}
	var id any
	if returning != "" {
		id = t.seq + 1
		row[returning] = id
	}
	if db.find(t, keyOf(t.pk, row)) >= 0 {
		return nil, fmt.Errorf("insert %s: %w", name, ErrDuplicateKey)
	}
	if err := db.checkReferences(t, row); err != nil {
		return nil, fmt.Errorf("insert %s: %w", name, err)
	}
	if returning != "" {
		t.seq++
	}
	t.rows = append(t.rows, row)
	return id, nil
}

// Update implements orm.Executor.
func (db *MemoryDB) Update(_ context.Context, name string, set, where map[string]any) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.table(name)

	var n int64
	for i, r := range t.rows {
		if !matches(r, where) {
			continue
		}
		next := maps.Clone(r)
		for k, v := range set {
			next[k] = heap.Normalize(v)
		}
		if err := db.checkReferences(t, next); err != nil {
			return n, fmt.Errorf("update %s: %w", name, err)
		}
		t.rows[i] = next
		n++
	}
	return n, nil
}

// Delete implements orm.Executor.
func (db *MemoryDB) Delete(_ context.Context, name string, where map[string]any) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.table(name)

	var (
		kept []Row
		n    int64
	)
	for _, r := range t.rows {
		if !matches(r, where) {
			kept = append(kept, r)
			continue
		}
		if ref := db.referencedBy(name, r); ref != "" {
			return 0, fmt.Errorf("delete %s: row still referenced by %s: %w", name, ref, ErrForeignKey)
		}
		n++
	}
	t.rows = kept
	return n, nil
}

func (db *MemoryDB) find(t *table, key map[string]any) int {
	if len(key) == 0 {
		return -1
	}
	for i, r := range t.rows {
		if matches(r, key) {
			return i
		}
	}
	return -1
}

func (db *MemoryDB) checkReferences(t *table, row Row) error {
	for _, fk := range t.foreign {
		key := make(map[string]any, len(fk.columns))
		for i, c := range fk.columns {
			if row[c] == nil {
				key = nil
				break
			}
			key[fk.references[i]] = row[c]
		}
		if key == nil {
			continue
		}
		target, ok := db.tables[fk.table]
		if !ok || db.find(target, key) < 0 {
			return fmt.Errorf("%s(%s) not found: %w", fk.table, strings.Join(fk.columns, ","), ErrForeignKey)
		}
	}
	return nil
}

func (db *MemoryDB) referencedBy(name string, row Row) string {
	for _, other := range slices.Sorted(maps.Keys(db.tables)) {
		t := db.tables[other]
		for _, fk := range t.foreign {
			if fk.table != name {
				continue
			}
			key := make(map[string]any, len(fk.columns))
			for i, c := range fk.columns {
				key[c] = row[fk.references[i]]
			}
			for _, r := range t.rows {
				if matches(r, key) {
					return other
				}
			}
		}
	}
	return ""
}

func keyOf(pk []string, row Row) map[string]any {
	key := make(map[string]any, len(pk))
	for _, c := range pk {
		if row[c] == nil {
			return nil
		}
		key[c] = row[c]
	}
	return key
}

func matches(r Row, where map[string]any) bool {
	for k, v := range where {
		if !heap.Equal(r[k], v) {
			return false
		}
	}
	return true
}

func normalizeRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = heap.Normalize(v)
	}
	return out
}
