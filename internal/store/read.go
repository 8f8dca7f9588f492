package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/unitwork/internal/heap"
	"github.com/roach88/unitwork/internal/mapper"
	"github.com/roach88/unitwork/internal/orm"
)

// Select returns the rows of e's table matching where, ordered by primary
// key. Values are normalized: integers as int64, text as string.
//
// Returns an empty slice (not nil) if no rows match.
func (s *Store) Select(ctx context.Context, e *orm.Entity, where map[string]any) ([]map[string]any, error) {
	d := s.dialect
	ex := &Executor{q: s.db, dialect: d}
	cond, args := ex.where(where, nil)

	order := make([]string, len(e.PrimaryKey))
	for i, pk := range e.PrimaryKey {
		order[i] = d.Quote(pk) + " ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		d.quoteAll(e.Columns), d.Quote(e.Table), cond, strings.Join(order, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.Table, err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(e.Columns))
		ptrs := make([]any, len(e.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", e.Table, err)
		}
		row := make(map[string]any, len(e.Columns))
		for i, col := range e.Columns {
			row[col] = normalize(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", e.Table, err)
	}
	return out, nil
}

// Load selects rows of role into records tracked by o as loaded.
func (s *Store) Load(ctx context.Context, o *orm.ORM, role string, where map[string]any) ([]*mapper.Record, error) {
	e, err := o.Registry.Entity(role)
	if err != nil {
		return nil, err
	}
	rows, err := s.Select(ctx, e, where)
	if err != nil {
		return nil, err
	}
	out := make([]*mapper.Record, 0, len(rows))
	for _, row := range rows {
		if obj, _, found := o.Heap.Find(role, primaryKey(e, row)); found {
			if rec, ok := obj.(*mapper.Record); ok {
				out = append(out, rec)
				continue
			}
		}
		rec := mapper.NewRecord(role, row)
		if err := o.Track(rec, row); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func primaryKey(e *orm.Entity, row map[string]any) map[string]any {
	key := make(map[string]any, len(e.PrimaryKey))
	for _, pk := range e.PrimaryKey {
		key[pk] = row[pk]
	}
	return key
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return heap.Normalize(v)
}
