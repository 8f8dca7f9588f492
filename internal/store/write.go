package store

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// querier is the subset of *sql.DB and *sql.Tx the executor needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Executor implements orm.Executor with parameterized SQL.
type Executor struct {
	q       querier
	dialect Dialect
}

// NewExecutor creates an executor that writes outside any transaction.
func NewExecutor(db *sql.DB, d Dialect) *Executor {
	return &Executor{q: db, dialect: d}
}

// Insert implements orm.Executor.
func (e *Executor) Insert(ctx context.Context, table string, columns []string, values []any, returning string) (any, error) {
	d := e.dialect
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s", d.Quote(table))
	if len(columns) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		marks := make([]string, len(columns))
		for i := range columns {
			marks[i] = d.Placeholder(i + 1)
		}
		fmt.Fprintf(&b, " (%s) VALUES (%s)", d.quoteAll(columns), strings.Join(marks, ", "))
	}

	if returning != "" && d.Returning {
		fmt.Fprintf(&b, " RETURNING %s", d.Quote(returning))
		var id any
		if err := e.q.QueryRowContext(ctx, b.String(), values...).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert %s: %w", table, err)
		}
		return id, nil
	}

	res, err := e.q.ExecContext(ctx, b.String(), values...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	if returning == "" {
		return nil, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert %s: last insert id: %w", table, err)
	}
	return id, nil
}

// Update implements orm.Executor.
func (e *Executor) Update(ctx context.Context, table string, set, where map[string]any) (int64, error) {
	d := e.dialect
	cols := slices.Sorted(maps.Keys(set))
	args := make([]any, 0, len(set)+len(where))
	assigns := make([]string, len(cols))
	for i, c := range cols {
		args = append(args, set[c])
		assigns[i] = fmt.Sprintf("%s = %s", d.Quote(c), d.Placeholder(len(args)))
	}
	cond, args := e.where(where, args)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", d.Quote(table), strings.Join(assigns, ", "), cond)
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return res.RowsAffected()
}

// Delete implements orm.Executor.
func (e *Executor) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	cond, args := e.where(where, nil)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", e.dialect.Quote(table), cond)
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return res.RowsAffected()
}

// where renders an equality conjunction in column order, appending its
// values to args.
func (e *Executor) where(where map[string]any, args []any) (string, []any) {
	cols := slices.Sorted(maps.Keys(where))
	parts := make([]string, len(cols))
	for i, c := range cols {
		if where[c] == nil {
			parts[i] = fmt.Sprintf("%s IS NULL", e.dialect.Quote(c))
			continue
		}
		args = append(args, where[c])
		parts[i] = fmt.Sprintf("%s = %s", e.dialect.Quote(c), e.dialect.Placeholder(len(args)))
	}
	if len(parts) == 0 {
		return "1 = 1", args
	}
	return strings.Join(parts, " AND "), args
}
