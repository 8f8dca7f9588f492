// Package command turns ready tuples into insert, update and delete
// commands.
//
// Commands capture their column values when generated. Executing an insert or
// update flushes the written values into the tuple's State so later commands
// of the same run see generated keys.
package command

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/unitwork/internal/heap"
	"github.com/roach88/unitwork/internal/orm"
)

// ErrNoRowsAffected is returned when an update matched no row.
var ErrNoRowsAffected = errors.New("no rows affected")

// Insert writes a new row.
type Insert struct {
	Table   string
	Columns []string
	Values  []any

	// Returning names the generated key column, or "".
	Returning string

	state *heap.State
}

// Kind implements orm.Command.
func (c *Insert) Kind() string { return "insert" }

// Execute implements orm.Command.
func (c *Insert) Execute(ctx context.Context, exec orm.Executor) error {
	id, err := exec.Insert(ctx, c.Table, c.Columns, c.Values, c.Returning)
	if err != nil {
		return err
	}
	written := make(map[string]any, len(c.Columns)+1)
	for i, col := range c.Columns {
		written[col] = c.Values[i]
	}
	if c.Returning != "" {
		if id == nil {
			return fmt.Errorf("insert %s: backend returned no %s", c.Table, c.Returning)
		}
		written[c.Returning] = heap.Normalize(id)
	}
	if c.state != nil {
		c.state.Flush(written)
		c.state.Status = heap.StatusScheduledUpdate
	}
	return nil
}

func (c *Insert) String() string {
	s := fmt.Sprintf("insert %s(%s)", c.Table, pairs(c.Columns, c.Values))
	if c.Returning != "" {
		s += " returning " + c.Returning
	}
	return s
}

// Update changes columns of one row.
type Update struct {
	Table string
	Set   map[string]any
	Where map[string]any

	state *heap.State
}

// Kind implements orm.Command.
func (c *Update) Kind() string { return "update" }

// Execute implements orm.Command.
func (c *Update) Execute(ctx context.Context, exec orm.Executor) error {
	n, err := exec.Update(ctx, c.Table, c.Set, c.Where)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update %s where %s: %w", c.Table, render(c.Where), ErrNoRowsAffected)
	}
	if c.state != nil {
		c.state.Flush(c.Set)
	}
	return nil
}

func (c *Update) String() string {
	return fmt.Sprintf("update %s set %s where %s", c.Table, render(c.Set), render(c.Where))
}

// Delete removes one row by key.
type Delete struct {
	Table string
	Where map[string]any
}

// Kind implements orm.Command.
func (c *Delete) Kind() string { return "delete" }

// Execute implements orm.Command.
func (c *Delete) Execute(ctx context.Context, exec orm.Executor) error {
	// A row already gone is not an error.
	_, err := exec.Delete(ctx, c.Table, c.Where)
	return err
}

func (c *Delete) String() string {
	return fmt.Sprintf("delete %s where %s", c.Table, render(c.Where))
}

func render(m map[string]any) string {
	cols := slices.Sorted(maps.Keys(m))
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = m[c]
	}
	return pairs(cols, vals)
}

func pairs(cols []string, vals []any) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s=%s", c, literal(vals[i]))
	}
	return strings.Join(parts, ", ")
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	default:
		return fmt.Sprint(heap.Normalize(v))
	}
}
