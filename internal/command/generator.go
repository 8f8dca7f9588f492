package command

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/unitwork/internal/heap"
	"github.com/roach88/unitwork/internal/orm"
)

// KeyFunc produces a primary key value for KeyUUID entities.
type KeyFunc func() any

// Generator implements orm.Generator for row-per-entity tables.
type Generator struct {
	newKey KeyFunc
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithKeyFunc overrides UUIDv7 key generation, e.g. for golden traces.
func WithKeyFunc(f KeyFunc) GeneratorOption {
	return func(g *Generator) {
		g.newKey = f
	}
}

// NewGenerator creates a generator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		newKey: func() any { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// StoreCommand implements orm.Generator. It returns an Insert for rows not
// written yet and an Update of the changed columns otherwise; nil when
// nothing changed.
func (g *Generator) StoreCommand(_ *orm.ORM, t *orm.Tuple) (orm.Command, error) {
	if t.State == nil {
		return nil, nil
	}
	schema := t.Schema
	values := columns(schema, t)

	switch t.State.Status {
	case heap.StatusScheduledInsert:
		return g.insert(schema, t, values)
	case heap.StatusScheduledUpdate, heap.StatusLoaded:
		changes := t.State.Changes(values)
		if len(changes) == 0 {
			return nil, nil
		}
		where, err := primary(schema, t.State.Data)
		if err != nil {
			return nil, err
		}
		return &Update{Table: schema.Table, Set: changes, Where: where, state: t.State}, nil
	default:
		return nil, &orm.InvariantError{
			Role:    schema.Role,
			Message: fmt.Sprintf("store scheduled for %s state", t.State.Status),
		}
	}
}

func (g *Generator) insert(schema *orm.Entity, t *orm.Tuple, values map[string]any) (orm.Command, error) {
	var returning string
	for _, pk := range schema.PrimaryKey {
		if values[pk] != nil {
			continue
		}
		switch schema.Keys {
		case orm.KeyUUID:
			values[pk] = g.newKey()
		case orm.KeyAuto:
			if len(schema.PrimaryKey) != 1 {
				return nil, &orm.InvariantError{Role: schema.Role, Message: "auto keys need a single primary key column"}
			}
			delete(values, pk)
			returning = pk
		default:
			return nil, &orm.InvariantError{Role: schema.Role, Message: fmt.Sprintf("primary key %s not set", pk)}
		}
	}

	cols := slices.Sorted(maps.Keys(values))
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = values[c]
	}
	return &Insert{
		Table:     schema.Table,
		Columns:   cols,
		Values:    vals,
		Returning: returning,
		state:     t.State,
	}, nil
}

// DeleteCommand implements orm.Generator. It returns nil when the row has no
// known key.
func (g *Generator) DeleteCommand(_ *orm.ORM, t *orm.Tuple) (orm.Command, error) {
	schema := t.Schema
	key := make(map[string]any, len(schema.PrimaryKey))
	for _, pk := range schema.PrimaryKey {
		var (
			v  any
			ok bool
		)
		if t.State != nil {
			v, ok = t.State.Data[pk]
		}
		if !ok || v == nil {
			v, ok = t.Value(pk)
		}
		if !ok || v == nil {
			return nil, nil
		}
		key[pk] = v
	}
	return &Delete{Table: schema.Table, Where: key}, nil
}

// columns merges the object's fields with values registered during the run,
// keeping declared columns only.
func columns(schema *orm.Entity, t *orm.Tuple) map[string]any {
	values := make(map[string]any, len(schema.Columns))
	extracted := t.Extracted()
	for _, col := range schema.Columns {
		if v, ok := t.State.Pending[col]; ok {
			values[col] = v
			continue
		}
		if v, ok := extracted[col]; ok {
			values[col] = v
		}
	}
	return values
}

func primary(schema *orm.Entity, data map[string]any) (map[string]any, error) {
	where := make(map[string]any, len(schema.PrimaryKey))
	for _, pk := range schema.PrimaryKey {
		v, ok := data[pk]
		if !ok || v == nil {
			return nil, &orm.InvariantError{Role: schema.Role, Message: fmt.Sprintf("persisted row without %s", pk)}
		}
		where[pk] = v
	}
	return where, nil
}
