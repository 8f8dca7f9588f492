package schema

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/roach88/unitwork/internal/orm"
)

// Registry implements orm.Registry over compiled roles.
//
// Objects resolve to a role through, in order: *orm.Reference, a Role()
// method (mapper.Record and any type with a fixed role), or a Go type bound
// with Bind.
//
// Thread-safety: safe for concurrent reads; Bind takes a write lock.
type Registry struct {
	mu         sync.RWMutex
	entities   map[string]*orm.Entity
	embeddable map[string]bool
	order      []string
	bound      map[reflect.Type]string
	types      map[string]map[string]string
	foreign    map[string][]ForeignKey
}

// ForeignKey is a reference from columns of one table to another table.
type ForeignKey struct {
	Columns    []string
	Table      string
	References []string
}

func newRegistry() *Registry {
	return &Registry{
		entities:   make(map[string]*orm.Entity),
		embeddable: make(map[string]bool),
		bound:      make(map[reflect.Type]string),
		types:      make(map[string]map[string]string),
		foreign:    make(map[string][]ForeignKey),
	}
}

func (r *Registry) add(e *orm.Entity, embeddable bool) {
	r.entities[e.Role] = e
	r.embeddable[e.Role] = embeddable
	r.order = append(r.order, e.Role)
}

// Entity implements orm.Registry.
func (r *Registry) Entity(role string) (*orm.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[role]
	if !ok {
		return nil, &orm.InvariantError{Role: role, Message: "unknown role"}
	}
	return e, nil
}

type roled interface {
	Role() string
}

// RoleOf implements orm.Registry.
func (r *Registry) RoleOf(obj any) (string, error) {
	switch v := obj.(type) {
	case *orm.Reference:
		return v.Role, nil
	case roled:
		return v.Role(), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role, ok := r.bound[reflect.TypeOf(obj)]; ok {
		return role, nil
	}
	return "", &orm.InvariantError{Message: fmt.Sprintf("no role bound for %T", obj)}
}

// Bind maps the Go type of prototype to role and replaces the role's mapper.
func (r *Registry) Bind(prototype any, role string, m orm.Mapper) error {
	if prototype == nil || m == nil {
		return fmt.Errorf("schema: bind %s: prototype and mapper are required", role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[role]
	if !ok {
		return fmt.Errorf("schema: bind %T: unknown role %q", prototype, role)
	}
	r.bound[reflect.TypeOf(prototype)] = role
	e.Mapper = m
	return nil
}

// Roles returns every role in name order.
func (r *Registry) Roles() []string {
	return slices.Clone(r.order)
}

// Tables returns the entities that own a table, in role name order.
func (r *Registry) Tables() []*orm.Entity {
	var out []*orm.Entity
	for _, role := range r.order {
		if !r.embeddable[role] {
			out = append(out, r.entities[role])
		}
	}
	return out
}

// ColumnType returns the declared type of a column, text by default.
func (r *Registry) ColumnType(role, column string) string {
	if typ, ok := r.types[role][column]; ok {
		return typ
	}
	return TypeText
}

// ForeignKeys returns the foreign keys of role's table.
func (r *Registry) ForeignKeys(role string) []ForeignKey {
	return slices.Clone(r.foreign[role])
}
