// Package relation implements the relation kinds the scheduler resolves.
//
// Every kind implements orm.Relation. Kinds are registered statically by
// name; schema compilation looks them up with New.
//
// Key naming follows the owning side: InnerKeys are columns of the entity
// declaring the relation, OuterKeys columns of the target. A belongs_to from
// comment to post has inner [post_id] and outer [id]; the matching has_many
// from post has inner [id] and outer [post_id].
package relation

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/roach88/unitwork/internal/heap"
	"github.com/roach88/unitwork/internal/orm"
)

// Kind names.
const (
	KindBelongsTo = "belongs_to"
	KindRefersTo  = "refers_to"
	KindHasOne    = "has_one"
	KindHasMany   = "has_many"
	KindEmbedded  = "embedded"
	KindShadow    = "shadow"
)

// Definition is the compiled description of one relation.
type Definition struct {
	Name      string
	Kind      string
	Target    string
	InnerKeys []string
	OuterKeys []string
	Cascade   bool
	Nullable  bool

	// Shadow names the generated relation on the target that carries the
	// foreign key back to the owner (has_one, has_many).
	Shadow string

	// Prefix is prepended to the target columns (embedded).
	Prefix string
}

// Factory builds a relation from its definition.
type Factory func(def Definition) (orm.Relation, error)

var kinds = map[string]struct {
	side    orm.Side
	factory Factory
}{
	KindBelongsTo: {orm.SideMaster, newBelongsTo},
	KindRefersTo:  {orm.SideMaster, newRefersTo},
	KindShadow:    {orm.SideMaster, newShadow},
	KindHasOne:    {orm.SideSlave, newHasOne},
	KindHasMany:   {orm.SideSlave, newHasMany},
	KindEmbedded:  {orm.SideEmbedded, newEmbedded},
}

// New builds the relation registered for def.Kind.
func New(def Definition) (orm.Relation, error) {
	k, ok := kinds[def.Kind]
	if !ok {
		return nil, fmt.Errorf("relation %s: unknown kind %q", def.Name, def.Kind)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("%s relation without a name", def.Kind)
	}
	if def.Target == "" {
		return nil, fmt.Errorf("relation %s: no target", def.Name)
	}
	return k.factory(def)
}

// Kinds returns the registered kind names, sorted.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for name := range kinds {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// SideOf returns the side a kind resolves on.
func SideOf(kind string) (orm.Side, bool) {
	k, ok := kinds[kind]
	return k.side, ok
}

// base carries the metadata shared by every kind.
type base struct {
	def  Definition
	side orm.Side
}

func (b *base) Name() string        { return b.def.Name }
func (b *base) Kind() string        { return b.def.Kind }
func (b *base) Side() orm.Side      { return b.side }
func (b *base) Target() string      { return b.def.Target }
func (b *base) Cascade() bool       { return b.def.Cascade }
func (b *base) Nullable() bool      { return b.def.Nullable }
func (b *base) InnerKeys() []string { return b.def.InnerKeys }
func (b *base) OuterKeys() []string { return b.def.OuterKeys }

func (b *base) resolve(t *orm.Tuple) {
	t.SetRelationStatus(b.def.Name, heap.RelationResolved)
}

func (b *base) nullify(t *orm.Tuple) {
	t.Register(b.def.InnerKeys, make([]any, len(b.def.InnerKeys)))
}

func checkKeys(def Definition) error {
	if len(def.InnerKeys) == 0 || len(def.InnerKeys) != len(def.OuterKeys) {
		return fmt.Errorf("relation %s: inner keys %v do not pair with outer keys %v",
			def.Name, def.InnerKeys, def.OuterKeys)
	}
	return nil
}

// isNil reports whether v is nil or a typed nil.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// members flattens a relation value into its non-nil elements. Slices and
// arrays yield their elements; any other value is a single member.
func members(v any) []any {
	if isNil(v) {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, 0, rv.Len())
	for i := range rv.Len() {
		e := rv.Index(i).Interface()
		if !isNil(e) {
			out = append(out, e)
		}
	}
	return out
}
