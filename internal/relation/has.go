package relation

import (
	"fmt"

	"github.com/roach88/unitwork/internal/heap"
	"github.com/roach88/unitwork/internal/orm"
)

// Has owns dependent rows that carry the owner's key: HasOne holds a single
// member, HasMany a slice of them.
//
// Members are bound to the owner through the shadow relation on the target,
// so each member row waits for the owner's key. Members dropped since the
// last synchronization are detached (nullable key) or deleted.
type Has struct {
	base
	many bool
}

func newHasOne(def Definition) (orm.Relation, error) {
	return newHas(def, false)
}

func newHasMany(def Definition) (orm.Relation, error) {
	return newHas(def, true)
}

func newHas(def Definition, many bool) (orm.Relation, error) {
	if err := checkKeys(def); err != nil {
		return nil, err
	}
	if def.Shadow == "" {
		return nil, fmt.Errorf("relation %s: no shadow relation on %s", def.Name, def.Target)
	}
	return &Has{base: base{def: def, side: orm.SideSlave}, many: many}, nil
}

// Shadow returns the name of the relation carrying the key on the target.
func (r *Has) Shadow() string {
	return r.def.Shadow
}

// Prepare implements orm.Relation.
func (r *Has) Prepare(pool *orm.Pool, t *orm.Tuple, related any, load bool) error {
	var previous []any
	if t.State != nil {
		previous = members(t.State.Relations[r.def.Name])
	}

	if t.Task != orm.TaskStore {
		current := previous
		if load {
			current = members(related)
		}
		for _, m := range current {
			if err := r.release(pool, t, m); err != nil {
				return err
			}
		}
		t.SetRelationStatus(r.def.Name, heap.RelationQueue)
		return nil
	}

	if !load {
		r.resolve(t)
		return nil
	}
	current := members(related)
	if !r.many && len(current) > 1 {
		return fmt.Errorf("has_one %s holds %d values", r.def.Name, len(current))
	}

	cascade := r.def.Cascade && t.Cascade
	for _, m := range current {
		if _, isRef := m.(*orm.Reference); isRef {
			continue
		}
		mt := pool.Lookup(m)
		if mt == nil && !cascade {
			continue
		}
		// A member released by its previous owner in this run moves here.
		if mt == nil || mt.Task != orm.TaskStore {
			var err error
			if mt, err = pool.AttachStore(m, t.Cascade); err != nil {
				return err
			}
		}
		mt.Bind(r.def.Shadow, t.Entity)
		t.Await(r.def.Name, mt)
	}

	if !t.Cascade {
		// Dropped members are released by the next cascading store.
		t.Keep(r.def.Name)
	} else {
		for _, m := range previous {
			if contains(current, m) {
				continue
			}
			if err := r.release(pool, t, m); err != nil {
				return err
			}
		}
	}
	t.SetRelationStatus(r.def.Name, heap.RelationQueue)
	return nil
}

// release detaches a member from the owner: its key is nulled when the
// column allows it, otherwise the member is deleted. A member another owner
// already claimed in this run is left to that owner.
func (r *Has) release(pool *orm.Pool, t *orm.Tuple, m any) error {
	if _, isRef := m.(*orm.Reference); isRef && r.def.Nullable {
		return nil
	}
	if mt := pool.Lookup(m); mt != nil && mt.Task == orm.TaskStore {
		if owner, bound := mt.Relations[r.def.Shadow]; bound && !isNil(owner) && owner != t.Entity {
			return nil
		}
	}
	var (
		mt  *orm.Tuple
		err error
	)
	if r.def.Nullable {
		mt, err = pool.AttachStore(m, false)
		if err == nil {
			mt.Bind(r.def.Shadow, nil)
		}
	} else {
		mt, err = pool.Attach(m, orm.TaskDelete, true)
	}
	if err != nil {
		return err
	}
	t.Await(r.def.Name, mt)
	return nil
}

// Queue implements orm.Relation.
func (r *Has) Queue(_ *orm.Pool, t *orm.Tuple, _ orm.Command) error {
	if t.Awaited(r.def.Name) {
		r.resolve(t)
	}
	return nil
}

func contains(values []any, v any) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
