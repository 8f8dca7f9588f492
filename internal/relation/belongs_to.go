package relation

import (
	"fmt"

	"github.com/roach88/unitwork/internal/heap"
	"github.com/roach88/unitwork/internal/orm"
)

// BelongsTo stores the key of a target row in the owning row. The target
// must be written first.
//
// RefersTo is a deferrable BelongsTo: when the target itself waits on the
// owner, the owner is written with a null key and updated once the target
// exists.
type BelongsTo struct {
	base
	deferrable bool
}

func newBelongsTo(def Definition) (orm.Relation, error) {
	if err := checkKeys(def); err != nil {
		return nil, err
	}
	return &BelongsTo{base: base{def: def, side: orm.SideMaster}}, nil
}

func newRefersTo(def Definition) (orm.Relation, error) {
	if err := checkKeys(def); err != nil {
		return nil, err
	}
	if !def.Nullable {
		return nil, fmt.Errorf("relation %s: refers_to must be nullable", def.Name)
	}
	return &BelongsTo{base: base{def: def, side: orm.SideMaster}, deferrable: true}, nil
}

// Prepare implements orm.Relation.
func (r *BelongsTo) Prepare(pool *orm.Pool, t *orm.Tuple, related any, load bool) error {
	if t.Task != orm.TaskStore {
		return nil
	}
	if isNil(related) {
		switch {
		case !load:
			// Never assigned: the stored key stays as it is.
			if _, known := t.Key(r.def.InnerKeys); known || r.def.Nullable {
				r.resolve(t)
				return nil
			}
		case r.def.Nullable:
			r.nullify(t)
			r.resolve(t)
			return nil
		}
		t.SetRelationStatus(r.def.Name, heap.RelationQueue)
		return nil
	}

	if _, isRef := related.(*orm.Reference); !isRef && r.def.Cascade && t.Cascade {
		if _, err := pool.AttachStore(related, true); err != nil {
			return err
		}
	}
	t.SetRelationStatus(r.def.Name, heap.RelationQueue)
	return r.Queue(pool, t, nil)
}

// Queue implements orm.Relation.
func (r *BelongsTo) Queue(pool *orm.Pool, t *orm.Tuple, _ orm.Command) error {
	related := t.Relations[r.def.Name]
	if isNil(related) {
		return nil
	}
	if pool.Deleting(related) {
		if r.def.Nullable {
			r.nullify(t)
			r.resolve(t)
		}
		return nil
	}
	if key, ok := pool.KeyOf(related, r.def.OuterKeys); ok {
		t.Register(r.def.InnerKeys, key)
		r.resolve(t)
		return nil
	}
	if !r.deferrable || t.RelationStatus(r.def.Name) == heap.RelationDeferred {
		return nil
	}
	if target := pool.Lookup(related); target != nil && pool.DependsOn(target, t) {
		r.nullify(t)
		t.SetRelationStatus(r.def.Name, heap.RelationDeferred)
	}
	return nil
}
