package relation

import (
	"github.com/roach88/unitwork/internal/heap"
	"github.com/roach88/unitwork/internal/orm"
)

// Shadow is the generated master relation that writes an owner's key into a
// member row. Owners bind it on the member tuple during their own prepare; a
// member nobody binds keeps its stored key.
type Shadow struct {
	base
}

func newShadow(def Definition) (orm.Relation, error) {
	if err := checkKeys(def); err != nil {
		return nil, err
	}
	return &Shadow{base: base{def: def, side: orm.SideMaster}}, nil
}

// Prepare implements orm.Relation.
func (r *Shadow) Prepare(_ *orm.Pool, t *orm.Tuple, _ any, _ bool) error {
	if t.Task == orm.TaskStore && t.Assigned(r.def.Name) {
		t.SetRelationStatus(r.def.Name, heap.RelationQueue)
	}
	return nil
}

// Queue implements orm.Relation.
//
// Binding happens in prepare and every tuple is prepared before the first
// Queue call, so an unbound shadow at this point has no owner in the run.
func (r *Shadow) Queue(pool *orm.Pool, t *orm.Tuple, _ orm.Command) error {
	owner, bound := t.Relations[r.def.Name]
	if !bound {
		r.resolve(t)
		return nil
	}
	if isNil(owner) {
		r.nullify(t)
		r.resolve(t)
		return nil
	}
	if key, ok := pool.KeyOf(owner, r.def.OuterKeys); ok {
		t.Register(r.def.InnerKeys, key)
		r.resolve(t)
	}
	return nil
}
