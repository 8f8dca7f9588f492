package relation

import (
	"fmt"

	"github.com/roach88/unitwork/internal/orm"
)

// Embedded merges the columns of a value object into the owning row under a
// prefix.
type Embedded struct {
	base
}

func newEmbedded(def Definition) (orm.Relation, error) {
	return &Embedded{base: base{def: def, side: orm.SideEmbedded}}, nil
}

// Column returns the owner column that stores a target column.
func (r *Embedded) Column(target string) string {
	return r.def.Prefix + target
}

// Prepare implements orm.Relation.
func (r *Embedded) Prepare(pool *orm.Pool, t *orm.Tuple, related any, load bool) error {
	defer r.resolve(t)
	if t.Task != orm.TaskStore || !load {
		return nil
	}

	target, err := pool.ORM().Registry.Entity(r.def.Target)
	if err != nil {
		return err
	}
	if isNil(related) {
		for _, col := range target.Columns {
			t.Register([]string{r.Column(col)}, []any{nil})
		}
		return nil
	}
	if target.Mapper == nil {
		return &orm.InvariantError{Role: r.def.Target, Message: "no mapper registered"}
	}
	values, err := target.Mapper.Extract(related)
	if err != nil {
		return fmt.Errorf("extract embedded %s: %w", r.def.Name, err)
	}
	for _, col := range target.Columns {
		t.Register([]string{r.Column(col)}, []any{values[col]})
	}
	return nil
}

// Queue implements orm.Relation. Embedded values resolve in Prepare.
func (r *Embedded) Queue(_ *orm.Pool, t *orm.Tuple, _ orm.Command) error {
	r.resolve(t)
	return nil
}
