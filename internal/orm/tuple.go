package orm

import (
	"maps"

	"github.com/roach88/unitwork/internal/heap"
)

// Task is the operation a tuple schedules.
type Task int

const (
	// TaskStore inserts or updates the row.
	TaskStore Task = iota + 1
	// TaskDelete deletes the row after its dependents.
	TaskDelete
	// TaskForceDelete deletes the row; without cascade no relation is walked.
	TaskForceDelete
)

func (t Task) String() string {
	switch t {
	case TaskStore:
		return "store"
	case TaskDelete:
		return "delete"
	case TaskForceDelete:
		return "force_delete"
	default:
		return "unknown"
	}
}

// TupleStatus is the progress of one tuple through a run.
type TupleStatus int

const (
	// TupleUnprocessed is the re-entry state of a written tuple whose slave
	// relations still need another pass.
	TupleUnprocessed TupleStatus = iota - 1
	// TuplePreparing is the initial state: relations not yet fetched.
	TuplePreparing
	// TupleWaiting is a delete waiting for its dependents.
	TupleWaiting
	// TupleProposed is a store whose relations are prepared.
	TupleProposed
	// TuplePreprocessed is a store whose row has been written.
	TuplePreprocessed
	// TupleDeferred is a store written with placeholders for deferred
	// relations.
	TupleDeferred
	// TupleProcessed is terminal.
	TupleProcessed
)

var tupleStatusNames = map[TupleStatus]string{
	TupleUnprocessed:  "unprocessed",
	TuplePreparing:    "preparing",
	TupleWaiting:      "waiting",
	TupleProposed:     "proposed",
	TuplePreprocessed: "preprocessed",
	TupleDeferred:     "deferred",
	TupleProcessed:    "processed",
}

func (s TupleStatus) String() string {
	if name, ok := tupleStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Tuple is one scheduled operation on one object within a run.
//
// The pool re-admits the same Tuple across passes; it is never copied.
type Tuple struct {
	Entity  any
	Task    Task
	Status  TupleStatus
	Cascade bool

	// State is nil for a pure Reference that was never loaded.
	State  *heap.State
	Schema *Entity

	// Relations holds the relation values of this run: those fetched from the
	// object plus shadow bindings made by owners.
	Relations map[string]any

	// Primary is the last command written for this tuple.
	Primary Command

	written   bool
	extracted map[string]any
	fetched   map[string]bool
	kept      map[string]bool
	awaits    map[string][]*Tuple
	pool      *Pool
}

// Role returns the tuple's role.
func (t *Tuple) Role() string {
	return t.Schema.Role
}

// Written reports whether a store command already ran for this tuple.
func (t *Tuple) Written() bool {
	return t.written
}

// Bind assigns a relation value that does not come from the object itself.
func (t *Tuple) Bind(relation string, value any) {
	t.Relations[relation] = value
}

// Assigned reports whether relation was assigned on the object or bound.
func (t *Tuple) Assigned(relation string) bool {
	_, ok := t.Relations[relation]
	return ok
}

// Value returns the freshest known column value: registered values, then
// written data, then the object's current fields, then persisted data.
func (t *Tuple) Value(field string) (any, bool) {
	if t.State != nil {
		if v, ok := t.State.Pending[field]; ok {
			return v, true
		}
		if t.written {
			if v, ok := t.State.Data[field]; ok {
				return v, true
			}
		}
	}
	if v, ok := t.extracted[field]; ok {
		return v, true
	}
	if t.State != nil {
		v, ok := t.State.Data[field]
		return v, ok
	}
	if ref, ok := t.Entity.(*Reference); ok {
		v, ok := ref.Key[field]
		return v, ok
	}
	return nil, false
}

// Key returns the values of fields, or false when any is unknown or nil.
func (t *Tuple) Key(fields []string) ([]any, bool) {
	out := make([]any, len(fields))
	for i, f := range fields {
		v, ok := t.Value(f)
		if !ok || v == nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// Register records values for the next write of this tuple.
func (t *Tuple) Register(fields []string, values []any) {
	if t.State == nil {
		return
	}
	for i, f := range fields {
		var v any
		if i < len(values) {
			v = values[i]
		}
		t.State.Register(f, v)
	}
}

// RelationStatus returns the resolution status of relation.
func (t *Tuple) RelationStatus(relation string) heap.RelationStatus {
	if t.State == nil {
		return heap.RelationResolved
	}
	return t.State.RelationState(relation)
}

// SetRelationStatus advances relation and records progress on the pool.
func (t *Tuple) SetRelationStatus(relation string, status heap.RelationStatus) {
	if t.State == nil {
		return
	}
	if t.State.SetRelationStatus(relation, status) && t.pool != nil {
		t.pool.MarkProgress()
		t.pool.relationAdvanced(t, relation, status)
	}
}

// Await makes relation wait until dep is processed.
func (t *Tuple) Await(relation string, dep *Tuple) {
	if t.awaits == nil {
		t.awaits = make(map[string][]*Tuple)
	}
	t.awaits[relation] = append(t.awaits[relation], dep)
}

// Awaited reports whether every tuple awaited by relation is processed.
func (t *Tuple) Awaited(relation string) bool {
	for _, dep := range t.awaits[relation] {
		if dep.Status != TupleProcessed {
			return false
		}
	}
	return true
}

// Keep leaves the synchronized value of relation as it was before the run,
// so changes skipped by this run are seen again by the next one.
func (t *Tuple) Keep(relation string) {
	if t.kept == nil {
		t.kept = make(map[string]bool)
	}
	t.kept[relation] = true
}

// Pending returns the names of relations that have not resolved. A delete
// only walks its cascading slave relations, so only those are reported.
func (t *Tuple) Pending() []string {
	if t.State == nil || t.Schema.Relations == nil {
		return nil
	}
	var candidates []string
	if t.Task == TaskStore {
		candidates = t.Schema.Relations.Names()
	} else if t.Cascade {
		for _, rel := range t.Schema.Relations.Cascading(SideSlave) {
			candidates = append(candidates, rel.Name())
		}
	}
	var names []string
	for _, name := range candidates {
		if t.State.RelationState(name) != heap.RelationResolved {
			names = append(names, name)
		}
	}
	return names
}

// Extracted returns the column values read from the object at prepare time.
func (t *Tuple) Extracted() map[string]any {
	return t.extracted
}

// Fetched reports whether relation was assigned on the object itself.
func (t *Tuple) Fetched(relation string) bool {
	return t.fetched[relation]
}

func (t *Tuple) setExtracted(values map[string]any) {
	t.extracted = maps.Clone(values)
}
