package orm

import (
	"fmt"
	"iter"
	"reflect"

	"github.com/roach88/unitwork/internal/heap"
)

// DefaultMaxPasses bounds the number of passes over the pool in one run.
// The drain terminates on its own; this is a hard stop for misbehaving
// relation handlers.
const DefaultMaxPasses = 1000

// Pool is the work queue of one transaction run.
//
// The pool is an explicit worklist: attaching during a drain is a queue push.
// Three queues are kept:
//   - fresh: tuples not prepared yet, always served first
//   - current: tuples of the running pass
//   - next: tuples re-admitted for the following pass
//
// A pass ends when fresh and current are empty. The drain stops when next is
// empty (success) or when the pass made no progress (unresolvable).
//
// Thread-safety: none. A pool belongs to exactly one run.
type Pool struct {
	orm    *ORM
	tuples map[any]*Tuple
	order  []*Tuple

	fresh   []*Tuple
	current []*Tuple
	next    []*Tuple

	progress  bool
	pass      int
	maxPasses int
	limitHit  bool

	snapshots map[*heap.State]heap.Snapshot
	created   []any

	notify func(Event)
}

// NewPool creates an empty pool bound to o.
func NewPool(o *ORM) *Pool {
	return &Pool{
		orm:       o,
		tuples:    make(map[any]*Tuple),
		snapshots: make(map[*heap.State]heap.Snapshot),
		maxPasses: DefaultMaxPasses,
	}
}

// ORM returns the context the pool is bound to.
func (p *Pool) ORM() *ORM {
	return p.orm
}

// AttachStore schedules obj for insert or update.
func (p *Pool) AttachStore(obj any, cascade bool) (*Tuple, error) {
	return p.Attach(obj, TaskStore, cascade)
}

// Attach schedules task for obj, or merges into the tuple already queued for
// obj. A merge while the tuple is still preparing takes the latest task; once
// resolution started, the existing tuple wins.
func (p *Pool) Attach(obj any, task Task, cascade bool) (*Tuple, error) {
	if obj == nil {
		return nil, fmt.Errorf("attach %s: nil object", task)
	}
	if !reflect.TypeOf(obj).Comparable() {
		return nil, fmt.Errorf("attach %s %T: %w", task, obj, heap.ErrNotComparable)
	}

	if ref, ok := obj.(*Reference); ok {
		if tracked, _, found := p.orm.Heap.Find(ref.Role, ref.Key); found {
			obj = tracked
		}
	}

	if t, ok := p.tuples[obj]; ok {
		if t.Status == TuplePreparing && t.Task != task {
			t.Task = task
			p.schedule(t)
		}
		t.Cascade = t.Cascade || cascade
		return t, nil
	}

	t, err := p.newTuple(obj, task, cascade)
	if err != nil {
		return nil, err
	}
	p.tuples[obj] = t
	p.order = append(p.order, t)
	p.fresh = append(p.fresh, t)
	p.progress = true
	return t, nil
}

func (p *Pool) newTuple(obj any, task Task, cascade bool) (*Tuple, error) {
	t := &Tuple{
		Entity:    obj,
		Task:      task,
		Status:    TuplePreparing,
		Cascade:   cascade,
		Relations: make(map[string]any),
		pool:      p,
	}

	if ref, ok := obj.(*Reference); ok {
		schema, err := p.orm.Registry.Entity(ref.Role)
		if err != nil {
			return nil, err
		}
		t.Schema = schema
		return t, nil
	}

	role, err := p.orm.Registry.RoleOf(obj)
	if err != nil {
		return nil, err
	}
	schema, err := p.orm.Registry.Entity(role)
	if err != nil {
		return nil, err
	}
	t.Schema = schema

	state, ok := p.orm.Heap.Get(obj)
	if !ok {
		state = heap.NewState(role, heap.StatusNew, nil)
		if err := p.orm.Heap.Attach(obj, state, nil); err != nil {
			return nil, err
		}
		p.created = append(p.created, obj)
	}
	if state.Role != role {
		return nil, &InvariantError{Role: role, Message: fmt.Sprintf("tracked as %q", state.Role)}
	}
	if _, seen := p.snapshots[state]; !seen {
		p.snapshots[state] = state.Snapshot()
	}
	state.BeginRun(schema.Relations.Names())
	t.State = state
	p.schedule(t)
	return t, nil
}

// schedule moves the state status to reflect the tuple task.
func (p *Pool) schedule(t *Tuple) {
	if t.State == nil {
		return
	}
	switch t.Task {
	case TaskStore:
		switch t.State.Status {
		case heap.StatusNew, heap.StatusDeleted:
			t.State.Status = heap.StatusScheduledInsert
		case heap.StatusLoaded, heap.StatusScheduledDelete:
			t.State.Status = heap.StatusScheduledUpdate
		}
	case TaskDelete, TaskForceDelete:
		if t.State.Persisted() {
			t.State.Status = heap.StatusScheduledDelete
		}
	}
}

// Get returns the tuple queued for obj.
func (p *Pool) Get(obj any) (*Tuple, bool) {
	if obj == nil || !reflect.TypeOf(obj).Comparable() {
		return nil, false
	}
	t, ok := p.tuples[obj]
	return t, ok
}

// Open returns the self-extending drain over the pool.
//
// Tuples attached while iterating are visited before the drain can end.
// After each yield the tuple is dropped when processed, put back into the
// running pass when it just finished preparing, and re-admitted to the next
// pass otherwise.
func (p *Pool) Open() iter.Seq2[any, *Tuple] {
	return func(yield func(any, *Tuple) bool) {
		p.pass = 1
		p.progress = false
		for {
			t, ok := p.pop()
			if !ok {
				if len(p.next) == 0 {
					return
				}
				if !p.progress {
					return
				}
				if p.maxPasses > 0 && p.pass >= p.maxPasses {
					p.limitHit = true
					return
				}
				p.current, p.next = p.next, p.current[:0]
				p.progress = false
				p.pass++
				continue
			}

			before := t.Status
			if !yield(t.Entity, t) {
				return
			}
			switch {
			case t.Status == TupleProcessed:
				p.progress = true
			case before == TuplePreparing:
				p.current = append(p.current, t)
			default:
				p.next = append(p.next, t)
			}
		}
	}
}

func (p *Pool) pop() (*Tuple, bool) {
	if len(p.fresh) > 0 {
		t := p.fresh[0]
		p.fresh[0] = nil
		p.fresh = p.fresh[1:]
		return t, true
	}
	if len(p.current) > 0 {
		t := p.current[0]
		p.current[0] = nil
		p.current = p.current[1:]
		return t, true
	}
	return nil, false
}

// MarkProgress records that something advanced in the running pass.
func (p *Pool) MarkProgress() {
	p.progress = true
}

// Passes returns the number of passes started by the last drain.
func (p *Pool) Passes() int {
	return p.pass
}

// LimitExceeded reports whether the drain stopped at the pass limit.
func (p *Pool) LimitExceeded() bool {
	return p.limitHit
}

// Tuples returns every tuple in attachment order.
func (p *Pool) Tuples() []*Tuple {
	return p.order
}

// Unresolved returns every tuple that never reached TupleProcessed.
func (p *Pool) Unresolved() []*Tuple {
	var out []*Tuple
	for _, t := range p.order {
		if t.Status != TupleProcessed {
			out = append(out, t)
		}
	}
	return out
}

// Lookup returns the tuple queued for a relation value, if any.
func (p *Pool) Lookup(value any) *Tuple {
	if value == nil {
		return nil
	}
	if t, ok := p.Get(value); ok {
		return t
	}
	if ref, ok := value.(*Reference); ok {
		if tracked, _, found := p.orm.Heap.Find(ref.Role, ref.Key); found {
			t, _ := p.Get(tracked)
			return t
		}
	}
	return nil
}

// KeyOf returns the key of a relation value once the row behind it exists.
//
// A value queued for insert has no usable key until its insert ran, even if
// the caller supplied one. A value queued for delete never supplies a key.
func (p *Pool) KeyOf(value any, fields []string) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	if t := p.Lookup(value); t != nil {
		if t.Task != TaskStore {
			return nil, false
		}
		if t.State == nil {
			return t.Key(fields)
		}
		if t.State.Status == heap.StatusScheduledInsert {
			return nil, false
		}
		return t.Key(fields)
	}
	if ref, ok := value.(*Reference); ok {
		return ref.Values(fields)
	}
	if state, ok := p.orm.Heap.Get(value); ok && state.Persisted() {
		return state.Key(fields)
	}
	return nil, false
}

// Deleting reports whether value is queued for deletion in this run.
func (p *Pool) Deleting(value any) bool {
	t := p.Lookup(value)
	return t != nil && t.Task != TaskStore
}

// DependsOn reports whether from transitively waits on on through pending
// master relations.
//
// The walk marks each relation in State.Visited so every relation is crossed
// at most once per search; the marks are cleared before returning.
func (p *Pool) DependsOn(from, on *Tuple) bool {
	var touched []*heap.State
	defer func() {
		for _, s := range touched {
			clear(s.Visited)
		}
	}()
	return p.dependsOn(from, on, &touched)
}

func (p *Pool) dependsOn(t, on *Tuple, touched *[]*heap.State) bool {
	if t == nil || t.State == nil || t.written || t.Status == TupleProcessed {
		return false
	}
	for _, rel := range t.Schema.Relations.Side(SideMaster) {
		name := rel.Name()
		switch t.State.RelationState(name) {
		case heap.RelationResolved, heap.RelationDeferred:
			continue
		}
		if t.State.Visited[name] {
			continue
		}
		t.State.Visited[name] = true
		*touched = append(*touched, t.State)

		target := p.Lookup(t.Relations[name])
		if target == nil {
			continue
		}
		if target == on || p.dependsOn(target, on, touched) {
			return true
		}
	}
	return false
}

// restore rewinds every touched state and forgets objects first tracked
// during this run.
func (p *Pool) restore() {
	for state, snap := range p.snapshots {
		state.Restore(snap)
	}
	for _, obj := range p.created {
		p.orm.Heap.Detach(obj)
	}
}

func (p *Pool) relationAdvanced(t *Tuple, relation string, status heap.RelationStatus) {
	if p.notify == nil {
		return
	}
	kind := EventResolve
	switch status {
	case heap.RelationDeferred:
		kind = EventDefer
	case heap.RelationQueue:
		kind = EventPrepare
	}
	p.notify(Event{Kind: kind, Role: t.Role(), Relation: relation, Task: t.Task})
}
