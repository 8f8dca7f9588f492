package orm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"

	"github.com/roach88/unitwork/internal/heap"
)

// TxOption configures a Transaction.
type TxOption func(*Transaction)

// WithMaxPasses sets the hard pass limit of one run.
//
// Default: 1000 passes (DefaultMaxPasses). Zero disables the limit; the drain
// still stops on a pass without progress.
func WithMaxPasses(n int) TxOption {
	return func(tx *Transaction) {
		tx.maxPasses = n
	}
}

// WithID sets the transaction id instead of generating one.
func WithID(id string) TxOption {
	return func(tx *Transaction) {
		tx.id = id
	}
}

type mark struct {
	obj     any
	task    Task
	cascade bool
}

// Transaction collects persist and delete marks and writes them in
// dependency order on Run.
//
// Marks are only attached to the pool when Run starts, so the values written
// are the object fields at Run time. A failed Run keeps its marks; the caller
// may fix the object graph and call Run again.
//
// Thread-safety: none. One goroutine owns a transaction.
type Transaction struct {
	orm       *ORM
	runner    Runner
	id        string
	maxPasses int
	logger    *slog.Logger
	observer  Observer

	marks  []mark
	pool   *Pool
	passes int
}

// ID returns the transaction id.
func (tx *Transaction) ID() string {
	return tx.id
}

// Persist marks obj for insert or update.
func (tx *Transaction) Persist(obj any, cascade bool) error {
	return tx.mark(obj, TaskStore, cascade)
}

// Delete marks obj for deletion. With cascade, dependents reached through
// cascading slave relations are deleted or detached first.
func (tx *Transaction) Delete(obj any, cascade bool) error {
	return tx.mark(obj, TaskDelete, cascade)
}

// ForceDelete marks obj for deletion by key, whatever its tracked status.
// Without cascade no relation is walked.
func (tx *Transaction) ForceDelete(obj any, cascade bool) error {
	return tx.mark(obj, TaskForceDelete, cascade)
}

func (tx *Transaction) mark(obj any, task Task, cascade bool) error {
	if obj == nil {
		return fmt.Errorf("%s: nil object", task)
	}
	if !reflect.TypeOf(obj).Comparable() {
		return fmt.Errorf("%s %T: %w", task, obj, heap.ErrNotComparable)
	}
	tx.marks = append(tx.marks, mark{obj: obj, task: task, cascade: cascade})
	return nil
}

// Passes returns the number of passes the last Run took.
func (tx *Transaction) Passes() int {
	return tx.passes
}

// Pool returns the pool of the last Run, or nil before the first Run.
func (tx *Transaction) Pool() *Pool {
	return tx.pool
}

// Run drains the pool to a fixpoint, submitting commands to the runner as
// tuples become ready.
//
// On failure the runner is rolled back and every touched State is restored
// to its pre-run snapshot before the error is returned. Backend errors are
// returned unchanged. On success the runner is completed and the heap is
// synchronized with the written data.
func (tx *Transaction) Run(ctx context.Context) error {
	pool := NewPool(tx.orm)
	pool.maxPasses = tx.maxPasses
	pool.notify = tx.emit
	tx.pool = pool

	err := tx.drain(ctx, pool)
	tx.passes = pool.Passes()
	if err != nil {
		tx.rollback(ctx, pool, err)
		return err
	}

	if err := tx.runner.Complete(ctx); err != nil {
		tx.rollback(ctx, pool, err)
		return err
	}

	tx.marks = nil
	if err := tx.sync(pool); err != nil {
		return fmt.Errorf("transaction %s committed, heap sync failed: %w", tx.id, err)
	}
	tx.emit(Event{Kind: EventCommit, Passes: tx.passes})
	return nil
}

func (tx *Transaction) drain(ctx context.Context, pool *Pool) error {
	for _, m := range tx.marks {
		if _, err := pool.Attach(m.obj, m.task, m.cascade); err != nil {
			return err
		}
	}

	for _, t := range pool.Open() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.visit(ctx, pool, t); err != nil {
			return err
		}
	}

	left := pool.Unresolved()
	if pool.LimitExceeded() {
		return &PassLimitError{TxID: tx.id, Limit: pool.maxPasses, Unresolved: describe(left)}
	}
	if len(left) > 0 {
		for _, t := range left {
			tx.emit(Event{Kind: EventUnresolved, Role: t.Role(), Task: t.Task, Passes: pool.Passes()})
		}
		return &UnresolvedError{TxID: tx.id, Tuples: describe(left), Passes: pool.Passes()}
	}
	return nil
}

func (tx *Transaction) visit(ctx context.Context, pool *Pool, t *Tuple) error {
	if t.Status == TuplePreparing {
		return tx.prepare(pool, t)
	}
	if t.Task == TaskStore {
		return tx.resolveStore(ctx, pool, t)
	}
	return tx.resolveDelete(ctx, pool, t)
}

// prepare reads the object once and hands every relation value to its
// handler. Handlers schedule related objects into the pool.
func (tx *Transaction) prepare(pool *Pool, t *Tuple) error {
	pool.MarkProgress()
	tx.emit(Event{Kind: EventPrepare, Role: t.Role(), Task: t.Task})

	if t.State == nil {
		if t.Task == TaskStore {
			t.Status = TupleProcessed
		} else {
			t.Status = TupleWaiting
		}
		return nil
	}

	if err := t.State.Validate(t.Schema.Relations.Declared()); err != nil {
		return &InvariantError{Role: t.Role(), Message: err.Error()}
	}

	mapper := t.Schema.Mapper
	if mapper == nil {
		return &InvariantError{Role: t.Role(), Message: "no mapper registered"}
	}
	values, err := mapper.Extract(t.Entity)
	if err != nil {
		return fmt.Errorf("extract %s: %w", t.Role(), err)
	}
	t.setExtracted(values)

	related, err := mapper.FetchRelations(t.Entity)
	if err != nil {
		return fmt.Errorf("fetch relations of %s: %w", t.Role(), err)
	}
	t.fetched = make(map[string]bool, len(related))
	for name, value := range related {
		if _, ok := t.Schema.Relations.Get(name); !ok {
			return &InvariantError{Role: t.Role(), Message: fmt.Sprintf("mapper returned undeclared relation %q", name)}
		}
		t.Relations[name] = value
		t.fetched[name] = true
	}

	var relations []Relation
	if t.Task == TaskStore {
		relations = t.Schema.Relations.Side(SideMaster)
		relations = append(relations, t.Schema.Relations.Side(SideSlave)...)
		relations = append(relations, t.Schema.Relations.Side(SideEmbedded)...)
		t.Status = TupleProposed
	} else {
		if t.Cascade {
			relations = t.Schema.Relations.Cascading(SideSlave)
		}
		t.Status = TupleWaiting
	}

	for _, rel := range relations {
		value, loaded := t.Relations[rel.Name()]
		if err := rel.Prepare(pool, t, value, loaded); err != nil {
			return fmt.Errorf("prepare %s.%s: %w", t.Role(), rel.Name(), err)
		}
	}
	return nil
}

// resolveStore writes the row once every master relation resolved or
// deferred, then waits for the slave relations.
//
// A tuple written with deferred masters is written again, as an update, the
// pass its masters fully resolve.
func (tx *Transaction) resolveStore(ctx context.Context, pool *Pool, t *Tuple) error {
	masters, err := tx.queue(pool, t, t.Schema.Relations.Side(SideMaster))
	if err != nil {
		return err
	}
	if masters == sidePending {
		tx.emit(Event{Kind: EventWait, Role: t.Role(), Task: t.Task})
		return nil
	}

	if !t.written || (masters == sideResolved && t.Status == TupleDeferred) {
		cmd, err := tx.orm.Generator.StoreCommand(tx.orm, t)
		if err != nil {
			return fmt.Errorf("store command for %s: %w", t.Role(), err)
		}
		if cmd != nil {
			if err := tx.runCommand(ctx, pool, t, cmd); err != nil {
				return err
			}
		}
		if !t.written {
			t.written = true
			pool.MarkProgress()
		}
	}

	if masters == sideDeferred {
		if t.Status != TupleDeferred {
			t.Status = TupleDeferred
			pool.MarkProgress()
		}
		return nil
	}

	t.Status = TuplePreprocessed
	slaves, err := tx.queue(pool, t, t.Schema.Relations.Side(SideSlave))
	if err != nil {
		return err
	}
	if slaves == sideResolved {
		t.Status = TupleProcessed
		return nil
	}
	t.Status = TupleUnprocessed
	return nil
}

// resolveDelete removes the row once cascading dependents are handled.
func (tx *Transaction) resolveDelete(ctx context.Context, pool *Pool, t *Tuple) error {
	if t.State == nil && t.Task == TaskForceDelete {
		t.Status = TupleProcessed
		return nil
	}
	if t.State != nil && t.Task == TaskDelete && !t.State.Persisted() {
		t.State.Status = heap.StatusDeleted
		t.Status = TupleProcessed
		return nil
	}

	if t.Cascade && t.State != nil {
		slaves, err := tx.queue(pool, t, t.Schema.Relations.Cascading(SideSlave))
		if err != nil {
			return err
		}
		if slaves == sidePending {
			t.Status = TupleWaiting
			tx.emit(Event{Kind: EventWait, Role: t.Role(), Task: t.Task})
			return nil
		}
	}

	cmd, err := tx.orm.Generator.DeleteCommand(tx.orm, t)
	if err != nil {
		return fmt.Errorf("delete command for %s: %w", t.Role(), err)
	}
	if cmd != nil {
		if err := tx.runCommand(ctx, pool, t, cmd); err != nil {
			return err
		}
	}
	if t.State != nil {
		t.State.Status = heap.StatusDeleted
	}
	t.Status = TupleProcessed
	return nil
}

type sideOutcome int

const (
	sidePending sideOutcome = iota
	sideDeferred
	sideResolved
)

// queue asks every unresolved relation to re-check its dependency and
// aggregates the outcome.
func (tx *Transaction) queue(pool *Pool, t *Tuple, relations []Relation) (sideOutcome, error) {
	out := sideResolved
	for _, rel := range relations {
		name := rel.Name()
		if t.RelationStatus(name) == heap.RelationResolved {
			continue
		}
		if err := rel.Queue(pool, t, t.Primary); err != nil {
			return sidePending, fmt.Errorf("queue %s.%s: %w", t.Role(), name, err)
		}
		switch t.RelationStatus(name) {
		case heap.RelationResolved:
		case heap.RelationDeferred:
			if out == sideResolved {
				out = sideDeferred
			}
		default:
			out = sidePending
		}
	}
	return out, nil
}

func (tx *Transaction) runCommand(ctx context.Context, pool *Pool, t *Tuple, cmd Command) error {
	tx.emit(Event{
		Kind:        EventCommand,
		Role:        t.Role(),
		Task:        t.Task,
		CommandKind: cmd.Kind(),
		Command:     cmd.String(),
	})
	if err := tx.runner.Run(ctx, cmd); err != nil {
		return err
	}
	t.Primary = cmd
	pool.MarkProgress()
	return nil
}

func (tx *Transaction) rollback(ctx context.Context, pool *Pool, cause error) {
	if err := tx.runner.Rollback(context.WithoutCancel(ctx)); err != nil {
		tx.logger.Error("rollback failed",
			"tx", tx.id,
			"error", err,
			"cause", cause,
		)
	}
	pool.restore()
	tx.emit(Event{Kind: EventRollback, Passes: pool.Passes()})
}

// sync merges the run into the heap: deleted objects are detached, every
// other touched object becomes StatusLoaded, is re-indexed by its written
// keys and hydrated with them.
func (tx *Transaction) sync(pool *Pool) error {
	var errs []error
	for _, t := range pool.Tuples() {
		state := t.State
		if state == nil {
			continue
		}
		if state.Status == heap.StatusDeleted {
			tx.orm.Heap.Detach(t.Entity)
			continue
		}

		state.Status = heap.StatusLoaded
		for name := range t.fetched {
			if t.kept[name] {
				continue
			}
			state.SetRelation(name, snapshotValue(t.Relations[name]))
		}
		if err := tx.orm.Heap.Attach(t.Entity, state, t.Schema.UniqueIndexes()); err != nil {
			errs = append(errs, err)
		}
		if err := t.Schema.Mapper.Hydrate(t.Entity, maps.Clone(state.Data)); err != nil {
			errs = append(errs, fmt.Errorf("hydrate %s: %w", t.Role(), err))
		}
		state.EndRun()
	}
	return errors.Join(errs...)
}

func (tx *Transaction) emit(ev Event) {
	ev.TxID = tx.id
	logEvent(context.Background(), tx.logger, ev)
	if tx.observer != nil {
		tx.observer.Observe(ev)
	}
}

// snapshotValue copies slices so later in-place edits by the caller show up
// as changes in the next run.
func snapshotValue(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.IsNil() {
		return v
	}
	cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(cp, rv)
	return cp.Interface()
}
