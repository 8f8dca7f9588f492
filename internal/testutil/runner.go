package testutil

import (
	"context"
	"sync"

	"github.com/roach88/unitwork/internal/orm"
)

// Runner implements orm.Runner over a MemoryDB. Rollback restores the
// database as it was before the first command.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Runner struct {
	mu sync.Mutex
	db *MemoryDB

	before    map[string]*table
	log       []string
	kinds     []string
	submitted int

	failAt    int
	failErr   error
	commitErr error

	rollbacks int
	commits   int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// FailAt makes the n-th (1-based) submitted command fail with err, or
// ErrInjected when err is nil.
func FailAt(n int, err error) RunnerOption {
	return func(r *Runner) {
		r.failAt = n
		if err == nil {
			err = ErrInjected
		}
		r.failErr = err
	}
}

// FailCommit makes Complete fail with err.
func FailCommit(err error) RunnerOption {
	return func(r *Runner) {
		r.commitErr = err
	}
}

// NewRunner creates a runner over db.
func NewRunner(db *MemoryDB, opts ...RunnerOption) *Runner {
	r := &Runner{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements orm.Runner.
func (r *Runner) Run(ctx context.Context, cmd orm.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.before == nil {
		r.before = r.db.snapshot()
	}
	r.submitted++
	if r.submitted == r.failAt {
		return r.failErr
	}
	if err := cmd.Execute(ctx, r.db); err != nil {
		return err
	}
	r.log = append(r.log, cmd.String())
	r.kinds = append(r.kinds, cmd.Kind())
	return nil
}

// Rollback implements orm.Runner.
func (r *Runner) Rollback(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.before != nil {
		r.db.restore(r.before)
		r.before = nil
	}
	r.rollbacks++
	return nil
}

// Complete implements orm.Runner.
func (r *Runner) Complete(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.before = nil
	r.commits++
	return nil
}

// Log returns the executed commands in order.
func (r *Runner) Log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// Kinds returns the kinds of the executed commands in order.
func (r *Runner) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

// Rollbacks returns how many times Rollback was called.
func (r *Runner) Rollbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollbacks
}

// Commits returns how many times Complete succeeded.
func (r *Runner) Commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}
