package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/unitwork/internal/orm"
)

// Runner implements orm.Runner over one database transaction.
//
// Commands execute as they are submitted, so generated keys are known to the
// commands that follow.
//
// Thread-safety: none. A runner belongs to one transaction run.
type Runner struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	tx      *sql.Tx
	count   int
}

// Run implements orm.Runner.
func (r *Runner) Run(ctx context.Context, cmd orm.Command) error {
	if r.tx == nil {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		r.tx = tx
	}
	r.count++
	return cmd.Execute(ctx, &Executor{q: r.tx, dialect: r.dialect})
}

// Rollback implements orm.Runner.
func (r *Runner) Rollback(_ context.Context) error {
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	r.logger.Debug("transaction rolled back", "commands", r.count)
	return nil
}

// Complete implements orm.Runner.
func (r *Runner) Complete(_ context.Context) error {
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Commands returns the number of commands run.
func (r *Runner) Commands() int {
	return r.count
}
