package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/unitwork/internal/command"
	"github.com/roach88/unitwork/internal/mapper"
	"github.com/roach88/unitwork/internal/orm"
	"github.com/roach88/unitwork/internal/schema"
	"github.com/roach88/unitwork/internal/store"
	"github.com/roach88/unitwork/internal/testutil"
)

// Option configures a scenario run.
type Option func(*config)

type config struct {
	driver    string
	dsn       string
	logger    *slog.Logger
	observers []orm.Observer
}

// WithDriver overrides the scenario's driver.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithDSN sets the sqlite database. Default: a private in-memory database.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithLogger sets the engine logger. Default: logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithObserver adds an engine observer, e.g. a metrics.Observer.
func WithObserver(obs orm.Observer) Option {
	return func(c *config) {
		c.observers = append(c.observers, obs)
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh backend. Transaction ids and
// uuid keys are deterministic, so the same scenario always produces the
// same trace.
//
// Execution flow:
//  1. Load and compile the schema, create the tables
//  2. Build the records, resolving "@alias" references
//  3. Per transaction: apply ops, run, record commands and outcome
//  4. Collect the final tables and evaluate assertions
//
// An error is returned when the scenario itself cannot run; engine and
// backend failures of a transaction are part of the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := &config{
		driver: scenario.Driver,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs by default
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.driver == "" {
		cfg.driver = DriverMemory
	}

	doc, err := schema.Load(scenario.Schema)
	if err != nil {
		return nil, err
	}
	reg, err := schema.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	be, err := openBackend(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}
	defer be.close()

	rec := &commandRecorder{}
	ormOpts := []orm.Option{
		orm.WithLogger(cfg.logger),
		orm.WithIDGenerator(testutil.NewFixedTxID("")),
		orm.WithObserver(rec),
	}
	for _, obs := range cfg.observers {
		ormOpts = append(ormOpts, orm.WithObserver(obs))
	}
	keys := testutil.NewKeySequence("key")
	o, err := orm.New(reg, command.NewGenerator(command.WithKeyFunc(keys.Next)), ormOpts...)
	if err != nil {
		return nil, err
	}

	records := buildRecords(scenario)

	result := NewResult()
	for i, step := range scenario.Transactions {
		ev, err := runStep(ctx, o, be, rec, records, step)
		if err != nil {
			return nil, fmt.Errorf("transactions[%d] %s: %w", i, step.Name, err)
		}
		result.Trace = append(result.Trace, ev)

		want := step.Expect
		if want == "" {
			want = OutcomeOK
		}
		if ev.Outcome != want {
			result.AddError(fmt.Sprintf("transaction %s: expected %s, got %s", step.Name, want, ev.Outcome))
		}
		cfg.logger.Info("transaction completed",
			"step", i,
			"transaction", step.Name,
			"outcome", ev.Outcome,
			"commands", len(ev.Commands),
		)
	}

	for _, e := range reg.Tables() {
		rows, err := be.rows(ctx, e)
		if err != nil {
			return nil, err
		}
		result.State[e.Table] = rows
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func runStep(ctx context.Context, o *orm.ORM, be backend, rec *commandRecorder, records map[string]*mapper.Record, step TxStep) (TraceEvent, error) {
	var runner orm.Runner = be.runner()
	if step.FailAt > 0 {
		runner = &faultRunner{Runner: runner, failAt: step.FailAt}
	}
	tx := o.NewTransaction(runner)

	for j, op := range step.Ops {
		if err := apply(tx, records, op); err != nil {
			return TraceEvent{}, fmt.Errorf("ops[%d]: %w", j, err)
		}
	}

	rec.reset()
	err := tx.Run(ctx)
	ev := TraceEvent{
		Transaction: step.Name,
		Commands:    rec.commands(),
		Passes:      tx.Passes(),
	}
	ev.Outcome, ev.Code, ev.Unresolved = classify(err)
	return ev, nil
}

func apply(tx *orm.Transaction, records map[string]*mapper.Record, op Op) error {
	r := records[op.Record]
	switch op.Op {
	case OpPersist:
		return tx.Persist(r, op.CascadeOr(true))
	case OpDelete:
		return tx.Delete(r, op.CascadeOr(true))
	case OpForceDelete:
		return tx.ForceDelete(r, op.CascadeOr(false))
	case OpSet:
		r.Set(op.Field, resolveValue(op.Value, records))
	case OpUnset:
		r.Unset(op.Field)
	case OpAppend:
		for _, m := range asSlice(resolveValue(op.Value, records)) {
			member, ok := m.(*mapper.Record)
			if !ok {
				return fmt.Errorf("append %s: %v is not a record", op.Field, m)
			}
			r.Append(op.Field, member)
		}
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
	return nil
}

// classify maps a run error to its outcome.
func classify(err error) (outcome, code string, unresolved []string) {
	if err == nil {
		return OutcomeOK, "", nil
	}
	var ue *orm.UnresolvedError
	if errors.As(err, &ue) {
		return OutcomeUnresolved, string(ue.Code()), describeTuples(ue.Tuples)
	}
	var pe *orm.PassLimitError
	if errors.As(err, &pe) {
		return OutcomeUnresolved, string(pe.Code()), describeTuples(pe.Unresolved)
	}
	if orm.IsInvariant(err) {
		return OutcomeInvariant, string(orm.CodeOf(err)), nil
	}
	return OutcomeBackendError, "", nil
}

func describeTuples(tuples []orm.UnresolvedTuple) []string {
	out := make([]string, len(tuples))
	for i, u := range tuples {
		out[i] = u.String()
	}
	return out
}

// buildRecords creates every declared record, then resolves references so
// records may refer to each other in any order.
func buildRecords(s *Scenario) map[string]*mapper.Record {
	records := make(map[string]*mapper.Record, len(s.Records))
	for alias, decl := range s.Records {
		records[alias] = mapper.NewRecord(decl.Role, nil)
	}
	for alias, decl := range s.Records {
		r := records[alias]
		for field, v := range decl.Fields {
			r.Set(field, resolveValue(v, records))
		}
	}
	return records
}

// resolveValue turns scenario values into record field values:
//   - "@alias" is the record of that alias
//   - a list of "@alias" strings is a []*mapper.Record
//   - {role: r, key: {...}} is an *orm.Reference
//
// Anything else is returned as is.
func resolveValue(v any, records map[string]*mapper.Record) any {
	switch x := v.(type) {
	case string:
		if alias, ok := strings.CutPrefix(x, "@"); ok {
			if r, found := records[alias]; found {
				return r
			}
		}
		return x
	case []any:
		out := make([]any, len(x))
		members := make([]*mapper.Record, 0, len(x))
		for i, e := range x {
			out[i] = resolveValue(e, records)
			if r, ok := out[i].(*mapper.Record); ok {
				members = append(members, r)
			}
		}
		if len(members) == len(out) {
			return members
		}
		return out
	case map[string]any:
		role, hasRole := x["role"].(string)
		key, hasKey := x["key"].(map[string]any)
		if hasRole && hasKey && len(x) == 2 {
			return orm.NewReference(role, key)
		}
		return x
	default:
		return v
	}
}

func asSlice(v any) []any {
	switch x := v.(type) {
	case []*mapper.Record:
		out := make([]any, len(x))
		for i, r := range x {
			out[i] = r
		}
		return out
	case []any:
		return x
	default:
		return []any{v}
	}
}

// commandRecorder collects the commands submitted during one run.
type commandRecorder struct {
	log []string
}

// Observe implements orm.Observer.
func (r *commandRecorder) Observe(ev orm.Event) {
	if ev.Kind == orm.EventCommand {
		r.log = append(r.log, ev.Command)
	}
}

func (r *commandRecorder) reset() {
	r.log = nil
}

func (r *commandRecorder) commands() []string {
	return append([]string{}, r.log...)
}

// faultRunner fails the n-th submitted command with testutil.ErrInjected.
type faultRunner struct {
	orm.Runner
	failAt    int
	submitted int
}

func (r *faultRunner) Run(ctx context.Context, cmd orm.Command) error {
	r.submitted++
	if r.submitted == r.failAt {
		return fmt.Errorf("command %d: %w", r.submitted, testutil.ErrInjected)
	}
	return r.Runner.Run(ctx, cmd)
}

// backend is the storage a scenario runs against.
type backend interface {
	runner() orm.Runner
	rows(ctx context.Context, e *orm.Entity) ([]Row, error)
	close()
}

func openBackend(ctx context.Context, cfg *config, reg *schema.Registry) (backend, error) {
	switch cfg.driver {
	case DriverMemory:
		db := testutil.NewMemoryDB()
		db.Define(reg)
		return &memoryBackend{db: db}, nil
	case DriverSQLite:
		dsn := cfg.dsn
		if dsn == "" {
			dsn = ":memory:"
		}
		st, err := store.Open(ctx, store.SQLite.Name, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite store: %w", err)
		}
		if err := st.ApplySchema(ctx, reg); err != nil {
			st.Close()
			return nil, err
		}
		return &sqlBackend{st: st}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.driver)
	}
}

type memoryBackend struct {
	db *testutil.MemoryDB
}

func (b *memoryBackend) runner() orm.Runner {
	return testutil.NewRunner(b.db)
}

func (b *memoryBackend) rows(_ context.Context, e *orm.Entity) ([]Row, error) {
	raw := b.db.Rows(e.Table)
	out := make([]Row, len(raw))
	for i, r := range raw {
		out[i] = fill(e, r)
	}
	return sortRows(out)
}

func (b *memoryBackend) close() {}

type sqlBackend struct {
	st *store.Store
}

func (b *sqlBackend) runner() orm.Runner {
	return b.st.NewRunner()
}

func (b *sqlBackend) rows(ctx context.Context, e *orm.Entity) ([]Row, error) {
	raw, err := b.st.Select(ctx, e, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(raw))
	for i, r := range raw {
		out[i] = fill(e, r)
	}
	return sortRows(out)
}

func (b *sqlBackend) close() {
	b.st.Close()
}

// fill gives every row all columns of its table; unwritten columns are nil.
func fill(e *orm.Entity, r map[string]any) Row {
	row := make(Row, len(e.Columns))
	for _, col := range e.Columns {
		row[col] = r[col]
	}
	return row
}

// sortRows orders rows by their canonical encoding, so both backends
// report the same state in the same order.
func sortRows(rows []Row) ([]Row, error) {
	type keyed struct {
		key string
		row Row
	}
	ks := make([]keyed, len(rows))
	for i, r := range rows {
		b, err := MarshalCanonical(r)
		if err != nil {
			return nil, err
		}
		ks[i] = keyed{key: string(b), row: r}
	}
	slices.SortFunc(ks, func(a, b keyed) int { return strings.Compare(a.key, b.key) })
	out := make([]Row, len(ks))
	for i, k := range ks {
		out[i] = k.row
	}
	return out, nil
}
