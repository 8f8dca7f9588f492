package orm

import (
	"fmt"
	"log/slog"

	"github.com/roach88/unitwork/internal/heap"
)

// ORM bundles the collaborators shared by every transaction: the entity
// registry, the process-wide heap and the command generator.
//
// Thread-safety: the ORM itself is immutable after New. Transactions that
// touch overlapping objects must be serialized by the caller.
type ORM struct {
	Registry  Registry
	Heap      *heap.Heap
	Generator Generator

	logger   *slog.Logger
	ids      IDGenerator
	observer Observer
}

// Option configures an ORM.
type Option func(*ORM)

// WithLogger sets the logger used by transactions. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *ORM) {
		o.logger = logger
	}
}

// WithObserver adds an observer that receives every engine event.
func WithObserver(obs Observer) Option {
	return func(o *ORM) {
		if o.observer == nil {
			o.observer = obs
			return
		}
		if many, ok := o.observer.(Observers); ok {
			o.observer = append(many, obs)
			return
		}
		o.observer = Observers{o.observer, obs}
	}
}

// WithIDGenerator sets the transaction id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *ORM) {
		o.ids = g
	}
}

// WithHeap shares an existing heap instead of creating a new one.
func WithHeap(h *heap.Heap) Option {
	return func(o *ORM) {
		o.Heap = h
	}
}

// New creates an ORM over the given registry and generator.
func New(registry Registry, generator Generator, opts ...Option) (*ORM, error) {
	if registry == nil {
		return nil, fmt.Errorf("orm: registry is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("orm: generator is required")
	}
	o := &ORM{
		Registry:  registry,
		Generator: generator,
		logger:    slog.Default(),
		ids:       UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Heap == nil {
		o.Heap = heap.New()
	}
	return o, nil
}

// Track attaches an object loaded from storage to the heap as StatusLoaded.
//
// Loader collaborators call this after reading a row; data holds the row's
// column values.
func (o *ORM) Track(obj any, data map[string]any) error {
	role, err := o.Registry.RoleOf(obj)
	if err != nil {
		return err
	}
	schema, err := o.Registry.Entity(role)
	if err != nil {
		return err
	}
	state := heap.NewState(role, heap.StatusLoaded, data)
	if err := o.Heap.Attach(obj, state, schema.UniqueIndexes()); err != nil {
		return err
	}
	if schema.Mapper == nil {
		return nil
	}
	related, err := schema.Mapper.FetchRelations(obj)
	if err != nil {
		return err
	}
	for name, value := range related {
		if _, declared := schema.Relations.Get(name); declared {
			state.SetRelation(name, snapshotValue(value))
		}
	}
	return nil
}

// NewTransaction creates a transaction bound to runner.
func (o *ORM) NewTransaction(runner Runner, opts ...TxOption) *Transaction {
	tx := &Transaction{
		orm:       o,
		runner:    runner,
		maxPasses: DefaultMaxPasses,
		logger:    o.logger,
		observer:  o.observer,
	}
	for _, opt := range opts {
		opt(tx)
	}
	if tx.id == "" {
		tx.id = o.ids.Generate()
	}
	return tx
}
