package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// Mapper moves data between a domain object and flat column maps.
type Mapper interface {
	// Extract returns the current scalar column values of obj.
	Extract(obj any) (map[string]any, error)
	// FetchRelations returns the relation values assigned on obj. Relations
	// that were never assigned are absent from the map.
	FetchRelations(obj any) (map[string]any, error)
	// Hydrate applies persisted data back onto obj.
	Hydrate(obj any, data map[string]any) error
}

// Side classifies a relation by when it can be resolved.
type Side int

const (
	// SideMaster relations must resolve before the owning row is written.
	SideMaster Side = iota + 1
	// SideSlave relations resolve after the owning row is written.
	SideSlave
	// SideEmbedded relations are merged into the owning row.
	SideEmbedded
)

func (s Side) String() string {
	switch s {
	case SideMaster:
		return "master"
	case SideSlave:
		return "slave"
	case SideEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// Relation is the capability set shared by every relation kind.
type Relation interface {
	Name() string
	Kind() string
	Side() Side
	Target() string
	Cascade() bool
	Nullable() bool
	InnerKeys() []string
	OuterKeys() []string

	// Prepare receives the raw related value once per run. It schedules the
	// related objects into the pool and may resolve trivial cases.
	Prepare(pool *Pool, tuple *Tuple, related any, load bool) error

	// Queue re-checks whether the dependency can now supply its key and
	// advances the relation status. primary is the command written for the
	// owning tuple, or nil.
	Queue(pool *Pool, tuple *Tuple, primary Command) error
}

// Command is one unit of storage work.
type Command interface {
	Execute(ctx context.Context, exec Executor) error
	// Kind is "insert", "update" or "delete".
	Kind() string
	String() string
}

// Executor is the storage surface commands are executed against.
type Executor interface {
	// Insert writes one row. When returning is set the generated value of
	// that column is returned.
	Insert(ctx context.Context, table string, columns []string, values []any, returning string) (any, error)
	Update(ctx context.Context, table string, set map[string]any, where map[string]any) (int64, error)
	Delete(ctx context.Context, table string, where map[string]any) (int64, error)
}

// Runner is the scoped transaction boundary commands are submitted to.
// Run may be called many times before a single Complete or Rollback.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
	Rollback(ctx context.Context) error
	Complete(ctx context.Context) error
}

// Generator materializes commands for tuples whose dependencies are met.
// Either method may return a nil Command when there is nothing to write.
type Generator interface {
	StoreCommand(o *ORM, t *Tuple) (Command, error)
	DeleteCommand(o *ORM, t *Tuple) (Command, error)
}

// Registry resolves roles to their descriptors.
type Registry interface {
	Entity(role string) (*Entity, error)
	RoleOf(obj any) (string, error)
}

// KeyStrategy controls how primary keys of new rows are produced.
type KeyStrategy string

const (
	// KeyAuto lets the backend generate the key.
	KeyAuto KeyStrategy = "auto"
	// KeyUUID assigns a UUIDv7 before insertion.
	KeyUUID KeyStrategy = "uuid"
	// KeyNone requires the caller to supply the key.
	KeyNone KeyStrategy = "none"
)

// Entity describes one role.
type Entity struct {
	Role       string
	Table      string
	PrimaryKey []string
	Keys       KeyStrategy
	Columns    []string
	Indexes    [][]string
	Mapper     Mapper
	Relations  *RelationMap
}

// UniqueIndexes returns the primary key followed by the declared indexes.
func (e *Entity) UniqueIndexes() [][]string {
	out := make([][]string, 0, len(e.Indexes)+1)
	if len(e.PrimaryKey) > 0 {
		out = append(out, e.PrimaryKey)
	}
	return append(out, e.Indexes...)
}

// IsPrimary reports whether column is part of the primary key.
func (e *Entity) IsPrimary(column string) bool {
	return slices.Contains(e.PrimaryKey, column)
}

// Reference points at a row by key without a loaded object behind it.
type Reference struct {
	Role string
	Key  map[string]any
}

// NewReference creates a reference to role identified by key.
func NewReference(role string, key map[string]any) *Reference {
	return &Reference{Role: role, Key: maps.Clone(key)}
}

// Values returns the key values for fields, or false if any is missing.
func (r *Reference) Values(fields []string) ([]any, bool) {
	out := make([]any, len(fields))
	for i, f := range fields {
		v, ok := r.Key[f]
		if !ok || v == nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (r *Reference) String() string {
	keys := make([]string, 0, len(r.Key))
	for k := range r.Key {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, r.Key[k])
	}
	return fmt.Sprintf("%s(%s)", r.Role, strings.Join(parts, ","))
}
