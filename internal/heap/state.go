package heap

import (
	"fmt"
	"maps"
	"reflect"
	"sort"
)

// State is the identity record of one tracked object.
//
// INVARIANTS:
//   - A field name lives in exactly one of Data or Relations.
//   - RelationStatus only holds relations declared on Role.
//   - Pending holds values registered during the current run that have not
//     been written yet; Flush moves them into Data.
type State struct {
	Role   string
	Status Status

	// Data is the last persisted snapshot of scalar columns.
	Data map[string]any

	// Relations holds the relation values seen at the last synchronization.
	Relations map[string]any

	// RelationStatus tracks per-relation resolution in the current run.
	RelationStatus map[string]RelationStatus

	// Visited marks relations already walked by the current cycle search.
	Visited map[string]bool

	// Pending holds resolved keys and embedded columns waiting to be written.
	Pending map[string]any
}

// NewState creates a state for role with a copy of data.
func NewState(role string, status Status, data map[string]any) *State {
	s := &State{
		Role:           role,
		Status:         status,
		Data:           make(map[string]any, len(data)),
		Relations:      make(map[string]any),
		RelationStatus: make(map[string]RelationStatus),
		Visited:        make(map[string]bool),
		Pending:        make(map[string]any),
	}
	maps.Copy(s.Data, data)
	return s
}

// Persisted reports whether a row for this object exists in storage,
// including rows written earlier in the running transaction.
func (s *State) Persisted() bool {
	switch s.Status {
	case StatusLoaded, StatusScheduledUpdate, StatusScheduledDelete:
		return true
	default:
		return false
	}
}

// Register records a value that must be part of the next write.
func (s *State) Register(field string, value any) {
	s.Pending[field] = value
}

// Value returns the freshest known value of field: pending first, then data.
func (s *State) Value(field string) (any, bool) {
	if v, ok := s.Pending[field]; ok {
		return v, true
	}
	v, ok := s.Data[field]
	return v, ok
}

// Key returns the values of fields, or false if any of them is unknown or nil.
func (s *State) Key(fields []string) ([]any, bool) {
	out := make([]any, len(fields))
	for i, f := range fields {
		v, ok := s.Value(f)
		if !ok || v == nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// Changes returns the subset of values that differs from Data. A nil value
// for a field Data never held is not a change.
func (s *State) Changes(values map[string]any) map[string]any {
	changes := make(map[string]any)
	for k, v := range values {
		old, ok := s.Data[k]
		if !ok && v == nil {
			continue
		}
		if !ok || !Equal(old, v) {
			changes[k] = v
		}
	}
	return changes
}

// Flush merges written columns into Data and clears them from Pending.
func (s *State) Flush(written map[string]any) {
	for k, v := range written {
		s.Data[k] = v
		delete(s.Pending, k)
	}
}

// SetRelation promotes name from a data field to a relation value.
func (s *State) SetRelation(name string, value any) {
	delete(s.Data, name)
	s.Relations[name] = value
}

// RelationState returns the resolution status of a relation.
func (s *State) RelationState(name string) RelationStatus {
	return s.RelationStatus[name]
}

// SetRelationStatus moves a relation forward. It returns false when status
// would not advance the relation.
func (s *State) SetRelationStatus(name string, status RelationStatus) bool {
	if cur, ok := s.RelationStatus[name]; ok && cur >= status {
		return false
	}
	s.RelationStatus[name] = status
	return true
}

// BeginRun resets per-run bookkeeping for the declared relations.
func (s *State) BeginRun(relations []string) {
	clear(s.RelationStatus)
	clear(s.Visited)
	clear(s.Pending)
	for _, name := range relations {
		s.RelationStatus[name] = RelationPrepare
	}
}

// EndRun drops per-run bookkeeping after a successful synchronization.
func (s *State) EndRun() {
	clear(s.RelationStatus)
	clear(s.Visited)
	clear(s.Pending)
}

// Validate checks the state invariants against the declared relations.
func (s *State) Validate(declared map[string]bool) error {
	for name := range s.Relations {
		if _, ok := s.Data[name]; ok {
			return fmt.Errorf("%s: field %q is both data and relation", s.Role, name)
		}
	}
	for name := range s.RelationStatus {
		if !declared[name] {
			return fmt.Errorf("%s: undeclared relation %q has a status", s.Role, name)
		}
	}
	return nil
}

// Snapshot is a point-in-time copy of a State used for rollback.
type Snapshot struct {
	status         Status
	data           map[string]any
	relations      map[string]any
	relationStatus map[string]RelationStatus
	pending        map[string]any
}

// Snapshot captures the state for a later Restore.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		status:         s.Status,
		data:           maps.Clone(s.Data),
		relations:      maps.Clone(s.Relations),
		relationStatus: maps.Clone(s.RelationStatus),
		pending:        maps.Clone(s.Pending),
	}
}

// Restore rewinds the state to snap.
func (s *State) Restore(snap Snapshot) {
	s.Status = snap.status
	s.Data = orEmpty(snap.data)
	s.Relations = orEmpty(snap.relations)
	s.Pending = orEmpty(snap.pending)
	s.RelationStatus = maps.Clone(snap.relationStatus)
	if s.RelationStatus == nil {
		s.RelationStatus = make(map[string]RelationStatus)
	}
	clear(s.Visited)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	return maps.Clone(m)
}

// Fields returns the sorted data field names. Used for deterministic output.
func (s *State) Fields() []string {
	names := make([]string, 0, len(s.Data))
	for k := range s.Data {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal compares two column values, treating integer and float kinds of
// equal magnitude as the same value (drivers return int64 for any integer).
func Equal(a, b any) bool {
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}

// Normalize widens numeric values to int64 or float64.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	default:
		return v
	}
}
