package heap

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/btree"
)

// Handle is the stable identifier of a tracked object inside a Heap.
type Handle uint64

// ErrNotComparable is returned when an object cannot be used as an identity
// key (maps, slices, funcs). Track pointers instead.
var ErrNotComparable = errors.New("heap: tracked object must be comparable")

// Heap is the process-wide identity map.
//
// Each tracked object is held by reference and maps to exactly one State.
// Objects are additionally indexed by the values of their unique indexes so
// a lazy reference can be turned back into the tracked object.
//
// The mutex protects the maps themselves. Two transactions touching the same
// objects concurrently are still unsafe; callers serialize runs.
type Heap struct {
	mu      sync.Mutex
	clock   *Clock
	handles map[any]Handle
	entries map[Handle]*entry
	order   *btree.BTreeG[Handle]
	index   map[string]Handle
}

type entry struct {
	object any
	state  *State
	keys   []string
}

// New creates an empty heap.
func New() *Heap {
	return &Heap{
		clock:   NewClock(),
		handles: make(map[any]Handle),
		entries: make(map[Handle]*entry),
		order:   btree.NewG(8, func(a, b Handle) bool { return a < b }),
		index:   make(map[string]Handle),
	}
}

// Attach registers obj with state, or replaces the state of an already
// tracked obj, and re-indexes it by the given unique indexes. Index values
// are read from state.Data; indexes with a nil component are skipped.
func (h *Heap) Attach(obj any, state *State, indexes [][]string) error {
	if obj == nil || !reflect.TypeOf(obj).Comparable() {
		return ErrNotComparable
	}
	if state == nil {
		return fmt.Errorf("heap: attach %T without state", obj)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	handle, ok := h.handles[obj]
	if !ok {
		handle = h.clock.Next()
		h.handles[obj] = handle
		h.order.ReplaceOrInsert(handle)
		h.entries[handle] = &entry{object: obj}
	}
	e := h.entries[handle]
	e.state = state

	for _, k := range e.keys {
		if h.index[k] == handle {
			delete(h.index, k)
		}
	}
	e.keys = e.keys[:0]

	for _, fields := range indexes {
		k, ok := indexKey(state.Role, fields, state.Data)
		if !ok {
			continue
		}
		if other, taken := h.index[k]; taken && other != handle {
			slog.Warn("unique index claimed by two tracked objects",
				"role", state.Role,
				"index", strings.Join(fields, ","),
			)
		}
		h.index[k] = handle
		e.keys = append(e.keys, k)
	}
	return nil
}

// Get returns the state of a tracked object.
func (h *Heap) Get(obj any) (*State, bool) {
	if obj == nil || !reflect.TypeOf(obj).Comparable() {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	handle, ok := h.handles[obj]
	if !ok {
		return nil, false
	}
	return h.entries[handle].state, true
}

// Has reports whether obj is tracked.
func (h *Heap) Has(obj any) bool {
	_, ok := h.Get(obj)
	return ok
}

// Detach stops tracking obj. Its handle is never reused.
func (h *Heap) Detach(obj any) {
	if obj == nil || !reflect.TypeOf(obj).Comparable() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	handle, ok := h.handles[obj]
	if !ok {
		return
	}
	e := h.entries[handle]
	for _, k := range e.keys {
		if h.index[k] == handle {
			delete(h.index, k)
		}
	}
	delete(h.handles, obj)
	delete(h.entries, handle)
	h.order.Delete(handle)
}

// Find looks a tracked object up by the values of one of its unique indexes.
func (h *Heap) Find(role string, key map[string]any) (any, *State, bool) {
	fields := make([]string, 0, len(key))
	for f := range key {
		fields = append(fields, f)
	}
	k, ok := indexKey(role, fields, key)
	if !ok {
		return nil, nil, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	handle, ok := h.index[k]
	if !ok {
		return nil, nil, false
	}
	e := h.entries[handle]
	return e.object, e.state, true
}

// All yields tracked objects in attachment order.
//
// The sequence is computed up front, so the heap may be modified while
// iterating.
func (h *Heap) All() iter.Seq2[any, *State] {
	h.mu.Lock()
	items := make([]*entry, 0, h.order.Len())
	h.order.Ascend(func(handle Handle) bool {
		items = append(items, h.entries[handle])
		return true
	})
	h.mu.Unlock()

	return func(yield func(any, *State) bool) {
		for _, e := range items {
			if !yield(e.object, e.state) {
				return
			}
		}
	}
}

// Len returns the number of tracked objects.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}

// indexKey builds the lookup key "role|a=1|b=x" with fields sorted.
func indexKey(role string, fields []string, values map[string]any) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(role)
	for _, f := range sorted {
		v, ok := values[f]
		if !ok || v == nil {
			return "", false
		}
		fmt.Fprintf(&b, "|%s=%v", f, Normalize(v))
	}
	return b.String(), true
}
