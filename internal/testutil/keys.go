package testutil

import (
	"fmt"
	"sync"
)

// KeySequence produces deterministic primary keys for uuid-keyed roles, so
// golden traces do not depend on random UUIDs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type KeySequence struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewKeySequence creates a sequence starting at 1. The first key is
// "<prefix>-0001".
func NewKeySequence(prefix string) *KeySequence {
	if prefix == "" {
		prefix = "key"
	}
	return &KeySequence{prefix: prefix}
}

// Next returns the next key. Usable as command.KeyFunc.
func (s *KeySequence) Next() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%s-%04d", s.prefix, s.seq)
}

// Reset restarts the sequence. After Reset(), Next() returns the first key
// again.
func (s *KeySequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
}
