package orm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeUnresolved indicates the pool could not reach a fixpoint.
	ErrCodeUnresolved ErrorCode = "UNRESOLVED_RELATIONS"

	// ErrCodeInvariant indicates an integration error: a tuple without a
	// state or mapper, an unknown role, a malformed relation value.
	ErrCodeInvariant ErrorCode = "INVARIANT_VIOLATION"

	// ErrCodePassLimit indicates the drain hit the configured pass limit.
	ErrCodePassLimit ErrorCode = "PASS_LIMIT"
)

// UnresolvedTuple describes one tuple that never reached TupleProcessed.
type UnresolvedTuple struct {
	Entity    any
	Role      string
	Task      Task
	Status    TupleStatus
	Relations []string
}

func (u UnresolvedTuple) String() string {
	if len(u.Relations) == 0 {
		return fmt.Sprintf("%s %s (%s)", u.Task, u.Role, u.Status)
	}
	return fmt.Sprintf("%s %s (%s) pending [%s]", u.Task, u.Role, u.Status, strings.Join(u.Relations, ", "))
}

// UnresolvedError is returned when a pass over the pool makes no progress
// while tuples remain. It lists every stuck tuple with its pending relations.
//
// The caller can only recover by fixing the object graph, e.g. assigning a
// required parent.
type UnresolvedError struct {
	TxID   string
	Tuples []UnresolvedTuple
	Passes int
}

// Error implements the error interface.
func (e *UnresolvedError) Error() string {
	parts := make([]string, len(e.Tuples))
	for i, u := range e.Tuples {
		parts[i] = u.String()
	}
	return fmt.Sprintf("%s: %d tuple(s) unresolved after %d pass(es): %s",
		ErrCodeUnresolved, len(e.Tuples), e.Passes, strings.Join(parts, "; "))
}

// Code returns ErrCodeUnresolved.
func (e *UnresolvedError) Code() ErrorCode {
	return ErrCodeUnresolved
}

// InvariantError marks a programming or integration error. Never retried.
type InvariantError struct {
	Role    string
	Message string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("%s: %s: %s", ErrCodeInvariant, e.Role, e.Message)
	}
	return fmt.Sprintf("%s: %s", ErrCodeInvariant, e.Message)
}

// Code returns ErrCodeInvariant.
func (e *InvariantError) Code() ErrorCode {
	return ErrCodeInvariant
}

// PassLimitError is returned when the drain stops at WithMaxPasses.
type PassLimitError struct {
	TxID       string
	Limit      int
	Unresolved []UnresolvedTuple
}

// Error implements the error interface.
func (e *PassLimitError) Error() string {
	return fmt.Sprintf("%s: transaction %s stopped after %d passes with %d tuple(s) left",
		ErrCodePassLimit, e.TxID, e.Limit, len(e.Unresolved))
}

// Code returns ErrCodePassLimit.
func (e *PassLimitError) Code() ErrorCode {
	return ErrCodePassLimit
}

// IsUnresolved returns true if err is an UnresolvedError.
// Uses errors.As to handle wrapped errors.
func IsUnresolved(err error) bool {
	var ue *UnresolvedError
	return errors.As(err, &ue)
}

// IsInvariant returns true if err is an InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// IsPassLimit returns true if err is a PassLimitError.
func IsPassLimit(err error) bool {
	var pe *PassLimitError
	return errors.As(err, &pe)
}

// CodeOf returns the engine error code of err, or "" for backend errors.
func CodeOf(err error) ErrorCode {
	var coded interface{ Code() ErrorCode }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}

func describe(tuples []*Tuple) []UnresolvedTuple {
	out := make([]UnresolvedTuple, len(tuples))
	for i, t := range tuples {
		out[i] = UnresolvedTuple{
			Entity:    t.Entity,
			Role:      t.Role(),
			Task:      t.Task,
			Status:    t.Status,
			Relations: t.Pending(),
		}
	}
	return out
}
