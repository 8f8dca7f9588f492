// Package mapper provides the generic Record object and the mapper that
// moves its fields in and out of column maps.
package mapper

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Record is a dynamically typed entity: a role plus named fields. Field
// values are scalars for columns and records, slices of records or
// references for relations.
//
// Records are tracked by pointer identity.
type Record struct {
	role   string
	fields map[string]any
}

// NewRecord creates a record of role with a copy of fields.
func NewRecord(role string, fields map[string]any) *Record {
	r := &Record{role: role, fields: make(map[string]any, len(fields))}
	maps.Copy(r.fields, fields)
	return r
}

// Role returns the record's role.
func (r *Record) Role() string {
	return r.role
}

// Get returns the field value, or nil.
func (r *Record) Get(name string) any {
	return r.fields[name]
}

// Lookup returns the field value and whether it is set.
func (r *Record) Lookup(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Has reports whether the field is set, possibly to nil.
func (r *Record) Has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// Set assigns a field.
func (r *Record) Set(name string, value any) {
	r.fields[name] = value
}

// Unset removes a field.
func (r *Record) Unset(name string) {
	delete(r.fields, name)
}

// Append adds members to a slice relation field.
func (r *Record) Append(name string, members ...*Record) {
	cur, _ := r.fields[name].([]*Record)
	next := make([]*Record, 0, len(cur)+len(members))
	next = append(next, cur...)
	r.fields[name] = append(next, members...)
}

// Fields returns a copy of every field.
func (r *Record) Fields() map[string]any {
	return maps.Clone(r.fields)
}

func (r *Record) String() string {
	names := slices.Sorted(maps.Keys(r.fields))
	parts := make([]string, 0, len(names))
	for _, n := range names {
		switch v := r.fields[n].(type) {
		case *Record:
			parts = append(parts, fmt.Sprintf("%s=%s{...}", n, v.role))
		case []*Record:
			parts = append(parts, fmt.Sprintf("%s=[%d]", n, len(v)))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", n, v))
		}
	}
	return fmt.Sprintf("%s{%s}", r.role, strings.Join(parts, " "))
}
