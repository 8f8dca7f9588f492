package mapper

import (
	"fmt"
	"slices"
)

// RecordMapper implements orm.Mapper for *Record values of one role.
type RecordMapper struct {
	role      string
	columns   []string
	relations []string
}

// NewRecordMapper creates a mapper reading columns and relations by name.
func NewRecordMapper(role string, columns, relations []string) *RecordMapper {
	return &RecordMapper{
		role:      role,
		columns:   slices.Clone(columns),
		relations: slices.Clone(relations),
	}
}

func (m *RecordMapper) record(obj any) (*Record, error) {
	r, ok := obj.(*Record)
	if !ok {
		return nil, fmt.Errorf("mapper %s: want *Record, got %T", m.role, obj)
	}
	if r.role != m.role {
		return nil, fmt.Errorf("mapper %s: record of role %s", m.role, r.role)
	}
	return r, nil
}

// Extract implements orm.Mapper. Unset columns are omitted.
func (m *RecordMapper) Extract(obj any) (map[string]any, error) {
	r, err := m.record(obj)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m.columns))
	for _, c := range m.columns {
		if v, ok := r.fields[c]; ok {
			out[c] = v
		}
	}
	return out, nil
}

// FetchRelations implements orm.Mapper. Unset relations are omitted.
func (m *RecordMapper) FetchRelations(obj any) (map[string]any, error) {
	r, err := m.record(obj)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m.relations))
	for _, name := range m.relations {
		if v, ok := r.fields[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// Hydrate implements orm.Mapper. Only mapped columns are written back.
func (m *RecordMapper) Hydrate(obj any, data map[string]any) error {
	r, err := m.record(obj)
	if err != nil {
		return err
	}
	for _, c := range m.columns {
		if v, ok := data[c]; ok {
			r.fields[c] = v
		}
	}
	return nil
}
