package orm

import "fmt"

// RelationMap holds the relations declared on one role, classified by side.
// Declaration order is preserved within each side.
type RelationMap struct {
	Masters  []Relation
	Slaves   []Relation
	Embedded []Relation

	byName map[string]Relation
}

// NewRelationMap classifies relations. Duplicate names are rejected.
func NewRelationMap(relations ...Relation) (*RelationMap, error) {
	m := &RelationMap{byName: make(map[string]Relation, len(relations))}
	for _, r := range relations {
		if err := m.Add(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add classifies one more relation.
func (m *RelationMap) Add(r Relation) error {
	if m.byName == nil {
		m.byName = make(map[string]Relation)
	}
	if _, dup := m.byName[r.Name()]; dup {
		return fmt.Errorf("duplicate relation %q", r.Name())
	}
	switch r.Side() {
	case SideMaster:
		m.Masters = append(m.Masters, r)
	case SideSlave:
		m.Slaves = append(m.Slaves, r)
	case SideEmbedded:
		m.Embedded = append(m.Embedded, r)
	default:
		return fmt.Errorf("relation %q: unknown side %d", r.Name(), r.Side())
	}
	m.byName[r.Name()] = r
	return nil
}

// Get returns a relation by name.
func (m *RelationMap) Get(name string) (Relation, bool) {
	if m == nil {
		return nil, false
	}
	r, ok := m.byName[name]
	return r, ok
}

// Side returns the relations of one side.
func (m *RelationMap) Side(s Side) []Relation {
	if m == nil {
		return nil
	}
	switch s {
	case SideMaster:
		return m.Masters
	case SideSlave:
		return m.Slaves
	case SideEmbedded:
		return m.Embedded
	}
	return nil
}

// Names returns every declared relation name.
func (m *RelationMap) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.byName))
	for _, s := range []Side{SideMaster, SideSlave, SideEmbedded} {
		for _, r := range m.Side(s) {
			names = append(names, r.Name())
		}
	}
	return names
}

// Declared returns the relation names as a set.
func (m *RelationMap) Declared() map[string]bool {
	set := make(map[string]bool)
	for _, n := range m.Names() {
		set[n] = true
	}
	return set
}

// Cascading returns the relations of side s that cascade.
func (m *RelationMap) Cascading(s Side) []Relation {
	var out []Relation
	for _, r := range m.Side(s) {
		if r.Cascade() {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of declared relations.
func (m *RelationMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byName)
}
