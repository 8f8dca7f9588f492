// Package schema loads entity declarations and compiles them into the
// registry the scheduler works against.
//
// Declarations are written in YAML or CUE:
//
//	roles:
//	  post:
//	    columns: [id, title]
//	    relations:
//	      - {name: author, kind: belongs_to, target: user}
//	      - {name: comments, kind: has_many, target: comment}
//
// Compile fills defaults (table = role, primary key = [id], keys = auto),
// adds foreign key columns, and generates the shadow relation carried by
// every has_one/has_many target.
package schema

// Document is the source form of a schema.
type Document struct {
	Roles map[string]RoleDoc `yaml:"roles" json:"roles"`
}

// RoleDoc declares one entity role.
type RoleDoc struct {
	Table      string        `yaml:"table,omitempty" json:"table,omitempty"`
	PrimaryKey []string      `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	Keys       string        `yaml:"keys,omitempty" json:"keys,omitempty"`
	Columns    []string      `yaml:"columns" json:"columns"`
	Indexes    [][]string    `yaml:"indexes,omitempty" json:"indexes,omitempty"`

	// Types maps columns to integer, real, text, boolean or blob. Columns
	// without an entry are text; foreign keys take the type of the key they
	// reference.
	Types map[string]string `yaml:"types,omitempty" json:"types,omitempty"`
	Relations  []RelationDoc `yaml:"relations,omitempty" json:"relations,omitempty"`

	// Embeddable roles have no table; they only exist inside an owner row.
	Embeddable bool `yaml:"embeddable,omitempty" json:"embeddable,omitempty"`
}

// RelationDoc declares one relation of a role.
type RelationDoc struct {
	Name      string   `yaml:"name" json:"name"`
	Kind      string   `yaml:"kind" json:"kind"`
	Target    string   `yaml:"target" json:"target"`
	InnerKeys []string `yaml:"inner_keys,omitempty" json:"inner_keys,omitempty"`
	OuterKeys []string `yaml:"outer_keys,omitempty" json:"outer_keys,omitempty"`
	Cascade   *bool    `yaml:"cascade,omitempty" json:"cascade,omitempty"`
	Nullable  *bool    `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	Prefix    string   `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}
