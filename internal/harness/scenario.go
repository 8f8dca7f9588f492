package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario: a schema, a set of records and
// the transactions run over them, with the outcome each must produce.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the schema file (YAML or CUE) or CUE directory. Relative
	// paths are resolved against the scenario file location.
	Schema string `yaml:"schema"`

	// Driver selects the backend: "memory" (default) or "sqlite".
	Driver string `yaml:"driver,omitempty"`

	// Records declares the objects of the scenario by alias. Field values
	// of the form "@alias" refer to another record.
	Records map[string]RecordDecl `yaml:"records"`

	// Transactions run in order over one shared heap.
	Transactions []TxStep `yaml:"transactions"`

	// Assertions validate the commands and the final tables.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// RecordDecl declares one record.
type RecordDecl struct {
	Role   string         `yaml:"role"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// TxStep is one transaction run.
type TxStep struct {
	Name string `yaml:"name"`

	// Ops are applied in order before Run. set and unset edit records,
	// persist, delete and force_delete mark them.
	Ops []Op `yaml:"ops"`

	// FailAt makes the n-th submitted command fail (1-based).
	FailAt int `yaml:"fail_at,omitempty"`

	// Expect is ok (default), unresolved, invariant or backend_error.
	Expect string `yaml:"expect,omitempty"`
}

// Op is one operation of a transaction step.
type Op struct {
	Op      string `yaml:"op"`
	Record  string `yaml:"record"`
	Cascade *bool  `yaml:"cascade,omitempty"`
	Field   string `yaml:"field,omitempty"`
	Value   any    `yaml:"value,omitempty"`
}

// CascadeOr returns the cascade flag, def when unset.
func (o Op) CascadeOr(def bool) bool {
	if o.Cascade == nil {
		return def
	}
	return *o.Cascade
}

// Operation names.
const (
	OpPersist     = "persist"
	OpDelete      = "delete"
	OpForceDelete = "force_delete"
	OpSet         = "set"
	OpUnset       = "unset"
	OpAppend      = "append"
)

// Outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeUnresolved   = "unresolved"
	OutcomeInvariant    = "invariant"
	OutcomeBackendError = "backend_error"
)

// Drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Assertion validates the command trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "command_contains": a command starting with Command was run
	// - "command_order": commands starting with Commands ran in that order
	// - "command_count": exactly Count commands start with Command
	// - "final_state": Table holds a row matching Where with Expect values,
	//   or exactly Count rows matching Where when Expect is empty
	Type string `yaml:"type"`

	Command  string         `yaml:"command,omitempty"`
	Commands []string       `yaml:"commands,omitempty"`
	Count    *int           `yaml:"count,omitempty"`
	Table    string         `yaml:"table,omitempty"`
	Where    map[string]any `yaml:"where,omitempty"`
	Expect   map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertCommandContains = "command_contains"
	AssertCommandOrder    = "command_order"
	AssertCommandCount    = "command_count"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
		return fmt.Errorf("schema file not found: %s", s.Schema)
	}
	switch s.Driver {
	case "", DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("unknown driver %q (want memory or sqlite)", s.Driver)
	}
	if len(s.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}

	for alias, rec := range s.Records {
		if rec.Role == "" {
			return fmt.Errorf("records.%s: role is required", alias)
		}
		for field, v := range rec.Fields {
			if err := checkRefs(s, v); err != nil {
				return fmt.Errorf("records.%s.%s: %w", alias, field, err)
			}
		}
	}

	for i, tx := range s.Transactions {
		if tx.Name == "" {
			return fmt.Errorf("transactions[%d]: name is required", i)
		}
		if len(tx.Ops) == 0 {
			return fmt.Errorf("transactions[%d]: ops list is required and must be non-empty", i)
		}
		if tx.FailAt < 0 {
			return fmt.Errorf("transactions[%d]: fail_at must be non-negative", i)
		}
		switch tx.Expect {
		case "", OutcomeOK, OutcomeUnresolved, OutcomeInvariant, OutcomeBackendError:
		default:
			return fmt.Errorf("transactions[%d]: unknown expect %q", i, tx.Expect)
		}
		for j, op := range tx.Ops {
			if err := validateOp(s, op); err != nil {
				return fmt.Errorf("transactions[%d].ops[%d]: %w", i, j, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateOp(s *Scenario, op Op) error {
	if _, ok := s.Records[op.Record]; !ok {
		return fmt.Errorf("unknown record %q", op.Record)
	}
	switch op.Op {
	case OpPersist, OpDelete, OpForceDelete:
		return nil
	case OpSet, OpAppend:
		if op.Field == "" {
			return fmt.Errorf("%s: field is required", op.Op)
		}
		return checkRefs(s, op.Value)
	case OpUnset:
		if op.Field == "" {
			return fmt.Errorf("unset: field is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

// checkRefs rejects "@alias" values naming no record.
func checkRefs(s *Scenario, v any) error {
	switch x := v.(type) {
	case string:
		if alias, ok := strings.CutPrefix(x, "@"); ok {
			if _, known := s.Records[alias]; !known {
				return fmt.Errorf("unknown record %q", alias)
			}
		}
	case []any:
		for _, e := range x {
			if err := checkRefs(s, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCommandContains:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for command_contains", index)
		}
	case AssertCommandOrder:
		if len(a.Commands) == 0 {
			return fmt.Errorf("assertions[%d]: commands list is required for command_order", index)
		}
	case AssertCommandCount:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for command_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for command_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 && a.Count == nil {
			return fmt.Errorf("assertions[%d]: expect or count is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
