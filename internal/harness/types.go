package harness

// TraceEvent is the record of one transaction run.
type TraceEvent struct {
	Transaction string `json:"transaction"`

	// Commands are the commands submitted to the runner, in order,
	// including a command that failed.
	Commands []string `json:"commands"`

	// Outcome is ok, unresolved, invariant or backend_error.
	Outcome string `json:"outcome"`

	// Code is the engine error code, empty for ok and backend errors.
	Code string `json:"code,omitempty"`

	Passes int `json:"passes"`

	// Unresolved lists the stuck tuples of an unresolved run.
	Unresolved []string `json:"unresolved,omitempty"`
}

// Row is one table row of the final state.
type Row map[string]any

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success: every transaction produced
	// its expected outcome and every assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per transaction.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the rows of every table after the last transaction,
	// in a stable order.
	State map[string][]Row `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]Row),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Commands returns the commands of every transaction in order.
func (r *Result) Commands() []string {
	var out []string
	for _, ev := range r.Trace {
		out = append(out, ev.Commands...)
	}
	return out
}
