package cli

import (
	"fmt"
	"os"

	"github.com/roach88/unitwork/internal/schema"
)

// LoadError represents an error that occurred while loading a schema.
type LoadError struct {
	Code    string
	Message string
	Errors  []*schema.CompileError // compile errors, when Code is ErrCodeCompile
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchema loads and compiles a schema file or CUE directory.
func LoadSchema(path string) (*schema.Registry, *LoadError) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema: %v", err)}
	}

	doc, err := schema.Load(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	}

	reg, err := schema.Compile(doc)
	if err != nil {
		errs := schema.AsCompileErrors(err)
		return nil, &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("schema has %d error(s)", max(len(errs), 1)),
			Errors:  errs,
		}
	}
	return reg, nil
}

// Error codes for CLI responses.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeLoadFailed  = "E004" // Schema decode failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeCompile     = "E101" // Schema declaration error
	ErrCodeDialect     = "E102" // Unknown SQL dialect
	ErrCodeScenario    = "E201" // Scenario load error
	ErrCodeTestFailed  = "E_TEST_FAILED"
)
