package schema

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
)

// CompileError is a schema declaration error. Pos is set for CUE sources.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileErrors collects every error of one compilation.
type CompileErrors []*CompileError

func (e CompileErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}

// Unwrap exposes each error to errors.Is and errors.As.
func (e CompileErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, ce := range e {
		out[i] = ce
	}
	return out
}

// AsCompileErrors returns the individual compile errors of err.
func AsCompileErrors(err error) []*CompileError {
	var many CompileErrors
	if errors.As(err, &many) {
		return many
	}
	var one *CompileError
	if errors.As(err, &one) {
		return []*CompileError{one}
	}
	return nil
}
