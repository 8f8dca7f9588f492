package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"
)

// Load reads a schema document from a YAML file, a CUE file or a directory
// of CUE files.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if info.IsDir() {
		return LoadCUEDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return DecodeYAML(bytes.NewReader(data))
	case ".cue":
		return DecodeCUE(path, data)
	default:
		return nil, fmt.Errorf("schema: unsupported file type %q", filepath.Ext(path))
	}
}

// DecodeYAML decodes a YAML document. Unknown fields are rejected.
func DecodeYAML(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("schema: parse yaml: %w", err)
	}
	return &doc, nil
}

// DecodeCUE compiles a single CUE source and decodes its value.
func DecodeCUE(filename string, src []byte) (*Document, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return decodeValue(v)
}

// LoadCUEDir loads the CUE package in dir.
func LoadCUEDir(dir string) (*Document, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("schema: no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	ctx := cuecontext.New()
	return decodeValue(ctx.BuildInstance(inst))
}

func decodeValue(v cue.Value) (*Document, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	roles := v.LookupPath(cue.ParsePath("roles"))
	if !roles.Exists() {
		return nil, &CompileError{Field: "roles", Message: "roles is required", Pos: v.Pos()}
	}
	var doc Document
	if err := v.Decode(&doc); err != nil {
		return nil, formatCUEError(err)
	}
	return &doc, nil
}

// formatCUEError flattens CUE errors into one CompileError positioned at
// the first error. The message keeps the details of every error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	msg := strings.TrimSpace(cueerrors.Details(err, nil))
	if positions := cueerrors.Positions(errs[0]); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: msg,
			Pos:     positions[0],
		}
	}
	return &CompileError{Field: "cue", Message: msg}
}
