package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/unitwork/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                 `json:"valid"`
	Roles  []string             `json:"roles"`
	Cycles []schema.CycleWarning `json:"cycles,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema>",
		Short: "Validate a schema and report relation cycles",
		Long: `Compile a YAML or CUE schema and report every declaration error.

Cycles of master relations are reported as warnings when no relation in
the cycle is refers_to, since such rows can never be written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	reg, le := LoadSchema(path)
	if le != nil {
		return loadError(formatter, le)
	}
	formatter.VerboseLog("compiled %d role(s) from %s", len(reg.Roles()), path)

	result := ValidationResult{
		Valid:  true,
		Roles:  reg.Roles(),
		Cycles: schema.AnalyzeCycles(reg),
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Schema valid (%d roles)\n", len(result.Roles))
	for _, c := range result.Cycles {
		fmt.Fprintf(w, "  %s: %s\n", c.Level, c.Message)
	}
	return nil
}
