package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/unitwork/internal/store"
)

// DDLOptions holds flags for the ddl command.
type DDLOptions struct {
	*RootOptions
	Dialect string
}

// NewDDLCommand creates the ddl command.
func NewDDLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DDLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ddl <schema>",
		Short: "Print the CREATE statements of a schema",
		Long: `Print the tables, unique indexes and foreign keys a schema compiles to.

Example:
  unitwork ddl ./schema.yaml
  unitwork ddl --dialect postgres ./schema.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDDL(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dialect, "dialect", store.SQLite.Name, "SQL dialect (sqlite|postgres)")
	return cmd
}

func runDDL(opts *DDLOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	d, err := store.DialectFor(opts.Dialect)
	if err != nil {
		_ = formatter.Error(ErrCodeDialect, err.Error(), nil)
		return WrapExitError(ExitCommandError, "unknown dialect", err)
	}

	reg, le := LoadSchema(path)
	if le != nil {
		return loadError(formatter, le)
	}

	stmts := store.DDL(d, reg)
	if opts.Format == "json" {
		return formatter.Success(map[string]any{
			"dialect":    d.Name,
			"statements": stmts,
		})
	}
	for _, s := range stmts {
		fmt.Fprintln(formatter.Writer, strings.TrimSpace(s)+";")
	}
	return nil
}
