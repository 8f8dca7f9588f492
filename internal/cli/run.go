package cli

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/unitwork/internal/harness"
	"github.com/roach88/unitwork/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Driver   string
	Database string
	Metrics  bool
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Result  *harness.Result  `json:"result"`
	Metrics []metrics.Sample `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a transaction scenario",
		Long: `Run the transactions of a scenario file and print the commands each
one submitted, its outcome and the final tables.

With --db the scenario runs against that SQLite database file, which is
created if it doesn't exist.

Example:
  unitwork run ./scenarios/blog.yaml
  unitwork run --driver sqlite --db /tmp/blog.db ./scenarios/blog.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Driver, "driver", "", "backend override (memory|sqlite)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (implies --driver sqlite)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print engine counters after the run")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := formatter.Logger()

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	m := metrics.New()
	runOpts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithObserver(m),
	}
	driver := opts.Driver
	if opts.Database != "" {
		if driver == "" {
			driver = harness.DriverSQLite
		}
		runOpts = append(runOpts, harness.WithDSN(opts.Database))
	}
	if driver != "" {
		runOpts = append(runOpts, harness.WithDriver(driver))
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("running scenario", "name", scenario.Name, "driver", driver, "transactions", len(scenario.Transactions))
	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "scenario could not run", err)
	}

	var samples []metrics.Sample
	if opts.Metrics {
		if samples, err = m.Snapshot(); err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(RunOutput{Result: result, Metrics: samples}); err != nil {
			return err
		}
	} else {
		printResult(formatter, scenario, result, samples)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed with %d error(s)", scenario.Name, len(result.Errors)))
	}
	return nil
}

func printResult(f *OutputFormatter, scenario *harness.Scenario, result *harness.Result, samples []metrics.Sample) {
	w := f.Writer
	for _, ev := range result.Trace {
		mark := "✓"
		if ev.Outcome != harness.OutcomeOK {
			mark = "•"
		}
		fmt.Fprintf(w, "%s %s: %s after %d pass(es)\n", mark, ev.Transaction, ev.Outcome, ev.Passes)
		for _, c := range ev.Commands {
			fmt.Fprintf(w, "    %s\n", c)
		}
		for _, u := range ev.Unresolved {
			fmt.Fprintf(w, "    unresolved: %s\n", u)
		}
	}

	if f.Verbose {
		for _, e := range slices.Sorted(maps.Keys(result.State)) {
			fmt.Fprintf(w, "table %s: %d row(s)\n", e, len(result.State[e]))
		}
	}
	for _, s := range samples {
		fmt.Fprintf(w, "%s%v %g\n", s.Name, s.Labels, s.Value)
	}

	if result.Pass {
		fmt.Fprintf(w, "✓ %s passed\n", scenario.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s failed\n", scenario.Name)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
