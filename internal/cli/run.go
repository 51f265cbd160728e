package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/itemsync/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database  string
	Workspace string
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Name     string   `json:"name"`
	Database string   `json:"database"`
	Pass     bool     `json:"pass"`
	Trace    []string `json:"trace"`
	Journal  []string `json:"journal"`
	Errors   []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one scenario against a database file",
		Long: `Run a single scenario and keep its database for inspection.

The workspace named by the scenario (or --workspace) is seeded into a new
SQLite database, the steps are executed and the trace is printed. The job
journal stays in the database and can be read back with "itemsync trace".

Example:
  itemsync run --db ./run.db ./testdata/scenarios/coalesce_edits.yaml
  itemsync trace --db ./run.db --entity 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to a new SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "override the scenario workspace directory")

	return cmd
}

func runScenario(opts *RunOptions, file string, cmd *cobra.Command) error {
	formatter := NewFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	cfg := opts.Config()

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Database
	}
	if _, err := os.Stat(dbPath); err == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("database already exists: %s", dbPath))
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if opts.Workspace != "" {
		scenario.Workspace = opts.Workspace
	}
	applyNotifyDefaults(scenario, cfg)

	slog.Info("running scenario", "scenario", scenario.Name, "db", dbPath, "workspace", scenario.Workspace)
	result, err := harness.RunAt(scenario, dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}
	slog.Debug("scenario finished", "scenario", scenario.Name, "events", len(result.Trace), "jobs", len(result.Journal))

	if formatter.JSON() {
		out := RunResult{
			Name:     scenario.Name,
			Database: dbPath,
			Pass:     result.Pass,
			Trace:    make([]string, 0, len(result.Trace)),
			Journal:  append([]string{}, result.Journal...),
			Errors:   result.Errors,
		}
		for _, ev := range result.Trace {
			out.Trace = append(out.Trace, ev.String())
		}
		response := CLIResponse{Status: "ok", Data: out}
		if !result.Pass {
			response.Status = "error"
			response.Error = &CLIError{Code: "E_TEST_FAILED", Message: "scenario assertions failed"}
		}
		if err := formatter.Encode(response); err != nil {
			return err
		}
	} else {
		if _, err := cmd.OutOrStdout().Write(result.Render(scenario.Name)); err != nil {
			return WrapExitError(ExitCommandError, "failed to write trace", err)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(formatter.Writer, "\u2717 %s\n", e)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}
