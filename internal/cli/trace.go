package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Entity   int64  // optional - restrict to one entity
	Status   string // optional - filter by job status
}

// TraceResult holds the journal view of a database.
type TraceResult struct {
	Database string               `json:"database"`
	EntityID int64                `json:"entity_id,omitempty"`
	Jobs     []store.JournalEntry `json:"jobs"`
	Current  *entity.Entity       `json:"current,omitempty"`
	Stats    TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the journal.
type TraceStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the store job journal",
		Long: `Print the job journal recorded in a database.

Every create, modify and delete job the coordinator dispatched is listed in
seq order with the revision it was sent with and how it ended. With --entity
the journal is restricted to one entity and its stored snapshot is shown.

Examples:
  itemsync trace --db ./run.db
  itemsync trace --db ./run.db --entity 10
  itemsync trace --db ./run.db --status failed --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().Int64Var(&opts.Entity, "entity", 0, "restrict to one entity id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by job status (pending|succeeded|failed)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := NewFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.Config().Database
	}
	if _, err := os.Stat(dbPath); err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	switch store.JobStatus(opts.Status) {
	case "", store.JobPending, store.JobSucceeded, store.JobFailed:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown status %q", opts.Status))
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result := TraceResult{Database: dbPath, EntityID: opts.Entity}

	var jobs []store.JournalEntry
	if opts.Entity != 0 {
		jobs, err = st.ReadEntityJournal(ctx, entity.ID(opts.Entity))
	} else {
		jobs, err = st.ReadJournal(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	result.Jobs = filterJobs(jobs, store.JobStatus(opts.Status))
	result.Stats = journalStats(result.Jobs)

	if opts.Entity != 0 {
		current, err := st.Get(ctx, entity.ID(opts.Entity))
		switch {
		case err == nil:
			result.Current = &current
		case !errors.Is(err, store.ErrNotFound):
			return WrapExitError(ExitCommandError, "failed to read entity", err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

// filterJobs keeps the entries with the given status; empty keeps all.
func filterJobs(jobs []store.JournalEntry, status store.JobStatus) []store.JournalEntry {
	out := make([]store.JournalEntry, 0, len(jobs))
	for _, j := range jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

func journalStats(jobs []store.JournalEntry) TraceStats {
	stats := TraceStats{Total: len(jobs)}
	for _, j := range jobs {
		switch j.Status {
		case store.JobPending:
			stats.Pending++
		case store.JobSucceeded:
			stats.Succeeded++
		case store.JobFailed:
			stats.Failed++
		}
	}
	return stats
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	if result.EntityID != 0 {
		fmt.Fprintf(w, "Entity: %d\n", result.EntityID)
		if result.Current != nil {
			fmt.Fprintf(w, "Current: rev=%d collection=%d kind=%s\n",
				result.Current.Revision, result.Current.Collection, result.Current.Kind)
			if verbose {
				fmt.Fprintf(w, "Payload: %s\n", formatArgs(result.Current.Payload))
			}
		} else {
			fmt.Fprintln(w, "Current: (deleted or never stored)")
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Journal ===")
	if len(result.Jobs) == 0 {
		fmt.Fprintln(w, "  (no jobs)")
	}
	for _, j := range result.Jobs {
		formatJournalLine(w, j, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total:     %d\n", result.Stats.Total)
	fmt.Fprintf(w, "  Pending:   %d\n", result.Stats.Pending)
	fmt.Fprintf(w, "  Succeeded: %d\n", result.Stats.Succeeded)
	fmt.Fprintf(w, "  Failed:    %d\n", result.Stats.Failed)
}

// formatJournalLine writes one journal entry.
func formatJournalLine(w io.Writer, j store.JournalEntry, verbose bool) {
	fmt.Fprintf(w, "  [%d] %s entity=%d rev=%d %s", j.Seq, strings.ToUpper(string(j.Kind)), j.EntityID, j.RequestRevision, j.Status)
	if j.Status == store.JobSucceeded && j.ResultRevision != 0 {
		fmt.Fprintf(w, " -> rev=%d", j.ResultRevision)
	}
	fmt.Fprintln(w)
	if verbose && j.Error != "" {
		fmt.Fprintf(w, "       Error: %s\n", j.Error)
	}
	if verbose && j.Collection != 0 {
		fmt.Fprintf(w, "       Collection: %d\n", j.Collection)
	}
}

// formatArgs formats a payload with sorted keys for deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case entity.Payload:
		return formatArgs(val)
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}
