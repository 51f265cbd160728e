package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/itemsync/internal/workspace"
)

// ValidationResult summarises a workspace check.
type ValidationResult struct {
	Valid       bool             `json:"valid"`
	Files       int              `json:"files,omitempty"`
	Collections int              `json:"collections,omitempty"`
	Entities    int              `json:"entities,omitempty"`
	Error       *ValidationError `json:"error,omitempty"`
}

// ValidationError is a workspace error with its source line.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workspace-dir>",
		Short: "Validate a CUE workspace",
		Long: `Load and compile a CUE workspace without touching a database.

Reports unknown collections, duplicate ids, float payload values and CUE
syntax errors with their source position.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := NewFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loaded, err := workspace.Load(dir)
	if err != nil {
		return outputValidationError(formatter, err)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)
	for _, c := range loaded.Workspace.Collections {
		formatter.VerboseLog("collection %s (id %d)", c.Name, c.ID)
	}

	result := ValidationResult{
		Valid:       true,
		Files:       loaded.FileCount,
		Collections: len(loaded.Workspace.Collections),
		Entities:    len(loaded.Workspace.Entities),
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "\u2713 Workspace valid: %d collection(s), %d entities in %d file(s)\n",
		result.Collections, result.Entities, result.Files)
	return nil
}

// outputValidationError reports a load failure. Missing directories are
// command errors; anything the workspace itself got wrong is a failure.
func outputValidationError(formatter *OutputFormatter, err error) error {
	verr := ValidationError{Code: workspace.ErrCodeGeneric, Message: err.Error()}
	var loadErr *workspace.LoadError
	if errors.As(err, &loadErr) {
		verr.Code = loadErr.Code
		verr.Message = loadErr.Message
		if loadErr.Pos.IsValid() {
			verr.File = loadErr.Pos.Filename()
			verr.Line = loadErr.Pos.Line()
		}
	}

	code := ExitFailure
	switch verr.Code {
	case workspace.ErrCodeNotFound, workspace.ErrCodeScanError, workspace.ErrCodeNoFiles:
		code = ExitCommandError
	}

	if formatter.JSON() {
		if encErr := formatter.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Error: &verr},
			Error:  &CLIError{Code: verr.Code, Message: verr.Message},
		}); encErr != nil {
			return encErr
		}
		return NewExitError(code, fmt.Sprintf("%s: %s", verr.Code, verr.Message))
	}

	fmt.Fprintln(formatter.Writer, "\u2717 Validation failed")
	if verr.Line > 0 {
		fmt.Fprintf(formatter.Writer, "%s:%d\n", verr.File, verr.Line)
	}
	fmt.Fprintf(formatter.Writer, "  %s: %s\n", verr.Code, verr.Message)
	return NewExitError(code, fmt.Sprintf("%s: %s", verr.Code, verr.Message))
}
