// Package cli implements the itemsync command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" or "text"
	ConfigPath string

	config *Config
}

// Config returns the loaded configuration, or the defaults when the root
// command did not run (subcommands built directly in tests).
func (o *RootOptions) Config() *Config {
	if o.config == nil {
		return DefaultConfig()
	}
	return o.config
}

// ValidFormats lists the allowed values for --format.
var ValidFormats = []string{"json", "text"}

// NewRootCommand creates the root itemsync command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "itemsync",
		Short: "itemsync - coordinated entity changes",
		Long: `itemsync coordinates add, edit and delete requests for entities held in a
versioned store, notifying other participants before shared entities change.

Workspaces (CUE) describe collections and entities; scenarios (YAML) drive
requests and store completions against them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := LoadConfig(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			opts.config = cfg
			setupLogging(cmd.ErrOrStderr(), cfg.Log.Level, opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
