// Package cli implements the undotx command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tapecell/undotx/internal/manager"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DataDir   string
	Config    string
	Functions string
	Format    string // "json" | "text"
	Verbose   bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the undotx CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "undotx",
		Short: "undotx - durable undo/redo transaction manager",
		Long: `A local transaction manager that wraps calls to transactional
functions in a durable, recoverable envelope: running transactions can
be rolled back, committed ones undone, and undone ones redone, across
process crashes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (default $HOME/.undotx)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Functions, "functions", "", "path to CUE function manifest (default: built-ins)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewBeginCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewCommitCommand(opts))
	cmd.AddCommand(NewRollbackCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))
	cmd.AddCommand(NewRedoCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDiscardCommand(opts))
	cmd.AddCommand(NewDiscardAllCommand(opts))
	cmd.AddCommand(NewFunctionsCommand(opts))

	return cmd
}

// newManager assembles a manager from the global flags: config file,
// flag overrides, function manifest.
func newManager(opts *RootOptions) (*manager.Manager, error) {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return nil, NewExitError(ExitCommandError, err.Error())
	}
	mopts := cfg.ManagerOptions()
	if opts.DataDir != "" {
		mopts.DataDir = opts.DataDir
	}

	reg, err := LoadRegistry(opts.Functions)
	if err != nil {
		return nil, NewExitError(ExitCommandError, err.Error())
	}
	mopts.Registry = reg

	// Transactions deliberately span several undotx invocations, so
	// startup recovery must not treat open ones as abandoned.
	mopts.KeepInProgress = true

	if opts.Verbose {
		mopts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	m, err := manager.New(mopts)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "cannot open transaction manager", Err: err}
	}
	return m, nil
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
