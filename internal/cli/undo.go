package cli

import (
	"github.com/spf13/cobra"
)

// NewUndoCommand creates the undo command.
func NewUndoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo [tx-id]",
		Short: "Undo a committed transaction",
		Long: `Undo a committed transaction by executing its recorded inverse
program. Without an id, the most recently committed transaction is
undone.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var txID string
			if len(args) > 0 {
				txID = args[0]
			}
			m, err := newManager(rootOpts)
			if err != nil {
				return err
			}
			defer m.Close()

			return respond(cmd.OutOrStdout(), rootOpts.Format, m.Undo(cmd.Context(), txID))
		},
	}
	return cmd
}

// NewRedoCommand creates the redo command.
func NewRedoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redo [tx-id]",
		Short: "Redo an undone transaction",
		Long: `Redo an undone transaction by re-executing the forward program
accumulated during its undo. Without an id, the earliest undone
transaction is redone.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var txID string
			if len(args) > 0 {
				txID = args[0]
			}
			m, err := newManager(rootOpts)
			if err != nil {
				return err
			}
			defer m.Close()

			return respond(cmd.OutOrStdout(), rootOpts.Format, m.Redo(cmd.Context(), txID))
		},
	}
	return cmd
}
