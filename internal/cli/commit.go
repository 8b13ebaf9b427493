package cli

import (
	"github.com/spf13/cobra"
)

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	var txID string

	cmd := &cobra.Command{
		Use:   "commit [tx-id]",
		Short: "Commit a transaction",
		Long: `Commit an in-progress transaction. Its forward call log is
dropped; the recorded inverse program is kept so the transaction can
later be undone. Committing a transaction stuck mid-abort finishes
the rollback instead.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				txID = args[0]
			}
			m, err := newManager(rootOpts)
			if err != nil {
				return err
			}
			defer m.Close()

			return respond(cmd.OutOrStdout(), rootOpts.Format, m.Commit(cmd.Context(), txID))
		},
	}
	return cmd
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	var txID string

	cmd := &cobra.Command{
		Use:   "rollback [tx-id]",
		Short: "Roll back a transaction",
		Long: `Roll back an in-progress transaction by executing its recorded
inverse program in reverse order. Also resumes an interrupted undo or
redo back to its previous terminal state.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				txID = args[0]
			}
			m, err := newManager(rootOpts)
			if err != nil {
				return err
			}
			defer m.Close()

			return respond(cmd.OutOrStdout(), rootOpts.Format, m.Rollback(cmd.Context(), txID, ""))
		},
	}
	return cmd
}
