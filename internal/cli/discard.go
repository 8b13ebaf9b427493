package cli

import (
	"github.com/spf13/cobra"
)

// NewDiscardCommand creates the discard command.
func NewDiscardCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discard <tx-id>",
		Short: "Discard a finished transaction",
		Long: `Discard a finished transaction: its record, call logs and
scratch directories are removed. Only committed, undone or
inconsistent transactions can be discarded; discarding is the only
way out for a transaction left inconsistent by a failed rollback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(rootOpts)
			if err != nil {
				return err
			}
			defer m.Close()

			return respond(cmd.OutOrStdout(), rootOpts.Format, m.Discard(cmd.Context(), args[0]))
		},
	}
	return cmd
}

// NewDiscardAllCommand creates the discard-all command.
func NewDiscardAllCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "discard-all",
		Short:         "Discard every finished transaction",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(rootOpts)
			if err != nil {
				return err
			}
			defer m.Close()

			return respond(cmd.OutOrStdout(), rootOpts.Format, m.DiscardAll(cmd.Context()))
		},
	}
	return cmd
}
