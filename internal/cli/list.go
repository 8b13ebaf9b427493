package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapecell/undotx/internal/manager"
	"github.com/tapecell/undotx/internal/status"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	TxID     string
	Statuses string
	Detail   bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions",
		Long: `List transactions in creation order. By default only ids are
shown; --detail prints full records. --status filters by one or more
single-character status codes (e.g. --status CU).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []status.Status
			for i := 0; i < len(opts.Statuses); i++ {
				st, err := status.FromChar(opts.Statuses[i])
				if err != nil {
					return fmt.Errorf("invalid --status: %w", err)
				}
				statuses = append(statuses, st)
			}

			m, err := newManager(opts.RootOptions)
			if err != nil {
				return err
			}
			defer m.Close()

			resp := m.List(cmd.Context(), manager.ListRequest{
				TxID:     opts.TxID,
				Statuses: statuses,
				Detail:   opts.Detail,
			})
			return respond(cmd.OutOrStdout(), opts.Format, resp)
		},
	}

	cmd.Flags().StringVar(&opts.TxID, "tx", "", "only this transaction id")
	cmd.Flags().StringVar(&opts.Statuses, "status", "", "filter by status characters")
	cmd.Flags().BoolVar(&opts.Detail, "detail", false, "print full records")

	return cmd
}

// NewFunctionsCommand creates the functions command, which lists the
// functions exposed by the active manifest.
func NewFunctionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "functions",
		Short:         "List available transactional functions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := LoadRegistry(rootOpts.Functions)
			if err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			for _, name := range reg.Names() {
				_, meta, _ := reg.Resolve(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name, meta.Summary)
			}
			return nil
		},
	}
	return cmd
}
