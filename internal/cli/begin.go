package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tapecell/undotx/internal/manager"
)

// BeginOptions holds flags for the begin command.
type BeginOptions struct {
	*RootOptions
	Summary     string
	ClientToken string
}

// NewBeginCommand creates the begin command.
func NewBeginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BeginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "begin <tx-id>",
		Short: "Start a new transaction",
		Long: `Start a new transaction under a caller-chosen id (1..200
characters, unique forever). The id is not remembered between
invocations: later commands name the transaction explicitly.

Example:
  undotx begin deploy-42 --summary "roll out config v42"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(opts.RootOptions)
			if err != nil {
				return err
			}
			defer m.Close()

			token := opts.ClientToken
			if token == "" {
				token = uuid.Must(uuid.NewV7()).String()
			}
			resp := m.Begin(cmd.Context(), manager.BeginRequest{
				TxID:        args[0],
				Summary:     opts.Summary,
				ClientToken: token,
			})
			return respond(cmd.OutOrStdout(), opts.Format, resp)
		},
	}

	cmd.Flags().StringVar(&opts.Summary, "summary", "", "free-text description")
	cmd.Flags().StringVar(&opts.ClientToken, "client-token", "", "owner token (default: generated)")

	return cmd
}
