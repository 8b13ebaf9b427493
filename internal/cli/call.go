package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapecell/undotx/internal/manager"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	TxID   string
	Args   string
	DryRun bool
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <function>",
		Short: "Perform a transactional call",
		Long: `Perform one transactional call inside the current (or given)
transaction. The function is probed with a dry run first; the inverse
it reports is recorded before the real call executes, so the call can
later be rolled back or undone.

Example:
  undotx call fs.write --args '{"path":"/etc/motd","content":"hello"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var argsMap map[string]any
			if err := json.Unmarshal([]byte(opts.Args), &argsMap); err != nil {
				return fmt.Errorf("invalid --args JSON: %w", err)
			}

			m, err := newManager(opts.RootOptions)
			if err != nil {
				return err
			}
			defer m.Close()

			resp := m.Call(cmd.Context(), manager.CallRequest{
				TxID:   opts.TxID,
				F:      args[0],
				Args:   argsMap,
				DryRun: opts.DryRun,
			})
			return respond(cmd.OutOrStdout(), opts.Format, resp)
		},
	}

	cmd.Flags().StringVar(&opts.TxID, "tx", "", "transaction id")
	cmd.Flags().StringVar(&opts.Args, "args", "{}", "function arguments as JSON")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "probe only; report undo data without side effects")

	return cmd
}
