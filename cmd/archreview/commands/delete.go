package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archreview/archreview/internal/observability"
)

// newDeleteCommand removes every artifact of a project: its chunks,
// vectors, report, checkpoint, blob storage prefix, and the Project row
// itself, invoking the Job Runner directly against the configured stores.
func newDeleteCommand(flags *globalFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Remove every artifact of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			if !yes {
				return fmt.Errorf("delete: refusing to delete project %s without --yes", cmdArgs[0])
			}

			a, providers, err := buildApp(flags, observability.ModeCLI)
			if err != nil {
				return err
			}
			defer discardOnErr(providers.Logger, "observability shutdown", func() error {
				return providers.Shutdown(context.Background())
			})
			defer discardOnErr(providers.Logger, "app close", a.Close)

			if err := a.Delete(cmd.Context(), cmdArgs[0]); err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "project %s deleted\n", cmdArgs[0])

			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	return cmd
}
