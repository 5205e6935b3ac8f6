package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archreview/archreview/internal/observability"
)

// newResetCommand returns a project to FilesReady, clearing its derived
// chunks, vectors, report, and checkpoint, invoking the Job Runner directly
// against the configured stores.
func newResetCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <project-id>",
		Short: "Return a project to FilesReady, clearing its derived artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			a, providers, err := buildApp(flags, observability.ModeCLI)
			if err != nil {
				return err
			}
			defer discardOnErr(providers.Logger, "observability shutdown", func() error {
				return providers.Shutdown(context.Background())
			})
			defer discardOnErr(providers.Logger, "app close", a.Close)

			if err := a.Reset(cmd.Context(), cmdArgs[0]); err != nil {
				return fmt.Errorf("reset: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "project %s reset to FilesReady\n", cmdArgs[0])

			return nil
		},
	}
}
