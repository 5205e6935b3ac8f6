package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/archreview/archreview/internal/observability"
)

// newWorkerCommand starts the Job Runner consuming StartAnalysisCommands
// from the bus, the Watchdog sweeper, and the Progress Channel hub, per
// the long-running deployment mode. It runs until SIGINT/SIGTERM.
func newWorkerCommand(flags *globalFlags) *cobra.Command {
	var busURLOverride string

	var diagnosticsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume StartAnalysisCommands from the bus and run the review pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, providers, err := buildApp(flags, observability.ModeServe)
			if err != nil {
				return err
			}
			defer discardOnErr(providers.Logger, "observability shutdown", func() error {
				return providers.Shutdown(context.Background())
			})
			defer discardOnErr(providers.Logger, "app close", a.Close)

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			if busURLOverride != "" {
				cfg.Bus.URL = busURLOverride
			}

			if err := a.ConnectBus(cfg.Bus); err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			diag, err := observability.NewDiagnosticsServer(diagnosticsAddr, providers.Meter)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer discardOnErr(providers.Logger, "diagnostics server close", diag.Close)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			providers.Logger.Info("worker starting", "bus_url", cfg.Bus.URL, "diagnostics_addr", diag.Addr())

			if err := a.RunWorker(ctx); err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&busURLOverride, "bus-url", "", "override the configured NATS URL")
	cmd.Flags().StringVar(&diagnosticsAddr, "diagnostics-addr", ":9090", "address for the /healthz, /readyz, and /metrics endpoints")

	return cmd
}
