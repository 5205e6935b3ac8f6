// Package commands implements archreview's CLI command handlers.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/archreview/archreview/internal/app"
	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/observability"
	"github.com/archreview/archreview/pkg/version"
)

// globalFlags holds the persistent flags every subcommand shares: where
// the YAML config lives, where the sqlite database and blob root live,
// and the observability knobs that shape the Providers every subcommand
// builds before constructing its App.
type globalFlags struct {
	configPath   string
	dbPath       string
	blobRoot     string
	otlpEndpoint string
	otlpInsecure bool
	debugTrace   bool
	logJSON      bool
	environment  string
}

// NewRootCommand builds the archreview cobra root with its worker,
// analyze, reset, delete, and version subcommands.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "archreview",
		Short: "Architecture Review Engine - automated code review over an archived project",
		Long: `archreview ingests an archived project, routes its files through
direct-send, RAG-chunked, or skipped analysis, runs it through a panel
of review agents, and aggregates the findings into a Report.

Commands:
  worker   Consume StartAnalysisCommands from the bus and run the pipeline
  analyze  One-shot local run over an archive, bypassing the bus
  reset    Return a project to FilesReady, clearing its derived artifacts
  delete   Remove every artifact of a project`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file (defaults applied when empty)")
	root.PersistentFlags().StringVar(&flags.dbPath, "db-path", "archreview.db", "sqlite database path")
	root.PersistentFlags().StringVar(&flags.blobRoot, "blob-root", "./archreview-blobs", "local filesystem blob store root")
	root.PersistentFlags().StringVar(&flags.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector address; empty disables export")
	root.PersistentFlags().BoolVar(&flags.otlpInsecure, "otlp-insecure", false, "disable TLS for the OTLP gRPC connection")
	root.PersistentFlags().BoolVar(&flags.debugTrace, "debug-trace", false, "force 100%% trace sampling")
	root.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "emit JSON-formatted logs")
	root.PersistentFlags().StringVar(&flags.environment, "environment", "dev", "deployment environment reported on spans and logs")

	root.AddCommand(newWorkerCommand(flags))
	root.AddCommand(newAnalyzeCommand(flags))
	root.AddCommand(newResetCommand(flags))
	root.AddCommand(newDeleteCommand(flags))
	root.AddCommand(newVersionCommand())

	return root
}

// loadConfig reads flags.configPath (applying defaults when empty) and
// returns the resulting Config by value, as internal/app.New expects.
func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	return *cfg, nil
}

// buildProviders initializes OpenTelemetry tracing, metrics, and
// structured logging for the given mode (cli/serve).
func buildProviders(flags *globalFlags, mode observability.AppMode) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.Mode = mode
	obsCfg.Environment = flags.environment
	obsCfg.ServiceVersion = version.Version
	obsCfg.OTLPEndpoint = flags.otlpEndpoint
	obsCfg.OTLPInsecure = flags.otlpInsecure
	obsCfg.DebugTrace = flags.debugTrace
	obsCfg.LogJSON = flags.logJSON

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return observability.Providers{}, fmt.Errorf("init observability: %w", err)
	}

	return providers, nil
}

// buildApp loads config, initializes observability, and constructs an
// App ready for either the worker loop or a one-shot command. Callers
// must arrange to call providers.Shutdown and app.Close on return.
func buildApp(flags *globalFlags, mode observability.AppMode) (*app.App, observability.Providers, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, observability.Providers{}, err
	}

	providers, err := buildProviders(flags, mode)
	if err != nil {
		return nil, observability.Providers{}, err
	}

	a, err := app.New(cfg, app.Options{
		DBPath:    flags.dbPath,
		BlobRoot:  flags.blobRoot,
		Providers: providers,
	})
	if err != nil {
		return nil, providers, fmt.Errorf("build app: %w", err)
	}

	return a, providers, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "archreview %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// discardOnErr closes c and logs a warning on failure, for use in a
// defer where the close error shouldn't shadow the command's own.
func discardOnErr(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close error", "what", what, "error", err)
	}
}
