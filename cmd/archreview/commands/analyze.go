package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/archreview/archreview/internal/app"
	"github.com/archreview/archreview/internal/observability"
)

var supportedArchiveExts = []string{".zip", ".tar.gz", ".tgz", ".tar"}

// newAnalyzeCommand runs the review pipeline once over a local archive,
// bypassing the bus entirely, and prints the resulting Report. This is the
// operator / integration-test entrypoint.
func newAnalyzeCommand(flags *globalFlags) *cobra.Command {
	var (
		projectName string
		outputJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <archive-path>",
		Short: "Run the review pipeline once over a local archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			archivePath := cmdArgs[0]

			ext := archiveExt(archivePath)
			if ext == "" {
				return fmt.Errorf("analyze: %s has an unrecognized archive extension (expected one of %v)", archivePath, supportedArchiveExts)
			}

			file, err := os.Open(archivePath)
			if err != nil {
				return fmt.Errorf("analyze: open archive: %w", err)
			}
			defer file.Close()

			a, providers, err := buildApp(flags, observability.ModeCLI)
			if err != nil {
				return err
			}
			defer discardOnErr(providers.Logger, "observability shutdown", func() error {
				return providers.Shutdown(context.Background())
			})
			defer discardOnErr(providers.Logger, "app close", a.Close)

			if projectName == "" {
				projectName = strings.TrimSuffix(filepath.Base(archivePath), ext)
			}

			report, err := a.AnalyzeOneShot(cmd.Context(), projectName, &app.BlobUpload{Ext: ext, Body: file})
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}

			return printReport(cmd, report, outputJSON)
		},
	}

	cmd.Flags().StringVar(&projectName, "name", "", "project name (defaults to the archive's base filename)")
	cmd.Flags().BoolVar(&outputJSON, "json", true, "print the Report as JSON instead of a plain %+v value dump")

	return cmd
}

func archiveExt(path string) string {
	lower := strings.ToLower(path)

	for _, ext := range supportedArchiveExts {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}

	return ""
}

func printReport(cmd *cobra.Command, report any, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("analyze: encode report: %w", err)
		}

		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", report)

	return nil
}
