package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ternarybob/cohortprobe/internal/app"
	"github.com/ternarybob/cohortprobe/internal/services/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scenarios against the lookup page and print the report",
	Long: `Extracts the schedule CSV URL from the page, fetches the cohorts, loads the page
in the configured driver and prints one line per scenario.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	runCmd.Flags().StringVar(&flags.Format, "format", "", "Report format: text, json, yaml, markdown, html")
	runCmd.Flags().StringVarP(&flags.Output, "output", "o", "", "Also write the report to this file")
}

func runProbe(cmd *cobra.Command, args []string) (err error) {
	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	result, err := application.Run(cmd.Context())
	if err != nil {
		return err
	}

	if err := report.Write(os.Stdout, result, config.Report.Format); err != nil {
		return err
	}

	if config.Report.Output != "" {
		if err := report.WriteFile(config.Report.Output, result, config.Report.Format); err != nil {
			return err
		}
		application.Logger.Info().Str("path", config.Report.Output).Msg("Report written")
	}

	return nil
}
