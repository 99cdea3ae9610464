package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the resolved run settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("cohortprobe", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("driver", config.Driver.Name).
		Str("page", config.Page.Path).
		Str("cohort_strategy", config.CohortStrategy()).
		Str("report_format", config.Report.Format).
		Msg("cohortprobe starting")
}
