package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cohortprobe/internal/common"
)

var (
	// Persistent flags
	configFiles []string
	flags       common.FlagOverrides
	port        int

	// Global state, set by loadConfig before any command runs
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "cohortprobe",
	Short: "Drive the cohort lookup page through its scenarios and report the answers",
	Long: `cohortprobe loads the cohort/sprint/project lookup page, discovers the cohorts
listed in its schedule CSV and records the page's answer for a fixed sequence of inputs.

Without a subcommand it behaves like "cohortprobe run".`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	RunE:              runProbe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	pf.StringVar(&flags.Page, "page", "", "Lookup page file (overrides config)")
	pf.StringVar(&flags.Driver, "driver", "", "Page driver: dom or browser (overrides config)")
	pf.IntVarP(&port, "port", "p", 0, "Page server port for the browser driver and serve (overrides config)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.Flags().StringVar(&flags.Format, "format", "", "Report format: text, json, yaml, markdown, html")
	rootCmd.Flags().StringVarP(&flags.Output, "output", "o", "", "Also write the report to this file")

	rootCmd.AddCommand(runCmd, serveCmd, cohortsCmd, versionCmd)
}

func main() {
	defer common.RecoverWithCrashFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger != nil {
			logger.Error().Err(err).Msg("cohortprobe failed")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig runs the startup sequence:
// defaults -> file1 -> file2 -> ... -> env -> flags, then logger and banner.
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		for _, candidate := range []string{"cohortprobe.toml", "deployments/local/cohortprobe.toml"} {
			if _, err := os.Stat(candidate); err == nil {
				configFiles = append(configFiles, candidate)
				break
			}
		}
	}

	var err error
	config, err = common.LoadFromFiles(nil, configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("port") {
		flags.Port = &port
	}
	common.ApplyFlagOverrides(config, flags)

	if err := config.Validate(); err != nil {
		return err
	}

	logger = common.SetupLogger(config)
	common.PrintBanner(config, logger)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("driver", config.Driver.Name).
		Str("page", config.Page.Path).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Resolved configuration")

	return nil
}
