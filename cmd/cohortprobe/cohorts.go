package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/cohortprobe/internal/app"
)

var cohortsCmd = &cobra.Command{
	Use:   "cohorts",
	Short: "Print the schedule CSV URL and the cohorts it lists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New(config, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}

		resolution, err := application.ResolveCohorts(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("CSV: %s\n", resolution.CSVURL)
		if len(resolution.Cohorts) == 0 {
			fmt.Println("No cohorts found")
			return nil
		}
		for _, c := range resolution.Cohorts {
			fmt.Println(c)
		}
		return nil
	},
}
