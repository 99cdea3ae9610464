package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/cohortprobe/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the lookup page over HTTP until interrupted",
	Long:  `Starts the page server used by the browser driver so the page can be opened by hand.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	srv := application.NewPageServer()
	url, err := srv.Start()
	if err != nil {
		return err
	}

	logger.Info().Str("url", url).Msg("Server ready - Press Ctrl+C to stop")
	fmt.Printf("\nServing %s on %s\n", config.Page.Path, url)
	fmt.Println("Press Ctrl+C to stop")

	var serveErr error
	select {
	case <-cmd.Context().Done():
		logger.Info().Msg("Interrupt signal received")
	case err, ok := <-srv.Done():
		if ok {
			serveErr = err
		}
	}

	logger.Info().Msg("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	logger.Info().Msg("Server stopped")
	return serveErr
}
