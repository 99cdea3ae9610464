package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cohortprobe/internal/common"
	"github.com/ternarybob/cohortprobe/internal/httpclient"
	"github.com/ternarybob/cohortprobe/internal/interfaces"
	"github.com/ternarybob/cohortprobe/internal/models"
	"github.com/ternarybob/cohortprobe/internal/server"
	"github.com/ternarybob/cohortprobe/internal/services/cohorts"
	"github.com/ternarybob/cohortprobe/internal/services/driver/chrome"
	"github.com/ternarybob/cohortprobe/internal/services/driver/domemu"
	"github.com/ternarybob/cohortprobe/internal/services/scenarios"
)

// serverStopTimeout bounds the page server shutdown during Close
const serverStopTimeout = 5 * time.Second

// App holds the components of one probe run
type App struct {
	Config *common.Config
	Logger arbor.ILogger
	RunID  string

	Resolver interfaces.CohortResolver
	Driver   interfaces.PageDriver
	Server   *server.Server

	options scenarios.Options

	mu      sync.Mutex
	closers []closer
	closed  bool
}

type closer struct {
	name string
	fn   func() error
}

// New validates the configuration and builds the resolver. The page server
// and the driver are created by Run so they close in reverse start order.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := common.NewRunID()
	app := &App{
		Config: cfg,
		Logger: logger.WithCorrelationId(runID),
		RunID:  runID,
	}

	options, err := scenarios.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	app.options = options

	app.initServices()

	app.Logger.Debug().
		Str("driver", cfg.Driver.Name).
		Str("page", cfg.Page.Path).
		Str("cohort_strategy", options.Strategy).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initServices() {
	client := cohorts.NewClient(
		cohorts.WithHTTPClient(httpclient.NewDefaultHTTPClient(
			common.ParseDuration(a.Config.CSV.Timeout, 30*time.Second),
		)),
		cohorts.WithLogger(a.Logger),
		cohorts.WithRateLimit(a.Config.CSV.RequestsPerSecond),
		cohorts.WithMaxAttempts(a.Config.CSV.MaxAttempts),
		cohorts.WithUserAgent(a.Config.CSV.UserAgent),
	)
	a.Resolver = cohorts.NewResolver(client, a.Logger)
}

// PageMarkup reads the page file and resolves {key} references from [variables]
func (a *App) PageMarkup() (string, error) {
	data, err := os.ReadFile(a.Config.Page.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read page %s: %w", a.Config.Page.Path, err)
	}
	return a.replaceReferences(string(data)), nil
}

func (a *App) replaceReferences(markup string) string {
	return common.ReplaceKnownReferences(markup, a.Config.Variables)
}

// ResolveCohorts extracts the CSV URL from the page and lists its cohorts
func (a *App) ResolveCohorts(ctx context.Context) (*interfaces.CohortResolution, error) {
	markup, err := a.PageMarkup()
	if err != nil {
		return nil, err
	}
	return a.Resolver.Resolve(ctx, markup)
}

// NewPageServer creates a server for the configured page file. The file is
// re-read on every request.
func (a *App) NewPageServer() *server.Server {
	return server.New(
		a.Config.Server.Host,
		a.Config.Server.Port,
		server.FileLoader(a.Config.Page.Path, a.replaceReferences),
		a.Logger,
	)
}

// Run resolves the cohorts, loads the page in the configured driver and
// executes the scenarios.
func (a *App) Run(ctx context.Context) (*models.Report, error) {
	markup, err := a.PageMarkup()
	if err != nil {
		return nil, err
	}

	resolution, err := a.Resolver.Resolve(ctx, markup)
	if err != nil {
		return nil, err
	}

	source := interfaces.PageSource{Markup: markup, URL: a.Config.Page.BaseURL}

	if a.Config.Driver.Name == common.DriverBrowser {
		a.Server = a.NewPageServer()
		url, err := a.Server.Start()
		if err != nil {
			return nil, fmt.Errorf("failed to start page server: %w", err)
		}
		srv := a.Server
		a.onClose("page server", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
			defer cancel()
			return srv.Stop(ctx)
		})
		source.URL = url
	}

	a.Driver, err = a.newDriver()
	if err != nil {
		return nil, err
	}
	a.onClose("driver", a.Driver.Close)

	a.Logger.Info().
		Str("driver", a.Driver.Name()).
		Str("url", source.URL).
		Msg("Loading page")

	if err := a.Driver.Load(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to load page: %w", err)
	}

	report, err := scenarios.NewRunner(a.Driver, a.options, a.Logger).Run(ctx, resolution)
	if err != nil {
		return nil, err
	}
	report.RunID = a.RunID

	return report, nil
}

func (a *App) newDriver() (interfaces.PageDriver, error) {
	if a.Config.Driver.Name == common.DriverBrowser {
		return chrome.New(chrome.NewConfig(a.Config), a.Logger), nil
	}

	client, err := httpclient.NewPageClient(common.ParseDuration(a.Config.CSV.Timeout, 30*time.Second))
	if err != nil {
		return nil, err
	}

	opts := []domemu.Option{
		domemu.WithLogger(a.Logger),
		domemu.WithHTTPClient(client),
	}
	if a.Config.Browser.UserAgent != "" {
		opts = append(opts, domemu.WithUserAgent(a.Config.Browser.UserAgent))
	}
	return domemu.New(opts...), nil
}

func (a *App) onClose(name string, fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases everything Run opened, most recent first
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(); err != nil {
			a.Logger.Warn().Err(err).Str("component", c.name).Msg("Failed to close component")
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			continue
		}
		a.Logger.Debug().Str("component", c.name).Msg("Component closed")
	}

	return errors.Join(errs...)
}
