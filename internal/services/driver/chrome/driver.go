// Package chrome drives the lookup page in a real headless Chrome over the
// DevTools protocol.
package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	chromedpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cohortprobe/internal/common"
	"github.com/ternarybob/cohortprobe/internal/interfaces"
	"github.com/ternarybob/cohortprobe/internal/services/driver"
)

// Name identifies this driver in config and reports
const Name = common.DriverBrowser

// DefaultNavigationTimeout bounds navigation plus network idle
const DefaultNavigationTimeout = 60 * time.Second

var (
	// ErrElementNotFound is returned when a selector matches nothing
	ErrElementNotFound = errors.New("element not found")
	// ErrNotLoaded is returned when the driver is used before Load
	ErrNotLoaded = errors.New("browser not started")
)

// Config holds the browser launch options
type Config struct {
	Headless          bool
	NoSandbox         bool
	DisableGPU        bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
}

// NewConfig builds the launch options from application config
func NewConfig(cfg *common.Config) Config {
	return Config{
		Headless:          cfg.Browser.Headless,
		NoSandbox:         cfg.Browser.NoSandbox,
		DisableGPU:        cfg.Browser.DisableGPU,
		ExecPath:          cfg.Browser.ExecPath,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: common.ParseDuration(cfg.Browser.NavigationTimeout, DefaultNavigationTimeout),
	}
}

// ConsoleEvent is one console.* call observed in the page
type ConsoleEvent struct {
	API  string
	Args []string
}

// Driver is a PageDriver backed by a headless Chrome
type Driver struct {
	config Config
	logger arbor.ILogger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	// networkIdle lifecycle events seen so far, by loader
	idleMu      sync.Mutex
	idleLoaders map[cdp.LoaderID]struct{}
	idleChanged chan struct{}

	eventsMu      sync.RWMutex
	consoleEvents []ConsoleEvent
	exceptions    []string
}

// New creates a driver. The browser starts on Load.
func New(config Config, logger arbor.ILogger) *Driver {
	if config.NavigationTimeout <= 0 {
		config.NavigationTimeout = DefaultNavigationTimeout
	}
	return &Driver{
		config:      config,
		logger:      logger,
		idleLoaders: map[cdp.LoaderID]struct{}{},
		idleChanged: make(chan struct{}),
	}
}

// Name returns the driver name
func (d *Driver) Name() string {
	return Name
}

// Load starts the browser, navigates to the page URL and waits until that
// navigation's document reached network idle and has a body, all within the
// navigation timeout.
func (d *Driver) Load(ctx context.Context, src interfaces.PageSource) error {
	if src.URL == "" {
		return fmt.Errorf("browser driver needs a served page URL")
	}

	if err := d.start(ctx); err != nil {
		return err
	}

	startTime := time.Now()
	err := d.run(ctx, d.config.NavigationTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, loaderID, errorText, _, err := page.Navigate(src.URL).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("page load error %s", errorText)
			}
			return d.waitNetworkIdle(ctx, loaderID)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", src.URL, err)
	}

	d.logger.Debug().
		Str("url", src.URL).
		Dur("load_time", time.Since(startTime)).
		Msg("Page loaded in browser")
	return nil
}

func (d *Driver) start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browserCtx != nil {
		return fmt.Errorf("browser already started")
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.config.Headless),
		chromedp.Flag("disable-gpu", d.config.DisableGPU),
		chromedp.Flag("no-sandbox", d.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)
	if d.config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(d.config.UserAgent))
	}
	if d.config.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(d.config.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			d.logger.Debug().Str("source", "chromedp").Msg(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			d.logger.Warn().Str("source", "chromedp").Msg(fmt.Sprintf(format, args...))
		}),
	)

	chromedp.ListenTarget(browserCtx, d.onTargetEvent)

	// Start the browser process. No timeout here or the browser dies with it.
	// Lifecycle events are enabled before any navigation so the replayed
	// events of the blank start page arrive under their own loader.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx, page.SetLifecycleEventsEnabled(true)) }()
	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return ctx.Err()
	}

	d.browserCtx = browserCtx
	d.browserCancel = browserCancel
	d.allocCancel = allocCancel

	d.logger.Debug().
		Bool("headless", d.config.Headless).
		Str("exec_path", d.config.ExecPath).
		Msg("Browser started")
	return nil
}

// onTargetEvent runs on the chromedp event goroutine and must not block
func (d *Driver) onTargetEvent(ev any) {
	switch ev := ev.(type) {
	case *page.EventLifecycleEvent:
		if ev.Name == "networkIdle" {
			d.markNetworkIdle(ev.LoaderID)
		}
	case *chromedpruntime.EventConsoleAPICalled:
		args := make([]string, len(ev.Args))
		for i, arg := range ev.Args {
			if len(arg.Value) > 0 {
				args[i] = strings.Trim(string(arg.Value), `"`)
			} else {
				args[i] = arg.Description
			}
		}
		api := ev.Type.String()

		d.eventsMu.Lock()
		d.consoleEvents = append(d.consoleEvents, ConsoleEvent{API: api, Args: args})
		d.eventsMu.Unlock()

		msg := strings.Join(args, " ")
		if api == "error" || api == "warning" {
			d.logger.Warn().Str("source", "page").Str("level", api).Msg(msg)
		} else {
			d.logger.Debug().Str("source", "page").Str("level", api).Msg(msg)
		}
	case *chromedpruntime.EventExceptionThrown:
		detail := ev.ExceptionDetails.Error()

		d.eventsMu.Lock()
		d.exceptions = append(d.exceptions, detail)
		d.eventsMu.Unlock()

		d.logger.Warn().Str("source", "page").Str("exception", detail).Msg("Uncaught exception in page")
	}
}

func (d *Driver) markNetworkIdle(loader cdp.LoaderID) {
	d.idleMu.Lock()
	defer d.idleMu.Unlock()
	d.idleLoaders[loader] = struct{}{}
	close(d.idleChanged)
	d.idleChanged = make(chan struct{})
}

// waitNetworkIdle blocks until networkIdle fired for loader. Idle events of
// other documents, such as the blank start page, are ignored.
func (d *Driver) waitNetworkIdle(ctx context.Context, loader cdp.LoaderID) error {
	for {
		d.idleMu.Lock()
		_, idle := d.idleLoaders[loader]
		changed := d.idleChanged
		d.idleMu.Unlock()

		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("network never went idle: %w", ctx.Err())
		}
	}
}

// run executes actions on the page tab. timeout 0 leaves the deadline to ctx.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	browserCtx := d.browserCtx
	d.mu.Unlock()
	if browserCtx == nil {
		return ErrNotLoaded
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(browserCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(browserCtx)
	}
	defer cancel()

	// Tie the tab action to the caller without cancelling the tab itself
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// SetField assigns the value in page script and dispatches a bubbling input
// event, matching what the in-process driver does.
func (d *Driver) SetField(ctx context.Context, selector, value string) error {
	expr, err := callExpression(setFieldScript, selector, value)
	if err != nil {
		return err
	}

	var found bool
	if err := d.run(ctx, 0, chromedp.Evaluate(expr, &found)); err != nil {
		return fmt.Errorf("set %s: %w", selector, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// ReadField returns the element's current value
func (d *Driver) ReadField(ctx context.Context, selector string) (string, error) {
	expr, err := callExpression(readFieldScript, selector)
	if err != nil {
		return "", err
	}

	var result struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := d.run(ctx, 0, chromedp.Evaluate(expr, &result)); err != nil {
		return "", fmt.Errorf("read %s: %w", selector, err)
	}
	if !result.Found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return result.Value, nil
}

// Snapshot returns the body markup and every identified form control value
func (d *Driver) Snapshot(ctx context.Context) (*driver.PageSnapshot, error) {
	var result struct {
		Markup string            `json:"markup"`
		Fields map[string]string `json:"fields"`
	}
	if err := d.run(ctx, 0, chromedp.Evaluate(snapshotScript, &result)); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &driver.PageSnapshot{Markup: result.Markup, Fields: result.Fields}, nil
}

// Screenshot captures the viewport as PNG into path
func (d *Driver) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := d.run(ctx, 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshots directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}

// ConsoleEvents returns the console calls observed so far
func (d *Driver) ConsoleEvents() []ConsoleEvent {
	d.eventsMu.RLock()
	defer d.eventsMu.RUnlock()
	return append([]ConsoleEvent(nil), d.consoleEvents...)
}

// Exceptions returns the uncaught page exceptions observed so far
func (d *Driver) Exceptions() []string {
	d.eventsMu.RLock()
	defer d.eventsMu.RUnlock()
	return append([]string(nil), d.exceptions...)
}

// Close shuts the browser down. Safe to call repeatedly.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browserCtx == nil {
		return nil
	}
	d.browserCancel()
	d.allocCancel()
	d.browserCtx = nil
	d.logger.Debug().Msg("Browser closed")
	return nil
}

const setFieldScript = `(function (selector, value) {
  var el = document.querySelector(selector);
  if (!el) { return false; }
  el.value = value;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  return true;
})`

const readFieldScript = `(function (selector) {
  var el = document.querySelector(selector);
  if (!el) { return { found: false, value: "" }; }
  return { found: true, value: el.value == null ? "" : String(el.value) };
})`

const snapshotScript = `(function () {
  var fields = {};
  document.querySelectorAll("input[id], textarea[id], select[id]").forEach(function (el) {
    fields["#" + el.id] = String(el.value);
  });
  return { markup: document.body ? document.body.innerHTML : "", fields: fields };
})()`

// callExpression renders fn applied to JSON-encoded args
func callExpression(fn string, args ...string) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", err
		}
		encoded[i] = string(b)
	}
	return fn + "(" + strings.Join(encoded, ", ") + ")", nil
}

var (
	_ interfaces.PageDriver = (*Driver)(nil)
	_ driver.Snapshotter    = (*Driver)(nil)
	_ driver.Screenshotter  = (*Driver)(nil)
)
