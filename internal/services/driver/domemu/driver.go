// Package domemu drives the lookup page in-process: the markup is parsed into
// a goquery tree and its scripts run on a goja runtime with a minimal browser
// surface (document, events, timers, fetch, console).
package domemu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cohortprobe/internal/common"
	"github.com/ternarybob/cohortprobe/internal/interfaces"
	"github.com/ternarybob/cohortprobe/internal/services/driver"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Name identifies this driver in config and reports
const Name = common.DriverDOM

var (
	// ErrElementNotFound is returned when a selector matches nothing
	ErrElementNotFound = errors.New("element not found")
	// ErrNotLoaded is returned when the driver is used before Load
	ErrNotLoaded = errors.New("page not loaded")
)

// Driver is an in-process PageDriver
type Driver struct {
	logger     arbor.ILogger
	httpClient *http.Client
	userAgent  string

	mu     sync.Mutex
	loop   *eventLoop
	page   *page
	cancel context.CancelFunc
}

// Option configures a Driver
type Option func(*Driver)

// WithLogger sets the logger. Page console output is routed here.
func WithLogger(logger arbor.ILogger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithHTTPClient sets the client used for page fetches and external scripts
func WithHTTPClient(client *http.Client) Option {
	return func(d *Driver) {
		d.httpClient = client
	}
}

// WithUserAgent sets navigator.userAgent and the User-Agent of page requests
func WithUserAgent(ua string) Option {
	return func(d *Driver) {
		d.userAgent = ua
	}
}

// New creates a driver. Nothing runs until Load.
func New(opts ...Option) *Driver {
	d := &Driver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "Mozilla/5.0 (compatible; cohortprobe/" + common.GetVersion() + ")",
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = common.GetLogger()
	}
	return d
}

// Name returns the driver name
func (d *Driver) Name() string {
	return Name
}

// Load parses the markup, runs its scripts in document order and fires
// DOMContentLoaded and load. Script errors are logged, not returned.
func (d *Driver) Load(ctx context.Context, src interfaces.PageSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loop != nil {
		return fmt.Errorf("page already loaded")
	}

	base, err := url.Parse(src.URL)
	if err != nil {
		return fmt.Errorf("invalid page URL %q: %w", src.URL, err)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	loop := newEventLoop(goja.New(), d.logger)
	loop.start()

	p, err := call(ctx, loop, func() (*page, error) {
		p, err := newPage(lifetime, loop, src.Markup, base, d.httpClient, d.userAgent, d.logger)
		if err != nil {
			return nil, err
		}
		return p, p.boot(ctx)
	})
	if err != nil {
		cancel()
		loop.close()
		return fmt.Errorf("failed to load page: %w", err)
	}

	d.loop = loop
	d.page = p
	d.cancel = cancel

	d.logger.Debug().Str("url", base.String()).Msg("Page loaded")
	return nil
}

// SetField assigns value to the element's value and dispatches a bubbling
// input event from it.
func (d *Driver) SetField(ctx context.Context, selector, value string) error {
	p, loop, err := d.current()
	if err != nil {
		return err
	}

	return loop.do(ctx, func() error {
		n := p.doc.querySelector(nil, selector)
		if n == nil {
			return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
		}
		p.doc.setValue(n, value)
		p.fire(p.doc.wrap(n).(*goja.Object), "input", true)
		return nil
	})
}

// ReadField returns the element's current value
func (d *Driver) ReadField(ctx context.Context, selector string) (string, error) {
	p, loop, err := d.current()
	if err != nil {
		return "", err
	}

	return call(ctx, loop, func() (string, error) {
		n := p.doc.querySelector(nil, selector)
		if n == nil {
			return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
		}
		return p.doc.value(n), nil
	})
}

// Snapshot returns the body markup and every identified form control value
func (d *Driver) Snapshot(ctx context.Context) (*driver.PageSnapshot, error) {
	p, loop, err := d.current()
	if err != nil {
		return nil, err
	}

	return call(ctx, loop, func() (*driver.PageSnapshot, error) {
		markup, err := p.doc.doc.Find("body").Html()
		if err != nil {
			return nil, err
		}
		snap := &driver.PageSnapshot{Markup: markup, Fields: map[string]string{}}

		walkElements(p.doc.root(), func(n *html.Node) bool {
			switch n.DataAtom {
			case atom.Input, atom.Textarea, atom.Select:
				if id := attr(n, "id"); id != "" {
					snap.Fields["#"+id] = p.doc.value(n)
				}
			}
			return true
		})
		return snap, nil
	})
}

// Close stops timers, aborts in-flight fetches and releases the runtime
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loop == nil {
		return nil
	}
	d.cancel()
	d.loop.close()
	d.loop = nil
	d.page = nil
	return nil
}

func (d *Driver) current() (*page, *eventLoop, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loop == nil {
		return nil, nil, ErrNotLoaded
	}
	return d.page, d.loop, nil
}

var _ interfaces.PageDriver = (*Driver)(nil)
var _ driver.Snapshotter = (*Driver)(nil)
