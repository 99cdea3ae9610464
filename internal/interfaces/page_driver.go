package interfaces

import "context"

// PageSource is the lookup page handed to a driver
type PageSource struct {
	// Markup is the page HTML after {key} replacement
	Markup string
	// URL is where the page lives: the served address for the browser driver,
	// the document base URL for the dom driver
	URL string
}

// PageDriver loads the lookup page and interacts with its form fields.
// Implementations are not safe for concurrent use; a run drives one page sequentially.
type PageDriver interface {
	// Name identifies the driver in logs and reports
	Name() string

	// Load loads the page and blocks until it is ready for input
	Load(ctx context.Context, page PageSource) error

	// SetField assigns value to the element matching selector and dispatches a bubbling input event
	SetField(ctx context.Context, selector, value string) error

	// ReadField returns the current value of the element matching selector
	ReadField(ctx context.Context, selector string) (string, error)

	// Close releases the page and everything the driver started
	Close() error
}
