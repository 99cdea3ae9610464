package cohorts

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cohortprobe/internal/interfaces"
)

// Resolver implements interfaces.CohortResolver: markup -> CSV URL -> cohorts
type Resolver struct {
	client *Client
	logger arbor.ILogger
}

var _ interfaces.CohortResolver = (*Resolver)(nil)

// NewResolver creates a resolver using client for downloads
func NewResolver(client *Client, logger arbor.ILogger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// Resolve extracts the CSV URL from markup, downloads it and parses the cohorts.
// The returned list may be empty; a missing URL or failed download is an error.
func (r *Resolver) Resolve(ctx context.Context, markup string) (*interfaces.CohortResolution, error) {
	csvURL, err := ExtractCSVURL(markup)
	if err != nil {
		return nil, err
	}

	body, err := r.client.FetchCSV(ctx, csvURL)
	if err != nil {
		return nil, fmt.Errorf("resolve cohorts: %w", err)
	}

	cohorts := ParseCohorts(body)

	r.logger.Info().
		Str("csv_url", csvURL).
		Int("cohorts", len(cohorts)).
		Strs("values", cohorts).
		Msg("Resolved cohorts from CSV")

	return &interfaces.CohortResolution{
		CSVURL:  csvURL,
		Cohorts: cohorts,
	}, nil
}
