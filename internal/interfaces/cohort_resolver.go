package interfaces

import "context"

// CohortResolution is what the resolver learned from the page markup
type CohortResolution struct {
	CSVURL  string
	Cohorts []string
}

// CohortResolver discovers the valid cohort identifiers referenced by a page
type CohortResolver interface {
	Resolve(ctx context.Context, markup string) (*CohortResolution, error)
}
