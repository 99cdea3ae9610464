// Package cohorts resolves the cohort identifiers a lookup page knows about:
// it finds the CSV_URL constant in the page markup, downloads that CSV and
// collects the digit-only values of its third column.
package cohorts

import (
	"errors"
	"regexp"
	"strings"
)

// ErrCSVURLNotFound is returned when the markup has no CSV_URL assignment
var ErrCSVURLNotFound = errors.New("CSV_URL not found in page markup")

var (
	csvURLPattern = regexp.MustCompile(`const\s+CSV_URL\s*=\s*"([^"]+)"`)
	lineSplit     = regexp.MustCompile(`\r?\n`)
	digitsOnly    = regexp.MustCompile(`^[0-9]+$`)
)

// cohortColumn is the zero-based CSV column holding the cohort identifier
const cohortColumn = 2

// ExtractCSVURL returns the string assigned to `const CSV_URL` in the markup
func ExtractCSVURL(markup string) (string, error) {
	m := csvURLPattern.FindStringSubmatch(markup)
	if m == nil {
		return "", ErrCSVURLNotFound
	}
	return m[1], nil
}

// ParseCohorts collects the digit-only third-column values of a CSV body,
// deduplicated in first-seen order. Lines are split on bare commas; quoting
// is not interpreted, matching the page's own parser.
func ParseCohorts(body string) []string {
	cohorts := []string{}
	seen := make(map[string]struct{})

	for _, line := range lineSplit.Split(strings.TrimSpace(body), -1) {
		fields := strings.Split(line, ",")
		if len(fields) <= cohortColumn {
			continue
		}
		c := strings.TrimSpace(fields[cohortColumn])
		if !digitsOnly.MatchString(c) {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		cohorts = append(cohorts, c)
	}

	return cohorts
}
