package test

import (
	_ "embed"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/cohortprobe/internal/common"
)

// PageTemplate is the fixture lookup page. CSV_URL holds a {csv-url} reference.
//
//go:embed fixtures/lookup/index.html
var PageTemplate string

// CohortsCSV is the fixture schedule: cohorts 112 and 115
//
//go:embed fixtures/lookup/cohorts.csv
var CohortsCSV string

// LookupSite serves the fixture page and its schedule CSV for tests
type LookupSite struct {
	server *httptest.Server

	mu        sync.Mutex
	csv       string
	csvStatus int
	csvDelay  time.Duration
	csvHits   int
}

// NewLookupSite starts a site that is closed when the test ends
func NewLookupSite(t testing.TB) *LookupSite {
	t.Helper()

	s := &LookupSite{
		csv:       CohortsCSV,
		csvStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/cohorts.csv", s.handleCSV)
	mux.HandleFunc("/index.html", s.handlePage)
	mux.HandleFunc("/{$}", s.handlePage)

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the site root
func (s *LookupSite) URL() string {
	return s.server.URL + "/"
}

// PageURL returns the address of the served lookup page
func (s *LookupSite) PageURL() string {
	return s.server.URL + "/index.html"
}

// CSVURL returns the address of the schedule CSV
func (s *LookupSite) CSVURL() string {
	return s.server.URL + "/cohorts.csv"
}

// Variables returns the {key} values that bind the page to this site
func (s *LookupSite) Variables() map[string]string {
	return map[string]string{"csv-url": s.CSVURL()}
}

// PageMarkup returns the fixture page bound to this site's CSV
func (s *LookupSite) PageMarkup() string {
	return common.ReplaceKnownReferences(PageTemplate, s.Variables())
}

// SetCSV replaces the schedule body
func (s *LookupSite) SetCSV(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csv = body
}

// FailCSV makes the schedule endpoint answer with status
func (s *LookupSite) FailCSV(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csvStatus = status
}

// DelayCSV holds schedule responses for d
func (s *LookupSite) DelayCSV(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csvDelay = d
}

// CSVHits returns how many times the schedule was requested
func (s *LookupSite) CSVHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csvHits
}

func (s *LookupSite) handleCSV(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.csvHits++
	body, status, delay := s.csv, s.csvStatus, s.csvDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	// The browser driver serves the page from another origin
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func (s *LookupSite) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(s.PageMarkup()))
}
