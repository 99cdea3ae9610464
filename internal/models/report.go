package models

import (
	"fmt"
	"strings"
	"time"
)

// ReportLine is the labelled result text captured after one scenario
type ReportLine struct {
	Number      int    `json:"number" yaml:"number"`
	Description string `json:"description" yaml:"description"`
	Text        string `json:"text" yaml:"text"`
}

// String formats the line as "<n>) <description> -> <text>"
func (l ReportLine) String() string {
	return fmt.Sprintf("%d) %s -> %s", l.Number, l.Description, l.Text)
}

// Report is the outcome of one scenario run
type Report struct {
	RunID      string       `json:"run_id" yaml:"run_id"`
	Driver     string       `json:"driver" yaml:"driver"`
	CSVURL     string       `json:"csv_url" yaml:"csv_url"`
	Cohorts    []string     `json:"cohorts" yaml:"cohorts"`
	Cohort     string       `json:"cohort" yaml:"cohort"`
	Lines      []ReportLine `json:"lines" yaml:"lines"`
	StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time    `json:"finished_at" yaml:"finished_at"`
}

// Text joins the report lines with newlines
func (r *Report) Text() string {
	lines := make([]string, len(r.Lines))
	for i, line := range r.Lines {
		lines[i] = line.String()
	}
	return strings.Join(lines, "\n")
}

// Duration returns how long the run took
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
