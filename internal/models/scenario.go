package models

import (
	"fmt"
	"strings"
)

// Form field selectors of the lookup page
const (
	FieldCohort  = "#cohort"
	FieldSprint  = "#sprint"
	FieldProject = "#project"
	FieldResult  = "#result"
)

// WaitMode selects how a scenario settles before its result is read
type WaitMode string

const (
	// WaitDelay sleeps for the configured step delay
	WaitDelay WaitMode = "delay"
	// WaitSuccess polls the result field until the success pattern matches
	WaitSuccess WaitMode = "success"
)

// FieldAssignment is one value typed into one form field
type FieldAssignment struct {
	Selector string `json:"selector" yaml:"selector"`
	Value    string `json:"value" yaml:"value"`
}

// Scenario is one fixed combination of field values exercised against the page.
// Assignments are applied in order; the order matters to pages that react on every input event.
type Scenario struct {
	Number      int               `json:"number" yaml:"number"`
	Assignments []FieldAssignment `json:"assignments" yaml:"assignments"`
	Wait        WaitMode          `json:"wait" yaml:"wait"`
}

// Value returns the value assigned to selector, or "" when the scenario leaves it empty
func (s Scenario) Value(selector string) string {
	value := ""
	for _, a := range s.Assignments {
		if a.Selector == selector {
			value = a.Value
		}
	}
	return value
}

// Description renders the "cohort=.., sprint=.., project=.." label used in report lines
func (s Scenario) Description() string {
	return fmt.Sprintf("cohort=%s, sprint=%s, project=%s",
		s.Value(FieldCohort), s.Value(FieldSprint), s.Value(FieldProject))
}

// String is a compact form for logs
func (s Scenario) String() string {
	parts := make([]string, 0, len(s.Assignments))
	for _, a := range s.Assignments {
		parts = append(parts, fmt.Sprintf("%s=%q", strings.TrimPrefix(a.Selector, "#"), a.Value))
	}
	return fmt.Sprintf("#%d [%s] wait=%s", s.Number, strings.Join(parts, " "), s.Wait)
}
