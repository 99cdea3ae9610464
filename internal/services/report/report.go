// Package report renders a scenario run in the supported output formats.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/cohortprobe/internal/models"
)

// Output formats
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// Formats lists every supported format
func Formats() []string {
	return []string{FormatText, FormatJSON, FormatYAML, FormatMarkdown, FormatHTML}
}

// Render formats report. Text is exactly the report lines joined by newlines.
func Render(report *models.Report, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return []byte(report.Text()), nil
	case FormatJSON:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode json report: %w", err)
		}
		return data, nil
	case FormatYAML:
		data, err := yaml.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("failed to encode yaml report: %w", err)
		}
		return bytes.TrimRight(data, "\n"), nil
	case FormatMarkdown:
		return []byte(Markdown(report)), nil
	case FormatHTML:
		return HTML(report)
	default:
		return nil, fmt.Errorf("unknown report format %q (want one of %s)", format, strings.Join(Formats(), ", "))
	}
}

// Markdown renders a summary table and the ordered result list
func Markdown(report *models.Report) string {
	var sb strings.Builder

	sb.WriteString("# Cohort probe report\n\n")
	sb.WriteString("| Field | Value |\n|---|---|\n")
	row := func(k, v string) {
		fmt.Fprintf(&sb, "| %s | %s |\n", k, escapeCell(v))
	}
	row("Run ID", report.RunID)
	row("Driver", report.Driver)
	row("Cohort", report.Cohort)
	row("CSV", report.CSVURL)
	row("Cohorts", strings.Join(report.Cohorts, ", "))
	if !report.StartedAt.IsZero() {
		row("Started", report.StartedAt.Format(time.RFC3339))
	}
	row("Duration", report.Duration().Round(time.Millisecond).String())

	sb.WriteString("\n## Results\n\n")
	for _, line := range report.Lines {
		fmt.Fprintf(&sb, "%d. `%s` -> %s\n", line.Number, line.Description, line.Text)
	}

	return sb.String()
}

// HTML renders the markdown report as a standalone page
func HTML(report *models.Report) ([]byte, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table),
	)

	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(report)), &body); err != nil {
		return nil, fmt.Errorf("failed to render html report: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>Cohort probe report %s</title>\n", html.EscapeString(report.RunID))
	out.WriteString("</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>")
	return out.Bytes(), nil
}

// Write renders report to w followed by a newline
func Write(w io.Writer, report *models.Report, format string) error {
	data, err := Render(report, format)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// WriteFile renders report into path, creating parent directories
func WriteFile(path string, report *models.Report, format string) error {
	data, err := Render(report, format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
