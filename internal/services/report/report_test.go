package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/cohortprobe/internal/models"
)

func sampleReport() *models.Report {
	started := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	return &models.Report{
		RunID:   "6f1c2a0e-0000-4000-8000-000000000001",
		Driver:  "dom",
		CSVURL:  "http://example.test/cohorts.csv",
		Cohorts: []string{"112", "115"},
		Cohort:  "112",
		Lines: []models.ReportLine{
			{Number: 1, Description: "cohort=112, sprint=, project=", Text: "Укажи спринт или проект"},
			{Number: 2, Description: "cohort=112, sprint=1, project=", Text: "Могу предложить тебе выйти в спринт 1"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
	}
}

func TestRender_TextIsExactLines(t *testing.T) {
	data, err := Render(sampleReport(), FormatText)
	require.NoError(t, err)

	expected := "1) cohort=112, sprint=, project= -> Укажи спринт или проект\n" +
		"2) cohort=112, sprint=1, project= -> Могу предложить тебе выйти в спринт 1"
	assert.Equal(t, expected, string(data))
}

func TestRender_EmptyFormatIsText(t *testing.T) {
	data, err := Render(sampleReport(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "1) "))
}

func TestRender_JSON(t *testing.T) {
	data, err := Render(sampleReport(), FormatJSON)
	require.NoError(t, err)

	var decoded models.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "112", decoded.Cohort)
	assert.Len(t, decoded.Lines, 2)
	assert.Contains(t, string(data), `"run_id": "6f1c2a0e-0000-4000-8000-000000000001"`)
}

func TestRender_YAML(t *testing.T) {
	data, err := Render(sampleReport(), FormatYAML)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "dom", decoded["driver"])
	assert.Equal(t, []interface{}{"112", "115"}, decoded["cohorts"])
}

func TestRender_Markdown(t *testing.T) {
	data, err := Render(sampleReport(), FormatMarkdown)
	require.NoError(t, err)

	md := string(data)
	assert.Contains(t, md, "# Cohort probe report")
	assert.Contains(t, md, "| Cohort | 112 |")
	assert.Contains(t, md, "| Duration | 1.5s |")
	assert.Contains(t, md, "2. `cohort=112, sprint=1, project=` -> Могу предложить тебе выйти в спринт 1")
}

func TestRender_HTML(t *testing.T) {
	data, err := Render(sampleReport(), FormatHTML)
	require.NoError(t, err)

	page := string(data)
	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, "<h1>Cohort probe report</h1>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<code>cohort=112, sprint=, project=</code>")
}

func TestRender_UnknownFormat(t *testing.T) {
	_, err := Render(sampleReport(), "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown report format")
}

func TestWrite_AppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), FormatText))
	assert.True(t, strings.HasSuffix(buf.String(), "в спринт 1\n"))
}

func TestWriteFile_CreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.md")
	require.NoError(t, WriteFile(path, sampleReport(), FormatMarkdown))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Results")
}
