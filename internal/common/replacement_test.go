package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// createTestLogger creates a logger for testing
func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func TestReplaceKeyReferences_Simple(t *testing.T) {
	logger := createTestLogger()
	kvMap := map[string]string{"csv-url": "http://127.0.0.1:9000/cohorts.csv"}

	input := `const CSV_URL = "{csv-url}";`
	expected := `const CSV_URL = "http://127.0.0.1:9000/cohorts.csv";`

	assert.Equal(t, expected, ReplaceKeyReferences(input, kvMap, logger))
}

func TestReplaceKeyReferences_MissingKey(t *testing.T) {
	logger := createTestLogger()
	kvMap := map[string]string{"other-key": "value"}

	input := "page = {missing-key}"

	assert.Equal(t, input, ReplaceKeyReferences(input, kvMap, logger))
}

func TestReplaceKeyReferences_EmptyInput(t *testing.T) {
	assert.Equal(t, "", ReplaceKeyReferences("", map[string]string{"a": "b"}, createTestLogger()))
}

func TestReplaceKnownReferences_LeavesScriptBracesAlone(t *testing.T) {
	kvMap := map[string]string{"csv-url": "http://mirror/c.csv"}

	input := `function f(){return} const CSV_URL = "{csv-url}"; if (x) {y}`
	expected := `function f(){return} const CSV_URL = "http://mirror/c.csv"; if (x) {y}`

	assert.Equal(t, expected, ReplaceKnownReferences(input, kvMap))
}

func TestReplaceKnownReferences_NoVariables(t *testing.T) {
	input := `const CSV_URL = "{csv-url}";`
	assert.Equal(t, input, ReplaceKnownReferences(input, nil))
}

func TestReplaceInStruct_NestedFieldsSlicesAndMaps(t *testing.T) {
	logger := createTestLogger()

	type inner struct {
		Path string
	}
	type outer struct {
		Inner      inner
		Ptr        *inner
		Candidates []string
		Vars       map[string]string
		Count      int
		unexported string
	}

	cfg := &outer{
		Inner:      inner{Path: "{root}/index.html"},
		Ptr:        &inner{Path: "{root}/other.html"},
		Candidates: []string{"{first}", "111"},
		Vars:       map[string]string{"url": "http://{host}/"},
		Count:      3,
		unexported: "{root}",
	}
	kvMap := map[string]string{"root": "/srv", "first": "110", "host": "example.test"}

	require.NoError(t, ReplaceInStruct(cfg, kvMap, logger))

	assert.Equal(t, "/srv/index.html", cfg.Inner.Path)
	assert.Equal(t, "/srv/other.html", cfg.Ptr.Path)
	assert.Equal(t, []string{"110", "111"}, cfg.Candidates)
	assert.Equal(t, "http://example.test/", cfg.Vars["url"])
	assert.Equal(t, 3, cfg.Count)
	assert.Equal(t, "{root}", cfg.unexported)
}

func TestReplaceInStruct_NilPointer(t *testing.T) {
	type withPtr struct {
		Ptr *struct{ Name string }
	}
	cfg := &withPtr{}
	assert.NoError(t, ReplaceInStruct(cfg, map[string]string{"a": "b"}, createTestLogger()))
	assert.Nil(t, cfg.Ptr)
}

func TestReplaceInStruct_NotPointer(t *testing.T) {
	type simple struct{ Name string }
	err := ReplaceInStruct(simple{Name: "{a}"}, map[string]string{"a": "b"}, createTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a pointer")
}

func TestReplaceInStruct_NotStruct(t *testing.T) {
	s := "{a}"
	err := ReplaceInStruct(&s, map[string]string{"a": "b"}, createTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a struct pointer")
}
