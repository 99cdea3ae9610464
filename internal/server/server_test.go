package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const pageMarkup = `<!DOCTYPE html><html><body><textarea id="result"></textarea></body></html>`

func startServer(t *testing.T, loader PageLoader) string {
	t.Helper()
	s := New("127.0.0.1", 0, loader, arbor.NewLogger())
	baseURL, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return baseURL
}

func staticLoader(body string) PageLoader {
	return func() ([]byte, error) { return []byte(body), nil }
}

func get(t *testing.T, url string) (int, http.Header, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header, string(body)
}

func TestServer_ServesPageAtRootAndIndex(t *testing.T) {
	baseURL := startServer(t, staticLoader(pageMarkup))

	for _, path := range []string{"", "index.html"} {
		t.Run("/"+path, func(t *testing.T) {
			status, header, body := get(t, baseURL+path)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "text/html; charset=utf-8", header.Get("Content-Type"))
			assert.Equal(t, pageMarkup, body)
		})
	}
}

func TestServer_OtherPathsAreNotFound(t *testing.T) {
	baseURL := startServer(t, staticLoader(pageMarkup))

	for _, path := range []string{"favicon.ico", "index.htm", "static/app.js", "index.html/extra"} {
		t.Run(path, func(t *testing.T) {
			status, _, body := get(t, baseURL+path)
			assert.Equal(t, http.StatusNotFound, status)
			assert.Equal(t, "Not found", body)
		})
	}
}

func TestServer_UnreadablePageIsNotFound(t *testing.T) {
	baseURL := startServer(t, func() ([]byte, error) { return nil, errors.New("gone") })

	status, _, body := get(t, baseURL)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not found", body)
}

func TestServer_AnyMethodGetsPage(t *testing.T) {
	baseURL := startServer(t, staticLoader(pageMarkup))

	resp, err := http.Post(baseURL+"index.html", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, pageMarkup, string(body))
}

func TestServer_StatusRejectsPost(t *testing.T) {
	baseURL := startServer(t, staticLoader(pageMarkup))

	resp, err := http.Post(baseURL+"status", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Status(t *testing.T) {
	baseURL := startServer(t, staticLoader(pageMarkup))

	status, header, body := get(t, baseURL+"status")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", header.Get("Content-Type"))

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "ok", payload["status"])
}

func TestFileLoader_ReadsOnEveryRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(path, []byte(`const CSV_URL = "{csv-url}";`), 0644))

	replace := func(s string) string { return strings.ReplaceAll(s, "{csv-url}", "http://x/c.csv") }
	baseURL := startServer(t, FileLoader(path, replace))

	_, _, body := get(t, baseURL)
	assert.Equal(t, `const CSV_URL = "http://x/c.csv";`, body)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0644))
	_, _, body = get(t, baseURL)
	assert.Equal(t, "changed", body)

	require.NoError(t, os.Remove(path))
	status, _, _ := get(t, baseURL)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_StartTwiceFails(t *testing.T) {
	s := New("127.0.0.1", 0, staticLoader(pageMarkup), arbor.NewLogger())
	_, err := s.Start()
	require.NoError(t, err)
	defer func() { _ = s.Stop(context.Background()) }()

	_, err = s.Start()
	assert.Error(t, err)
}

func TestServer_BaseURLUsesLocalhostForWildcardHost(t *testing.T) {
	s := New("", 0, staticLoader(pageMarkup), arbor.NewLogger())
	baseURL, err := s.Start()
	require.NoError(t, err)
	defer func() { _ = s.Stop(context.Background()) }()

	assert.True(t, strings.HasPrefix(baseURL, "http://localhost:"), baseURL)
	assert.Equal(t, baseURL, s.URL())
}

func TestServer_StopBeforeStart(t *testing.T) {
	s := New("127.0.0.1", 0, staticLoader(pageMarkup), arbor.NewLogger())
	assert.NoError(t, s.Stop(context.Background()))
}
