package cohorts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const sampleCSV = "sprint,project,cohort,text\n1,,112,a\n2,,110,b\n3,,112,c\n"

func newCSVServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(opts ...ClientOption) *Client {
	c := NewClient(append([]ClientOption{WithLogger(arbor.NewLogger()), WithRateLimit(100)}, opts...)...)
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = 5 * time.Millisecond
	return c
}

func TestFetchCSV_Success(t *testing.T) {
	var userAgent string
	srv := newCSVServer(t, func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(sampleCSV))
	})

	client := newTestClient(WithUserAgent("cohortprobe/test"))
	body, err := client.FetchCSV(context.Background(), srv.URL+"/cohorts.csv")

	require.NoError(t, err)
	assert.Equal(t, sampleCSV, body)
	assert.Equal(t, "cohortprobe/test", userAgent)
}

func TestFetchCSV_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pub", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final.csv", http.StatusFound)
	})
	mux.HandleFunc("/final.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	body, err := newTestClient().FetchCSV(context.Background(), srv.URL+"/pub")
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, body)
}

func TestFetchCSV_NonSuccessIsFatal(t *testing.T) {
	var calls int32
	srv := newCSVServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "gone", http.StatusServiceUnavailable)
	})

	_, err := newTestClient().FetchCSV(context.Background(), srv.URL)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
	assert.Contains(t, fetchErr.Error(), "failed to fetch CSV: 503")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "default policy must not retry")
}

func TestFetchCSV_RetriesWhenConfigured(t *testing.T) {
	var calls int32
	srv := newCSVServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(sampleCSV))
	})

	body, err := newTestClient(WithMaxAttempts(3)).FetchCSV(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchCSV_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := newCSVServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := newTestClient(WithMaxAttempts(3)).FetchCSV(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchCSV_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient().FetchCSV(context.Background(), url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute request")
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(3)

	assert.True(t, p.ShouldRetry(0, http.StatusServiceUnavailable, errors.New("x")))
	assert.False(t, p.ShouldRetry(0, http.StatusNotFound, errors.New("x")))
	assert.True(t, p.ShouldRetry(1, 0, context.DeadlineExceeded))
	assert.False(t, p.ShouldRetry(0, 0, context.Canceled))
	assert.False(t, p.ShouldRetry(2, http.StatusServiceUnavailable, errors.New("x")), "last attempt")
	assert.False(t, NewRetryPolicy(0).ShouldRetry(0, http.StatusServiceUnavailable, errors.New("x")))
}

func TestRetryPolicy_CalculateBackoffBounded(t *testing.T) {
	p := NewRetryPolicy(5)
	for attempt := 0; attempt < 10; attempt++ {
		b := p.CalculateBackoff(attempt)
		assert.Greater(t, b, time.Duration(0))
		assert.LessOrEqual(t, b, p.MaxBackoff+p.MaxBackoff/4)
	}
}
