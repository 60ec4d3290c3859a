package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Submitted("owasp")
	m.Submitted("owasp")
	m.Processed("owasp", OutcomeSuccess)
	m.Processed("quiz", OutcomeFailure)
	m.ObserveGeneration("owasp", 1500*time.Millisecond)
	m.SetQueueDepth(4, 2, 1)

	require.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("owasp")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("owasp", OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("quiz", OutcomeFailure)))
	require.Equal(t, 4.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("visible")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("dead_letter")))
	require.Equal(t, 1, testutil.CollectAndCount(m.generationDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Submitted("x")
	m.Processed("x", OutcomeSuccess)
	m.ObserveGeneration("x", time.Second)
	m.SetQueueDepth(1, 1, 1)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	m.Middleware(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Middleware(func(*http.Request) string { return "/get-answer" })(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get-answer?request_id=abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/get-answer", "404")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "qa_http_requests_total"))
}
