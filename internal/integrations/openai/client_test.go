package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qa-pipeline/internal/strategy"
)

// fakeGetter is a minimal paramstore.Getter stub.
type fakeGetter struct {
	val      string
	err      error
	lastName string
	onCall   func()
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.lastName = name
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}, opts...)
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/qa-pipeline", opts...)
	require.NoError(t, err)
	return c
}

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/qa-pipeline")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)
}

func TestNewClient_StaticKeyNeedsNoGetter(t *testing.T) {
	c, err := NewClient(nil, "", WithAPIKey("sk-static"), WithModel("gpt-test"))
	require.NoError(t, err)
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-static", key)
	require.Equal(t, "gpt-test", c.model)
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`, onCall: func() { calls++ }}
	c, err := NewClient(g, "/qa-pipeline/")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, err := c.resolveAPIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", key)
	}
	require.Equal(t, 1, calls)
	require.Equal(t, "/qa-pipeline/open-ai-token", g.lastName)
}

// ---------------------------------------------------------------------------
// fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

func TestFetchAPIKey(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		want    string
		wantErr string
	}{
		{"json token", &fakeGetter{val: `{"token":"sk-json"}`}, "/p/open-ai-token", "sk-json", ""},
		{"missing field", &fakeGetter{val: `{"other":"v"}`}, "/p/open-ai-token", "", "API token is empty"},
		{"malformed", &fakeGetter{val: `{"broken`}, "/p/open-ai-token", "", "unmarshal"},
		{"getter error", &fakeGetter{err: errors.New("ssm unavailable")}, "/p/open-ai-token", "", "ssm unavailable"},
		{"nil getter", nil, "/p/open-ai-token", "", "nil"},
		{"empty name", &fakeGetter{val: `{"token":"x"}`}, " ", "", "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := fetchAPIKeyFromParamStore(context.Background(), tc.getter, tc.param)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, key)
		})
	}
}

// ---------------------------------------------------------------------------
// GenerateText
// ---------------------------------------------------------------------------

func TestGenerateText_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req chatRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Equal(t, "gpt-mock", req.Model)
		require.Equal(t, 500, req.MaxTokens)
		require.InDelta(t, 0.3, *req.Temperature, 1e-9)
		require.Equal(t, "What is CSRF?", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c-1","choices":[{"index":0,"message":{"role":"assistant","content":"A forged request."}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithModel("gpt-mock"))
	out, err := c.GenerateText(context.Background(), "What is CSRF?", strategy.GenerateOptions{MaxTokens: 500, Temperature: 0.3})
	require.NoError(t, err)
	require.Equal(t, "A forged request.", out)
}

func TestGenerateText_StatusErrors(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.GenerateText(context.Background(), "q", strategy.GenerateOptions{})
		srv.Close()

		require.Error(t, err)
		var se *HTTPStatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, tc.status, se.HTTPStatusCode())
		require.Equal(t, tc.transient, strategy.IsTransient(err), "status %d", tc.status)
	}
}

func TestGenerateText_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).GenerateText(context.Background(), "q", strategy.GenerateOptions{})
	require.ErrorIs(t, err, strategy.ErrMalformedOutput)
	require.Contains(t, err.Error(), "decode response")
}

func TestGenerateText_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).GenerateText(context.Background(), "q", strategy.GenerateOptions{})
	require.ErrorIs(t, err, strategy.ErrMalformedOutput)
}

func TestGenerateText_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := c.GenerateText(context.Background(), "q", strategy.GenerateOptions{})
	require.Error(t, err)
	require.True(t, strategy.IsTransient(err))
}
