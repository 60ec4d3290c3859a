package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"qa-pipeline/internal/config"
	"qa-pipeline/internal/poller"
	"qa-pipeline/internal/repository"
	"qa-pipeline/internal/retry"
	"qa-pipeline/internal/strategy"
	"qa-pipeline/internal/usecase"
)

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
}

func (f *fakeGenerator) GenerateText(_ context.Context, prompt string, _ strategy.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return "Use parameterized queries and validate input.", nil
}

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		SQLitePath:        filepath.Join(t.TempDir(), "qa.db"),
		MaxQuestionLength: 10000,
		HandlerMaxRetries: 1,
		VisibilityTimeout: 30 * time.Second,
		MaxReceiveCount:   3,
		WorkerCount:       2,
		PollInterval:      5 * time.Millisecond,
		AdminPasscode:     "s3cret",
	}
}

func fastPolling() retry.Policy {
	return retry.Policy{MaxAttempts: 50, BaseDelay: 20 * time.Millisecond, Growth: retry.Constant}
}

func startLocal(t *testing.T, gen strategy.TextGenerator) (*Local, *httptest.Server) {
	t.Helper()
	cfg := localConfig(t)
	reg, err := NewRegistry(cfg, gen, nil, nil)
	require.NoError(t, err)
	db, _, err := OpenLocalDB(context.Background(), cfg)
	require.NoError(t, err)

	l, err := NewLocal(context.Background(), cfg, db, reg, AdminAuth(cfg, nil), nil)
	require.NoError(t, err)
	l.Start()
	t.Cleanup(func() { require.NoError(t, l.Close()) })

	srv := httptest.NewServer(l.Handler)
	t.Cleanup(srv.Close)
	return l, srv
}

func TestLocal_SubmitThenPoll(t *testing.T) {
	gen := &fakeGenerator{}
	_, srv := startLocal(t, gen)

	client, err := poller.New(srv.URL, poller.WithPolicy(fastPolling()))
	require.NoError(t, err)

	req, err := client.Submit(context.Background(), usecase.SubmitInput{
		UserID:   "student001",
		Question: "What is SQL injection?",
		Topic:    "owasp",
	})
	require.NoError(t, err)
	require.NotEmpty(t, req.RequestID)
	require.Equal(t, "owasp", req.Topic)

	rec, err := client.Wait(context.Background(), req.RequestID)
	require.NoError(t, err)
	require.Equal(t, "Use parameterized queries and validate input.", rec.Answer)
	require.Equal(t, "student001", rec.UserID)
	require.Equal(t, 1, rec.Attempt)

	gen.mu.Lock()
	require.Len(t, gen.prompts, 1)
	require.True(t, strings.Contains(gen.prompts[0], "What is SQL injection?"))
	gen.mu.Unlock()

	hist, err := client.History(context.Background(), "student001", "")
	require.NoError(t, err)
	require.Len(t, hist, 1)

	all, err := client.History(context.Background(), "all", "s3cret")
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = client.History(context.Background(), "all", "wrong")
	var se *poller.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestLocal_RejectsInvalidSubmission(t *testing.T) {
	l, srv := startLocal(t, &fakeGenerator{})
	client, err := poller.New(srv.URL)
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), usecase.SubmitInput{
		UserID:   "this-id-is-too-long",
		Question: "q",
		Topic:    "owasp",
	})
	var se *poller.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.StatusCode)

	stats, err := l.Queue.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Visible+stats.InFlight)
}

func TestLocal_UnknownRequestIsNotFound(t *testing.T) {
	_, srv := startLocal(t, &fakeGenerator{})

	resp, err := http.Get(srv.URL + "/get-answer?request_id=does-not-exist")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/get-answer")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetryPolicy_FromConfig(t *testing.T) {
	p := RetryPolicy(&config.Config{HandlerMaxRetries: 5, HandlerBaseDelay: 2 * time.Second, HandlerMaxDelay: time.Minute})
	require.Equal(t, 5, p.MaxAttempts)
	require.Equal(t, 2*time.Second, p.BaseDelay)
	require.Equal(t, time.Minute, p.MaxDelay)
	require.Equal(t, retry.Exponential, p.Growth)
}

func TestNewKnowledgeBase_DisabledWithoutID(t *testing.T) {
	kb, err := NewKnowledgeBase(&config.Config{}, awsConfigForTest(), nil, nil)
	require.NoError(t, err)
	require.Nil(t, kb)
}

func TestNewKnowledgeBase_WithSessionStore(t *testing.T) {
	cfg := &config.Config{KnowledgeBaseID: "KB1", ModelID: "anthropic.claude-3-haiku-20240307-v1:0"}
	kb, err := NewKnowledgeBase(cfg, awsConfigForTest(), &repository.SQLiteSessions{}, nil)
	require.NoError(t, err)
	require.NotNil(t, kb)
}

func TestNewLocal_Validates(t *testing.T) {
	cfg := localConfig(t)
	reg, err := NewRegistry(cfg, &fakeGenerator{}, nil, nil)
	require.NoError(t, err)
	_, err = NewLocal(context.Background(), cfg, nil, reg, AdminAuth(cfg, nil), nil)
	require.Error(t, err)
}

func TestNewSessionStore(t *testing.T) {
	s, err := NewSessionStore(&config.Config{}, awsConfigForTest())
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = NewSessionStore(&config.Config{SessionTableName: "qa-sessions"}, awsConfigForTest())
	require.NoError(t, err)
	require.IsType(t, &repository.Sessions{}, s)
}

func awsConfigForTest() aws.Config {
	return aws.Config{Region: "us-east-1"}
}
