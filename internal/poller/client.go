// Package poller is the client side of the pipeline: it submits questions
// and polls for answers with bounded linear backoff.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"qa-pipeline/internal/domain"
	"qa-pipeline/internal/retry"
	"qa-pipeline/internal/usecase"
)

const (
	DefaultAttempts  = 10
	DefaultBaseDelay = 2 * time.Second
	defaultTimeout   = 30 * time.Second
)

var (
	// ErrPending means the answer does not exist yet.
	ErrPending = errors.New("poller: answer pending")
	// ErrTimeout is returned by Wait when every attempt found the answer
	// still pending. It is distinct from a definitive failure.
	ErrTimeout = errors.New("poller: timed out waiting for answer")
)

// StatusError is a non-success response from the API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("poller: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("poller: status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPolicy replaces the polling schedule. Its Retryable is ignored.
func WithPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// DefaultPolicy polls up to 10 times, waiting 2s, 4s, 6s... between tries.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: DefaultAttempts,
		BaseDelay:   DefaultBaseDelay,
		Growth:      retry.Linear,
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("poller: base url must not be empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("poller: invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		policy:     DefaultPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit posts a question and returns the accepted request.
func (c *Client) Submit(ctx context.Context, in usecase.SubmitInput) (domain.Request, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return domain.Request{}, fmt.Errorf("poller: encode question: %w", err)
	}
	var out struct {
		Message domain.Request `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/ask", nil, "", body, &out); err != nil {
		return domain.Request{}, err
	}
	return out.Message, nil
}

// GetAnswer fetches an answer once. It returns ErrPending while the answer
// has not been stored.
func (c *Client) GetAnswer(ctx context.Context, requestID string) (domain.AnswerRecord, error) {
	var rec domain.AnswerRecord
	err := c.do(ctx, http.MethodGet, "/get-answer", url.Values{"request_id": {requestID}}, "", nil, &rec)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return domain.AnswerRecord{}, ErrPending
		}
		return domain.AnswerRecord{}, err
	}
	if a := strings.TrimSpace(rec.Answer); a == "" || a == usecase.NoAnswerYet {
		return domain.AnswerRecord{}, ErrPending
	}
	return rec, nil
}

// Wait polls until the answer is available. Pending responses and server
// or transport errors are retried; any other 4xx stops immediately. When
// the attempts run out on a pending answer the error wraps ErrTimeout.
func (c *Client) Wait(ctx context.Context, requestID string) (domain.AnswerRecord, error) {
	var rec domain.AnswerRecord
	policy := c.policy
	policy.Retryable = retryable
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.DebugContext(ctx, "answer not ready", "request_id", requestID, "attempt", attempt, "next_delay", delay, "error", err)
		if userOnRetry != nil {
			userOnRetry(attempt, delay, err)
		}
	}

	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		r, err := c.GetAnswer(ctx, requestID)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, retry.ErrExhausted) && errors.Is(err, ErrPending) {
		return domain.AnswerRecord{}, fmt.Errorf("%w: %s after %d attempts", ErrTimeout, requestID, max(policy.MaxAttempts, 1))
	}
	return domain.AnswerRecord{}, err
}

// History lists the records of userID; passcode is only needed for "all".
func (c *Client) History(ctx context.Context, userID, passcode string) ([]domain.AnswerRecord, error) {
	var out struct {
		History []domain.AnswerRecord `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/get-history", url.Values{"user_id": {userID}}, passcode, nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrPending) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, authorization string, body []byte, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("poller: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("poller: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("poller: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("poller: decode response: %w", err)
		}
	}
	return nil
}
