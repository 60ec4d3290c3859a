// Package strategy holds the answer-generation variants and the registry that
// maps request topics to them.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"qa-pipeline/internal/retry"
)

var (
	// ErrTransient marks failures that may succeed if the same call is repeated.
	ErrTransient = errors.New("strategy: transient generation failure")
	// ErrMalformedOutput marks model output that could not be parsed into the
	// shape the variant promises.
	ErrMalformedOutput = errors.New("strategy: malformed model output")
	// ErrUnknownTopic is returned by the registry for unregistered topics.
	ErrUnknownTopic = errors.New("strategy: unknown topic")
)

// Query is the input to a Strategy.
type Query struct {
	Question string
	// SessionID carries conversation continuity to backends that support it.
	SessionID string
}

// Strategy generates an answer for a single query.
type Strategy interface {
	Generate(ctx context.Context, q Query) (string, error)
}

// Func adapts a function to the Strategy interface.
type Func func(ctx context.Context, q Query) (string, error)

func (f Func) Generate(ctx context.Context, q Query) (string, error) { return f(ctx, q) }

// GenerateOptions tunes a single text generation call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
}

// TextGenerator is a prompt-in, text-out generation backend.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// KnowledgeBase answers a prompt grounded on a retrieval index.
type KnowledgeBase interface {
	RetrieveAndGenerate(ctx context.Context, knowledgeBaseID, input, sessionID string) (string, error)
}

type transientError interface {
	Transient() bool
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// IsTransient reports whether a backend error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te transientError
	if errors.As(err, &te) && te.Transient() {
		return true
	}
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return code == 408 || code == 429 || code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// classify tags transient backend errors with ErrTransient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) && !errors.Is(err, ErrTransient) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// DefaultRetryPolicy waits 2^n seconds plus up to one second of jitter between
// attempts, capped at 30 seconds.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      time.Second,
		Growth:      retry.Exponential,
	}
}

// withRetry runs fn under policy, retrying only transient failures.
func withRetry(ctx context.Context, policy retry.Policy, fn func(ctx context.Context) (string, error)) (string, error) {
	policy.Retryable = func(err error) bool { return errors.Is(err, ErrTransient) }
	var out string
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// ExpandIfVague wraps very short questions without terminal punctuation in a
// clarifying preamble.
func ExpandIfVague(question string) string {
	tokens := strings.Fields(strings.ToLower(question))
	if len(tokens) <= 4 && !strings.ContainsAny(question, "?.") {
		return fmt.Sprintf("can you tell me more about : '%s'. Can you clarify what the student might be referring to?", question)
	}
	return question
}
