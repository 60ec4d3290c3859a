package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"qa-pipeline/internal/retry"
)

// PromptFunc renders the full prompt for a question.
type PromptFunc func(question string) string

// DirectPromptConfig configures a DirectPromptStrategy.
type DirectPromptConfig struct {
	Name    string
	Prompt  PromptFunc
	Options GenerateOptions
	// ExpandVague applies ExpandIfVague to the question before rendering.
	ExpandVague bool
	Retry       retry.Policy
	Logger      *slog.Logger
}

// DirectPromptStrategy sends a templated prompt straight to a text generator.
type DirectPromptStrategy struct {
	gen    TextGenerator
	cfg    DirectPromptConfig
	logger *slog.Logger
}

func NewDirectPrompt(gen TextGenerator, cfg DirectPromptConfig) (*DirectPromptStrategy, error) {
	if gen == nil {
		return nil, errors.New("strategy: text generator must not be nil")
	}
	if cfg.Prompt == nil {
		return nil, errors.New("strategy: prompt func must not be nil")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectPromptStrategy{
		gen:    gen,
		cfg:    cfg,
		logger: logger.With("component", "strategy", "strategy", cfg.Name),
	}, nil
}

func (s *DirectPromptStrategy) Generate(ctx context.Context, q Query) (string, error) {
	question := q.Question
	if s.cfg.ExpandVague {
		question = ExpandIfVague(question)
	}
	prompt := s.cfg.Prompt(question)

	p := s.cfg.Retry
	p.OnRetry = logRetry(ctx, s.logger)
	text, err := withRetry(ctx, p, func(ctx context.Context) (string, error) {
		out, err := s.gen.GenerateText(ctx, prompt, s.cfg.Options)
		if err != nil {
			return "", classify("strategy: generate", err)
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrMalformedOutput)
	}
	return text, nil
}

func logRetry(ctx context.Context, logger *slog.Logger) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		logger.WarnContext(ctx, "generation attempt failed, retrying",
			"attempt", attempt,
			"delay", delay.String(),
			"err", err)
	}
}
