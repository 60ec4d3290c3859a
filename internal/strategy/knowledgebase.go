package strategy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"qa-pipeline/internal/retry"
)

const defaultFallbackAnswer = "I'm not certain. Please check with your instructor."

// KnowledgeBaseConfig configures a KnowledgeBaseStrategy.
type KnowledgeBaseConfig struct {
	Name            string
	KnowledgeBaseID string
	Preamble        string
	// Fallback is returned when the backend answers with empty text.
	Fallback string
	Retry    retry.Policy
	Logger   *slog.Logger
}

// KnowledgeBaseStrategy answers questions through a retrieval-augmented backend.
type KnowledgeBaseStrategy struct {
	kb     KnowledgeBase
	cfg    KnowledgeBaseConfig
	logger *slog.Logger
}

func NewKnowledgeBase(kb KnowledgeBase, cfg KnowledgeBaseConfig) (*KnowledgeBaseStrategy, error) {
	if kb == nil {
		return nil, errors.New("strategy: knowledge base must not be nil")
	}
	if strings.TrimSpace(cfg.KnowledgeBaseID) == "" {
		return nil, errors.New("strategy: knowledge base id must not be empty")
	}
	if cfg.Fallback == "" {
		cfg.Fallback = defaultFallbackAnswer
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeBaseStrategy{
		kb:     kb,
		cfg:    cfg,
		logger: logger.With("component", "strategy", "strategy", cfg.Name),
	}, nil
}

func (s *KnowledgeBaseStrategy) Generate(ctx context.Context, q Query) (string, error) {
	input := buildKnowledgeBaseInput(s.cfg.Preamble, ExpandIfVague(q.Question))

	text, err := withRetry(ctx, s.retryPolicy(ctx), func(ctx context.Context) (string, error) {
		out, err := s.kb.RetrieveAndGenerate(ctx, s.cfg.KnowledgeBaseID, input, q.SessionID)
		if err != nil {
			return "", classify("strategy: knowledge base", err)
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		s.logger.WarnContext(ctx, "knowledge base returned empty answer, using fallback")
		return s.cfg.Fallback, nil
	}
	return text, nil
}

func (s *KnowledgeBaseStrategy) retryPolicy(ctx context.Context) retry.Policy {
	p := s.cfg.Retry
	p.OnRetry = logRetry(ctx, s.logger)
	return p
}

func buildKnowledgeBaseInput(preamble, question string) string {
	if strings.TrimSpace(preamble) == "" {
		return question
	}
	return preamble + "\n\nQuestion: " + question
}

// textKnowledgeBase serves knowledge-base topics from a plain text generator
// when no retrieval backend is configured.
type textKnowledgeBase struct {
	gen  TextGenerator
	opts GenerateOptions
}

func (t textKnowledgeBase) RetrieveAndGenerate(ctx context.Context, _ string, input, _ string) (string, error) {
	return t.gen.GenerateText(ctx, input, t.opts)
}
