package strategy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// SecurityKeywords route assignment questions to the OWASP variant.
var SecurityKeywords = []string{
	"injection", "xss", "csrf", "security", "owasp", "sql", "auth", "cookie",
	"exploit", "vulnerability", "cross-site", "session", "authentication",
	"input validation", "top 10", "security risk",
}

// KeywordRouter delegates to match when the question contains any keyword,
// otherwise to fallback.
type KeywordRouter struct {
	keywords []string
	match    Strategy
	fallback Strategy
	logger   *slog.Logger
}

func NewKeywordRouter(keywords []string, match, fallback Strategy, logger *slog.Logger) (*KeywordRouter, error) {
	if match == nil || fallback == nil {
		return nil, errors.New("strategy: router targets must not be nil")
	}
	if len(keywords) == 0 {
		return nil, errors.New("strategy: router keywords must not be empty")
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeywordRouter{
		keywords: lowered,
		match:    match,
		fallback: fallback,
		logger:   logger.With("component", "strategy", "strategy", "keyword-router"),
	}, nil
}

// Matches reports whether question contains one of the router keywords.
func (r *KeywordRouter) Matches(question string) bool {
	q := strings.ToLower(question)
	for _, k := range r.keywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}

func (r *KeywordRouter) Generate(ctx context.Context, q Query) (string, error) {
	if r.Matches(q.Question) {
		r.logger.InfoContext(ctx, "security keyword detected, delegating")
		return r.match.Generate(ctx, q)
	}
	return r.fallback.Generate(ctx, q)
}
