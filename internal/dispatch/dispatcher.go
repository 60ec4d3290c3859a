// Package dispatch consumes queued questions, runs the strategy registered
// for their topic and stores the answer.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"qa-pipeline/internal/domain"
	"qa-pipeline/internal/metrics"
	"qa-pipeline/internal/strategy"
)

// ErrMalformedMessage is returned for queue bodies that are not a valid Request.
var ErrMalformedMessage = errors.New("dispatch: malformed message")

// Router resolves a topic to the strategy that answers it.
type Router interface {
	Lookup(topic string) (strategy.Strategy, error)
}

// ResultWriter persists answer records. Put must overwrite an existing
// record with the same request id.
type ResultWriter interface {
	Put(ctx context.Context, rec domain.AnswerRecord) error
}

// Dispatcher turns one queue message into a stored answer.
type Dispatcher struct {
	router  Router
	store   ResultWriter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records processing outcomes and generation latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides the clock used for answered_at.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New returns a Dispatcher that routes with router and writes to store.
func New(router Router, store ResultWriter, opts ...Option) (*Dispatcher, error) {
	if router == nil {
		return nil, errors.New("dispatch: router must not be nil")
	}
	if store == nil {
		return nil, errors.New("dispatch: result store must not be nil")
	}
	d := &Dispatcher{
		router: router,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher")
	return d, nil
}

// Process handles one queue delivery. A nil return means the message may be
// acknowledged; any error leaves it on the queue for redelivery.
func (d *Dispatcher) Process(ctx context.Context, body string, receiveCount int) error {
	req, err := ParseRequest(body)
	if err != nil {
		d.metrics.Processed("unknown", metrics.OutcomeMalformed)
		d.logger.ErrorContext(ctx, "discarding unparseable message for redelivery",
			"receive_count", receiveCount, "error", err)
		return err
	}
	topic := strategy.NormalizeTopic(req.Topic)
	log := d.logger.With("request_id", req.RequestID, "topic", topic, "receive_count", receiveCount)

	s, err := d.router.Lookup(topic)
	if err != nil {
		d.metrics.Processed(topic, metrics.OutcomeMalformed)
		log.ErrorContext(ctx, "no strategy for topic", "error", err)
		return err
	}

	start := d.now()
	answer, err := s.Generate(ctx, strategy.Query{Question: req.Question, SessionID: req.ConversationID})
	d.metrics.ObserveGeneration(topic, d.now().Sub(start))
	if err != nil {
		d.metrics.Processed(topic, metrics.OutcomeFailure)
		log.ErrorContext(ctx, "answer generation failed",
			"transient", strategy.IsTransient(err), "error", err)
		return fmt.Errorf("dispatch: generate %s: %w", req.RequestID, err)
	}

	rec := domain.AnswerRecord{
		RequestID:  req.RequestID,
		UserID:     req.UserID,
		Question:   req.Question,
		Topic:      topic,
		Answer:     answer,
		Timestamp:  req.Timestamp,
		AnsweredAt: d.now().UTC().Format(time.RFC3339),
		Attempt:    receiveCount,
	}
	if err := d.store.Put(ctx, rec); err != nil {
		d.metrics.Processed(topic, metrics.OutcomeFailure)
		log.ErrorContext(ctx, "failed to store answer", "error", err)
		return fmt.Errorf("dispatch: store %s: %w", req.RequestID, err)
	}

	d.metrics.Processed(topic, metrics.OutcomeSuccess)
	log.InfoContext(ctx, "answer stored", "answer_length", len(answer))
	return nil
}

// ParseRequest decodes a queue body and checks the required fields.
func ParseRequest(body string) (domain.Request, error) {
	var req domain.Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return domain.Request{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"request_id", req.RequestID},
		{"user_id", req.UserID},
		{"question", req.Question},
		{"topic", req.Topic},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return domain.Request{}, fmt.Errorf("%w: missing %s", ErrMalformedMessage, strings.Join(missing, ", "))
	}
	return req, nil
}
