package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"qa-pipeline/internal/domain"
	"qa-pipeline/internal/metrics"
)

const defaultMaxQuestion = 10000

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,15}$`)

// Enqueuer accepts a serialized request and returns the message id.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) (string, error)
}

// TopicChecker reports whether a topic has a registered strategy.
type TopicChecker interface {
	Has(topic string) bool
}

// AllowedTopics is a fixed TopicChecker.
type AllowedTopics map[string]struct{}

func NewAllowedTopics(topics ...string) AllowedTopics {
	a := make(AllowedTopics, len(topics))
	for _, t := range topics {
		a[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return a
}

func (a AllowedTopics) Has(topic string) bool {
	_, ok := a[strings.ToLower(strings.TrimSpace(topic))]
	return ok
}

// SubmitInput is the body of a submission.
type SubmitInput struct {
	UserID         string `json:"user_id" validate:"required,user_id"`
	Question       string `json:"question" validate:"required"`
	Topic          string `json:"topic" validate:"required"`
	Timestamp      string `json:"timestamp,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,max=128"`
}

// SubmitService validates submissions and enqueues them for the worker.
type SubmitService struct {
	queue          Enqueuer
	topics         TopicChecker
	maxQuestionLen int
	validate       *validator.Validate
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
}

// SubmitOption configures a SubmitService.
type SubmitOption func(*SubmitService)

// WithSubmitMetrics counts accepted submissions per topic.
func WithSubmitMetrics(m *metrics.Metrics) SubmitOption {
	return func(s *SubmitService) { s.metrics = m }
}

// WithSubmitLogger sets the logger. The default is slog.Default().
func WithSubmitLogger(l *slog.Logger) SubmitOption {
	return func(s *SubmitService) { s.logger = l }
}

// WithSubmitClock overrides the clock used to stamp missing timestamps.
func WithSubmitClock(now func() time.Time) SubmitOption {
	return func(s *SubmitService) { s.now = now }
}

// NewSubmitService returns a service that enqueues on q. maxQuestionLen
// falls back to 10000 when not positive.
func NewSubmitService(q Enqueuer, topics TopicChecker, maxQuestionLen int, opts ...SubmitOption) (*SubmitService, error) {
	if q == nil {
		return nil, errors.New("usecase: queue must not be nil")
	}
	if topics == nil {
		return nil, errors.New("usecase: topic checker must not be nil")
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestion
	}
	v := validator.New()
	if err := v.RegisterValidation("user_id", func(fl validator.FieldLevel) bool {
		return userIDPattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("usecase: register user_id validation: %w", err)
	}
	s := &SubmitService{
		queue:          q,
		topics:         topics,
		maxQuestionLen: maxQuestionLen,
		validate:       v,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "submit")
	return s, nil
}

// Submit validates a question, assigns it a request id and enqueues it. The
// returned Request is exactly what was enqueued.
func (s *SubmitService) Submit(ctx context.Context, in SubmitInput) (domain.Request, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Question = strings.TrimSpace(in.Question)
	in.Topic = strings.ToLower(strings.TrimSpace(in.Topic))
	in.Timestamp = strings.TrimSpace(in.Timestamp)
	in.ConversationID = strings.TrimSpace(in.ConversationID)

	if err := s.validateInput(in); err != nil {
		return domain.Request{}, err
	}

	req := domain.Request{
		RequestID:      newUUID(),
		UserID:         in.UserID,
		Question:       in.Question,
		Topic:          in.Topic,
		Timestamp:      in.Timestamp,
		ConversationID: in.ConversationID,
	}
	if req.Timestamp == "" {
		req.Timestamp = s.now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.Request{}, newError(ErrorInternal, "encode_request", err)
	}
	messageID, err := s.queue.Enqueue(ctx, body)
	if err != nil {
		s.logger.ErrorContext(ctx, "enqueue failed", "request_id", req.RequestID, "error", err)
		return domain.Request{}, newError(ErrorDependency, "enqueue_failed", err)
	}

	s.metrics.Submitted(req.Topic)
	s.logger.InfoContext(ctx, "question enqueued",
		"request_id", req.RequestID, "message_id", messageID, "topic", req.Topic, "user_id", req.UserID)
	return req, nil
}

func (s *SubmitService) validateInput(in SubmitInput) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return newError(ErrorInternal, "validation_error", err)
		}
		return fieldError(verrs[0])
	}
	if n := utf8.RuneCountInString(in.Question); n > s.maxQuestionLen {
		e := newError(ErrorInvalidInput, "question_too_long", nil)
		e.Message = fmt.Sprintf("question must be at most %d characters", s.maxQuestionLen)
		return e
	}
	if !s.topics.Has(in.Topic) {
		return newError(ErrorInvalidInput, "unknown_topic", nil)
	}
	return nil
}

func fieldError(fe validator.FieldError) *Error {
	switch fe.Field() {
	case "UserID":
		if fe.Tag() == "required" {
			return newError(ErrorInvalidInput, "missing_user_id", fe)
		}
		return newError(ErrorInvalidInput, "invalid_user_id", fe)
	case "Question":
		return newError(ErrorInvalidInput, "missing_question", fe)
	case "Topic":
		return newError(ErrorInvalidInput, "missing_topic", fe)
	case "Timestamp":
		return newError(ErrorInvalidInput, "invalid_timestamp", fe)
	}
	e := newError(ErrorInvalidInput, "invalid_"+strings.ToLower(fe.Field()), fe)
	e.Message = fmt.Sprintf("invalid %s", fe.Field())
	return e
}

var newUUID = func() string {
	return uuid.NewString()
}
