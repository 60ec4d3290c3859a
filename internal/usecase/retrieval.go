package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"qa-pipeline/internal/domain"
	"qa-pipeline/internal/repository"
)

const (
	// AllUsers is the privileged user_id that lists every record.
	AllUsers = "all"
	// NoAnswerYet replaces an empty stored answer.
	NoAnswerYet = "No answer yet"

	defaultDeadLetterLimit = 10
)

type AnswerStore interface {
	Get(ctx context.Context, requestID string) (domain.AnswerRecord, error)
	ListByUser(ctx context.Context, userID string) ([]domain.AnswerRecord, error)
	ListAll(ctx context.Context) ([]domain.AnswerRecord, error)
	Delete(ctx context.Context, requestID string) error
}

type DeadLetterLister interface {
	DeadLetters(ctx context.Context, max int) ([]domain.DeadLetter, error)
}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// AdminAuth checks the shared admin passcode. A passcode set directly wins;
// otherwise it is read from the parameter store on every check, which relies
// on the store's own caching.
type AdminAuth struct {
	passcode  string
	params    ParamGetter
	paramName string
}

func NewAdminAuth(passcode string, params ParamGetter, paramName string) *AdminAuth {
	return &AdminAuth{passcode: passcode, params: params, paramName: paramName}
}

// Check fails closed: with no passcode configured every request is refused.
func (a *AdminAuth) Check(ctx context.Context, presented string) error {
	want, err := a.expected(ctx)
	if err != nil {
		return newError(ErrorDependency, "passcode_load_error", err)
	}
	presented = strings.TrimSpace(presented)
	if want == "" || presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(want)) != 1 {
		return newError(ErrorForbidden, "admin_forbidden", nil)
	}
	return nil
}

func (a *AdminAuth) expected(ctx context.Context) (string, error) {
	if a == nil {
		return "", nil
	}
	if a.passcode != "" {
		return a.passcode, nil
	}
	if a.params == nil || a.paramName == "" {
		return "", nil
	}
	v, err := a.params.GetParameter(ctx, a.paramName)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

type RetrievalService struct {
	store       AnswerStore
	deadLetters DeadLetterLister
	auth        *AdminAuth
	logger      *slog.Logger
}

func NewRetrievalService(store AnswerStore, deadLetters DeadLetterLister, auth *AdminAuth, logger *slog.Logger) (*RetrievalService, error) {
	if store == nil {
		return nil, errors.New("usecase: answer store must not be nil")
	}
	if auth == nil {
		return nil, errors.New("usecase: admin auth must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalService{
		store:       store,
		deadLetters: deadLetters,
		auth:        auth,
		logger:      logger.With("component", "retrieval"),
	}, nil
}

// GetAnswer returns the stored record. NOT_FOUND means the answer is still
// pending or the id never existed.
func (s *RetrievalService) GetAnswer(ctx context.Context, requestID string) (domain.AnswerRecord, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.AnswerRecord{}, newError(ErrorInvalidInput, "missing_request_id", nil)
	}
	rec, err := s.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.AnswerRecord{}, newError(ErrorNotFound, "answer_not_found", err)
		}
		s.logger.ErrorContext(ctx, "answer lookup failed", "request_id", requestID, "error", err)
		return domain.AnswerRecord{}, newError(ErrorDependency, "store_read_error", err)
	}
	if strings.TrimSpace(rec.Answer) == "" {
		rec.Answer = NoAnswerYet
	}
	return rec, nil
}

// History lists a user's records, or every record when userID is AllUsers
// and authorization carries the admin passcode.
func (s *RetrievalService) History(ctx context.Context, userID, authorization string) ([]domain.AnswerRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}

	var (
		recs []domain.AnswerRecord
		err  error
	)
	if strings.EqualFold(userID, AllUsers) {
		if err := s.auth.Check(ctx, authorization); err != nil {
			s.logger.WarnContext(ctx, "admin history refused", "error", err)
			return nil, err
		}
		recs, err = s.store.ListAll(ctx)
	} else {
		recs, err = s.store.ListByUser(ctx, userID)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "history lookup failed", "user_id", userID, "error", err)
		return nil, newError(ErrorDependency, "store_read_error", err)
	}
	if recs == nil {
		recs = []domain.AnswerRecord{}
	}
	return recs, nil
}

// Delete removes a record. Deleting an absent record succeeds.
func (s *RetrievalService) Delete(ctx context.Context, requestID, authorization string) error {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return newError(ErrorInvalidInput, "missing_request_id", nil)
	}
	if err := s.auth.Check(ctx, authorization); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, requestID); err != nil {
		s.logger.ErrorContext(ctx, "delete failed", "request_id", requestID, "error", err)
		return newError(ErrorDependency, "store_delete_error", err)
	}
	s.logger.InfoContext(ctx, "answer deleted", "request_id", requestID)
	return nil
}

// DeadLetters lists up to max dead-lettered messages.
func (s *RetrievalService) DeadLetters(ctx context.Context, authorization string, max int) ([]domain.DeadLetter, error) {
	if err := s.auth.Check(ctx, authorization); err != nil {
		return nil, err
	}
	if s.deadLetters == nil {
		return []domain.DeadLetter{}, nil
	}
	if max <= 0 {
		max = defaultDeadLetterLimit
	}
	letters, err := s.deadLetters.DeadLetters(ctx, max)
	if err != nil {
		s.logger.ErrorContext(ctx, "dead letter listing failed", "error", err)
		return nil, newError(ErrorDependency, "queue_read_error", err)
	}
	return letters, nil
}
