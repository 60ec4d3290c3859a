package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorForbidden    ErrorCode = "FORBIDDEN"
	ErrorDependency   ErrorCode = "DEPENDENCY_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	// Message is safe to return to clients. Empty means derive it from Reason.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var reasonMessages = map[string]string{
	"missing_request_id": "Missing request_id",
	"missing_user_id":    "Missing user_id",
	"invalid_user_id":    "user_id must be 1-15 letters, digits, '_' or '-'",
	"missing_question":   "Missing question",
	"missing_topic":      "Missing topic",
	"unknown_topic":      "Unsupported topic",
	"invalid_timestamp":  "timestamp must be RFC3339",
	"invalid_body":       "Invalid request body",
	"answer_not_found":   "Answer not found",
	"admin_forbidden":    "Unauthorized admin access",
}

// PublicMessage is the client-facing description of e.
func (e *Error) PublicMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if m, ok := reasonMessages[e.Reason]; ok {
		return m
	}
	switch e.Code {
	case ErrorDependency:
		return "Service temporarily unavailable"
	case ErrorInternal:
		return "Internal server error"
	}
	return string(e.Code)
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
