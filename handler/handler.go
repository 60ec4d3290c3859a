// Package handler exposes the submission and retrieval use cases over API
// Gateway proxy events and plain HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"qa-pipeline/internal/domain"
	"qa-pipeline/internal/logctx"
	"qa-pipeline/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Submitter interface {
	Submit(ctx context.Context, in usecase.SubmitInput) (domain.Request, error)
}

type Retriever interface {
	GetAnswer(ctx context.Context, requestID string) (domain.AnswerRecord, error)
	History(ctx context.Context, userID, authorization string) ([]domain.AnswerRecord, error)
	Delete(ctx context.Context, requestID, authorization string) error
	DeadLetters(ctx context.Context, authorization string, max int) ([]domain.DeadLetter, error)
}

type Handler struct {
	submit   Submitter
	retrieve Retriever
	logger   *slog.Logger
}

type submitResponse struct {
	Message domain.Request `json:"message"`
}

type historyResponse struct {
	History []domain.AnswerRecord `json:"history"`
}

type deleteResponse struct {
	Deleted string `json:"deleted"`
}

type deadLettersResponse struct {
	DeadLetters []domain.DeadLetter `json:"dead_letters"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(submit Submitter, retrieve Retriever, logger *slog.Logger) (*Handler, error) {
	if submit == nil {
		return nil, errors.New("handler: submitter must not be nil")
	}
	if retrieve == nil {
		return nil, errors.New("handler: retriever must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{submit: submit, retrieve: retrieve, logger: logger.With("component", "handler")}, nil
}

// request is the transport-neutral view of an incoming call.
type request struct {
	query   map[string]string
	headers map[string]string
	body    string
}

func (r request) header(name string) string {
	for k, v := range r.headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

type response struct {
	status  int
	payload any
}

type endpoint func(ctx context.Context, req request) response

func (h *Handler) ask(ctx context.Context, req request) response {
	var in usecase.SubmitInput
	if err := json.Unmarshal([]byte(req.body), &in); err != nil {
		return h.errorResponse(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
	}
	out, err := h.submit.Submit(ctx, in)
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, payload: submitResponse{Message: out}}
}

func (h *Handler) getAnswer(ctx context.Context, req request) response {
	rec, err := h.retrieve.GetAnswer(ctx, req.query["request_id"])
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, payload: rec}
}

func (h *Handler) getHistory(ctx context.Context, req request) response {
	recs, err := h.retrieve.History(ctx, req.query["user_id"], req.header("Authorization"))
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, payload: historyResponse{History: recs}}
}

func (h *Handler) deleteAnswer(ctx context.Context, req request) response {
	id := strings.TrimSpace(req.query["request_id"])
	if err := h.retrieve.Delete(ctx, id, req.header("Authorization")); err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, payload: deleteResponse{Deleted: id}}
}

func (h *Handler) deadLetters(ctx context.Context, req request) response {
	limit, _ := strconv.Atoi(req.query["limit"])
	letters, err := h.retrieve.DeadLetters(ctx, req.header("Authorization"), limit)
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return response{status: http.StatusOK, payload: deadLettersResponse{DeadLetters: letters}}
}

func (h *Handler) errorResponse(ctx context.Context, err error) response {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		h.logger.ErrorContext(ctx, "unexpected error", "error", err)
		return response{status: http.StatusInternalServerError, payload: errorResponse{Error: "Internal server error"}}
	}

	status := statusForCode(ucErr.Code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", "code", ucErr.Code, "reason", ucErr.Reason, "error", ucErr.Err)
	} else {
		h.logger.InfoContext(ctx, "request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return response{status: status, payload: errorResponse{Error: ucErr.PublicMessage()}}
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorForbidden:
		return http.StatusForbidden
	case usecase.ErrorDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) routes() map[string]endpoint {
	return map[string]endpoint{
		http.MethodPost + " /ask":         h.ask,
		http.MethodGet + " /get-answer":   h.getAnswer,
		http.MethodGet + " /get-history":  h.getHistory,
		http.MethodDelete + " /delete":    h.deleteAnswer,
		http.MethodGet + " /dead-letters": h.deadLetters,
	}
}

// Handle serves an API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, ev events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req := request{query: ev.QueryStringParameters, headers: ev.Headers, body: ev.Body}
	if req.query == nil {
		req.query = map[string]string{}
	}
	correlationID := correlationIDFrom(req.header(correlationHeader))
	ctx = logctx.WithCorrelationID(ctx, correlationID)

	path := "/" + strings.Trim(ev.Path, "/")
	var resp response
	if ep, ok := h.routes()[ev.HTTPMethod+" "+path]; ok {
		resp = ep(ctx, req)
	} else if ev.HTTPMethod == http.MethodOptions {
		resp = response{status: http.StatusNoContent}
	} else {
		resp = h.unrouted(path)
	}

	body, err := encodeBody(resp.payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode response", "error", err)
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: resp.status,
		Headers:    responseHeaders(correlationID),
		Body:       body,
	}, nil
}

func (h *Handler) unrouted(path string) response {
	for key := range h.routes() {
		if strings.HasSuffix(key, " "+path) {
			return response{status: http.StatusMethodNotAllowed, payload: errorResponse{Error: "Method not allowed"}}
		}
	}
	return response{status: http.StatusNotFound, payload: errorResponse{Error: "Not found"}}
}

func responseHeaders(correlationID string) map[string]string {
	return map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Content-Type,Authorization," + correlationHeader,
		correlationHeader:              correlationID,
	}
}

func encodeBody(payload any) (string, error) {
	if payload == nil {
		return "", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func correlationIDFrom(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return uuid.NewString()
}
