package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"qa-pipeline/internal/logctx"
	"qa-pipeline/internal/metrics"
)

const maxBodyBytes = 1 << 20

// NewRouter serves the same endpoints as Handle over net/http. A nil metrics
// disables /metrics and request instrumentation.
func NewRouter(h *Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.logger))
	r.Use(m.Middleware(routePattern))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "")
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	for key, ep := range h.routes() {
		method, path := splitRouteKey(key)
		r.Method(method, path, h.httpEndpoint(ep))
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"}, correlationIDFrom(req.Header.Get(correlationHeader)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"}, correlationIDFrom(req.Header.Get(correlationHeader)))
	})
	return r
}

func (h *Handler) httpEndpoint(ep endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := correlationIDFrom(r.Header.Get(correlationHeader))
		ctx := logctx.WithCorrelationID(r.Context(), correlationID)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body too large"}, correlationID)
			return
		}
		req := request{
			query:   make(map[string]string),
			headers: make(map[string]string),
			body:    string(body),
		}
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				req.query[k] = v[0]
			}
		}
		for k := range r.Header {
			req.headers[k] = r.Header.Get(k)
		}

		resp := ep(ctx, req)
		writeJSON(w, resp.status, resp.payload, correlationID)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any, correlationID string) {
	body, err := encodeBody(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = `{"error":"Internal server error"}`
	}
	for k, v := range responseHeaders(correlationID) {
		if k == correlationHeader && v == "" {
			continue
		}
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func splitRouteKey(key string) (method, path string) {
	method, path, _ = strings.Cut(key, " ")
	return method, path
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// RequestLogger logs every request with a level chosen by status class.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			} else if status >= 400 {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("correlation_id", ww.Header().Get(correlationHeader)),
			)
		})
	}
}
