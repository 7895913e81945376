package tablespec

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/bitechdev/TableSpec/pkg/metrics"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Authenticator identifies the caller of a request. A non-nil error rejects
// the request with 401.
type Authenticator func(r *http.Request) (userID string, err error)

// responseWriter records the status and size of a response.
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w}
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *responseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Middleware wraps the whole router with recovery and request logging.
func Middleware(next http.Handler) http.Handler {
	return RequestLogger(Recovery(next))
}

// Recovery answers 500 for panics that escape a handler.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic serving %s %s: %v\nStack trace:\n%s", r.Method, r.URL.Path, err, string(debug.Stack()))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestLogger assigns a request id and logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r.WithContext(WithRequestID(r.Context(), id)))

		logger.Infow("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.Status(),
			"bytes", rw.bytes,
			"latency_ms", time.Since(start).Milliseconds(),
		)
	})
}

// observe records request metrics under the route template.
func observe(template string, fn func(http.ResponseWriter, *http.Request, map[string]string)) func(http.ResponseWriter, *http.Request, map[string]string) {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rw := newResponseWriter(w)
		defer func() {
			metrics.HTTPRequests.WithLabelValues(template, r.Method, strconv.Itoa(rw.Status())).Inc()
			metrics.HTTPDuration.WithLabelValues(template, r.Method).Observe(time.Since(start).Seconds())
		}()
		fn(rw, r, params)
	}
}

// route wraps an API handler with authentication and metrics.
func (h *Handler) route(template string, fn func(http.ResponseWriter, *http.Request, map[string]string)) func(http.ResponseWriter, *http.Request, map[string]string) {
	return observe(template, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if h.authenticate != nil {
			userID, err := h.authenticate(r)
			if err != nil {
				logger.Warn("Authentication failed for %s %s: %v", r.Method, r.URL.Path, err)
				h.sendJSON(w, http.StatusUnauthorized, common.Response{
					Success: false,
					Error:   &common.APIError{Code: "unauthorized", Message: "authentication failed", Detail: err.Error()},
				})
				return
			}
			r = r.WithContext(WithUserID(r.Context(), userID))
		}
		fn(w, r, params)
	})
}
