package httpapi

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/codingpal/agent/internal/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Logging attaches a request-scoped logger to the context and logs each
// request when it completes.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		reqLog := log.With(logging.KeyRequestID, reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(rec, r.WithContext(logging.NewContext(r.Context(), reqLog)))

		reqLog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			logging.KeyDurationMs, time.Since(start).Milliseconds(),
		)
	})
}

// Recovery turns a handler panic into a 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				logging.FromContext(r.Context()).Error("handler panicked",
					"path", r.URL.Path,
					"panic", rv,
					"stack", string(debug.Stack()),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
