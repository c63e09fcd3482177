package log

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// FromContext extracts a logger from the request context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: ComponentApp,
	}
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// RequestLogger puts a request-scoped logger carrying the chi request id into
// the context and logs each completed request. Must run after
// middleware.RequestID.
func RequestLogger(logger *Logger) func(http.Handler) http.Handler {
	base := logger.WithComponent(ComponentHTTP)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := base
			if id := middleware.GetReqID(r.Context()); id != "" {
				reqLogger = base.With(FieldRequestID, id)
			}
			r = r.WithContext(WithLogger(r.Context(), reqLogger))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)

			level := slog.LevelInfo
			if status >= 400 && status < 500 {
				level = slog.LevelWarn
			} else if status >= 500 {
				level = slog.LevelError
			}

			fields := NewFields().
				WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
				WithHTTPResponse(status, duration).
				WithClientIP(r.RemoteAddr)

			reqLogger.LogContext(r.Context(), level, "HTTP request completed", fields.ToSlice()...)
		})
	}
}
