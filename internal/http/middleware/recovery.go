package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/observability"
)

// Recovery recovers from handler panics and logs the error with the stack.
// Uses the request-scoped logger when the logging middleware has placed one
// in the context, falling back to the provided logger.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					reqLogger := logger
					if ctxLogger := observability.LoggerFromContext(r.Context()); ctxLogger != slog.Default() {
						reqLogger = ctxLogger
					}
					reqLogger.ErrorContext(r.Context(), "panic recovered",
						slog.Any("error", err),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", GetRequestID(r.Context())),
					)

					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
