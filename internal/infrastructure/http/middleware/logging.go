package middleware

import (
	"log/slog"
	"net/http"
	"time"

	ctxutil "3tcapital/ms_facturacion_afip/internal/infrastructure/context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// CorrelationHeader lets callers propagate their own correlation id.
const CorrelationHeader = "X-Correlation-ID"

// quietPaths are polled by probes and scrapers; their successes log at debug.
var quietPaths = map[string]bool{"/health": true, "/metrics": true}

// RequestLogger logs every request with its status, duration and size, and puts the
// correlation id (caller header, else chi's request id) into the request context.
// Levels follow the status code: 5xx error, 4xx warn, otherwise info.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get(CorrelationHeader)
			if correlationID == "" {
				correlationID = chimw.GetReqID(r.Context())
			}
			ctx := r.Context()
			if correlationID != "" {
				ctx = ctxutil.WithCorrelationID(ctx, correlationID)
				w.Header().Set(CorrelationHeader, correlationID)
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1e3,
				"bytes", ww.BytesWritten(),
			}
			if correlationID != "" {
				attrs = append(attrs, "correlation_id", correlationID)
			}
			if userAgent := r.Header.Get("User-Agent"); userAgent != "" {
				attrs = append(attrs, "user_agent", userAgent)
			}

			switch {
			case status >= 500:
				log.Error("HTTP request", attrs...)
			case status >= 400:
				log.Warn("HTTP request", attrs...)
			case quietPaths[r.URL.Path]:
				log.Debug("HTTP request", attrs...)
			default:
				log.Info("HTTP request", attrs...)
			}
		})
	}
}
