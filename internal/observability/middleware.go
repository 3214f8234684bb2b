package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the id RequestLoggingMiddleware attached to ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.statusCode = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLoggingMiddleware tags each request with an id (the caller's
// X-Request-ID when it is short and printable) and logs one line per response.
func RequestLoggingMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()

		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 64 || strings.ContainsFunc(requestID, isControl) {
			requestID = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set(requestIDHeader, requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		fields := map[string]any{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          ClientIP(r),
		}
		if r.Pattern != "" {
			fields["route"] = r.Pattern
		}

		switch {
		case recorder.statusCode >= http.StatusInternalServerError:
			logger.Error("http_request", fields)
		case recorder.statusCode == http.StatusTooManyRequests:
			logger.Warn("http_request", fields)
		default:
			logger.Info("http_request", fields)
		}
	})
}

func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			stack := string(debug.Stack())

			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetRequest(r)
				scope.SetTag("request_id", RequestID(r.Context()))
				scope.SetExtra("panic", rec)
				scope.SetExtra("stack", stack)
				sentry.CaptureMessage("panic in request")
			})

			logger.Error("panic_recovered", map[string]any{
				"request_id": RequestID(r.Context()),
				"path":       r.URL.Path,
				"method":     r.Method,
				"panic":      rec,
			})

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error", "code": "internal"})
		}()

		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers the first X-Forwarded-For hop, then the remote address without its port.
func ClientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}
