package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
}

// CaptureRequestError reports err with the request method and route attached.
func CaptureRequestError(r *http.Request, err error) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(r)
		scope.SetTag("method", r.Method)
		if id := RequestID(r.Context()); id != "" {
			scope.SetTag("request_id", id)
		}
		if r.Pattern != "" {
			scope.SetTag("route", r.Pattern)
		}
		sentry.CaptureException(err)
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
