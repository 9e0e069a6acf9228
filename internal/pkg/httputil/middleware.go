package httputil

import (
	"net/http"

	"github.com/bissquit/gocd-slack-relay/internal/pkg/ctxlog"
	"github.com/bissquit/gocd-slack-relay/internal/pkg/metrics"
)

// Headers Slack sets when it redelivers an event it considers undelivered.
const (
	HeaderSlackRetryNum    = "X-Slack-Retry-Num"
	HeaderSlackRetryReason = "X-Slack-Retry-Reason"
)

// BodyLimitMiddleware caps request bodies at limit bytes.
func BodyLimitMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// SlackRetryMiddleware annotates the request logger with Slack's retry
// headers and counts redeliveries. Requests are passed through unchanged.
// Must run after RequestLoggerMiddleware.
func SlackRetryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		num := r.Header.Get(HeaderSlackRetryNum)
		if num == "" {
			next.ServeHTTP(w, r)
			return
		}

		reason := r.Header.Get(HeaderSlackRetryReason)
		if reason == "" {
			reason = "unknown"
		}
		metrics.SlackRetries.WithLabelValues(reason).Inc()

		ctx := ctxlog.With(r.Context(), "slack_retry_num", num, "slack_retry_reason", reason)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
