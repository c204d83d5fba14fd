package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type requestLabelsKey struct{}

// requestLabels carries labels a handler learns while serving the request
type requestLabels struct {
	job string
}

// SetRequestJob tags the current API request with the job it controls.
// It is a no-op outside HTTPMiddleware.
func SetRequestJob(ctx context.Context, job string) {
	if l, ok := ctx.Value(requestLabelsKey{}).(*requestLabels); ok {
		l.job = job
	}
}

// HTTPMiddleware records request counts, latency and error classes. Requests
// that control a job are also counted per job and action.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		labels := &requestLabels{}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestLabelsKey{}, labels)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)

		m.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())

		class := errorClass(status)
		if class != "" {
			m.APIErrorsTotal.WithLabelValues(class).Inc()
		}

		if labels.job != "" {
			outcome := class
			if outcome == "" {
				outcome = "ok"
			}
			m.APIJobRequestsTotal.WithLabelValues(labels.job, jobAction(route), outcome).Inc()
		}
	})
}

// routeLabel returns the matched chi pattern. Unrouted paths share one label
// so scanners cannot inflate cardinality.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// jobAction names what a job control route does
func jobAction(route string) string {
	switch {
	case strings.HasSuffix(route, "/scheduler/start"):
		return "start"
	case strings.HasSuffix(route, "/scheduler/stop"):
		return "stop"
	default:
		return "run"
	}
}

// errorClass maps a status to the API error vocabulary, "" for success
func errorClass(status int) string {
	switch {
	case status < 400:
		return ""
	case status == http.StatusBadRequest:
		return "bad_request"
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return "auth_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "job_running"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusBadGateway:
		return "upstream_error"
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	case status >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}
