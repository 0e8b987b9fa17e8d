// Package api exposes the task, project, user and notification services over
// HTTP. Each service gets its own chi router built on the same base: request
// ids, panic recovery, the auth guard, /healthz and /metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/taskmesh/internal/auth"
	"github.com/austindbirch/taskmesh/internal/health"
	"github.com/austindbirch/taskmesh/internal/logging"
)

// Base holds what every service router shares
type Base struct {
	// Guard authenticates non-public paths. Nil serves everything openly.
	Guard *auth.Guard
	// Gatherer backs /metrics. Nil leaves /metrics unrouted.
	Gatherer prometheus.Gatherer
	Checks   []health.Check
	Logger   *logging.Logger
}

func (b Base) logger() *logging.Logger {
	if b.Logger == nil {
		return logging.Default()
	}
	return b.Logger
}

func (b Base) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(b.logger()))
	if b.Guard != nil {
		r.Use(b.Guard.Middleware)
	}

	r.Get("/healthz", health.HTTPHandler(b.Checks...))
	if b.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(b.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func accessLog(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithContext(r.Context()).
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", ww.Status()).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				WithField("request_id", middleware.GetReqID(r.Context())).
				Debug("http request")
		})
	}
}
