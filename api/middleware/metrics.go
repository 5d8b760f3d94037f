package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nextmed-labs/trustledger/pkg/metrics"
)

const unmatchedRoute = "unmatched"

// Metrics records Prometheus request metrics and the in-process per-route stats.
// Routes are labeled by their chi pattern to keep cardinality bounded.
func Metrics(httpMetrics *metrics.HTTPMetrics, paths *metrics.PathStats) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			httpMetrics.Observe(r.Method, route, rec.Status(), elapsed)
			paths.Record(route, rec.Status(), elapsed)
		})
	}
}
