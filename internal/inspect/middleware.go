package inspect

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/signalsfoundry/topology-simulator/internal/logging"
)

// RequestMetrics receives one observation per handled request.
type RequestMetrics interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// instrument logs one line per request at debug level, tagged with the
// chi request id, and reports it to metrics when set. Routes are
// labeled by their chi pattern.
func instrument(log logging.Logger, metrics RequestMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			var route string
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			if metrics != nil {
				metrics.ObserveRequest(r.Method, route, ww.Status(), elapsed)
			}
			log.Debug(r.Context(), "http request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.String("route", route),
				logging.Int("status", ww.Status()),
				logging.Duration("duration", elapsed),
				logging.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
