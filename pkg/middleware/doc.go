// Package middleware provides HTTP middleware for the netsync daemon's
// control routes.
//
// # OpenTelemetry Middleware
//
// OpenTelemetry starts a server span per request, named after the matched
// chi route pattern, and records the response status:
//
//	r := chi.NewRouter()
//	r.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("netsyncd"),
//	    middleware.WithRequestFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/healthz"
//	    }),
//	))
//
// # Prometheus Metrics
//
// Prometheus counts requests and observes their duration by route and
// status class:
//   - netsync_http_requests_total: Counter by route and status
//   - netsync_http_request_duration_seconds: Histogram by route
//
//	metrics := middleware.NewMetrics(middleware.WithRegistry(reg))
//	r.Use(metrics.Handler)
//	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// Both middlewares wrap the ResponseWriter with chi's WrapResponseWriter,
// which keeps http.Hijacker working for websocket upgrades.
package middleware
