package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// recordingProvider hands out spans that remember what was set on them.
type recordingProvider struct {
	noop.TracerProvider
	tracer *recordingTracer
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return p.tracer
}

type recordingTracer struct {
	noop.Tracer
	spans []*recordingSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	s := &recordingSpan{name: name, attrs: map[attribute.Key]attribute.Value{}}
	t.spans = append(t.spans, s)
	return trace.ContextWithSpan(ctx, s), s
}

type recordingSpan struct {
	noop.Span
	name  string
	attrs map[attribute.Key]attribute.Value
	code  codes.Code
	ended bool
}

func (s *recordingSpan) SetName(name string) { s.name = name }

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) {
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func (s *recordingSpan) SetStatus(c codes.Code, _ string) { s.code = c }

func (s *recordingSpan) End(...trace.SpanEndOption) { s.ended = true }

func newRouter(mw ...func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(mw...)
	r.Get("/peers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chi.URLParam(r, "id")))
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetrics_CountsByRouteAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))
	r := newRouter(m.Handler)

	serve(r, "/peers/1")
	serve(r, "/peers/2")
	serve(r, "/boom")
	serve(r, "/missing")
	serve(r, "/healthz")

	tests := []struct {
		route, status string
		want          float64
	}{
		{"/peers/{id}", "2xx", 2},
		{"/boom", "5xx", 1},
		{"unmatched", "4xx", 1},
		{"/healthz", "2xx", 1},
	}
	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			got := testutil.ToFloat64(m.requestsTotal.WithLabelValues(tt.route, tt.status))
			if got != tt.want {
				t.Errorf("requests_total{%s,%s} = %v, want %v", tt.route, tt.status, got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(m.requestDuration); n != 4 {
		t.Errorf("duration series = %d, want 4", n)
	}
}

func TestMetrics_Names(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithNamespace("x"), WithSubsystem("y"))
	serve(newRouter(m.Handler), "/healthz")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"x_y_requests_total", "x_y_request_duration_seconds"} {
		if !names[want] {
			t.Errorf("missing metric %s in %v", want, names)
		}
	}
}

func TestOpenTelemetry_Span(t *testing.T) {
	tracer := &recordingTracer{}
	r := newRouter(OpenTelemetry(WithTracerProvider(&recordingProvider{tracer: tracer})))

	if rec := serve(r, "/peers/7"); rec.Body.String() != "7" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	serve(r, "/boom")

	if len(tracer.spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(tracer.spans))
	}
	ok, failed := tracer.spans[0], tracer.spans[1]
	if ok.name != "HTTP GET /peers/{id}" {
		t.Errorf("span name = %q", ok.name)
	}
	if ok.attrs["http.route"].AsString() != "/peers/{id}" || ok.attrs["http.status_code"].AsInt64() != 200 {
		t.Errorf("attrs = %v", ok.attrs)
	}
	if ok.code != codes.Ok || !ok.ended {
		t.Errorf("ok span code = %v, ended = %v", ok.code, ok.ended)
	}
	if failed.code != codes.Error || failed.attrs["http.status_code"].AsInt64() != 500 {
		t.Errorf("failed span code = %v, attrs = %v", failed.code, failed.attrs)
	}
}

func TestOpenTelemetry_Filter(t *testing.T) {
	tracer := &recordingTracer{}
	r := newRouter(OpenTelemetry(
		WithTracerProvider(&recordingProvider{tracer: tracer}),
		WithRequestFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" }),
	))

	serve(r, "/healthz")
	if len(tracer.spans) != 0 {
		t.Errorf("filtered request produced %d spans", len(tracer.spans))
	}
	serve(r, "/peers/1")
	if len(tracer.spans) != 1 {
		t.Errorf("got %d spans, want 1", len(tracer.spans))
	}
}

func TestOpenTelemetry_SpanInContext(t *testing.T) {
	tracer := &recordingTracer{}
	var seen trace.Span
	r := chi.NewRouter()
	r.Use(OpenTelemetry(WithTracerProvider(&recordingProvider{tracer: tracer})))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		seen = trace.SpanFromContext(r.Context())
	})
	serve(r, "/")

	if len(tracer.spans) != 1 || seen != trace.Span(tracer.spans[0]) {
		t.Error("handler should see the request span in its context")
	}
}
