package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newMiddlewareHarness builds metrics with a manual reader and an
// in-memory span exporter wired to the global tracer provider.
func newMiddlewareHarness(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return m, reader, exp
}

func durationAttrs(t *testing.T, reader *sdkmetric.ManualReader) map[string]string {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "agentfield.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("unexpected metric shape: %T", met.Data)
	}
	attrs := make(map[string]string)
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	return attrs
}

func TestMiddleware_CorrelationIDRoundTrip(t *testing.T) {
	m, _, _ := newMiddlewareHarness(t)

	var seen string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/npc/list", nil))

	if len(seen) != 32 {
		t.Errorf("correlation id in context = %q, want 32 hex chars", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
	}
}

func TestMiddleware_HonorsIncomingTraceContext(t *testing.T) {
	m, _, _ := newMiddlewareHarness(t)

	var seen string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/npc/list", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != traceID {
		t.Errorf("correlation id = %q, want incoming trace id %q", seen, traceID)
	}
}

func TestMiddleware_RecordsDurationByRoutePattern(t *testing.T) {
	m, reader, _ := newMiddlewareHarness(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /npc/status/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(m)(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/npc/status/marn", nil))

	attrs := durationAttrs(t, reader)
	if attrs["method"] != "GET" {
		t.Errorf("method attribute = %q", attrs["method"])
	}
	// The matched pattern keeps cardinality flat across agent ids.
	if attrs["route"] != "GET /npc/status/{id}" {
		t.Errorf("route attribute = %q, want the mux pattern", attrs["route"])
	}
}

func TestMiddleware_UnmatchedRouteFallsBackToPath(t *testing.T) {
	m, reader, _ := newMiddlewareHarness(t)

	handler := Middleware(m)(http.NewServeMux())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/no-such-route", nil))

	if attrs := durationAttrs(t, reader); attrs["route"] != "/no-such-route" {
		t.Errorf("route attribute = %q, want raw path", attrs["route"])
	}
}

func TestMiddleware_SpanCarriesStatusCode(t *testing.T) {
	m, _, exp := newMiddlewareHarness(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/npc/status/ghost", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /npc/status/ghost" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var code int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			code = a.Value.AsInt64()
		}
	}
	if code != 404 {
		t.Errorf("span status code attribute = %d, want 404", code)
	}
}
