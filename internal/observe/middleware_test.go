package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware_RecordsSpanAndDuration(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)

	var traceID string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = TraceID(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if len(traceID) != 32 {
		t.Errorf("handler saw trace id %q, want 32 hex chars", traceID)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /readyz" {
		t.Fatalf("spans = %+v, want one HTTP GET /readyz span", spans)
	}

	met := findMetric(collect(t, reader), "agentlink.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("duration data = %+v, want one sample", met.Data)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)

	const parent = "4bf92f3577b34da6a3ce929d0e0e4736"
	var got string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil).WithContext(context.Background())
	req.Header.Set("traceparent", "00-"+parent+"-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != parent {
		t.Errorf("trace id = %q, want %q", got, parent)
	}
}
