package observe

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// opsMux mimics the ops server: liveness, a readiness check that reports
// the given status and a scrape endpoint.
func opsMux(readyStatus int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(readyStatus)
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# EOF\n"))
	})
	return mux
}

func TestMiddleware_Spans(t *testing.T) {
	exp := useTracerProvider(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(opsMux(http.StatusServiceUnavailable))

	tests := []struct {
		path       string
		wantStatus int64
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
	}
	for _, tc := range tests {
		exp.Reset()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s: recorded %d spans, want 1", tc.path, len(spans))
		}
		if want := "HTTP GET " + tc.path; spans[0].Name != want {
			t.Errorf("%s: span name = %q, want %q", tc.path, spans[0].Name, want)
		}
		var status int64
		for _, kv := range spans[0].Attributes {
			if kv.Key == "http.response.status_code" {
				status = kv.Value.AsInt64()
			}
		}
		if status != tc.wantStatus {
			t.Errorf("%s: span status code = %d, want %d", tc.path, status, tc.wantStatus)
		}
		if got, want := rec.Header().Get("X-Correlation-ID"), spans[0].SpanContext.TraceID().String(); got != want {
			t.Errorf("%s: X-Correlation-ID = %q, want %q", tc.path, got, want)
		}
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	useTracerProvider(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(opsMux(http.StatusOK))

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("traceparent"); len(got) < 36 || got[3:35] != traceID {
		t.Errorf("traceparent = %q, want trace %s", got, traceID)
	}
}

func TestMiddleware_RequestDuration(t *testing.T) {
	useTracerProvider(t)
	m, reader := newTestMetrics(t)
	h := Middleware(m)(opsMux(http.StatusOK))

	for _, path := range []string{"/metrics", "/metrics", "/readyz"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	met := findMetric(collect(t, reader), "vcplay.http.request.duration")
	if met == nil {
		t.Fatal("vcplay.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want histogram", met.Data)
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		method, _ := dp.Attributes.Value("method")
		if method.AsString() != http.MethodGet {
			t.Errorf("method attribute = %q", method.AsString())
		}
		counts[path.AsString()] += dp.Count
	}
	if counts["/metrics"] != 2 || counts["/readyz"] != 1 {
		t.Errorf("samples per path = %v, want /metrics:2 /readyz:1", counts)
	}
}

func TestMiddleware_LogLevel(t *testing.T) {
	buf := captureLogs(t)
	useTracerProvider(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(opsMux(http.StatusServiceUnavailable))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))

	levels := map[string]string{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line struct {
			Level string `json:"level"`
			Msg   string `json:"msg"`
			Path  string `json:"path"`
		}
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if line.Msg == "observe: request completed" {
			levels[line.Path] = line.Level
		}
	}
	if levels["/metrics"] != "DEBUG" {
		t.Errorf("scrape logged at %q, want DEBUG", levels["/metrics"])
	}
	if levels["/readyz"] != "WARN" {
		t.Errorf("503 from /readyz logged at %q, want WARN", levels["/readyz"])
	}
}
