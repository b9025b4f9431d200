package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := &Server{
		answerer: &fakeAnswerer{},
		cfg: &Config{
			ChatTimeout:     5 * time.Minute,
			MetricsRegistry: reg,
			MetricsGatherer: reg,
		},
		log:     slog.Default(),
		metrics: newServerMetrics(reg),
	}
	return s, reg
}

// counterValue gathers reg and returns the value of the named counter for the
// given label pair, or -1 when the series does not exist.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	// Simulate a successful chat request via the counter directly.
	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()

	if v := counterValue(t, reg, "polai_chat_requests_total", "outcome", "ok"); v != 1 {
		t.Errorf("polai_chat_requests_total{outcome=\"ok\"}: want 1, got %v", v)
	}
}

func Test_Metrics_ActiveStreamsGauge(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	s.metrics.chatActiveStreams.Inc()
	s.metrics.chatActiveStreams.Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() == "polai_chat_active_streams" {
			v := mf.GetMetric()[0].GetGauge().GetValue()
			if v != 2 {
				t.Errorf("want active_streams=2, got %v", v)
			}
			return
		}
	}
	t.Error("polai_chat_active_streams not found in gathered metrics")
}

// Test_Metrics_ChatOutcomes drives handleChat end to end with fakes and
// verifies the outcome partitioning: success, generic failure, and timeout
// each land in their own counter series.
func Test_Metrics_ChatOutcomes(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	post := func(a answerer) {
		s.answerer = a
		req := httptest.NewRequest(http.MethodPost, "/api/chat",
			strings.NewReader(`{"message":"how many vacation days?"}`))
		req.Header.Set("Content-Type", "application/json")
		s.handleChat(httptest.NewRecorder(), req)
	}

	post(&fakeAnswerer{response: "25 days"})
	post(&fakeAnswerer{err: errors.New("backend exploded")})
	post(&fakeAnswerer{err: context.DeadlineExceeded})

	if v := counterValue(t, reg, "polai_chat_requests_total", "outcome", "ok"); v != 1 {
		t.Errorf("outcome=ok: want 1, got %v", v)
	}
	if v := counterValue(t, reg, "polai_chat_requests_total", "outcome", "error"); v != 1 {
		t.Errorf("outcome=error: want 1, got %v", v)
	}
	if v := counterValue(t, reg, "polai_chat_requests_total", "outcome", "timeout"); v != 1 {
		t.Errorf("outcome=timeout: want 1, got %v", v)
	}

	// All streams closed again once the handler returns.
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "polai_chat_active_streams" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 0 {
				t.Errorf("active_streams after completion: want 0, got %v", v)
			}
		}
	}
}

// Test_Metrics_HTTPInstrumentation verifies the instrument middleware records
// method, logical handler name, and status code for wrapped handlers.
func Test_Metrics_HTTPInstrumentation(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	h := s.instrument("documents", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() != "polai_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == "GET" && labels["handler"] == "documents" && labels["code"] == "404" {
				if m.GetCounter().GetValue() != 1 {
					t.Errorf("want counter=1, got %v", m.GetCounter().GetValue())
				}
				found = true
			}
		}
	}
	if !found {
		t.Error(`polai_http_requests_total{method="GET",handler="documents",code="404"} not found`)
	}
}
