package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jensholdgaard/auctiond/internal/metrics"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveBid("")
	m.ObserveSettlement("settled", time.Second)
	m.ObserveSweep("settled")
	m.WSConnected()
	m.WSDisconnected()
	m.ObserveHTTP("GET", "/x", 200, time.Millisecond)
}

func TestObserveBid(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveBid("")
	m.ObserveBid("")
	m.ObserveBid("bid_too_low")

	want := `
# HELP auctiond_bids_submitted_total Bids submitted, by outcome reason.
# TYPE auctiond_bids_submitted_total counter
auctiond_bids_submitted_total{reason="accepted"} 2
auctiond_bids_submitted_total{reason="bid_too_low"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "auctiond_bids_submitted_total"); err != nil {
		t.Error(err)
	}
}

func TestHandlerServesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.WSConnected()
	m.ObserveSettlement("settled", 5*time.Millisecond)
	m.ObserveHTTP("POST", "/items/:id/bids", 201, time.Millisecond)

	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		"auctiond_ws_connections 1",
		`auctiond_settlement_attempts_total{outcome="settled"} 1`,
		`auctiond_http_requests_total{method="POST",route="/items/:id/bids",status="201"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}
