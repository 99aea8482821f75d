package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGoldlendCounters(t *testing.T) {
	m := Goldlend()
	if Goldlend() != m {
		t.Fatalf("registry must be a singleton")
	}

	before := testutil.ToFloat64(m.fetchFallbacks.WithLabelValues("position"))
	m.IncFetchFallback("position")
	if got := testutil.ToFloat64(m.fetchFallbacks.WithLabelValues("position")); got != before+1 {
		t.Fatalf("fallback counter: want %v got %v", before+1, got)
	}

	m.ObserveCacheLookup("market", true)
	m.ObserveCacheLookup("market", false)
	if testutil.ToFloat64(m.cacheLookups.WithLabelValues("market", "hit")) < 1 {
		t.Fatalf("expected recorded cache hit")
	}

	m.ObserveAction("repay", "error", "USER_REJECTED")
	m.ObserveAction("repay", "success", "")
	if testutil.ToFloat64(m.actionErrors.WithLabelValues("USER_REJECTED")) < 1 {
		t.Fatalf("expected classified error count")
	}
	if testutil.ToFloat64(m.actions.WithLabelValues("repay", "success")) < 1 {
		t.Fatalf("expected success count")
	}

	m.ObserveRequest("/v1/market", 200, 5*time.Millisecond)
	if testutil.ToFloat64(m.apiRequests.WithLabelValues("/v1/market", "200")) < 1 {
		t.Fatalf("expected api request count")
	}
}

func TestGoldlendGauges(t *testing.T) {
	m := Goldlend()
	m.SetMarket(0.4, 1200)
	if got := testutil.ToFloat64(m.utilization); got != 0.4 {
		t.Fatalf("utilization: got %v", got)
	}
	m.SetHealthBands(map[string]int{"healthy": 3, "danger": 1})
	m.SetHealthBands(map[string]int{"warning": 2})
	if got := testutil.CollectAndCount(m.healthBands); got != 1 {
		t.Fatalf("bands must be replaced, got %d series", got)
	}
	if got := testutil.ToFloat64(m.healthBands.WithLabelValues("warning")); got != 2 {
		t.Fatalf("warning band: got %v", got)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *GoldlendMetrics
	m.IncFetchFallback("market")
	m.IncOracleFallback()
	m.ObserveAction("swap", "error", "UNKNOWN")
	m.SetHealthBands(nil)
}
