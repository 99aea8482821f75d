package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GoldlendMetrics groups the collectors exported by the lending daemon.
type GoldlendMetrics struct {
	fetchFallbacks  *prometheus.CounterVec
	oracleFallbacks prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	actions         *prometheus.CounterVec
	actionErrors    *prometheus.CounterVec
	apiRequests     *prometheus.CounterVec
	apiLatency      *prometheus.HistogramVec
	utilization     prometheus.Gauge
	liquidity       prometheus.Gauge
	healthBands     *prometheus.GaugeVec
	pollDuration    *prometheus.HistogramVec
}

var (
	goldlendOnce     sync.Once
	goldlendRegistry *GoldlendMetrics
)

// Goldlend returns the lazily registered metrics set.
func Goldlend() *GoldlendMetrics {
	goldlendOnce.Do(func() {
		goldlendRegistry = &GoldlendMetrics{
			fetchFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goldlend",
				Subsystem: "fetcher",
				Name:      "fallbacks_total",
				Help:      "Reads served by the secondary source after the primary failed, by kind.",
			}, []string{"kind"}),
			oracleFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "goldlend",
				Subsystem: "fetcher",
				Name:      "oracle_fallbacks_total",
				Help:      "Oracle price reads that failed and were replaced by the unit price.",
			}),
			cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goldlend",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Snapshot cache lookups by kind and result.",
			}, []string{"kind", "result"}),
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goldlend",
				Subsystem: "wallet",
				Name:      "actions_total",
				Help:      "Submitted actions by intent and terminal status.",
			}, []string{"intent", "status"}),
			actionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goldlend",
				Subsystem: "wallet",
				Name:      "action_errors_total",
				Help:      "Failed actions by classified error code.",
			}, []string{"code"}),
			apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goldlend",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP API requests by route and status code.",
			}, []string{"route", "status"}),
			apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "goldlend",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			utilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "goldlend",
				Subsystem: "market",
				Name:      "utilization_ratio",
				Help:      "Borrowed share of supplied assets in the tracked market.",
			}),
			liquidity: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "goldlend",
				Subsystem: "market",
				Name:      "available_liquidity",
				Help:      "Loan token base units available to borrow.",
			}),
			healthBands: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "goldlend",
				Subsystem: "positions",
				Name:      "watched",
				Help:      "Watched positions by health band.",
			}, []string{"band"}),
			pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "goldlend",
				Subsystem: "poller",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of poller refresh cycles by target.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"target"}),
		}
		prometheus.MustRegister(
			goldlendRegistry.fetchFallbacks,
			goldlendRegistry.oracleFallbacks,
			goldlendRegistry.cacheLookups,
			goldlendRegistry.actions,
			goldlendRegistry.actionErrors,
			goldlendRegistry.apiRequests,
			goldlendRegistry.apiLatency,
			goldlendRegistry.utilization,
			goldlendRegistry.liquidity,
			goldlendRegistry.healthBands,
			goldlendRegistry.pollDuration,
		)
	})
	return goldlendRegistry
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func (m *GoldlendMetrics) IncFetchFallback(kind string) {
	if m == nil {
		return
	}
	m.fetchFallbacks.WithLabelValues(orUnknown(kind)).Inc()
}

func (m *GoldlendMetrics) IncOracleFallback() {
	if m == nil {
		return
	}
	m.oracleFallbacks.Inc()
}

// ObserveCacheLookup records a cache hit or miss for the snapshot kind.
func (m *GoldlendMetrics) ObserveCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(orUnknown(kind), result).Inc()
}

// ObserveAction records a finished action. code is empty on success.
func (m *GoldlendMetrics) ObserveAction(intent, status, code string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(orUnknown(intent), orUnknown(status)).Inc()
	if code != "" {
		m.actionErrors.WithLabelValues(code).Inc()
	}
}

func (m *GoldlendMetrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route = orUnknown(route)
	m.apiRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// SetMarket publishes the latest market snapshot figures.
func (m *GoldlendMetrics) SetMarket(utilization, liquidity float64) {
	if m == nil {
		return
	}
	m.utilization.Set(utilization)
	m.liquidity.Set(liquidity)
}

// SetHealthBands replaces the watched position counts per band.
func (m *GoldlendMetrics) SetHealthBands(counts map[string]int) {
	if m == nil {
		return
	}
	m.healthBands.Reset()
	for band, n := range counts {
		m.healthBands.WithLabelValues(orUnknown(band)).Set(float64(n))
	}
}

func (m *GoldlendMetrics) ObservePoll(target string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pollDuration.WithLabelValues(orUnknown(target)).Observe(elapsed.Seconds())
}
