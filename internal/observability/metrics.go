package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_exceedance"

// Metrics holds the Prometheus counters, histograms, and gauges for the query pipeline.
type Metrics struct {
	QueriesTotal     *prometheus.CounterVec // labels: outcome={ok,error}
	QueryDuration    prometheus.Histogram
	VariableOutcomes *prometheus.CounterVec // labels: outcome={ok,no_data,error}
	ReportsPublished *prometheus.CounterVec // labels: outcome={success,error}

	// Source loading metrics.
	SourceLoads        *prometheus.CounterVec   // labels: format, outcome={success,error}
	SourceLoadDuration *prometheus.HistogramVec // labels: format
	RecordsLoaded      prometheus.Histogram
	SourcesReady       prometheus.Gauge

	// Cache metrics.
	CacheLookups *prometheus.CounterVec // labels: cache={source,view,geocode}, result={hit,miss}

	// API metrics.
	APIRequests *prometheus.CounterVec   // labels: route, code
	APIDuration *prometheus.HistogramVec // labels: route

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge
	PublisherEnabled   prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Exceedance queries by outcome.",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of a complete exceedance query.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		VariableOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variable_outcomes_total",
			Help:      "Per-variable results by outcome.",
		}, []string{"outcome"}),
		ReportsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_published_total",
			Help:      "Reports written to Kafka by outcome.",
		}, []string{"outcome"}),
		SourceLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_loads_total",
			Help:      "Source loads by format and outcome.",
		}, []string{"format", "outcome"}),
		SourceLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_load_duration_seconds",
			Help:      "Time to fetch and normalize one source.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"format"}),
		RecordsLoaded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "records_loaded",
			Help:      "Canonical records produced per source load.",
			Buckets:   prometheus.ExponentialBuckets(10, 10, 7),
		}),
		SourcesReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sources_ready",
			Help:      "1 once every catalog source was attempted at start-up, 0 before.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "HTTP API request duration by route.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"route"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Forward geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when place lookup is enabled, 0 otherwise.",
		}),
		PublisherEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publisher_enabled",
			Help:      "1 when reports are published to Kafka, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.QueriesTotal,
		m.QueryDuration,
		m.VariableOutcomes,
		m.ReportsPublished,
		m.SourceLoads,
		m.SourceLoadDuration,
		m.RecordsLoaded,
		m.SourcesReady,
		m.CacheLookups,
		m.APIRequests,
		m.APIDuration,
		m.GeocodeRequests,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.PublisherEnabled,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests. The CLI uses
// it too, since it never serves /metrics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// Register adds the metrics to a custom registry, for tests that scrape.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
