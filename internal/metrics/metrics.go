package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the attribution service.
type Metrics struct {
	// Tracking metrics
	Visits      *prometheus.CounterVec
	Conversions *prometheus.CounterVec
	Revenue     *prometheus.CounterVec

	// Resolver metrics
	ResolveLatency *prometheus.HistogramVec
	NoAttribution  prometheus.Counter

	// Conversion conflicts (double-record attempts)
	ConversionConflicts prometheus.Counter

	// System metrics
	ActiveCampaigns prometheus.Gauge
	DBConnections   *prometheus.GaugeVec
	CacheRequests   *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		Visits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visits_total",
				Help:      "Total number of tracked visits",
			},
			[]string{"campaign_id", "platform", "device_type"},
		),
		Conversions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total number of recorded conversions",
			},
			[]string{"campaign_id"},
		),
		Revenue: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revenue_total",
				Help:      "Total attributed revenue",
			},
			[]string{"campaign_id"},
		),
		ResolveLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_latency_seconds",
				Help:      "Attribution resolution latency",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1},
			},
			[]string{"outcome"},
		),
		NoAttribution: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "no_attribution_total",
				Help:      "Orders confirmed with no attributable visit",
			},
		),
		ConversionConflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversion_conflicts_total",
				Help:      "Conversion attempts rejected because the visit was already converted",
			},
		),
		ActiveCampaigns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_campaigns",
				Help:      "Number of active campaigns",
			},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool state",
			},
			[]string{"state"},
		),
		CacheRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Reporting cache requests by outcome",
			},
			[]string{"surface", "outcome"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by rate limiting",
			},
			[]string{"endpoint"},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordVisit records a tracked visit.
func (m *Metrics) RecordVisit(campaignID, platform, deviceType string) {
	m.Visits.WithLabelValues(campaignID, platform, deviceType).Inc()
}

// RecordConversion records a conversion and its revenue.
func (m *Metrics) RecordConversion(campaignID string, revenue float64) {
	m.Conversions.WithLabelValues(campaignID).Inc()
	if revenue > 0 {
		m.Revenue.WithLabelValues(campaignID).Add(revenue)
	}
}

// RecordResolve records an attribution resolution.
func (m *Metrics) RecordResolve(outcome string, latency time.Duration) {
	m.ResolveLatency.WithLabelValues(outcome).Observe(latency.Seconds())
	if outcome == "none" {
		m.NoAttribution.Inc()
	}
}

// RecordConversionConflict records a rejected double conversion.
func (m *Metrics) RecordConversionConflict() {
	m.ConversionConflicts.Inc()
}

// RecordCacheRequest records a reporting cache hit or miss.
func (m *Metrics) RecordCacheRequest(surface, outcome string) {
	m.CacheRequests.WithLabelValues(surface, outcome).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// UpdateActiveCampaigns updates the active campaign count.
func (m *Metrics) UpdateActiveCampaigns(n int) {
	m.ActiveCampaigns.Set(float64(n))
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
