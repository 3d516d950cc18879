// Package metrics exposes oracle and lifecycle counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/optionvault/internal/oracle"
)

const namespace = "optionvault"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	OracleAssets        prometheus.Gauge
	OracleConfidence    prometheus.Gauge
	OracleStale         prometheus.Gauge
	TrippedAssets       prometheus.Gauge
	PriceUpdates        *prometheus.CounterVec
	PriceUpdateDuration prometheus.Histogram
	OrdersFilled        *prometheus.CounterVec
	OptionsExercised    *prometheus.CounterVec
	OptionsExpired      *prometheus.CounterVec
	Rejections          *prometheus.CounterVec
}

// New builds a Metrics set on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OracleAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "active_assets",
			Help:      "Number of active registered assets",
		}),
		OracleConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "avg_confidence_bps",
			Help:      "Average confidence of committed prices in basis points",
		}),
		OracleStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "stale_assets",
			Help:      "Number of assets whose committed price is stale",
		}),
		TrippedAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "tripped_assets",
			Help:      "Number of assets halted by the circuit breaker",
		}),
		PriceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "price_updates_total",
			Help:      "Committed price updates by asset and status",
		}, []string{"asset", "status"}),
		PriceUpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "price_update_duration_seconds",
			Help:      "Time to collect and commit one asset price",
			Buckets:   prometheus.DefBuckets,
		}),
		OrdersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "orders_filled_total",
			Help:      "Filled option orders by underlying",
		}, []string{"asset"}),
		OptionsExercised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "options_exercised_total",
			Help:      "Exercised options by underlying",
		}, []string{"asset"}),
		OptionsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "options_expired_total",
			Help:      "Expired options by underlying",
		}, []string{"asset"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "rejections_total",
			Help:      "Rejected lifecycle operations by operation and error code",
		}, []string{"op", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OracleAssets,
		m.OracleConfidence,
		m.OracleStale,
		m.TrippedAssets,
		m.PriceUpdates,
		m.PriceUpdateDuration,
		m.OrdersFilled,
		m.OptionsExercised,
		m.OptionsExpired,
		m.Rejections,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetOracleHealth records the latest oracle health summary.
func (m *Metrics) SetOracleHealth(h oracle.Health) {
	m.OracleAssets.Set(float64(h.ActiveAssets))
	m.OracleConfidence.Set(float64(h.AvgConfidenceBps))
	m.OracleStale.Set(float64(h.StaleCount))
}

// SetTripped records the number of tripped assets.
func (m *Metrics) SetTripped(n int) { m.TrippedAssets.Set(float64(n)) }

// ObserveUpdate implements updater.Observer.
func (m *Metrics) ObserveUpdate(symbol string, status oracle.Status, elapsed time.Duration) {
	m.PriceUpdates.WithLabelValues(symbol, string(status)).Inc()
	m.PriceUpdateDuration.Observe(elapsed.Seconds())
}

// Filled counts a fill.
func (m *Metrics) Filled(asset string)    { m.OrdersFilled.WithLabelValues(asset).Inc() }
func (m *Metrics) Exercised(asset string) { m.OptionsExercised.WithLabelValues(asset).Inc() }
func (m *Metrics) Expired(asset string)   { m.OptionsExpired.WithLabelValues(asset).Inc() }

// Rejected counts a rejected operation by error code.
func (m *Metrics) Rejected(op, code string) { m.Rejections.WithLabelValues(op, code).Inc() }
