// Package metrics holds the Prometheus collectors of the telemetry cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "telemetry_cache"

// Ingest sources
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

// Metrics contains all collectors; register them once with Register.
type Metrics struct {
	RecordsAccepted *prometheus.CounterVec
	RecordsRejected *prometheus.CounterVec
	Merges          *prometheus.CounterVec
	Devices         prometheus.GaugeFunc
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	CommandsSent    prometheus.Counter
}

// New creates the collectors. deviceCount backs the devices gauge.
func New(deviceCount func() int) *Metrics {
	return &Metrics{
		RecordsAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "accepted_total",
				Help:      "Telemetry records stored as latest",
			},
			[]string{"source"},
		),
		RecordsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "rejected_total",
				Help:      "Telemetry payloads rejected by validation",
			},
			[]string{"source", "reason"},
		),
		Merges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "merges_total",
				Help:      "Partial updates of the latest record",
			},
			[]string{"status"},
		),
		Devices: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices",
				Help:      "Number of known devices",
			},
			func() float64 { return float64(deviceCount()) },
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		CommandsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "commands_sent_total",
				Help:      "Commands published to devices",
			},
		),
	}
}

// Register registers all collectors, plus the Go and process collectors,
// with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.RecordsAccepted,
		m.RecordsRejected,
		m.Merges,
		m.Devices,
		m.HTTPRequests,
		m.HTTPDuration,
		m.CommandsSent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
