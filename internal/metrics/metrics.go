package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one pipeline run. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	LLMRequests       *prometheus.CounterVec
	LLMDuration       *prometheus.HistogramVec
	ConnectorRequests *prometheus.CounterVec
	ConnectorDuration *prometheus.HistogramVec
	ListingsDropped   *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
}

// New registers the shopscout collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LLMRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopscout_llm_requests_total",
				Help: "Total number of language model completions by stage and outcome",
			},
			[]string{"stage", "status"},
		),
		LLMDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopscout_llm_request_duration_seconds",
				Help:    "Duration of language model completions in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		ConnectorRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopscout_connector_requests_total",
				Help: "Total number of connector searches by connector and outcome",
			},
			[]string{"connector", "status"},
		),
		ConnectorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopscout_connector_request_duration_seconds",
				Help:    "Duration of connector searches in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"connector"},
		),
		ListingsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopscout_listings_dropped_total",
				Help: "Listings discarded during retrieval or processing",
			},
			[]string{"reason"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopscout_stage_duration_seconds",
				Help:    "Wall time of each pipeline stage in seconds",
				Buckets: []float64{0.1, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordLLM counts one completion for stage.
func (m *Metrics) RecordLLM(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(stage, status(err)).Inc()
	m.LLMDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordConnector counts one connector search.
func (m *Metrics) RecordConnector(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ConnectorRequests.WithLabelValues(name, status(err)).Inc()
	m.ConnectorDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RecordDropped counts one discarded listing.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.ListingsDropped.WithLabelValues(reason).Inc()
}

// RecordStage observes the duration of a pipeline stage.
func (m *Metrics) RecordStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// WriteTextfile dumps every collector in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
