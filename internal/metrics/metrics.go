// Package metrics exposes Prometheus metrics for citation retrieval.
//
// The CLI is short-lived, so metrics are written as a node_exporter
// textfile rather than served over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/resolver"
	"github.com/roach88/citechain/internal/retrieval"
)

// Metrics tracks chunk fetches, retrieved records and resolution rounds.
// Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	ChunksTotal      *prometheus.CounterVec
	ChunkDuration    *prometheus.HistogramVec
	RecordsRetrieved *prometheus.CounterVec
	MissingTotal     *prometheus.CounterVec
	RoundsTotal      prometheus.Counter
}

// New creates a Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ChunksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citechain_chunks_total",
			Help: "Total number of RetrieveChunk calls by prefix and outcome",
		}, []string{"prefix", "outcome"}),
		ChunkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "citechain_chunk_duration_seconds",
			Help:    "Duration of RetrieveChunk calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"prefix"}),
		RecordsRetrieved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citechain_records_retrieved_total",
			Help: "Total number of raw records returned by sources",
		}, []string{"prefix"}),
		MissingTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citechain_missing_total",
			Help: "Total number of citation keys skipped as missing",
		}, []string{"prefix"}),
		RoundsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "citechain_rounds_total",
			Help: "Total number of fixpoint rounds",
		}),
	}
}

// Registry returns the registry holding all metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OnChunk is a retrieval.ChunkHook.
func (m *Metrics) OnChunk(ev retrieval.ChunkEvent) {
	m.ChunksTotal.WithLabelValues(ev.Prefix, outcome(ev.Err)).Inc()
	m.ChunkDuration.WithLabelValues(ev.Prefix).Observe(ev.Elapsed.Seconds())
	m.RecordsRetrieved.WithLabelValues(ev.Prefix).Add(float64(ev.Returned))
}

// OnRound is a resolver.RoundHook.
func (m *Metrics) OnRound(ev resolver.RoundEvent) {
	m.RoundsTotal.Inc()
	for _, k := range ev.Missing {
		m.MissingTotal.WithLabelValues(k.Prefix).Inc()
	}
}

// WriteTextfile writes all metrics in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// outcome labels a chunk result by error category.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := citation.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "CANCELED"
	}
	return "ERROR"
}
