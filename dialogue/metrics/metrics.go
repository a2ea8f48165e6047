// Package metrics counts pipeline work per run and writes it in the Prometheus text format,
// for node_exporter's textfile collector or for inspection after a batch.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns a private registry so several runs (and tests) never share collectors.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	reg *prometheus.Registry

	files         *prometheus.CounterVec
	calls         *prometheus.CounterVec
	entities      *prometheus.CounterVec
	goldCompared  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		files: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memoir_files_total",
			Help: "Session files handled, by stage and outcome",
		}, []string{"stage", "outcome"}),
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memoir_collaborator_calls_total",
			Help: "External collaborator calls, by stage and outcome",
		}, []string{"stage", "outcome"}),
		entities: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memoir_entities_extracted_total",
			Help: "Entities kept after type normalization, by type",
		}, []string{"type"}),
		goldCompared: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memoir_emotion_gold_compared_total",
			Help: "Sentences with a resolvable gold emotion, by result",
		}, []string{"result"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memoir_file_duration_seconds",
			Help:    "Per-file processing latency by stage",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
	}
}

// Registry exposes the underlying registry (nil for a nil Recorder).
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Recorder) FileDone(stage, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.files.WithLabelValues(stage, outcome).Inc()
	if outcome == OutcomeOK {
		r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

func (r *Recorder) Call(stage string, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	r.calls.WithLabelValues(stage, outcome).Inc()
}

func (r *Recorder) Entity(typ string) {
	if r == nil {
		return
	}
	r.entities.WithLabelValues(typ).Inc()
}

func (r *Recorder) GoldCompared(correct bool) {
	if r == nil {
		return
	}
	result := "incorrect"
	if correct {
		result = "correct"
	}
	r.goldCompared.WithLabelValues(result).Inc()
}

// WriteTextfile writes every collected metric to path. Empty path or nil Recorder is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("WriteTextfile: %w", err)
	}
	return nil
}

const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)
