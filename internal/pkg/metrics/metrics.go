package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/autopeer-io/ecuflash/internal/updater/result"
	"github.com/autopeer-io/ecuflash/internal/updater/step"
)

const namespace = "cpeer_flash"

// Recorder collects the metrics of the runs of one process.
type Recorder struct {
	registry *prometheus.Registry

	// RunsTotal counts finished runs by result name.
	RunsTotal *prometheus.CounterVec
	// StepsTotal counts classified step events by severity (info, error).
	StepsTotal *prometheus.CounterVec
	// NodesSkippedTotal counts nodes change detection found up to date.
	NodesSkippedTotal prometheus.Counter
	// RunDuration observes the wall time of a run.
	RunDuration prometheus.Histogram
	// LastResult holds the exit code of the latest run.
	LastResult prometheus.Gauge
	// LastRunTimestamp holds the completion time of the latest run.
	LastRunTimestamp prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of update runs by result.",
			},
			[]string{"result"},
		),
		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of progress events by severity.",
			},
			[]string{"severity"},
		),
		NodesSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_skipped_total",
				Help:      "Total number of nodes left out because their applications were already installed.",
			},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of update runs.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34min
			},
		),
		LastResult: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_result",
				Help:      "Exit code of the latest update run.",
			},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the latest update run finished.",
			},
		),
	}

	r.registry.MustRegister(
		r.RunsTotal,
		r.StepsTotal,
		r.NodesSkippedTotal,
		r.RunDuration,
		r.LastResult,
		r.LastRunTimestamp,
		collectors.NewGoCollector(),
	)
	return r
}

// Registry returns the registry all metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStep is a report step hook.
func (r *Recorder) ObserveStep(s step.Step, isError bool) {
	severity := "info"
	if isError {
		severity = "error"
	}
	r.StepsTotal.WithLabelValues(severity).Inc()

	if s == step.DiffNodeRemoved {
		r.NodesSkippedTotal.Inc()
	}
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(code result.Code, elapsed time.Duration) {
	r.RunsTotal.WithLabelValues(code.String()).Inc()
	r.RunDuration.Observe(elapsed.Seconds())
	r.LastResult.Set(float64(code.ExitCode()))
	r.LastRunTimestamp.SetToCurrentTime()
}

// WriteTextfile writes every metric in the Prometheus text format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
