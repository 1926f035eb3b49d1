package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	TasksScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_tasks_scheduled_total",
			Help: "Total number of tasks published to a queue, by queue name",
		},
		[]string{"queue"},
	)

	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_tasks_failed_total",
			Help: "Total number of tasks that ended in FAILURE, by queue",
		},
		[]string{"queue"},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "testforge_scheduling_latency_seconds",
			Help:    "Time from task pickup off the upstream queue to successful publish",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "testforge_queue_depth",
			Help: "Tasks currently tracked as non-terminal per queue",
		},
		[]string{"queue"},
	)

	// Worker / pipeline metrics
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testforge_stage_duration_seconds",
			Help:    "Time taken by one runner pipeline stage",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage"},
	)

	StageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_stage_failures_total",
			Help: "Total number of non-zero-exit pipeline stages, by stage and driver",
		},
		[]string{"stage", "driver"},
	)

	TasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testforge_tasks_in_flight",
			Help: "Tasks currently being run by this worker process",
		},
	)

	TerraformInitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "testforge_terraform_init_duration_seconds",
			Help:    "Time spent holding the terraform init critical section",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Monitor metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "testforge_reconciliation_duration_seconds",
			Help:    "Time taken for one monitor pass over non-terminal tasks",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "testforge_reconciliation_cycles_total",
			Help: "Total number of monitor passes completed",
		},
	)

	// Artifact metrics
	ArtifactUploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "testforge_artifact_upload_duration_seconds",
			Help:    "Time taken to upload one task's artifact prefix to blob storage",
			Buckets: prometheus.DefBuckets,
		},
	)

	ArtifactUploadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "testforge_artifact_upload_failures_total",
			Help: "Total number of artifact upload attempts that did not complete",
		},
	)

	// HTTP read surface metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testforge_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Broker metrics
	BrokerPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "testforge_broker_publish_failures_total",
			Help: "Total number of failed broker publish attempts",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksScheduledTotal,
		TasksFailedTotal,
		SchedulingLatency,
		QueueDepth,
		StageDuration,
		StageFailuresTotal,
		TasksInFlight,
		TerraformInitDuration,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ArtifactUploadDuration,
		ArtifactUploadFailuresTotal,
		APIRequestsTotal,
		APIRequestDuration,
		BrokerPublishFailuresTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
