package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkflowMetrics captures execution and node level metrics.
type WorkflowMetrics interface {
	IncWorkflowStarted(workflow string)
	IncWorkflowCompleted(workflow, status string)
	ObserveWorkflowDuration(workflow string, durationSeconds float64)
	ObserveNodeDuration(subtype, status string, durationSeconds float64)
	IncNodeRetry(subtype string)
}

// SchedulerMetrics captures schedule registration and firing.
type SchedulerMetrics interface {
	IncScheduleFired(kind string)
	IncScheduleError(kind string)
	SetScheduledJobs(n int)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) IncWorkflowStarted(string)                   {}
func (Noop) IncWorkflowCompleted(string, string)         {}
func (Noop) ObserveWorkflowDuration(string, float64)     {}
func (Noop) ObserveNodeDuration(string, string, float64) {}
func (Noop) IncNodeRetry(string)                         {}
func (Noop) IncScheduleFired(string)                     {}
func (Noop) IncScheduleError(string)                     {}
func (Noop) SetScheduledJobs(int)                        {}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Workflow metrics ---

type workflowProm struct {
	started      *prometheus.CounterVec
	completed    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	nodeDuration *prometheus.HistogramVec
	nodeRetries  *prometheus.CounterVec
	once         sync.Once
}

func NewWorkflowProm(namespace string) WorkflowMetrics {
	w := &workflowProm{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_started_total",
			Help:      "Workflow executions started by workflow id",
		}, []string{"workflow"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_completed_total",
			Help:      "Workflow executions finished by workflow id and status",
		}, []string{"workflow", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration by workflow id",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node invocation duration by subtype and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"subtype", "status"}),
		nodeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Node retries scheduled by subtype",
		}, []string{"subtype"}),
	}
	w.once.Do(func() {
		prometheus.MustRegister(w.started, w.completed, w.duration, w.nodeDuration, w.nodeRetries)
	})
	return w
}

func (w *workflowProm) IncWorkflowStarted(workflow string) {
	w.started.WithLabelValues(workflow).Inc()
}

func (w *workflowProm) IncWorkflowCompleted(workflow, status string) {
	w.completed.WithLabelValues(workflow, status).Inc()
}

func (w *workflowProm) ObserveWorkflowDuration(workflow string, durationSeconds float64) {
	w.duration.WithLabelValues(workflow).Observe(durationSeconds)
}

func (w *workflowProm) ObserveNodeDuration(subtype, status string, durationSeconds float64) {
	w.nodeDuration.WithLabelValues(subtype, status).Observe(durationSeconds)
}

func (w *workflowProm) IncNodeRetry(subtype string) {
	w.nodeRetries.WithLabelValues(subtype).Inc()
}

// --- Scheduler metrics ---

type schedulerProm struct {
	fired  *prometheus.CounterVec
	errors *prometheus.CounterVec
	jobs   prometheus.Gauge
	once   sync.Once
}

func NewSchedulerProm(namespace string) SchedulerMetrics {
	s := &schedulerProm{
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fires_total",
			Help:      "Schedule jobs fired by kind",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_errors_total",
			Help:      "Schedule registration or firing errors by kind",
		}, []string{"kind"}),
		jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_jobs",
			Help:      "Currently registered schedule jobs",
		}),
	}
	s.once.Do(func() {
		prometheus.MustRegister(s.fired, s.errors, s.jobs)
	})
	return s
}

func (s *schedulerProm) IncScheduleFired(kind string) {
	s.fired.WithLabelValues(kind).Inc()
}

func (s *schedulerProm) IncScheduleError(kind string) {
	s.errors.WithLabelValues(kind).Inc()
}

func (s *schedulerProm) SetScheduledJobs(n int) {
	s.jobs.Set(float64(n))
}
