// Package metrics exposes render job counters on the default prometheus
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "proofrender"

	jobsSubmittedTotal    = "jobs_submitted_total"
	jobsFinishedTotal     = "jobs_finished_total"
	renderDurationSeconds = "render_duration_seconds"
	rendersInFlight       = "renders_in_flight"
	monitorLostJobsTotal  = "monitor_lost_jobs_total"
	proofsGeneratedTotal  = "proofs_generated_total"

	// Labels
	providerLabel = "provider"
	statusLabel   = "status"
	resultLabel   = "result"
)

// Proof results.
const (
	ProofOK     = "ok"
	ProofFailed = "failed"
)

var jobsSubmittedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      jobsSubmittedTotal,
		Help:      "number of render jobs accepted by a provider",
	},
	[]string{providerLabel},
)

var jobsFinishedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      jobsFinishedTotal,
		Help:      "number of render jobs that reached a terminal status",
	},
	[]string{providerLabel, statusLabel},
)

var renderDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      renderDurationSeconds,
		Help:      "wall time of successful engine renders",
		Buckets:   []float64{5, 10, 30, 60, 120, 300, 600},
	},
	[]string{providerLabel},
)

var rendersInFlightMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      rendersInFlight,
		Help:      "engine renders currently holding a render slot",
	},
)

var monitorLostJobsMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      monitorLostJobsTotal,
		Help:      "jobs marked failed because the provider no longer knew them",
	},
)

var proofsGeneratedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      proofsGeneratedTotal,
		Help:      "proof generation attempts by result",
	},
	[]string{resultLabel},
)

func IncreaseJobsSubmittedMetric(provider string) {
	jobsSubmittedMetric.With(prometheus.Labels{providerLabel: provider}).Inc()
}

func IncreaseJobsFinishedMetric(provider, status string) {
	jobsFinishedMetric.With(prometheus.Labels{
		providerLabel: provider,
		statusLabel:   status,
	}).Inc()
}

func ObserveRenderDuration(provider string, d time.Duration) {
	renderDurationMetric.With(prometheus.Labels{providerLabel: provider}).Observe(d.Seconds())
}

// RenderStarted and RenderFinished bracket one engine invocation.
func RenderStarted()  { rendersInFlightMetric.Inc() }
func RenderFinished() { rendersInFlightMetric.Dec() }

func IncreaseLostJobsMetric() {
	monitorLostJobsMetric.Inc()
}

func IncreaseProofsMetric(result string) {
	proofsGeneratedMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsSubmittedMetric)
	prometheus.MustRegister(jobsFinishedMetric)
	prometheus.MustRegister(renderDurationMetric)
	prometheus.MustRegister(rendersInFlightMetric)
	prometheus.MustRegister(monitorLostJobsMetric)
	prometheus.MustRegister(proofsGeneratedMetric)
}
