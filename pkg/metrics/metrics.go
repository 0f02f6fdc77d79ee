// Package metrics exposes Prometheus counters/gauges/histograms for the
// pool, queue tree, and dispatch pass. All metrics are fields of a
// Registry built by New; the package declares no package-level metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this process exposes, registered against
// its own prometheus.Registry rather than the global default so tests
// can construct independent instances.
type Registry struct {
	reg *prometheus.Registry

	SegmentsUp        prometheus.Gauge
	SegmentsDown      prometheus.Gauge
	ContainersAlloc   prometheus.Gauge
	ContainersFree    prometheus.Gauge
	RatioActual       prometheus.Gauge

	QueuePendingDepth *prometheus.GaugeVec
	QueueRunning      *prometheus.GaugeVec
	QueueAllocatedMB  *prometheus.GaugeVec

	DispatchGranted *prometheus.CounterVec
	DispatchDenied  *prometheus.CounterVec
	DispatchLatency *prometheus.HistogramVec

	DeadlocksDetected prometheus.Counter
	TimeoutsFired     *prometheus.CounterVec
}

// New creates a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		SegmentsUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resmgr_segments_up",
			Help: "Number of segments currently reporting healthy heartbeats.",
		}),
		SegmentsDown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resmgr_segments_down",
			Help: "Number of segments marked down by the liveness monitor.",
		}),
		ContainersAlloc: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resmgr_containers_allocated",
			Help: "Containers currently allocated across all segments.",
		}),
		ContainersFree: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resmgr_containers_free",
			Help: "Containers currently free across all segments.",
		}),
		RatioActual: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resmgr_ratio_actual",
			Help: "Majority-voted memory-to-core ratio across registered segments.",
		}),

		QueuePendingDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "resmgr_queue_pending_depth",
			Help: "Number of requests pending in a leaf queue.",
		}, []string{"queue"}),
		QueueRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "resmgr_queue_running_statements",
			Help: "Number of currently running statements in a leaf queue.",
		}, []string{"queue"}),
		QueueAllocatedMB: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "resmgr_queue_allocated_mb",
			Help: "Memory allocated to a leaf queue's running statements, in MB.",
		}, []string{"queue"}),

		DispatchGranted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resmgr_dispatch_granted_total",
			Help: "Total number of resource requests granted by the dispatch pass.",
		}, []string{"queue"}),
		DispatchDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resmgr_dispatch_denied_total",
			Help: "Total number of resource requests denied by the dispatch pass, by error code.",
		}, []string{"queue", "code"}),
		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resmgr_dispatch_pass_duration_seconds",
			Help:    "Wall-clock duration of one full dispatch pass over the queue tree.",
			Buckets: prometheus.DefBuckets,
		}, []string{}),

		DeadlocksDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "resmgr_deadlocks_detected_total",
			Help: "Total number of deadlock resolutions that required selecting a victim.",
		}),
		TimeoutsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resmgr_timeouts_total",
			Help: "Total number of connection timeouts fired, by kind (noresource, noaction).",
		}, []string{"kind"}),
	}
}

// Handler returns the HTTP handler the daemon mounts at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
