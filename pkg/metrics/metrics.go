package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	ServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_services_total",
			Help: "Registered services by topic",
		},
		[]string{"topic"},
	)

	HostsUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_hosts_up",
			Help: "Services considered up (enabled with a fresh heartbeat) by topic",
		},
		[]string{"topic"},
	)

	ResourceUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_resource_used",
			Help: "Resource consumed by active workloads per host and kind",
		},
		[]string{"host", "kind"},
	)

	// Scheduler metrics
	PlacementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_placements_total",
			Help: "Placement decisions by driver, action and result",
		},
		[]string{"driver", "action", "result"},
	)

	PlacementLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corral_placement_latency_seconds",
			Help:    "Time taken to select a host in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver"},
	)

	// Bus metrics
	BusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_bus_messages_total",
			Help: "Messages sent on the bus by transport and kind (call, cast)",
		},
		[]string{"transport", "kind"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(HostsUp)
	prometheus.MustRegister(ResourceUsed)
	prometheus.MustRegister(PlacementsTotal)
	prometheus.MustRegister(PlacementLatency)
	prometheus.MustRegister(BusMessagesTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on the observer
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds on the labelled histogram
func (t *Timer) ObserveDurationVec(o prometheus.ObserverVec, labels ...string) {
	o.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
