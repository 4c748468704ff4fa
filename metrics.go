package faktory

import "github.com/prometheus/client_golang/prometheus"

// Metrics wraps the prometheus collectors this library exposes. Registration
// is opt-in: a Worker built with a nil Config.Metrics records nothing, so a library
// consumer who doesn't run a metrics exporter pays nothing.
//
// Grounded on ahmedosamasayed-otlpxy's worker-pool metrics (ActiveWorkersGauge,
// JobsProcessedCounter, JobsFailedCounter) — same shape of gauge/counter pair,
// applied here to in-flight jobs, fetch/ack/fail counts, and heartbeat outcomes.
type Metrics struct {
	InFlightJobs    prometheus.Gauge
	JobsTotal       *prometheus.CounterVec
	FetchErrors     prometheus.Counter
	HeartbeatErrors prometheus.Counter
	PoolConnections prometheus.Gauge // sampled once per heartbeat tick, see heartbeat.go
}

// NewMetrics registers this library's collectors against reg (typically
// prometheus.DefaultRegisterer) and returns the wrapper.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InFlightJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faktory_inflight_jobs",
			Help: "Number of jobs currently being processed by this worker.",
		}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faktory_jobs_total",
			Help: "Total jobs processed, labeled by outcome.",
		}, []string{"outcome"}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faktory_fetch_errors_total",
			Help: "Total FETCH command failures.",
		}),
		HeartbeatErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faktory_heartbeat_errors_total",
			Help: "Total BEAT command failures.",
		}),
		PoolConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faktory_pool_connections",
			Help: "Current live connection pool size.",
		}),
	}
	reg.MustRegister(m.InFlightJobs, m.JobsTotal, m.FetchErrors, m.HeartbeatErrors, m.PoolConnections)
	return m
}

func (m *Metrics) recordAck() {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues("ack").Inc()
}

func (m *Metrics) recordFail() {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues("fail").Inc()
}

func (m *Metrics) recordFetchError() {
	if m == nil {
		return
	}
	m.FetchErrors.Inc()
}

func (m *Metrics) recordHeartbeatError() {
	if m == nil {
		return
	}
	m.HeartbeatErrors.Inc()
}

func (m *Metrics) setInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlightJobs.Set(float64(n))
}

func (m *Metrics) setPoolConnections(n int) {
	if m == nil {
		return
	}
	m.PoolConnections.Set(float64(n))
}
