// Package metrics exposes the gateway's Prometheus metrics: one counter/gauge
// family per acquisition and forwarding stage, so an operator can see where
// points are being produced, dropped or lost without reading logs.
// github.com/prometheus/client_golang is the de-facto standard Go client for
// this kind of metric surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the gateway exports, grouped by the
// subsystem that updates it.
type Registry struct {
	PointsEmitted   *prometheus.CounterVec
	PointsWritten   *prometheus.CounterVec
	PointsPublished prometheus.Counter
	PollCycles      *prometheus.CounterVec
	PollFailures    *prometheus.CounterVec
	WorkerRestarts  *prometheus.CounterVec
	ActiveWorkers   prometheus.GaugeFunc
	ForwarderLagMs  prometheus.Gauge
}

// New registers every gateway metric against its own registry (not the
// global default, so repeated construction in tests never panics on
// duplicate registration) and returns it alongside an http.Handler for the
// /metrics endpoint.
func New(activeWorkers func() float64) (*Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		PointsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_points_emitted_total",
			Help: "Telemetry points produced by an acquisition worker, by role.",
		}, []string{"role"}),
		PointsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_points_written_total",
			Help: "Telemetry points successfully written to the time-series sink, by role.",
		}, []string{"role"}),
		PointsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_points_published_total",
			Help: "Telemetry records successfully published to the broker by the forwarder.",
		}),
		PollCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_poll_cycles_total",
			Help: "Completed poll cycles, by role.",
		}, []string{"role"}),
		PollFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_poll_failures_total",
			Help: "Poll cycles abandoned due to a connect, framing or protocol error, by role.",
		}, []string{"role"}),
		WorkerRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_worker_restarts_total",
			Help: "Times the supervisor has respawned a worker for a device/role after it exited.",
		}, []string{"role"}),
		ForwarderLagMs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_forwarder_lag_milliseconds",
			Help: "Age of the forwarder's watermark relative to wall clock at the end of the last cycle.",
		}),
	}
	r.ActiveWorkers = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_active_workers",
		Help: "Number of live (device, role) workers currently supervised.",
	}, activeWorkers)

	return r, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RoleRecorder is a per-role view over the registry, satisfying the narrow
// Recorder interfaces the modbus and opcua packages declare locally (they
// accept an interface, not this concrete type, so they never import this
// package).
type RoleRecorder struct {
	role     string
	registry *Registry
}

// For returns the recorder a worker of the given role should use.
func (r *Registry) For(role string) RoleRecorder {
	return RoleRecorder{role: role, registry: r}
}

// PollCycle records one completed acquisition cycle.
func (r RoleRecorder) PollCycle() {
	r.registry.PollCycles.WithLabelValues(r.role).Inc()
}

// PollFailure records one cycle abandoned by a connect/framing/protocol error.
func (r RoleRecorder) PollFailure() {
	r.registry.PollFailures.WithLabelValues(r.role).Inc()
}

// PointsEmitted records n points produced (before the sink write).
func (r RoleRecorder) PointsEmitted(n int) {
	if n <= 0 {
		return
	}
	r.registry.PointsEmitted.WithLabelValues(r.role).Add(float64(n))
}

// PointsWritten records n points successfully persisted to the sink.
func (r RoleRecorder) PointsWritten(n int) {
	if n <= 0 {
		return
	}
	r.registry.PointsWritten.WithLabelValues(r.role).Add(float64(n))
}

// WorkerRestart records the supervisor respawning a worker for role,
// satisfying the supervisor package's Recorder interface directly on
// *Registry (the supervisor tracks every role itself, unlike the
// single-role acquisition workers).
func (r *Registry) WorkerRestart(role string) {
	r.WorkerRestarts.WithLabelValues(role).Inc()
}

// RecordPublished records n telemetry records published to the broker in one
// forwarder cycle, satisfying the forwarder package's Recorder interface.
func (r *Registry) RecordPublished(n int) {
	if n <= 0 {
		return
	}
	r.PointsPublished.Add(float64(n))
}

// RecordLag records the forwarder's watermark age at the end of a cycle,
// satisfying the forwarder package's Recorder interface.
func (r *Registry) RecordLag(d time.Duration) {
	r.ForwarderLagMs.Set(float64(d.Milliseconds()))
}
