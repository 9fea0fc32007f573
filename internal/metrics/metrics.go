// Package metrics provides Prometheus counters/gauges for the stack. These
// are purely observational: nothing in the core reads them back to decide
// behaviour, matching the spec's non-goal of business logic while still
// carrying the ambient observability stack the teacher ships.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector exposed by an embedded service instance.
type Metrics struct {
	// SHIP connection metrics.
	ConnectionsByState *prometheus.GaugeVec
	HandshakeFailures  *prometheus.CounterVec

	// Dispatcher metrics.
	FramesProcessed   *prometheus.CounterVec
	DispatchErrors    *prometheus.CounterVec
	PendingEvictions  prometheus.Counter

	// Feature table metrics.
	FeatureUpdates  *prometheus.CounterVec
	DataChangeEvents prometheus.Counter
}

// New creates a new Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance registered against a custom registerer.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eebus_ship_connections",
				Help: "Current number of SHIP connections by SME state",
			},
			[]string{"service", "state"},
		),
		HandshakeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eebus_ship_handshake_failures_total",
				Help: "Total number of SHIP handshakes that ended in close(error)",
			},
			[]string{"service", "reason"},
		),
		FramesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eebus_spine_frames_total",
				Help: "Total number of SPINE frames processed by the dispatcher",
			},
			[]string{"service", "classifier"},
		),
		DispatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eebus_dispatch_errors_total",
				Help: "Total number of dispatcher-level protocol errors",
			},
			[]string{"service", "reason"},
		),
		PendingEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "eebus_pending_request_evictions_total",
				Help: "Total number of pending requests evicted by expiry or disconnect",
			},
		),
		FeatureUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eebus_feature_updates_total",
				Help: "Total number of feature cache updates by control (partial/delete/replace)",
			},
			[]string{"service", "control"},
		),
		DataChangeEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "eebus_data_change_events_total",
				Help: "Total number of data-change events emitted to use cases",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.ConnectionsByState,
			m.HandshakeFailures,
			m.FramesProcessed,
			m.DispatchErrors,
			m.PendingEvictions,
			m.FeatureUpdates,
			m.DataChangeEvents,
		)
	}

	return m
}

// SetConnectionState updates the gauge for one SME state, used by the
// SHIP SME each time a connection transitions (§4.8).
func (m *Metrics) SetConnectionState(service, state string, count int) {
	m.ConnectionsByState.WithLabelValues(service, state).Set(float64(count))
}

// RecordHandshakeFailure records a close(error=reason) transition.
func (m *Metrics) RecordHandshakeFailure(service, reason string) {
	m.HandshakeFailures.WithLabelValues(service, reason).Inc()
}

// RecordFrame records one dispatched SPINE frame by classifier.
func (m *Metrics) RecordFrame(service, classifier string) {
	m.FramesProcessed.WithLabelValues(service, classifier).Inc()
}

// RecordDispatchError records a dispatcher-level protocol error.
func (m *Metrics) RecordDispatchError(service, reason string) {
	m.DispatchErrors.WithLabelValues(service, reason).Inc()
}

// RecordFeatureUpdate records one feature-table cache mutation.
func (m *Metrics) RecordFeatureUpdate(service, control string) {
	m.FeatureUpdates.WithLabelValues(service, control).Inc()
}

// Global metrics instance, used by packages with no constructor-injected Metrics.
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, constructing an unregistered
// fallback instance if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = NewWithRegistry("eebus-core", nil)
	}
	return globalMetrics
}
