// Package metrics defines the prometheus collectors exported by tickbridge.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tickbridge"

// Metrics groups the tickbridge collectors.
type Metrics struct {
	ticks           *prometheus.CounterVec
	frames          *prometheus.CounterVec
	connections     *prometheus.GaugeVec
	confirmations   *prometheus.CounterVec
	confirmAttempts prometheus.Histogram
	rpcRequests     *prometheus.CounterVec
	engineRequests  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks triggered, by driver and result.",
		}, []string{"driver", "result"}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "frames_total",
			Help:      "IPC request frames handled, by server role and result.",
		}, []string{"role", "result"}),
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "connections",
			Help:      "Open IPC connections by server role.",
		}, []string{"role"}),
		confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Transaction confirmation outcomes.",
		}, []string{"outcome"}),
		confirmAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_attempts",
			Help:      "Status polls used per confirmed or failed transaction.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 40, 60, 120},
		}),
		rpcRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Validator RPC requests, by method and result.",
		}, []string{"method", "result"}),
		engineRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Engine control requests, by method and JSON-RPC error code (0 on success).",
		}, []string{"method", "code"}),
	}
}

// Confirmation outcomes.
const (
	OutcomeConfirmed     = "confirmed"
	OutcomeRejected      = "rejected"
	OutcomeTimeout       = "timeout"
	OutcomeDispatchError = "dispatch_error"
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveTick records one tick attempt.
func (m *Metrics) ObserveTick(driver string, err error) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(driver, result(err)).Inc()
}

// ObserveFrame records one request frame with result ok, decode_error or oversize.
func (m *Metrics) ObserveFrame(role, res string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(role, res).Inc()
}

// ConnOpened increments the open connection gauge.
func (m *Metrics) ConnOpened(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Inc()
}

// ConnClosed decrements the open connection gauge.
func (m *Metrics) ConnClosed(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Dec()
}

// ObserveConfirmation records the outcome of a confirmation loop.
func (m *Metrics) ObserveConfirmation(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.confirmAttempts.Observe(float64(attempts))
	}
}

// ObserveRPC records one validator RPC call.
func (m *Metrics) ObserveRPC(method string, err error) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, result(err)).Inc()
}

// ObserveEngine records one engine control request.
func (m *Metrics) ObserveEngine(method string, code int) {
	if m == nil {
		return
	}
	m.engineRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

