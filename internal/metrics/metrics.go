// Package metrics holds the Prometheus counters of the conversation layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultObsolete  = "obsolete"
	ResultMaxSkip   = "max_skip"
	ResultCollision = "collision"
	ResultConflict  = "conflict"
)

// Crypto holds the counters. A nil *Crypto is valid and records nothing.
type Crypto struct {
	ratchetOps         *prometheus.CounterVec
	handshakes         *prometheus.CounterVec
	preKeysGenerated   prometheus.Counter
	preKeysConsumed    prometheus.Counter
	groupEnvelopes     *prometheus.CounterVec
	replenishments     *prometheus.CounterVec
	relayPreKeysServed *prometheus.CounterVec
}

// New registers the counters against reg.
func New(reg prometheus.Registerer) *Crypto {
	f := promauto.With(reg)
	return &Crypto{
		ratchetOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_ratchet_operations_total",
			Help: "Ratchet encrypt/decrypt operations by result",
		}, []string{"op", "result"}),
		handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_handshakes_total",
			Help: "Handshakes by role and result",
		}, []string{"role", "result"}),
		preKeysGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "waypoint_one_time_prekeys_generated_total",
			Help: "One-time pre-keys generated",
		}),
		preKeysConsumed: f.NewCounter(prometheus.CounterOpts{
			Name: "waypoint_one_time_prekeys_consumed_total",
			Help: "One-time pre-keys consumed by incoming handshakes",
		}),
		groupEnvelopes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_group_envelopes_total",
			Help: "Per-recipient group key envelopes by result",
		}, []string{"result"}),
		replenishments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_prekey_replenishments_total",
			Help: "Pre-key replenishments by result",
		}, []string{"result"}),
		relayPreKeysServed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_relay_bundles_served_total",
			Help: "Bundles handed out by the relay, by whether a one-time pre-key was included",
		}, []string{"one_time"}),
	}
}

func (m *Crypto) RatchetOp(op, result string) {
	if m == nil {
		return
	}
	m.ratchetOps.WithLabelValues(op, result).Inc()
}

func (m *Crypto) Handshake(role, result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(role, result).Inc()
}

func (m *Crypto) PreKeysGenerated(n int) {
	if m == nil {
		return
	}
	m.preKeysGenerated.Add(float64(n))
}

func (m *Crypto) PreKeyConsumed() {
	if m == nil {
		return
	}
	m.preKeysConsumed.Inc()
}

func (m *Crypto) GroupEnvelope(result string) {
	if m == nil {
		return
	}
	m.groupEnvelopes.WithLabelValues(result).Inc()
}

func (m *Crypto) Replenishment(result string) {
	if m == nil {
		return
	}
	m.replenishments.WithLabelValues(result).Inc()
}

func (m *Crypto) BundleServed(withOneTime bool) {
	if m == nil {
		return
	}
	label := "false"
	if withOneTime {
		label = "true"
	}
	m.relayPreKeysServed.WithLabelValues(label).Inc()
}
