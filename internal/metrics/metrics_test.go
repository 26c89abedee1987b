package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersRegisterPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RatchetOp("encrypt", ResultOK)
	m.RatchetOp("encrypt", ResultOK)
	m.PreKeysGenerated(5)
	m.BundleServed(true)

	require.Equal(t, 2.0, testutil.ToFloat64(m.ratchetOps.WithLabelValues("encrypt", ResultOK)))
	require.Equal(t, 5.0, testutil.ToFloat64(m.preKeysGenerated))

	// A second registry does not collide with the first.
	require.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestNilIsNoop(t *testing.T) {
	var m *Crypto
	require.NotPanics(t, func() {
		m.RatchetOp("decrypt", ResultError)
		m.Handshake("initiator", ResultOK)
		m.PreKeyConsumed()
		m.GroupEnvelope(ResultOK)
		m.Replenishment(ResultError)
	})
}
