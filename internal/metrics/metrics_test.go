package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTick("local", nil)
	m.ObserveTick("local", errors.New("closed"))
	m.ObserveFrame("tick", "ok")
	m.ObserveConfirmation(OutcomeTimeout, 3)
	m.ObserveRPC("getSlot", nil)
	m.ObserveEngine("engine_tick", 0)
	m.ConnOpened("batch")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("local", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("local", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.confirmations.WithLabelValues(OutcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("batch")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTick("ipc", nil)
	m.ObserveFrame("tick", "oversize")
	m.ConnOpened("tick")
	m.ConnClosed("tick")
	m.ObserveConfirmation(OutcomeConfirmed, 1)
	m.ObserveRPC("sendTransaction", nil)
	m.ObserveEngine("engine_tick", -32601)
}
