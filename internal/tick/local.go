// Package tick provides the TickDriver implementations: an in-process driver
// over a shared Channels handle and a cross-process driver over IPC.
package tick

import (
	"context"

	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
)

// LocalDriver triggers ticks through an in-process Channels handle.
type LocalDriver struct {
	ch      *Channels
	metrics *metrics.Metrics
}

// NewLocalDriver returns a driver bound to ch. Any number of drivers may
// share one handle; their ticks are serialized.
func NewLocalDriver(ch *Channels, m *metrics.Metrics) *LocalDriver {
	return &LocalDriver{ch: ch, metrics: m}
}

// TriggerTick sends one tick request and waits for its completion.
func (d *LocalDriver) TriggerTick(ctx context.Context) error {
	err := d.ch.trigger(ctx)
	d.metrics.ObserveTick("local", err)
	return err
}

var _ ports.TickDriver = (*LocalDriver)(nil)
