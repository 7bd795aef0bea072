package tick

import (
	"context"
	"fmt"

	"github.com/bft-labs/tickbridge/internal/domain"
	"github.com/bft-labs/tickbridge/internal/ipc"
	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
)

// IPCDriver triggers ticks with one IPC round trip per tick.
type IPCDriver struct {
	client  *ipc.Client
	metrics *metrics.Metrics
}

// NewIPCDriver returns a driver that talks to the tick server behind client.
func NewIPCDriver(client *ipc.Client, m *metrics.Metrics) *IPCDriver {
	return &IPCDriver{client: client, metrics: m}
}

// TriggerTick performs one Tick round trip. A success=false response is
// returned as an error wrapping domain.ErrTickRejected.
func (d *IPCDriver) TriggerTick(ctx context.Context) error {
	err := d.trigger(ctx)
	d.metrics.ObserveTick("ipc", err)
	return err
}

func (d *IPCDriver) trigger(ctx context.Context) error {
	ok, msg, err := d.client.Tick(ctx)
	if err != nil {
		return fmt.Errorf("tick via %s: %w", d.client.SocketPath(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTickRejected, msg)
	}
	return nil
}

var _ ports.TickDriver = (*IPCDriver)(nil)
