package tick

import (
	"context"
	"sync"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// Channels is the rendezvous shared between tick drivers and the validator's
// execution loop. Drivers send one request and wait for exactly one
// completion; the mutex serializes that exchange across every driver that
// shares the handle.
type Channels struct {
	requests chan struct{}
	done     chan error
	closed   chan struct{}
	once     sync.Once

	// mu serializes request/completion pairs. pending counts completions owed
	// to callers that gave up waiting; they are drained before the next request.
	mu      sync.Mutex
	pending int
}

// NewChannels creates an open handle.
func NewChannels() *Channels {
	return &Channels{
		requests: make(chan struct{}),
		done:     make(chan error),
		closed:   make(chan struct{}),
	}
}

// Requests is the consumer side: one value per requested tick.
func (c *Channels) Requests() <-chan struct{} {
	return c.requests
}

// Complete reports the result of the tick most recently received from
// Requests. It returns domain.ErrTickChannelClosed if the handle is closed
// before a driver takes the completion.
func (c *Channels) Complete(ctx context.Context, err error) error {
	select {
	case c.done <- err:
		return nil
	case <-c.closed:
		return domain.ErrTickChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve runs fn once per tick request until ctx ends or the handle closes.
func (c *Channels) Serve(ctx context.Context, fn func(context.Context) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return domain.ErrTickChannelClosed
		case <-c.requests:
			if err := c.Complete(ctx, fn(ctx)); err != nil {
				return err
			}
		}
	}
}

// Close releases every waiting driver with domain.ErrTickChannelClosed.
func (c *Channels) Close() {
	c.once.Do(func() { close(c.closed) })
}

// trigger performs one serialized request/completion exchange.
func (c *Channels) trigger(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.pending > 0 {
		select {
		case <-c.done:
			c.pending--
		case <-c.closed:
			return domain.ErrTickChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case c.requests <- struct{}{}:
	case <-c.closed:
		return domain.ErrTickChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-c.done:
		return err
	case <-c.closed:
		return domain.ErrTickChannelClosed
	case <-ctx.Done():
		// the consumer still owes a completion for this request
		c.pending++
		return ctx.Err()
	}
}
