package ports

import "context"

// TickDriver advances the validator's clock by exactly one tick.
// TriggerTick blocks until the validator has acknowledged the tick.
type TickDriver interface {
	TriggerTick(ctx context.Context) error
}

// TickDriverFunc adapts a function to TickDriver.
type TickDriverFunc func(ctx context.Context) error

// TriggerTick calls f(ctx).
func (f TickDriverFunc) TriggerTick(ctx context.Context) error {
	return f(ctx)
}
