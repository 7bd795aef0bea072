package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/tickbridge/internal/domain"
	"github.com/bft-labs/tickbridge/internal/ports"
)

// ShutdownTimeout is the maximum time Stop waits for servers to drain.
const ShutdownTimeout = 30 * time.Second

// State is the lifecycle state of a harness.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting, StateStopping},
}

// StateObserver is notified after every successful transition.
type StateObserver func(previous, current State, reason string)

// Lifecycle is the Stopped → Starting → Running → Stopping → Stopped state
// machine plus the set of worker goroutines started under it.
type Lifecycle struct {
	mu       sync.RWMutex
	state    State
	logger   ports.Logger
	observer StateObserver

	wg sync.WaitGroup
}

// NewLifecycle creates a lifecycle in StateStopped. observer may be nil.
func NewLifecycle(logger ports.Logger, observer StateObserver) *Lifecycle {
	return &Lifecycle{state: StateStopped, logger: logger, observer: observer}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to next if the current state allows it. Leaving a
// stopped or crashed state incorrectly yields domain.ErrNotRunning, any other
// invalid move domain.ErrAlreadyRunning.
func (l *Lifecycle) TransitionTo(next State, reason string) error {
	l.mu.Lock()
	prev := l.state
	if !allowed(prev, next) {
		l.mu.Unlock()
		if prev == StateStopped || prev == StateCrashed {
			return domain.ErrNotRunning
		}
		return domain.ErrAlreadyRunning
	}
	l.state = next
	l.mu.Unlock()

	if l.observer != nil {
		l.observer(prev, next, reason)
	}
	l.logger.Info("state transition",
		ports.String("from", prev.String()),
		ports.String("to", next.String()),
		ports.String("reason", reason),
	)
	return nil
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanStart reports whether Start may be called.
func (l *Lifecycle) CanStart() bool {
	s := l.State()
	return s == StateStopped || s == StateCrashed
}

// CanStop reports whether Stop may be called.
func (l *Lifecycle) CanStop() bool {
	s := l.State()
	return s == StateStarting || s == StateRunning || s == StateCrashed
}

// Go runs fn on a tracked goroutine. A non-nil error other than a context
// cancellation moves the lifecycle to StateCrashed and calls onCrash.
func (l *Lifecycle) Go(ctx context.Context, name string, fn func(context.Context) error, onCrash func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := fn(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		l.logger.Error("worker failed", ports.String("worker", name), ports.Err(err))
		if s := l.State(); s == StateStarting || s == StateRunning {
			_ = l.TransitionTo(StateCrashed, name+": "+err.Error())
		}
		if onCrash != nil {
			onCrash()
		}
	}()
}

// WaitWithTimeout waits for every worker started with Go. It returns
// domain.ErrShutdownTimeout if they do not finish in time.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		l.logger.Warn("shutdown timeout, forcing exit", ports.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}
