package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/bft-labs/tickbridge/internal/domain"
	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
	"github.com/bft-labs/tickbridge/pkg/log"
)

// RetryPolicy bounds the authenticated confirmation loop.
type RetryPolicy struct {
	MaxRetries   int
	PollInterval time.Duration
}

// DefaultRetryPolicy returns 60 attempts at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 60, PollInterval: 100 * time.Millisecond}
}

// Confirmer submits a transaction through the authenticated call and drives
// the clock until the transaction is decided.
type Confirmer struct {
	minter    ports.TokenMinter
	submitter ports.AuthSubmitter
	querier   ports.ChainQuerier
	ticker    ports.TickDriver
	logger    ports.Logger
	metrics   *metrics.Metrics

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu     sync.RWMutex
	policy RetryPolicy
}

// ConfirmerOption configures a Confirmer.
type ConfirmerOption func(*Confirmer)

// WithPolicy sets the initial retry policy.
func WithPolicy(p RetryPolicy) ConfirmerOption {
	return func(c *Confirmer) { c.policy = p }
}

// WithConfirmerLogger sets the logger.
func WithConfirmerLogger(l ports.Logger) ConfirmerOption {
	return func(c *Confirmer) { c.logger = l }
}

// WithConfirmerMetrics sets the metrics sink.
func WithConfirmerMetrics(m *metrics.Metrics) ConfirmerOption {
	return func(c *Confirmer) { c.metrics = m }
}

// withClock replaces time.Now and the inter-attempt sleep. Tests only.
func withClock(now func() time.Time, sleep func(context.Context, time.Duration) error) ConfirmerOption {
	return func(c *Confirmer) {
		c.now = now
		c.sleep = sleep
	}
}

// NewConfirmer creates a Confirmer.
func NewConfirmer(
	minter ports.TokenMinter,
	submitter ports.AuthSubmitter,
	querier ports.ChainQuerier,
	ticker ports.TickDriver,
	opts ...ConfirmerOption,
) *Confirmer {
	c := &Confirmer{
		minter:    minter,
		submitter: submitter,
		querier:   querier,
		ticker:    ticker,
		logger:    log.NewNoopLogger(),
		now:       time.Now,
		sleep:     sleep,
		policy:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the current retry policy.
func (c *Confirmer) Policy() RetryPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// SetPolicy replaces the retry policy. Loops already running keep the policy
// they started with.
func (c *Confirmer) SetPolicy(p RetryPolicy) {
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
}

// SendAndConfirm mints a token, submits tx and polls its status at processed
// level. Each undecided attempt triggers one tick and sleeps one poll
// interval. An on-chain failure returns *domain.RejectedError at once;
// exhausting the budget returns *domain.TimeoutError.
func (c *Confirmer) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	token, err := c.minter.Mint(c.now())
	if err != nil {
		return solana.Signature{}, fmt.Errorf("mint auth token: %w", err)
	}

	sig, err := c.submitter.SubmitAuthenticated(ctx, tx, token)
	if err != nil {
		c.metrics.ObserveConfirmation(metrics.OutcomeDispatchError, 0)
		return solana.Signature{}, fmt.Errorf("submit transaction: %w", err)
	}

	policy := c.Policy()
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		st, err := c.querier.SignatureStatus(ctx, sig, domain.CommitmentProcessed)
		switch {
		case err != nil:
			c.logger.Debug("status query failed",
				ports.Stringer("signature", sig),
				ports.Int("attempt", attempt),
				ports.Err(err),
			)
		case st != nil && st.Err == nil:
			c.metrics.ObserveConfirmation(metrics.OutcomeConfirmed, attempt)
			c.logger.Debug("transaction confirmed",
				ports.Stringer("signature", sig),
				ports.Int("attempt", attempt),
				ports.Uint64("slot", st.Slot),
			)
			return sig, nil
		case st != nil:
			c.metrics.ObserveConfirmation(metrics.OutcomeRejected, attempt)
			return sig, &domain.RejectedError{Signature: sig.String(), Cause: st.Err}
		}

		if err := c.ticker.TriggerTick(ctx); err != nil {
			c.logger.Warn("tick failed",
				ports.Stringer("signature", sig),
				ports.Int("attempt", attempt),
				ports.Err(err),
			)
		}
		if err := c.sleep(ctx, policy.PollInterval); err != nil {
			return sig, fmt.Errorf("confirm %s: %w", sig, err)
		}
	}

	c.metrics.ObserveConfirmation(metrics.OutcomeTimeout, policy.MaxRetries)
	return sig, &domain.TimeoutError{Signature: sig.String(), Attempts: policy.MaxRetries}
}
