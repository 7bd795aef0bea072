// Package bridge submits transactions into the validator and determines
// their outcome.
//
// Bridge is the unauthenticated submission engine: it polls for status on a
// wall-clock budget and never ticks. Confirmer is the authenticated retry
// loop that interleaves status polls with clock ticks.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/bft-labs/tickbridge/internal/codec"
	"github.com/bft-labs/tickbridge/internal/domain"
	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
	"github.com/bft-labs/tickbridge/pkg/log"
)

const (
	DefaultConfirmTimeout  = 10 * time.Second
	DefaultConfirmInterval = 10 * time.Millisecond
)

// Bridge composes the RPC query surface and the transaction dispatcher.
type Bridge struct {
	querier    ports.ChainQuerier
	dispatcher ports.TxDispatcher
	logger     ports.Logger
	metrics    *metrics.Metrics

	confirmTimeout  time.Duration
	confirmInterval time.Duration
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConfirmTimeout bounds Confirm in wall-clock time.
func WithConfirmTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.confirmTimeout = d
		}
	}
}

// WithConfirmInterval sets the delay between status polls in Confirm.
func WithConfirmInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.confirmInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New creates a Bridge.
func New(querier ports.ChainQuerier, dispatcher ports.TxDispatcher, opts ...Option) *Bridge {
	b := &Bridge{
		querier:         querier,
		dispatcher:      dispatcher,
		logger:          log.NewNoopLogger(),
		confirmTimeout:  DefaultConfirmTimeout,
		confirmInterval: DefaultConfirmInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Transfer sends lamports from the signer to to and returns the signature.
func (b *Bridge) Transfer(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	hash, err := b.querier.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("transfer: fetch blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, from.PublicKey(), to).Build()},
		hash,
		solana.TransactionPayer(from.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("transfer: build transaction: %w", err)
	}
	if err := codec.Sign(tx, from); err != nil {
		return solana.Signature{}, fmt.Errorf("transfer: %w", err)
	}
	sig, err := b.dispatcher.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("transfer: %w", err)
	}
	return sig, nil
}

// Airdrop asks the faucet to fund to. No local signer is involved.
func (b *Bridge) Airdrop(ctx context.Context, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	if _, err := b.querier.LatestBlockhash(ctx); err != nil {
		return solana.Signature{}, fmt.Errorf("airdrop: fetch blockhash: %w", err)
	}
	sig, err := b.dispatcher.RequestAirdrop(ctx, to, lamports)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("airdrop: %w", err)
	}
	return sig, nil
}

// Confirm polls the status of sig at processed level until it is decided or
// the confirm timeout elapses. It returns nil on timeout. Query errors are
// treated as undecided.
func (b *Bridge) Confirm(ctx context.Context, sig solana.Signature) *domain.Status {
	ctx, cancel := context.WithTimeout(ctx, b.confirmTimeout)
	defer cancel()

	attempts := 0
	for {
		attempts++
		st, err := b.querier.SignatureStatus(ctx, sig, domain.CommitmentProcessed)
		if err != nil {
			b.logger.Debug("status query failed", ports.Stringer("signature", sig), ports.Err(err))
		} else if st != nil {
			return st
		}
		if sleep(ctx, b.confirmInterval) != nil {
			b.logger.Debug("confirmation timed out",
				ports.Stringer("signature", sig),
				ports.Int("attempts", attempts),
			)
			return nil
		}
	}
}

// SendAndConfirmSequentially re-signs each transaction with a fresh blockhash,
// dispatches it and waits for its outcome before moving to the next one. The
// first failure or timeout aborts the batch; later transactions are never
// dispatched.
func (b *Bridge) SendAndConfirmSequentially(ctx context.Context, txs []*solana.Transaction, signers []solana.PrivateKey) error {
	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		hash, err := b.querier.LatestBlockhash(ctx)
		if err != nil {
			return fmt.Errorf("transaction %d: fetch blockhash: %w", i, err)
		}
		tx.Message.RecentBlockhash = hash
		if err := codec.Sign(tx, signers...); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}

		sig, err := b.dispatcher.SendTransaction(ctx, tx)
		if err != nil {
			b.metrics.ObserveConfirmation(metrics.OutcomeDispatchError, 0)
			return fmt.Errorf("transaction %d: %w", i, err)
		}

		st := b.Confirm(ctx, sig)
		switch {
		case st == nil:
			if err := ctx.Err(); err != nil {
				return err
			}
			b.metrics.ObserveConfirmation(metrics.OutcomeTimeout, 0)
			b.logger.Warn("transaction timed out", ports.Int("index", i), ports.Stringer("signature", sig))
			return fmt.Errorf("transaction %d: %w", i, &domain.TimeoutError{Signature: sig.String()})
		case st.Err != nil:
			b.metrics.ObserveConfirmation(metrics.OutcomeRejected, 0)
			b.logger.Warn("transaction failed",
				ports.Int("index", i),
				ports.Stringer("signature", sig),
				ports.Err(st.Err),
			)
			return fmt.Errorf("transaction %d: %w", i, &domain.RejectedError{Signature: sig.String(), Cause: st.Err})
		}
		b.metrics.ObserveConfirmation(metrics.OutcomeConfirmed, 0)
		b.logger.Info("transaction confirmed",
			ports.Int("index", i),
			ports.Stringer("signature", sig),
			ports.Uint64("slot", st.Slot),
		)
	}
	return nil
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
