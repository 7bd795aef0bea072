package ports

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// ChainQuerier is the validator's unauthenticated RPC query surface.
type ChainQuerier interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	// SignatureStatus returns nil when the validator has no status for sig at
	// the requested level yet.
	SignatureStatus(ctx context.Context, sig solana.Signature, level domain.Commitment) (*domain.Status, error)
	Block(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error)
	Slot(ctx context.Context) (uint64, error)
	GenesisHash(ctx context.Context) (solana.Hash, error)
	FeeForMessage(ctx context.Context, msg *solana.Message) (uint64, error)
}

// TxDispatcher hands transactions to the validator.
type TxDispatcher interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	RequestAirdrop(ctx context.Context, to solana.PublicKey, lamports uint64) (solana.Signature, error)
}

// AuthSubmitter dispatches a transaction through the authenticated RPC call.
type AuthSubmitter interface {
	SubmitAuthenticated(ctx context.Context, tx *solana.Transaction, token string) (solana.Signature, error)
}

// TokenMinter produces a short-lived bearer token.
type TokenMinter interface {
	Mint(now time.Time) (string, error)
}
