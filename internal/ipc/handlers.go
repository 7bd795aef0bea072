package ipc

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/bft-labs/tickbridge/internal/keys"
	"github.com/bft-labs/tickbridge/internal/ports"
)

// BatchRunner signs, sends and confirms transactions strictly in order.
type BatchRunner interface {
	SendAndConfirmSequentially(ctx context.Context, txs []*solana.Transaction, signers []solana.PrivateKey) error
}

// TickHandler serves RoleTick: each Tick request advances driver once.
func TickHandler(driver ports.TickDriver) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) *Response {
		switch msg.(type) {
		case *Tick:
			if err := driver.TriggerTick(ctx); err != nil {
				return &Response{Success: false, Message: fmt.Sprintf("tick failed: %v", err)}
			}
			return &Response{Success: true, Message: "tick processed"}
		case *BatchTransactions:
			return &Response{Success: false, Message: "unexpected batch request on tick server"}
		case *Response:
			return &Response{Success: false, Message: "unexpected response message"}
		default:
			return &Response{Success: false, Message: fmt.Sprintf("unknown message %T", msg)}
		}
	})
}

// BatchHandler serves RoleBatch by running each batch through runner.
func BatchHandler(runner BatchRunner, logger ports.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) *Response {
		switch m := msg.(type) {
		case *BatchTransactions:
			logger.Info("batch request", ports.Int("transactions", len(m.Transactions)))
			signers, err := keys.ParseAll(m.Signers)
			if err != nil {
				return &Response{Success: false, Message: fmt.Sprintf("signer parsing error: %v", err)}
			}
			if err := runner.SendAndConfirmSequentially(ctx, m.Transactions, signers); err != nil {
				logger.Error("batch failed", ports.Err(err))
				return &Response{Success: false, Message: fmt.Sprintf("transaction sending error: %v", err)}
			}
			return &Response{Success: true, Message: fmt.Sprintf("successfully processed %d transactions", len(m.Transactions))}
		case *Tick:
			return &Response{Success: false, Message: "unexpected tick request on batch server"}
		case *Response:
			return &Response{Success: false, Message: "unexpected response message"}
		default:
			return &Response{Success: false, Message: fmt.Sprintf("unknown message %T", msg)}
		}
	})
}
