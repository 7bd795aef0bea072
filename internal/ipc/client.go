package ipc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// Client performs one request/response round trip per call over a fresh
// unix socket connection.
type Client struct {
	socketPath string
	timeout    time.Duration
	maxFrame   uint32
	dialer     net.Dialer
}

// NewClient creates a client for socketPath. timeout bounds each round trip
// when the context has no earlier deadline; zero disables it.
func NewClient(socketPath string, timeout time.Duration) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
		maxFrame:   MaxBatchFrameSize,
	}
}

// SocketPath returns the server socket path.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// RoundTrip sends req and returns the server's Response.
func (c *Client) RoundTrip(ctx context.Context, req Message) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := WriteMessage(conn, req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	payload, err := ReadFrame(conn, c.maxFrame)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	msg, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	resp, ok := msg.(*Response)
	if !ok {
		return nil, fmt.Errorf("%w: %T", domain.ErrUnexpectedMessage, msg)
	}
	return resp, nil
}

// Tick requests one tick and reports the server's success flag.
func (c *Client) Tick(ctx context.Context) (bool, string, error) {
	resp, err := c.RoundTrip(ctx, &Tick{})
	if err != nil {
		return false, "", err
	}
	return resp.Success, resp.Message, nil
}

// SendBatch submits transactions with their signers' raw keypairs.
func (c *Client) SendBatch(ctx context.Context, txs []*solana.Transaction, signers []solana.PrivateKey) (bool, string, error) {
	raw := make([][]byte, len(signers))
	for i, s := range signers {
		raw[i] = []byte(s)
	}
	resp, err := c.RoundTrip(ctx, &BatchTransactions{Transactions: txs, Signers: raw})
	if err != nil {
		return false, "", err
	}
	return resp.Success, resp.Message, nil
}
