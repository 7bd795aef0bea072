// Package rpc adapts the validator's JSON-RPC surface to the ports used by
// the submission engine and the confirmation loop.
package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"

	"github.com/bft-labs/tickbridge/internal/domain"
	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
	"github.com/bft-labs/tickbridge/pkg/log"
)

// Client implements ports.ChainQuerier, ports.TxDispatcher and
// ports.AuthSubmitter on top of solana-go's RPC client.
type Client struct {
	rpc           *solrpc.Client
	authRPC       *solrpc.Client
	authEndpoint  string
	limiter       *rate.Limiter
	metrics       *metrics.Metrics
	logger        ports.Logger
	commitment    solrpc.CommitmentType
	skipPreflight bool
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps outgoing requests per second. rps <= 0 means unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAuthEndpoint sets the URL used for authenticated submission. Defaults
// to the query endpoint.
func WithAuthEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.authEndpoint = url
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithPreflight enables preflight simulation on sendTransaction.
func WithPreflight() Option {
	return func(c *Client) { c.skipPreflight = false }
}

// New creates a client for endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		rpc:           solrpc.New(endpoint),
		authEndpoint:  endpoint,
		limiter:       rate.NewLimiter(rate.Inf, 0),
		logger:        log.NewNoopLogger(),
		commitment:    solrpc.CommitmentProcessed,
		skipPreflight: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.authRPC = solrpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(c.authEndpoint, &jsonrpc.RPCClientOpts{
		HTTPClient: &bearerHTTPClient{client: &http.Client{}},
	}))
	return c
}

// Close releases idle connections held by the query and submission clients.
func (c *Client) Close() error {
	return errors.Join(c.rpc.Close(), c.authRPC.Close())
}

func (c *Client) wait(ctx context.Context, method string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", method, err)
	}
	return nil
}

func (c *Client) observe(method string, err error) {
	c.metrics.ObserveRPC(method, err)
	if err != nil {
		c.logger.Debug("rpc call failed", ports.String("method", method), ports.Err(err))
	}
}

// LatestBlockhash returns the latest blockhash.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	const method = "getLatestBlockhash"
	if err := c.wait(ctx, method); err != nil {
		return solana.Hash{}, err
	}
	res, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	c.observe(method, err)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("%s: %w", method, err)
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, fmt.Errorf("%s: empty result", method)
	}
	return res.Value.Blockhash, nil
}

// Balance returns the lamport balance of account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	const method = "getBalance"
	if err := c.wait(ctx, method); err != nil {
		return 0, err
	}
	res, err := c.rpc.GetBalance(ctx, account, c.commitment)
	c.observe(method, err)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	return res.Value, nil
}

// SignatureStatus returns the status of sig if it has reached level.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature, level domain.Commitment) (*domain.Status, error) {
	const method = "getSignatureStatuses"
	if err := c.wait(ctx, method); err != nil {
		return nil, err
	}
	res, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	c.observe(method, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return nil, nil
	}
	return toStatus(res.Value[0], level), nil
}

func toStatus(st *solrpc.SignatureStatusesResult, want domain.Commitment) *domain.Status {
	got := domain.Commitment(st.ConfirmationStatus)
	if got == "" {
		got = domain.CommitmentProcessed
	}
	if got.Rank() < want.Rank() {
		return nil
	}
	status := &domain.Status{Slot: st.Slot, Level: got}
	if st.Err != nil {
		status.Err = &domain.TxError{Raw: st.Err}
	}
	return status
}

// Block returns the block at slot.
func (c *Client) Block(ctx context.Context, slot uint64) (*solrpc.GetBlockResult, error) {
	const method = "getBlock"
	if err := c.wait(ctx, method); err != nil {
		return nil, err
	}
	res, err := c.rpc.GetBlock(ctx, slot)
	c.observe(method, err)
	if err != nil {
		return nil, fmt.Errorf("%s %d: %w", method, slot, err)
	}
	return res, nil
}

// Slot returns the current slot.
func (c *Client) Slot(ctx context.Context) (uint64, error) {
	const method = "getSlot"
	if err := c.wait(ctx, method); err != nil {
		return 0, err
	}
	slot, err := c.rpc.GetSlot(ctx, c.commitment)
	c.observe(method, err)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	return slot, nil
}

// GenesisHash returns the genesis hash.
func (c *Client) GenesisHash(ctx context.Context) (solana.Hash, error) {
	const method = "getGenesisHash"
	if err := c.wait(ctx, method); err != nil {
		return solana.Hash{}, err
	}
	h, err := c.rpc.GetGenesisHash(ctx)
	c.observe(method, err)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("%s: %w", method, err)
	}
	return h, nil
}

// FeeForMessage returns the fee the validator charges for msg.
func (c *Client) FeeForMessage(ctx context.Context, msg *solana.Message) (uint64, error) {
	const method = "getFeeForMessage"
	if err := c.wait(ctx, method); err != nil {
		return 0, err
	}
	raw, err := msg.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("%s: encode message: %w", method, err)
	}
	res, err := c.rpc.GetFeeForMessage(ctx, base64.StdEncoding.EncodeToString(raw), c.commitment)
	c.observe(method, err)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("%s: fee unavailable for blockhash %s", method, msg.RecentBlockhash)
	}
	return *res.Value, nil
}

// SendTransaction dispatches a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return c.send(ctx, c.rpc, tx)
}

// RequestAirdrop asks the faucet to fund to.
func (c *Client) RequestAirdrop(ctx context.Context, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	const method = "requestAirdrop"
	if err := c.wait(ctx, method); err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.rpc.RequestAirdrop(ctx, to, lamports, c.commitment)
	c.observe(method, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %s: %v", domain.ErrDispatchFailed, method, err)
	}
	return sig, nil
}

// SubmitAuthenticated dispatches tx with an Authorization bearer token.
func (c *Client) SubmitAuthenticated(ctx context.Context, tx *solana.Transaction, token string) (solana.Signature, error) {
	if token == "" {
		return solana.Signature{}, errors.New("submit: empty auth token")
	}
	return c.send(withToken(ctx, token), c.authRPC, tx)
}

func (c *Client) send(ctx context.Context, client *solrpc.Client, tx *solana.Transaction) (solana.Signature, error) {
	const method = "sendTransaction"
	if err := c.wait(ctx, method); err != nil {
		return solana.Signature{}, err
	}
	sig, err := client.SendTransactionWithOpts(ctx, tx, solrpc.TransactionOpts{
		SkipPreflight:       c.skipPreflight,
		PreflightCommitment: c.commitment,
	})
	c.observe(method, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", domain.ErrDispatchFailed, err)
	}
	return sig, nil
}

var (
	_ ports.ChainQuerier  = (*Client)(nil)
	_ ports.TxDispatcher  = (*Client)(nil)
	_ ports.AuthSubmitter = (*Client)(nil)
)
