package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/bft-labs/tickbridge/internal/metrics"
	"github.com/bft-labs/tickbridge/internal/ports"
)

// Client calls the engine control API.
type Client struct {
	httpClient ports.HTTPClient
	url        string
	minter     ports.TokenMinter
	requestID  atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken attaches a freshly minted bearer token to every call.
func WithToken(m ports.TokenMinter) ClientOption {
	return func(c *Client) { c.minter = m }
}

// NewClient returns a client for the server at url. A nil httpClient uses an
// *http.Client without a timeout, since engine_send_and_confirm_tx may run
// for several seconds; bound calls with the context instead.
func NewClient(url string, httpClient ports.HTTPClient, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{httpClient: httpClient, url: url}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type clientRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(clientRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.minter != nil {
		token, err := c.minter.Mint(time.Now())
		if err != nil {
			return fmt.Errorf("%s: mint token: %w", method, err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: http request: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%s: unmarshal response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: unmarshal result: %w", method, err)
	}
	return nil
}

// Tick advances the clock by one tick.
func (c *Client) Tick(ctx context.Context) error {
	return c.call(ctx, MethodTick, nil, nil)
}

// StepSlot advances the clock by one slot worth of ticks.
func (c *Client) StepSlot(ctx context.Context) error {
	return c.call(ctx, MethodStepSlot, nil, nil)
}

// SendAndConfirm submits a signed transaction and waits for the server to
// drive it to a decision. Failures are *RPCError values that match
// domain.ErrConfirmationTimeout, domain.ErrTransactionRejected or
// domain.ErrDispatchFailed with errors.Is.
func (c *Client) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("encode transaction: %w", err)
	}
	var sig string
	params := []interface{}{base64.StdEncoding.EncodeToString(raw), SendOptions{Encoding: EncodingBase64}}
	if err := c.call(ctx, MethodSendAndConfirmTx, params, &sig); err != nil {
		return solana.Signature{}, err
	}
	return solana.SignatureFromBase58(sig)
}

// Driver triggers ticks through the engine control API.
type Driver struct {
	client  *Client
	metrics *metrics.Metrics
}

// NewDriver returns a TickDriver backed by client.
func NewDriver(client *Client, m *metrics.Metrics) *Driver {
	return &Driver{client: client, metrics: m}
}

// TriggerTick calls engine_tick.
func (d *Driver) TriggerTick(ctx context.Context) error {
	err := d.client.Tick(ctx)
	d.metrics.ObserveTick("engine", err)
	return err
}

var _ ports.TickDriver = (*Driver)(nil)

// callTimeout bounds calls made without a context deadline by the CLI.
const callTimeout = 2 * time.Minute

// WithCallTimeout returns ctx bounded by the default call timeout unless it
// already has a deadline.
func WithCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, callTimeout)
}
