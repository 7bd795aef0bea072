package rpc

import (
	"context"
	"net/http"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

type tokenKey struct{}

func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// bearerHTTPClient sets the Authorization header from the request context so
// one connection pool serves every authenticated submission.
type bearerHTTPClient struct {
	client *http.Client
}

func (b *bearerHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if token, ok := req.Context().Value(tokenKey{}).(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return b.client.Do(req)
}

func (b *bearerHTTPClient) CloseIdleConnections() {
	b.client.CloseIdleConnections()
}

var _ jsonrpc.HTTPClient = (*bearerHTTPClient)(nil)
