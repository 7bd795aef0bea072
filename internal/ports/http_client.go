package ports

import "net/http"

// HTTPClient abstracts HTTP operations for the engine control client.
// The standard *http.Client satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
