package httpclient

import "context"

// HTTPClientInterface is the subset of HTTPClient used by the API clients.
type HTTPClientInterface interface {
	// DoRequest makes an HTTP request and returns the response body.
	DoRequest(ctx context.Context, opts RequestOptions) ([]byte, error)

	// GetJSON issues a GET and decodes the JSON response into out.
	GetJSON(ctx context.Context, path string, query map[string]string, out any) error

	// SendJSON issues a request with a JSON body and decodes the JSON response into out.
	SendJSON(ctx context.Context, method, path string, query map[string]string, in, out any) error
}

var _ HTTPClientInterface = &HTTPClient{}
