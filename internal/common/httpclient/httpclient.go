// Package httpclient provides the JSON-over-HTTP client shared by the source platform and
// catalog clients. It resolves request paths against a configured server URL, attaches a bearer
// token supplied by a Configurator, and turns non-2xx responses into *HTTPError values that
// keep the response body for diagnostics.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Configurator provides the server location and the credential to present.
type Configurator interface {
	GetServerURL() string
	GetToken() string
}

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int    // HTTP status code of the response
	Method     string // request method
	Endpoint   string // request path, without the server URL
	Body       string // raw response body
}

// Error implements the error interface for HTTPError.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, strings.TrimSpace(e.Body))
}

// IsStatus reports whether err is an *HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == code
}

// ClientOptions contains options for configuring the HTTP client.
type ClientOptions struct {
	Timeout       time.Duration     // per request timeout; zero means none
	RetryAttempts uint              // total attempts per request; values below 1 mean 1
	RetryDelay    time.Duration     // initial backoff between attempts
	Transport     http.RoundTripper // optional transport override
}

// HTTPClient makes JSON requests against a single server.
type HTTPClient struct {
	config     Configurator
	httpClient *http.Client
	opts       ClientOptions
}

// NewClient creates a new HTTP client using the provided configuration.
func NewClient(config Configurator, opts ...ClientOptions) *HTTPClient {
	o := ClientOptions{}
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 1
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout:   o.Timeout,
			Transport: o.Transport,
		},
		opts: o,
	}
}

// RequestOptions describes a single request.
type RequestOptions struct {
	Method      string            // HTTP method (GET, POST, PUT, DELETE)
	Path        string            // API endpoint path relative to the server URL
	QueryParams map[string]string // optional query parameters
	Body        []byte            // optional request body
}

// DoRequest makes an HTTP request with the given options and returns the response body.
// Client errors (4xx) are never retried. Other failures are retried up to RetryAttempts.
func (c *HTTPClient) DoRequest(ctx context.Context, opts RequestOptions) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			var err error
			body, err = c.do(ctx, opts)
			if isClientError(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.opts.RetryAttempts),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Str("endpoint", opts.Path).Msg("retrying request")
		}),
	)
	if err != nil {
		var he *HTTPError
		if errors.As(err, &he) {
			level := zerolog.ErrorLevel
			if he.StatusCode == http.StatusNotFound {
				level = zerolog.DebugLevel
			}
			log.Ctx(ctx).WithLevel(level).
				Str("method", he.Method).
				Str("endpoint", he.Endpoint).
				Int("status", he.StatusCode).
				Str("body", he.Body).
				Msg("request failed")
		} else {
			log.Ctx(ctx).Error().Err(err).Str("method", opts.Method).Str("endpoint", opts.Path).Msg("request failed")
		}
		return nil, err
	}
	return body, nil
}

func (c *HTTPClient) do(ctx context.Context, opts RequestOptions) ([]byte, error) {
	u, err := url.Parse(c.config.GetServerURL())
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	u.Path = path.Join(u.Path, opts.Path)

	q := u.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	var bodyReader io.Reader
	if opts.Body != nil {
		bodyReader = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.config.GetToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     opts.Method,
			Endpoint:   opts.Path,
			Body:       string(body),
		}
	}
	return body, nil
}

func isClientError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode >= 400 && he.StatusCode < 500
}

// GetJSON issues a GET and decodes the response into out.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query map[string]string, out any) error {
	body, err := c.DoRequest(ctx, RequestOptions{
		Method:      http.MethodGet,
		Path:        path,
		QueryParams: query,
	})
	if err != nil {
		return err
	}
	return decode(body, out)
}

// SendJSON encodes in as the request body, issues the request and decodes the response into
// out. out may be nil when the caller does not need the response.
func (c *HTTPClient) SendJSON(ctx context.Context, method, path string, query map[string]string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	body, err := c.DoRequest(ctx, RequestOptions{
		Method:      method,
		Path:        path,
		QueryParams: query,
		Body:        data,
	})
	if err != nil {
		return err
	}
	return decode(body, out)
}

func decode(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = body
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
