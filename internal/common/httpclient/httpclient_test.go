package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfig struct {
	ServerURL string
	Token     string
}

func (s staticConfig) GetServerURL() string { return s.ServerURL }
func (s staticConfig) GetToken() string     { return s.Token }

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orgs/acme/apps", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Write([]byte(`[{"id":"billing"}]`))
	}))
	defer srv.Close()

	c := NewClient(staticConfig{ServerURL: srv.URL + "/orgs/acme", Token: "secret"})
	var out []map[string]any
	err := c.GetJSON(context.Background(), "/apps", map[string]string{"page": "1"}, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "billing", out[0]["id"])
}

func TestSendJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"clientId":"id"}`, string(b))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"accessToken":"tok"}`))
	}))
	defer srv.Close()

	c := NewClient(staticConfig{ServerURL: srv.URL})
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	err := c.SendJSON(context.Background(), http.MethodPost, "/v1/auth/access_token", nil, map[string]string{"clientId": "id"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "tok", out.AccessToken)
}

func TestNon2xxKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"bad relation"}`))
	}))
	defer srv.Close()

	c := NewClient(staticConfig{ServerURL: srv.URL})
	_, err := c.DoRequest(context.Background(), RequestOptions{Method: http.MethodPost, Path: "/v1/blueprints/x/entities"})
	require.Error(t, err)

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnprocessableEntity, he.StatusCode)
	assert.Equal(t, "/v1/blueprints/x/entities", he.Endpoint)
	assert.Contains(t, he.Body, "bad relation")
	assert.True(t, IsStatus(err, http.StatusUnprocessableEntity))
}

func TestNoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(staticConfig{ServerURL: srv.URL})
	_, err := c.DoRequest(context.Background(), RequestOptions{Method: http.MethodGet, Path: "/apps"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryServerErrorsOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(staticConfig{ServerURL: srv.URL}, ClientOptions{RetryAttempts: 3, RetryDelay: time.Millisecond})
	_, err := c.DoRequest(context.Background(), RequestOptions{Method: http.MethodGet, Path: "/apps"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer unauthorized.Close()

	c = NewClient(staticConfig{ServerURL: unauthorized.URL}, ClientOptions{RetryAttempts: 3, RetryDelay: time.Millisecond})
	_, err = c.DoRequest(context.Background(), RequestOptions{Method: http.MethodGet, Path: "/apps"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
}
