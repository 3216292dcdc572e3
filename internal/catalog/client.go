// Package catalog writes entities to the target software catalog.
//
// The client authenticates once per run with a client id and secret and keeps the returned
// bearer token for every later call. Entity writes use upsert+merge semantics, so repeating a
// write with more relations adds them without disturbing stored properties.
package catalog

import (
	"context"
	"net/http"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tansive/catalogsync/internal/common/apperrors"
	"github.com/tansive/catalogsync/internal/common/httpclient"
	"github.com/tansive/catalogsync/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrCatalogRequest   = apperrors.New("catalog request failed")
	ErrNotAuthenticated = apperrors.New("catalog client is not authenticated").SetStatusCode(http.StatusUnauthorized)
	ErrInvalidResponse  = apperrors.New("unexpected catalog response")
)

// Entity is the catalog representation of a synced object.
type Entity struct {
	Identifier string         `json:"identifier"`
	Title      string         `json:"title,omitempty"`
	Properties map[string]any `json:"properties"`
	Relations  map[string]any `json:"relations"`
}

// Config holds the catalog location and credentials.
type Config struct {
	URL          string
	ClientID     string
	ClientSecret string
}

// Client talks to the catalog API.
type Client struct {
	cfg  Config
	http httpclient.HTTPClientInterface

	mu    sync.RWMutex
	token string
}

// NewClient returns an unauthenticated client. Call Authenticate before writing.
func NewClient(cfg Config, opts ...httpclient.ClientOptions) *Client {
	c := &Client{cfg: cfg}
	c.http = httpclient.NewClient(c, opts...)
	return c
}

// GetServerURL implements httpclient.Configurator.
func (c *Client) GetServerURL() string {
	return strings.TrimRight(c.cfg.URL, "/")
}

// GetToken implements httpclient.Configurator.
func (c *Client) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Authenticated reports whether the client holds a token.
func (c *Client) Authenticated() bool {
	return c.GetToken() != ""
}

// Authenticate exchanges the client credentials for an access token and keeps it for the
// rest of the run.
func (c *Client) Authenticate(ctx context.Context) error {
	log.Ctx(ctx).Info().Msg("authenticating with catalog")
	var body []byte
	err := c.http.SendJSON(ctx, http.MethodPost, "/v1/auth/access_token", nil, map[string]string{
		"clientId":     c.cfg.ClientID,
		"clientSecret": c.cfg.ClientSecret,
	}, &body)
	if err != nil {
		return ErrCatalogRequest.MsgErr("unable to authenticate with catalog", err)
	}
	token := gjson.GetBytes(body, "accessToken").String()
	if token == "" {
		return ErrInvalidResponse.Msg("access token missing from authentication response")
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	log.Ctx(ctx).Info().Msg("authentication successful")
	return nil
}

// UpsertEntity creates the entity under blueprintID or merges it into the existing one, and
// returns the catalog's representation of the result.
func (c *Client) UpsertEntity(ctx context.Context, blueprintID string, entity Entity) (Entity, error) {
	if !c.Authenticated() {
		return Entity{}, ErrNotAuthenticated
	}
	if entity.Properties == nil {
		entity.Properties = map[string]any{}
	}
	if entity.Relations == nil {
		entity.Relations = map[string]any{}
	}

	path := "/v1/blueprints/" + blueprintID + "/entities"
	var body []byte
	err := c.http.SendJSON(ctx, http.MethodPost, path, map[string]string{"upsert": "true", "merge": "true"}, entity, &body)
	metrics.CatalogUpserts.WithLabelValues(blueprintID, metrics.Result(err)).Inc()
	if err != nil {
		return Entity{}, ErrCatalogRequest.MsgErr("unable to upsert entity", err).
			WithField("blueprint", blueprintID).
			WithField("identifier", entity.Identifier)
	}
	log.Ctx(ctx).Debug().Str("blueprint", blueprintID).Str("identifier", entity.Identifier).Msg("entity upserted")

	var out Entity
	if raw := gjson.GetBytes(body, "entity"); raw.Exists() {
		if err := json.Unmarshal([]byte(raw.Raw), &out); err != nil {
			return Entity{}, ErrInvalidResponse.MsgErr("unable to decode upserted entity", err)
		}
		return out, nil
	}
	return entity, nil
}

// EnsureBlueprint creates the blueprint described by definition, or updates it when a
// blueprint with the same identifier exists.
func (c *Client) EnsureBlueprint(ctx context.Context, definition []byte) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	id := gjson.GetBytes(definition, "identifier").String()
	if id == "" {
		return ErrInvalidResponse.Msg("blueprint definition has no identifier")
	}
	logger := log.Ctx(ctx).With().Str("blueprint", id).Logger()

	path := "/v1/blueprints/" + id
	_, err := c.http.DoRequest(ctx, httpclient.RequestOptions{Method: http.MethodGet, Path: path})
	switch {
	case err == nil:
		logger.Info().Msg("blueprint exists, updating")
		_, err = c.http.DoRequest(ctx, httpclient.RequestOptions{Method: http.MethodPut, Path: path, Body: definition})
	case httpclient.IsStatus(err, http.StatusNotFound):
		logger.Info().Msg("blueprint not found, creating")
		_, err = c.http.DoRequest(ctx, httpclient.RequestOptions{Method: http.MethodPost, Path: "/v1/blueprints", Body: definition})
	}
	if err != nil {
		return ErrCatalogRequest.MsgErr("unable to create or update blueprint", err).WithField("blueprint", id)
	}
	return nil
}

// ListEntities returns every entity stored under blueprintID.
func (c *Client) ListEntities(ctx context.Context, blueprintID string) ([]Entity, error) {
	if !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	path := "/v1/blueprints/" + blueprintID + "/entities"
	var body []byte
	if err := c.http.GetJSON(ctx, path, nil, &body); err != nil {
		return nil, ErrCatalogRequest.MsgErr("unable to list entities", err).WithField("blueprint", blueprintID)
	}
	raw := gjson.GetBytes(body, "entities")
	if !raw.IsArray() {
		return nil, ErrInvalidResponse.Msg("entities missing from list response").WithField("blueprint", blueprintID)
	}
	var out []Entity
	if err := json.Unmarshal([]byte(raw.Raw), &out); err != nil {
		return nil, ErrInvalidResponse.MsgErr("unable to decode entities", err)
	}
	return out, nil
}

// DeleteEntity removes an entity. Deleting an entity that does not exist succeeds.
func (c *Client) DeleteEntity(ctx context.Context, blueprintID, identifier string) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	path := "/v1/blueprints/" + blueprintID + "/entities/" + identifier
	_, err := c.http.DoRequest(ctx, httpclient.RequestOptions{Method: http.MethodDelete, Path: path})
	if err != nil && !httpclient.IsStatus(err, http.StatusNotFound) {
		return ErrCatalogRequest.MsgErr("unable to delete entity", err).
			WithField("blueprint", blueprintID).
			WithField("identifier", identifier)
	}
	return nil
}

// DeleteBlueprint removes a blueprint. The catalog refuses to delete a blueprint that still
// has entities. Deleting a blueprint that does not exist succeeds.
func (c *Client) DeleteBlueprint(ctx context.Context, blueprintID string) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	_, err := c.http.DoRequest(ctx, httpclient.RequestOptions{Method: http.MethodDelete, Path: "/v1/blueprints/" + blueprintID})
	switch {
	case err == nil:
		log.Ctx(ctx).Info().Str("blueprint", blueprintID).Msg("blueprint deleted")
	case httpclient.IsStatus(err, http.StatusNotFound):
		log.Ctx(ctx).Info().Str("blueprint", blueprintID).Msg("blueprint does not exist")
	default:
		return ErrCatalogRequest.MsgErr("unable to delete blueprint", err).WithField("blueprint", blueprintID)
	}
	return nil
}
