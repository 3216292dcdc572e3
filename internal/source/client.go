// Package source reads the application hierarchy from the source platform.
//
// List calls consult the sync cache first; a miss fetches the level from the platform and
// stores it nested under its parents (applications, then environments by application, then
// resources by application and environment). Dependency graph requests are never cached.
package source

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tansive/catalogsync/internal/common/apperrors"
	"github.com/tansive/catalogsync/internal/common/httpclient"
	"github.com/tansive/catalogsync/internal/metrics"
	"github.com/tansive/catalogsync/internal/synccache"
)

var (
	ErrSourceRequest = apperrors.New("source platform request failed")
	ErrDecode        = apperrors.New("unexpected source platform payload")
)

// Config locates an organization on the source platform. It implements
// httpclient.Configurator.
type Config struct {
	URL   string
	OrgID string
	Token string
}

// GetServerURL returns the organization scoped base URL.
func (c Config) GetServerURL() string {
	return strings.TrimRight(c.URL, "/") + "/orgs/" + c.OrgID
}

// GetToken returns the platform API token.
func (c Config) GetToken() string {
	return c.Token
}

// Client is a cache-checked reader for the source platform.
type Client struct {
	http  httpclient.HTTPClientInterface
	cache *synccache.Store
	group singleflight.Group
}

// NewClient returns a client that issues requests through h and caches list results in cache.
func NewClient(h httpclient.HTTPClientInterface, cache *synccache.Store) *Client {
	return &Client{http: h, cache: cache}
}

// ListApplications returns every application of the organization.
func (c *Client) ListApplications(ctx context.Context) ([]Application, error) {
	level, err := c.cachedLevel(ctx, synccache.Applications, nil, "/apps", "id", func(m map[string]any) map[string]any {
		return m
	})
	if err != nil {
		return nil, err
	}
	return decodeLevel[Application](level)
}

// ListEnvironments returns the environments of appID.
func (c *Client) ListEnvironments(ctx context.Context, appID string) ([]Environment, error) {
	path := "/apps/" + appID + "/envs"
	level, err := c.cachedLevel(ctx, synccache.Environments, []string{appID}, path, "id", func(m map[string]any) map[string]any {
		return map[string]any{appID: m}
	})
	if err != nil {
		return nil, err
	}
	return decodeLevel[Environment](level)
}

// ListResources returns the active resources of envID in appID.
func (c *Client) ListResources(ctx context.Context, appID, envID string) ([]Resource, error) {
	path := "/apps/" + appID + "/envs/" + envID + "/resources"
	level, err := c.cachedLevel(ctx, synccache.Resources, []string{appID, envID}, path, "res_id", func(m map[string]any) map[string]any {
		return map[string]any{appID: map[string]any{envID: m}}
	})
	if err != nil {
		return nil, err
	}
	return decodeLevel[Resource](level)
}

// FetchDependencyGraph returns the graph nodes for the given resources. The result is never
// cached.
func (c *Client) FetchDependencyGraph(ctx context.Context, appID, envID string, nodes []GraphRequest) ([]GraphNode, error) {
	path := "/apps/" + appID + "/envs/" + envID + "/resources/graph"
	if nodes == nil {
		nodes = []GraphRequest{}
	}
	var out []GraphNode
	err := c.http.SendJSON(ctx, http.MethodPost, path, nil, nodes, &out)
	metrics.SourceRequests.WithLabelValues("graph", metrics.Result(err)).Inc()
	if err != nil {
		return nil, ErrSourceRequest.MsgErr("unable to fetch dependency graph", err).
			WithField("endpoint", path)
	}
	return out, nil
}

// cachedLevel returns the mapping stored at namespace/path..., fetching it from endpoint on
// a miss. Concurrent misses for the same slot share one request. idKey names the field that
// keys each item; nest wraps the fetched {id: item} mapping in its parent ids.
func (c *Client) cachedLevel(ctx context.Context, namespace string, path []string, endpoint, idKey string, nest func(map[string]any) map[string]any) (map[string]any, error) {
	if level, ok := c.lookup(namespace, path); ok {
		metrics.SourceCacheLookups.WithLabelValues(namespace, "hit").Inc()
		log.Ctx(ctx).Debug().Str("namespace", namespace).Strs("path", path).Msg("cache hit")
		return level, nil
	}
	metrics.SourceCacheLookups.WithLabelValues(namespace, "miss").Inc()

	key := namespace + "/" + strings.Join(path, "/")
	v, err, _ := c.group.Do(key, func() (any, error) {
		if level, ok := c.lookup(namespace, path); ok {
			return level, nil
		}
		var items []map[string]any
		err := c.http.GetJSON(ctx, endpoint, nil, &items)
		metrics.SourceRequests.WithLabelValues(namespace, metrics.Result(err)).Inc()
		if err != nil {
			return nil, ErrSourceRequest.MsgErr("unable to list "+namespace, err).WithField("endpoint", endpoint)
		}
		level := make(map[string]any, len(items))
		for _, item := range items {
			id, ok := item[idKey].(string)
			if !ok || id == "" {
				return nil, ErrDecode.Msg(fmt.Sprintf("%s item without %q", namespace, idKey)).WithField("endpoint", endpoint)
			}
			level[id] = item
		}
		c.cache.Set(namespace, nest(level))
		return level, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func (c *Client) lookup(namespace string, path []string) (map[string]any, bool) {
	v, ok := c.cache.Lookup(namespace, path...)
	if !ok {
		return nil, false
	}
	level, ok := v.(map[string]any)
	return level, ok
}

// decodeLevel converts a cached {id: item} mapping into typed values ordered by id.
func decodeLevel[T any](level map[string]any) ([]T, error) {
	ids := make([]string, 0, len(level))
	for id := range level {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		var v T
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			WeaklyTypedInput: true,
			Result:           &v,
		})
		if err != nil {
			return nil, ErrDecode.MsgErr("unable to create decoder", err)
		}
		if err := dec.Decode(level[id]); err != nil {
			return nil, ErrDecode.MsgErr(fmt.Sprintf("unable to decode %q", id), err)
		}
		out = append(out, v)
	}
	return out, nil
}
