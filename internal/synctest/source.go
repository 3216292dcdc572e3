// Package synctest provides in-process fakes of the source platform and the target catalog.
// Both speak the same wire format as the real services, so the clients under test exercise
// their full request and decoding paths.
package synctest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
)

// App is an application as returned by the source platform.
type App struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// LastDeploy describes the most recent deployment into an environment.
type LastDeploy struct {
	Status    string `json:"status"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
}

// Env is an environment as returned by the source platform.
type Env struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	CreatedAt  string      `json:"created_at"`
	LastDeploy *LastDeploy `json:"last_deploy,omitempty"`
}

// Resource is an active resource as returned by the source platform.
type Resource struct {
	AppID        string         `json:"app_id"`
	EnvID        string         `json:"env_id"`
	ResID        string         `json:"res_id"`
	GuResID      string         `json:"gu_res_id"`
	Type         string         `json:"type"`
	Class        string         `json:"class"`
	Status       string         `json:"status"`
	DriverType   string         `json:"driver_type"`
	DefID        string         `json:"def_id"`
	DefVersionID string         `json:"def_version_id"`
	UpdatedAt    string         `json:"updated_at"`
	Resource     map[string]any `json:"resource"`
}

// GraphNode is a node of the resource dependency graph.
type GraphNode struct {
	GuResID        string         `json:"guresid"`
	DefID          string         `json:"def_id"`
	Type           string         `json:"type"`
	Class          string         `json:"class"`
	ResourceSchema map[string]any `json:"resource_schema"`
	Resource       map[string]any `json:"resource"`
	DependsOn      []string       `json:"depends_on"`
}

// GraphRequestItem is one entry of a graph request body.
type GraphRequestItem struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Resource map[string]any `json:"resource"`
}

// SourcePlatform is a fake source platform API scoped to a single organization.
type SourcePlatform struct {
	OrgID string

	mu            sync.Mutex
	apps          []App
	envs          map[string][]Env
	resources     map[string][]Resource
	nodes         map[string]GraphNode
	resourceNodes map[string]string
	failures      map[string]int
	calls         map[string]int
	graphRequests [][]GraphRequestItem

	server *httptest.Server
}

// NewSourcePlatform starts a fake source platform. Close it when done.
func NewSourcePlatform(orgID string) *SourcePlatform {
	s := &SourcePlatform{
		OrgID:         orgID,
		envs:          make(map[string][]Env),
		resources:     make(map[string][]Resource),
		nodes:         make(map[string]GraphNode),
		resourceNodes: make(map[string]string),
		failures:      make(map[string]int),
		calls:         make(map[string]int),
	}
	r := chi.NewRouter()
	r.Use(s.record)
	r.Route("/orgs/{org}", func(r chi.Router) {
		r.Get("/apps", s.listApps)
		r.Get("/apps/{app}/envs", s.listEnvs)
		r.Get("/apps/{app}/envs/{env}/resources", s.listResources)
		r.Post("/apps/{app}/envs/{env}/resources/graph", s.graph)
	})
	s.server = httptest.NewServer(r)
	return s
}

// URL returns the base URL of the fake, without the organization segment.
func (s *SourcePlatform) URL() string {
	return s.server.URL
}

// Close shuts the fake down.
func (s *SourcePlatform) Close() {
	s.server.Close()
}

// AddApp registers an application.
func (s *SourcePlatform) AddApp(app App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps = append(s.apps, app)
}

// AddEnv registers an environment under appID.
func (s *SourcePlatform) AddEnv(appID string, env Env) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs[appID] = append(s.envs[appID], env)
}

// AddResource registers an active resource. node, when non-nil, is the graph node the
// resource resolves to.
func (s *SourcePlatform) AddResource(appID, envID string, res Resource, node *GraphNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := appID + "/" + envID
	s.resources[key] = append(s.resources[key], res)
	if node != nil {
		s.nodes[node.GuResID] = *node
		s.resourceNodes[res.ResID] = node.GuResID
	}
}

// AddGraphNode registers a graph node that no active resource maps to directly, such as a
// shared dependency.
func (s *SourcePlatform) AddGraphNode(node GraphNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.GuResID] = node
}

// FailWith makes every request to path (relative to the organization) fail with status.
func (s *SourcePlatform) FailWith(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[s.fullPath(path)] = status
}

// Calls returns how many times method path (relative to the organization) was requested.
func (s *SourcePlatform) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+s.fullPath(path)]
}

// GraphRequests returns the bodies of every graph request received, in arrival order.
func (s *SourcePlatform) GraphRequests() [][]GraphRequestItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]GraphRequestItem, len(s.graphRequests))
	copy(out, s.graphRequests)
	return out
}

func (s *SourcePlatform) fullPath(path string) string {
	return "/orgs/" + s.OrgID + path
}

func (s *SourcePlatform) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		status, fail := s.failures[r.URL.Path]
		s.mu.Unlock()
		if fail {
			http.Error(w, `{"error":"injected failure"}`, status)
			return
		}
		if r.Header.Get("Authorization") == "" {
			http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *SourcePlatform) listApps(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.apps))
}

func (s *SourcePlatform) listEnvs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.envs[chi.URLParam(r, "app")]))
}

func (s *SourcePlatform) listResources(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chi.URLParam(r, "app") + "/" + chi.URLParam(r, "env")
	writeJSON(w, http.StatusOK, nonNil(s.resources[key]))
}

// graph answers with the nodes of the requested resources followed by everything they
// transitively depend on. Requested nodes come first, in request order.
func (s *SourcePlatform) graph(w http.ResponseWriter, r *http.Request) {
	var items []GraphRequestItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphRequests = append(s.graphRequests, items)

	seen := make(map[string]bool)
	out := []GraphNode{}
	var queue []string
	for _, it := range items {
		if id, ok := s.resourceNodes[it.ID]; ok && !seen[id] {
			seen[id] = true
			out = append(out, s.nodes[id])
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range s.nodes[id].DependsOn {
			if node, ok := s.nodes[dep]; ok && !seen[dep] {
				seen[dep] = true
				out = append(out, node)
				queue = append(queue, dep)
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
