package synctest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/sjson"
)

// Entity is an entity as stored by the fake catalog.
type Entity struct {
	Identifier string         `json:"identifier"`
	Title      string         `json:"title,omitempty"`
	Properties map[string]any `json:"properties"`
	Relations  map[string]any `json:"relations"`
}

// Write records one accepted upsert.
type Write struct {
	Seq        int
	Blueprint  string
	Identifier string
	Relations  map[string]any
}

// Catalog is a fake software catalog with upsert+merge semantics.
type Catalog struct {
	ClientID     string
	ClientSecret string

	// RelationTargets maps a relation name to the blueprint its targets must exist in. When
	// set, an upsert whose relation points to a missing entity is rejected with 422, the way
	// the real catalog rejects dangling relations.
	RelationTargets map[string]string

	// ValidateSchemas rejects upserts into unknown blueprints with 404 and upserts whose
	// properties do not match the blueprint schema with 422. Null properties count as unset.
	ValidateSchemas bool

	mu         sync.Mutex
	token      string
	entities   map[string]map[string]*Entity
	blueprints map[string]map[string]any
	schemas    map[string]*jsonschema.Schema
	writes     []Write
	failures   map[string]int
	authCalls  atomic.Int32

	server *httptest.Server
}

// NewCatalog starts a fake catalog that accepts the given credentials. Close it when done.
func NewCatalog(clientID, clientSecret string) *Catalog {
	c := &Catalog{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		token:        "token-for-" + clientID,
		entities:     make(map[string]map[string]*Entity),
		blueprints:   make(map[string]map[string]any),
		schemas:      make(map[string]*jsonschema.Schema),
		failures:     make(map[string]int),
	}
	r := chi.NewRouter()
	r.Post("/v1/auth/access_token", c.accessToken)
	r.Group(func(r chi.Router) {
		r.Use(c.authorize)
		r.Post("/v1/blueprints", c.createBlueprint)
		r.Get("/v1/blueprints/{bp}", c.getBlueprint)
		r.Put("/v1/blueprints/{bp}", c.updateBlueprint)
		r.Delete("/v1/blueprints/{bp}", c.deleteBlueprint)
		r.Post("/v1/blueprints/{bp}/entities", c.upsertEntity)
		r.Get("/v1/blueprints/{bp}/entities", c.listEntities)
		r.Delete("/v1/blueprints/{bp}/entities/{id}", c.deleteEntity)
	})
	c.server = httptest.NewServer(r)
	return c
}

// URL returns the base URL of the fake.
func (c *Catalog) URL() string {
	return c.server.URL
}

// Close shuts the fake down.
func (c *Catalog) Close() {
	c.server.Close()
}

// AuthCalls returns how many access tokens were issued.
func (c *Catalog) AuthCalls() int {
	return int(c.authCalls.Load())
}

// FailBlueprint makes every entity upsert into blueprint fail with status.
func (c *Catalog) FailBlueprint(blueprint string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[blueprint] = status
}

// Entity returns a copy of a stored entity.
func (c *Catalog) Entity(blueprint, id string) (Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[blueprint][id]
	if !ok {
		return Entity{}, false
	}
	return copyEntity(e), true
}

// Entities returns the identifiers stored under blueprint, sorted.
func (c *Catalog) Entities(blueprint string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.entities[blueprint]))
}

// Blueprint returns a stored blueprint definition.
func (c *Catalog) Blueprint(id string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp, ok := c.blueprints[id]
	return bp, ok
}

// Writes returns the accepted upserts for blueprint in arrival order. An empty blueprint
// returns every write.
func (c *Catalog) Writes(blueprint string) []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Write
	for _, w := range c.writes {
		if blueprint == "" || w.Blueprint == blueprint {
			out = append(out, w)
		}
	}
	return out
}

// Put stores an entity directly, bypassing the API.
func (c *Catalog) Put(blueprint string, e Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entities[blueprint] == nil {
		c.entities[blueprint] = make(map[string]*Entity)
	}
	cp := copyEntity(&e)
	c.entities[blueprint][e.Identifier] = &cp
}

// LoadBlueprints stores blueprint definitions directly, bypassing the API.
func (c *Catalog) LoadBlueprints(defs [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, def := range defs {
		var bp map[string]any
		if err := json.Unmarshal(def, &bp); err != nil {
			return err
		}
		id, _ := bp["identifier"].(string)
		if err := c.storeBlueprint(id, bp); err != nil {
			return err
		}
	}
	return nil
}

// storeBlueprint compiles the property schema of bp and stores both. Callers hold c.mu.
func (c *Catalog) storeBlueprint(id string, bp map[string]any) error {
	raw, err := json.Marshal(bp["schema"])
	if err != nil {
		return err
	}
	schema, err := compileSchema(raw)
	if err != nil {
		return fmt.Errorf("blueprint %s: %w", id, err)
	}
	c.blueprints[id] = bp
	c.schemas[id] = schema
	return nil
}

// compileSchema compiles a blueprint property schema. Undeclared properties are rejected
// and formats such as date-time are asserted.
func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	if string(raw) == "null" {
		raw = []byte(`{}`)
	}
	raw, err := sjson.SetBytes(raw, "type", "object")
	if err != nil {
		return nil, err
	}
	if raw, err = sjson.SetBytes(raw, "additionalProperties", false); err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	compiler.LoadURL = func(url string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("unsupported schema ref: %s", url)
	}
	if err := compiler.AddResource("inline://schema", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	return compiler.Compile("inline://schema")
}

// invalidProperties validates the non-null props against the schema of bp.
// Callers hold c.mu.
func (c *Catalog) invalidProperties(bp string, props map[string]any) (int, error) {
	schema, ok := c.schemas[bp]
	if !ok {
		return http.StatusNotFound, fmt.Errorf("blueprint not found: %s", bp)
	}
	set := make(map[string]any, len(props))
	for k, v := range props {
		if v != nil {
			set[k] = v
		}
	}
	if err := schema.Validate(set); err != nil {
		return http.StatusUnprocessableEntity, err
	}
	return 0, nil
}

func (c *Catalog) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+c.token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Catalog) accessToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}
	if req.ClientID != c.ClientID || req.ClientSecret != c.ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "invalid credentials"})
		return
	}
	c.authCalls.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "accessToken": c.token, "expiresIn": 3600})
}

func (c *Catalog) createBlueprint(w http.ResponseWriter, r *http.Request) {
	var bp map[string]any
	if err := json.NewDecoder(r.Body).Decode(&bp); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}
	id, _ := bp["identifier"].(string)
	if id == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"ok": false, "error": "identifier is required"})
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blueprints[id]; ok {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "blueprint exists"})
		return
	}
	if err := c.storeBlueprint(id, bp); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "blueprint": bp})
}

func (c *Catalog) getBlueprint(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp, ok := c.blueprints[chi.URLParam(r, "bp")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "blueprint": bp})
}

func (c *Catalog) updateBlueprint(w http.ResponseWriter, r *http.Request) {
	var bp map[string]any
	if err := json.NewDecoder(r.Body).Decode(&bp); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}
	id := chi.URLParam(r, "bp")
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blueprints[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		return
	}
	if err := c.storeBlueprint(id, bp); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "blueprint": bp})
}

func (c *Catalog) upsertEntity(w http.ResponseWriter, r *http.Request) {
	bp := chi.URLParam(r, "bp")
	var in Entity
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Identifier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid entity"})
		return
	}
	upsert := r.URL.Query().Get("upsert") == "true"
	merge := r.URL.Query().Get("merge") == "true"

	c.mu.Lock()
	defer c.mu.Unlock()

	if status, ok := c.failures[bp]; ok {
		writeJSON(w, status, map[string]any{"ok": false, "error": "injected failure"})
		return
	}
	if c.ValidateSchemas {
		if status, err := c.invalidProperties(bp, in.Properties); err != nil {
			writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	if missing := c.danglingRelation(in.Relations); missing != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"ok":    false,
			"error": "relation target not found: " + missing,
		})
		return
	}

	if c.entities[bp] == nil {
		c.entities[bp] = make(map[string]*Entity)
	}
	existing, exists := c.entities[bp][in.Identifier]
	switch {
	case exists && !upsert:
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "entity exists"})
		return
	case exists && merge:
		if in.Title != "" {
			existing.Title = in.Title
		}
		maps.Copy(existing.Properties, in.Properties)
		maps.Copy(existing.Relations, in.Relations)
	default:
		e := copyEntity(&in)
		existing = &e
		c.entities[bp][in.Identifier] = existing
	}

	c.writes = append(c.writes, Write{
		Seq:        len(c.writes),
		Blueprint:  bp,
		Identifier: in.Identifier,
		Relations:  maps.Clone(in.Relations),
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entity": copyEntity(existing)})
}

// danglingRelation returns the first relation target that does not exist, or "".
func (c *Catalog) danglingRelation(relations map[string]any) string {
	if len(c.RelationTargets) == 0 {
		return ""
	}
	for name, v := range relations {
		target, ok := c.RelationTargets[name]
		if !ok {
			continue
		}
		var ids []string
		switch t := v.(type) {
		case string:
			ids = []string{t}
		case []any:
			for _, x := range t {
				if s, ok := x.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		for _, id := range ids {
			if id == "" {
				continue
			}
			if _, ok := c.entities[target][id]; !ok {
				return name + "=" + id
			}
		}
	}
	return ""
}

func (c *Catalog) listEntities(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp := chi.URLParam(r, "bp")
	out := []Entity{}
	for _, id := range slices.Sorted(maps.Keys(c.entities[bp])) {
		out = append(out, copyEntity(c.entities[bp][id]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entities": out})
}

func (c *Catalog) deleteBlueprint(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp := chi.URLParam(r, "bp")
	if _, ok := c.blueprints[bp]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		return
	}
	if len(c.entities[bp]) > 0 {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "blueprint has entities"})
		return
	}
	delete(c.blueprints, bp)
	delete(c.schemas, bp)
	w.WriteHeader(http.StatusNoContent)
}

func (c *Catalog) deleteEntity(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp, id := chi.URLParam(r, "bp"), chi.URLParam(r, "id")
	if _, ok := c.entities[bp][id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		return
	}
	delete(c.entities[bp], id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func copyEntity(e *Entity) Entity {
	cp := Entity{
		Identifier: e.Identifier,
		Title:      e.Title,
		Properties: maps.Clone(e.Properties),
		Relations:  maps.Clone(e.Relations),
	}
	if cp.Properties == nil {
		cp.Properties = map[string]any{}
	}
	if cp.Relations == nil {
		cp.Relations = map[string]any{}
	}
	return cp
}

// HasRelations reports whether w carried at least one relation.
func (w Write) HasRelations() bool {
	return len(w.Relations) > 0
}

// RelationIDs returns the targets of relation name on w.
func (w Write) RelationIDs(name string) []string {
	switch t := w.Relations[name].(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
