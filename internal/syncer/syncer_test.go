package syncer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansive/catalogsync/internal/catalog"
	"github.com/tansive/catalogsync/internal/common/httpclient"
	"github.com/tansive/catalogsync/internal/metrics"
	"github.com/tansive/catalogsync/internal/source"
	"github.com/tansive/catalogsync/internal/synccache"
	"github.com/tansive/catalogsync/internal/synctest"
)

type fixture struct {
	platform *synctest.SourcePlatform
	catalog  *synctest.Catalog
	src      *source.Client
	cat      *catalog.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	platform := synctest.NewSourcePlatform("acme")
	t.Cleanup(platform.Close)
	cat := synctest.NewCatalog("client-id", "client-secret")
	cat.RelationTargets = catalog.RelationTargets
	cat.ValidateSchemas = true
	t.Cleanup(cat.Close)
	defs, err := catalog.Blueprints()
	require.NoError(t, err)
	require.NoError(t, cat.LoadBlueprints(defs))

	h := httpclient.NewClient(source.Config{URL: platform.URL(), OrgID: "acme", Token: "secret"})
	return &fixture{
		platform: platform,
		catalog:  cat,
		src:      source.NewClient(h, synccache.New()),
		cat:      catalog.NewClient(catalog.Config{URL: cat.URL(), ClientID: "client-id", ClientSecret: "client-secret"}),
	}
}

// seedScenario registers one application with one environment and two modules, where the
// graph node of module b depends on the graph node of module a.
func (f *fixture) seedScenario() {
	f.platform.AddApp(synctest.App{ID: "billing", Name: "billing-app", CreatedAt: "2024-01-01T00:00:00Z"})
	f.platform.AddEnv("billing", synctest.Env{
		ID: "development", Name: "Development", Type: "development",
		LastDeploy: &synctest.LastDeploy{Status: "succeeded", Comment: "first", CreatedAt: "2024-02-01T00:00:00Z"},
	})
	f.platform.AddResource("billing", "development", synctest.Resource{
		ResID: "modules.a", GuResID: "g-a", Type: "workload", Class: "default", Status: "active",
	}, &synctest.GraphNode{GuResID: "g-a", DefID: "workload-a", Type: "workload", DependsOn: []string{}})
	f.platform.AddResource("billing", "development", synctest.Resource{
		ResID: "modules.b", GuResID: "g-b", Type: "workload", Class: "default", Status: "active",
	}, &synctest.GraphNode{GuResID: "g-b", DefID: "workload-b", Type: "workload", DependsOn: []string{"g-a"}})
	f.platform.AddResource("billing", "development", synctest.Resource{
		ResID: "shared.dns", GuResID: "g-dns", Type: "dns",
	}, nil)
}

func TestRunEndToEnd(t *testing.T) {
	for _, limit := range []int{0, 1} {
		f := newFixture(t)
		f.seedScenario()

		report, err := New(f.src, f.cat, Options{MaxConcurrency: limit}).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, []string{"billing"}, f.catalog.Entities(catalog.BlueprintApplication))
		app, _ := f.catalog.Entity(catalog.BlueprintApplication, "billing")
		assert.Equal(t, "Billing App", app.Title)

		assert.Equal(t, []string{"development"}, f.catalog.Entities(catalog.BlueprintEnvironment))
		env, _ := f.catalog.Entity(catalog.BlueprintEnvironment, "development")
		assert.Equal(t, "billing", env.Relations[catalog.RelationApplication])
		assert.Equal(t, "succeeded", env.Properties["lastDeploymentStatus"])

		assert.Equal(t, []string{"a", "b"}, f.catalog.Entities(catalog.BlueprintWorkload))
		wl, _ := f.catalog.Entity(catalog.BlueprintWorkload, "b")
		assert.Equal(t, "development", wl.Relations[catalog.RelationEnvironment])
		assert.Equal(t, "g-b", wl.Properties["graphResourceID"])

		assert.Equal(t, []string{"g-a", "g-b"}, f.catalog.Entities(catalog.BlueprintResourceGraph))
		nodeA, _ := f.catalog.Entity(catalog.BlueprintResourceGraph, "g-a")
		nodeB, _ := f.catalog.Entity(catalog.BlueprintResourceGraph, "g-b")
		assert.Equal(t, []any{}, nodeA.Relations[catalog.RelationResourceGraphs])
		assert.Equal(t, []any{"g-a"}, nodeB.Relations[catalog.RelationResourceGraphs])
		assert.Equal(t, "workload-b", nodeB.Properties["definitionId"])

		assert.Equal(t, []string{"g-a", "g-b"}, f.catalog.Entities(catalog.BlueprintResource))
		resA, _ := f.catalog.Entity(catalog.BlueprintResource, "g-a")
		resB, _ := f.catalog.Entity(catalog.BlueprintResource, "g-b")
		assert.Equal(t, "a", resA.Relations[catalog.RelationWorkload])
		assert.Equal(t, "b", resB.Relations[catalog.RelationWorkload])
		assert.Equal(t, []any{}, resA.Relations[catalog.RelationResourceGraphs])
		assert.Equal(t, []any{"g-a"}, resB.Relations[catalog.RelationResourceGraphs])

		assert.Equal(t, 1, report.Upserts(catalog.BlueprintApplication))
		assert.Equal(t, 1, report.Upserts(catalog.BlueprintEnvironment))
		assert.Equal(t, 2, report.Upserts(catalog.BlueprintWorkload))
		assert.Equal(t, 4, report.Upserts(catalog.BlueprintResourceGraph))
		assert.Equal(t, 2, report.Upserts(catalog.BlueprintResource))
		assert.Equal(t, AllStages, report.Stages)
		assert.NotEmpty(t, report.RunID)
		assert.Equal(t, 1, f.catalog.AuthCalls())
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LastRunSuccess))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedScenario()
	o := New(f.src, f.cat, Options{})

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	first, _ := f.catalog.Entity(catalog.BlueprintResourceGraph, "g-b")

	_, err = o.Run(context.Background())
	require.NoError(t, err)
	second, _ := f.catalog.Entity(catalog.BlueprintResourceGraph, "g-b")

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"g-a", "g-b"}, f.catalog.Entities(catalog.BlueprintResourceGraph))
}

func TestRunReadsEachLevelOnce(t *testing.T) {
	f := newFixture(t)
	f.seedScenario()

	_, err := New(f.src, f.cat, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.platform.Calls(http.MethodGet, "/apps"))
	assert.Equal(t, 1, f.platform.Calls(http.MethodGet, "/apps/billing/envs"))
	assert.Equal(t, 1, f.platform.Calls(http.MethodGet, "/apps/billing/envs/development/resources"))
	// one request for the whole graph, then one per module resource
	assert.Equal(t, 3, f.platform.Calls(http.MethodPost, "/apps/billing/envs/development/resources/graph"))

	reqs := f.platform.GraphRequests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[0], 2)
	assert.Len(t, reqs[1], 1)
	assert.Len(t, reqs[2], 1)
}

func TestRunStageSubset(t *testing.T) {
	f := newFixture(t)
	f.seedScenario()
	// workloads point to environments this run does not write
	f.catalog.RelationTargets = nil

	report, err := New(f.src, f.cat, Options{Stages: []Stage{StageModules, StageApplications}}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageApplications, StageModules}, report.Stages)
	assert.Equal(t, []string{"billing"}, f.catalog.Entities(catalog.BlueprintApplication))
	assert.Equal(t, []string{"a", "b"}, f.catalog.Entities(catalog.BlueprintWorkload))
	assert.Empty(t, f.catalog.Entities(catalog.BlueprintEnvironment))
	assert.Empty(t, f.catalog.Entities(catalog.BlueprintResourceGraph))
	assert.Equal(t, 0, f.platform.Calls(http.MethodPost, "/apps/billing/envs/development/resources/graph"))
}

func TestRunRejectsUnknownStage(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.src, f.cat, Options{Stages: []Stage{"deploy"}}).Run(context.Background())
	assert.ErrorIs(t, err, ErrUnknownStage)
	assert.Equal(t, 0, f.catalog.AuthCalls())
}

func TestParseStage(t *testing.T) {
	st, err := ParseStage(" Graph ")
	require.NoError(t, err)
	assert.Equal(t, StageResourceGraph, st)

	_, err = ParseStage("nope")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestRunStopsAtFailingStage(t *testing.T) {
	f := newFixture(t)
	f.seedScenario()
	f.catalog.FailBlueprint(catalog.BlueprintResourceGraph, http.StatusInternalServerError)

	_, err := New(f.src, f.cat, Options{}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrCatalogRequest)
	assert.True(t, httpclient.IsStatus(err, http.StatusInternalServerError))

	// earlier stages stay written, later stages never ran
	assert.Equal(t, []string{"a", "b"}, f.catalog.Entities(catalog.BlueprintWorkload))
	assert.Empty(t, f.catalog.Entities(catalog.BlueprintResource))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.LastRunSuccess))
}

func TestRunSourceFailure(t *testing.T) {
	f := newFixture(t)
	f.seedScenario()
	f.platform.FailWith("/apps/billing/envs", http.StatusBadGateway)

	_, err := New(f.src, f.cat, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, source.ErrSourceRequest)
	assert.Equal(t, []string{"billing"}, f.catalog.Entities(catalog.BlueprintApplication))
	assert.Empty(t, f.catalog.Entities(catalog.BlueprintEnvironment))
}

func TestRunSendsEmptyTimestampsAsNull(t *testing.T) {
	f := newFixture(t)
	f.platform.AddApp(synctest.App{ID: "billing", Name: "billing"})
	f.platform.AddEnv("billing", synctest.Env{ID: "development", Name: "Development", Type: "development"})

	_, err := New(f.src, f.cat, Options{Stages: []Stage{StageApplications, StageEnvironments}}).Run(context.Background())
	require.NoError(t, err)

	app, ok := f.catalog.Entity(catalog.BlueprintApplication, "billing")
	require.True(t, ok)
	assert.Contains(t, app.Properties, "createdAt")
	assert.Nil(t, app.Properties["createdAt"])
	env, _ := f.catalog.Entity(catalog.BlueprintEnvironment, "development")
	assert.Nil(t, env.Properties["lastDeploymentDate"])
}

func TestRunRejectedByBlueprintSchema(t *testing.T) {
	f := newFixture(t)
	f.platform.AddApp(synctest.App{ID: "billing", Name: "billing", CreatedAt: "yesterday"})

	_, err := New(f.src, f.cat, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, catalog.ErrCatalogRequest)
	assert.True(t, httpclient.IsStatus(err, http.StatusUnprocessableEntity))
	assert.Empty(t, f.catalog.Entities(catalog.BlueprintApplication))
}

// memWriter is an in-memory CatalogWriter that fails for one identifier after a delay.
type memWriter struct {
	mu      sync.Mutex
	written map[string][]string
	failID  string
	delay   time.Duration
}

var errWrite = errors.New("write rejected")

func (w *memWriter) UpsertEntity(ctx context.Context, blueprintID string, e catalog.Entity) (catalog.Entity, error) {
	if e.Identifier == w.failID {
		return catalog.Entity{}, errWrite
	}
	time.Sleep(w.delay)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.written == nil {
		w.written = make(map[string][]string)
	}
	w.written[blueprintID] = append(w.written[blueprintID], e.Identifier)
	return e, nil
}

func TestBatchFailureDoesNotCancelSiblings(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		f.platform.AddApp(synctest.App{ID: id, Name: id})
	}
	w := &memWriter{failID: "a3", delay: 20 * time.Millisecond}

	report, err := New(f.src, w, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, errWrite)

	// the failing write returns first; every sibling still completes before Run returns
	assert.ElementsMatch(t, []string{"a1", "a2", "a4", "a5"}, w.written[catalog.BlueprintApplication])
	assert.Equal(t, 4, report.Upserts(catalog.BlueprintApplication))
	assert.Equal(t, 0, f.platform.Calls(http.MethodGet, "/apps/a1/envs"))
}
