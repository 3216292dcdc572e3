// Package syncer drives a sync run: it reads the application hierarchy from the source
// platform and publishes it to the catalog in five stages. Stages run one after the other;
// the work inside a stage runs concurrently and is joined before the next stage starts.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tansive/catalogsync/internal/catalog"
	"github.com/tansive/catalogsync/internal/common/apperrors"
	"github.com/tansive/catalogsync/internal/common/logtrace"
	"github.com/tansive/catalogsync/internal/entities"
	"github.com/tansive/catalogsync/internal/metrics"
	"github.com/tansive/catalogsync/internal/source"
)

var (
	ErrUnknownStage = apperrors.New("unknown sync stage")
	// ErrNoGraphNode is returned when the graph endpoint knows nothing about a resource.
	ErrNoGraphNode = apperrors.New("resource has no graph node")
)

// SourceReader is the read side of a sync run.
type SourceReader interface {
	ListApplications(ctx context.Context) ([]source.Application, error)
	ListEnvironments(ctx context.Context, appID string) ([]source.Environment, error)
	ListResources(ctx context.Context, appID, envID string) ([]source.Resource, error)
	FetchDependencyGraph(ctx context.Context, appID, envID string, nodes []source.GraphRequest) ([]source.GraphNode, error)
}

// CatalogWriter is the write side of a sync run.
type CatalogWriter interface {
	UpsertEntity(ctx context.Context, blueprintID string, entity catalog.Entity) (catalog.Entity, error)
}

// authenticator is implemented by writers that need a token before the first write.
type authenticator interface {
	Authenticated() bool
	Authenticate(ctx context.Context) error
}

// Stage names one step of a sync run.
type Stage string

const (
	StageApplications  Stage = "applications"
	StageEnvironments  Stage = "environments"
	StageModules       Stage = "modules"
	StageResourceGraph Stage = "graph"
	StageResources     Stage = "resources"
)

// AllStages lists every stage in execution order.
var AllStages = []Stage{StageApplications, StageEnvironments, StageModules, StageResourceGraph, StageResources}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(AllStages, st) {
		return st, nil
	}
	return "", ErrUnknownStage.Msg(fmt.Sprintf("unknown sync stage %q", s))
}

// Options tunes a run.
type Options struct {
	// MaxConcurrency bounds in-flight tasks per batch. 0 means unbounded.
	MaxConcurrency int
	// Stages restricts the run to a subset of stages. They always run in canonical order.
	// Empty means all stages.
	Stages []Stage
}

// Report summarizes a completed run.
type Report struct {
	RunID    string
	Stages   []Stage
	Duration time.Duration

	mu      sync.Mutex
	upserts map[string]int
}

func newReport(runID string) *Report {
	return &Report{RunID: runID, upserts: make(map[string]int)}
}

func (r *Report) add(blueprintID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts[blueprintID]++
}

// Upserts returns the number of accepted upserts for blueprintID.
func (r *Report) Upserts(blueprintID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts[blueprintID]
}

// Blueprints returns the blueprints written during the run, sorted.
func (r *Report) Blueprints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.upserts))
}

// Orchestrator runs sync stages against a source reader and a catalog writer.
type Orchestrator struct {
	src  SourceReader
	cat  CatalogWriter
	opts Options
}

// New returns an orchestrator bound to src and cat.
func New(src SourceReader, cat CatalogWriter, opts Options) *Orchestrator {
	return &Orchestrator{src: src, cat: cat, opts: opts}
}

// Run performs one sync run. It stops at the first failing stage; stages that completed
// before it are not rolled back.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	ctx, runID := logtrace.WithRun(ctx)
	log := logtrace.Logger(ctx)

	stages, err := o.stages()
	if err != nil {
		return nil, err
	}
	report := newReport(runID)
	report.Stages = stages
	r := &run{
		Orchestrator: o,
		batch:        &batchWriter{w: o.cat, limit: o.opts.MaxConcurrency, report: report},
	}

	start := time.Now()
	metrics.LastRunSuccess.Set(0)
	log.Info().Strs("stages", stageNames(stages)).Msg("sync run started")

	if a, ok := o.cat.(authenticator); ok && !a.Authenticated() {
		if err := a.Authenticate(ctx); err != nil {
			log.Error().Err(err).Msg("catalog authentication failed")
			return report, err
		}
	}

	for _, st := range stages {
		stageCtx := logtrace.WithFields(ctx, "stage", string(st))
		stageStart := time.Now()
		err := r.runStage(stageCtx, st)
		metrics.StageDuration.WithLabelValues(string(st)).Observe(time.Since(stageStart).Seconds())
		if err != nil {
			ev := logtrace.Logger(stageCtx).Error().Err(err)
			var ae apperrors.Error
			if errors.As(err, &ae) {
				ev = ev.Fields(ae.Fields())
			}
			ev.Msg("sync stage failed")
			report.Duration = time.Since(start)
			return report, err
		}
		logtrace.Logger(stageCtx).Info().Dur("elapsed", time.Since(stageStart)).Msg("sync stage completed")
	}

	report.Duration = time.Since(start)
	metrics.LastRunSuccess.Set(1)
	ev := log.Info().Dur("elapsed", report.Duration)
	for _, bp := range report.Blueprints() {
		ev = ev.Int(bp, report.Upserts(bp))
	}
	ev.Msg("sync run completed")
	return report, nil
}

func (o *Orchestrator) stages() ([]Stage, error) {
	if len(o.opts.Stages) == 0 {
		return slices.Clone(AllStages), nil
	}
	for _, st := range o.opts.Stages {
		if !slices.Contains(AllStages, st) {
			return nil, ErrUnknownStage.Msg(fmt.Sprintf("unknown sync stage %q", st))
		}
	}
	var out []Stage
	for _, st := range AllStages {
		if slices.Contains(o.opts.Stages, st) {
			out = append(out, st)
		}
	}
	return out, nil
}

func stageNames(stages []Stage) []string {
	out := make([]string, len(stages))
	for i, st := range stages {
		out[i] = string(st)
	}
	return out
}

// run holds the state of a single Run call.
type run struct {
	*Orchestrator
	batch *batchWriter
}

func (r *run) runStage(ctx context.Context, st Stage) error {
	switch st {
	case StageApplications:
		return r.syncApplications(ctx)
	case StageEnvironments:
		return r.syncEnvironments(ctx)
	case StageModules:
		return r.syncModules(ctx)
	case StageResourceGraph:
		return r.syncResourceGraph(ctx)
	case StageResources:
		return r.syncResources(ctx)
	}
	return ErrUnknownStage
}

type appEnv struct {
	app source.Application
	env source.Environment
}

// appEnvs lists every (application, environment) pair, application by application.
func (r *run) appEnvs(ctx context.Context) ([]appEnv, error) {
	apps, err := r.src.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	var out []appEnv
	for _, app := range apps {
		envs, err := r.src.ListEnvironments(ctx, app.ID)
		if err != nil {
			return nil, err
		}
		for _, env := range envs {
			out = append(out, appEnv{app: app, env: env})
		}
	}
	return out, nil
}

func (r *run) syncApplications(ctx context.Context) error {
	apps, err := r.src.ListApplications(ctx)
	if err != nil {
		return err
	}
	ents := make([]catalog.Entity, 0, len(apps))
	for _, app := range apps {
		ents = append(ents, entities.Application(app))
	}
	return r.batch.upsertAll(ctx, catalog.BlueprintApplication, ents)
}

// syncEnvironments upserts the environments of all applications as one batch.
func (r *run) syncEnvironments(ctx context.Context) error {
	pairs, err := r.appEnvs(ctx)
	if err != nil {
		return err
	}
	ents := make([]catalog.Entity, 0, len(pairs))
	for _, p := range pairs {
		ents = append(ents, entities.Environment(p.app.ID, p.env))
	}
	return r.batch.upsertAll(ctx, catalog.BlueprintEnvironment, ents)
}

// syncModules upserts the workloads of each environment, one environment at a time.
func (r *run) syncModules(ctx context.Context) error {
	pairs, err := r.appEnvs(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		resources, err := r.src.ListResources(ctx, p.app.ID, p.env.ID)
		if err != nil {
			return err
		}
		workloads := source.Workloads(source.GroupByWorkload(resources))
		if len(workloads) == 0 {
			continue
		}
		ents := make([]catalog.Entity, 0, len(workloads))
		for _, res := range workloads {
			ents = append(ents, entities.Workload(p.env.ID, res))
		}
		if err := r.batch.upsertAll(ctx, catalog.BlueprintWorkload, ents); err != nil {
			return err
		}
	}
	return nil
}

// syncResourceGraph publishes the dependency graph of the modules of each environment.
func (r *run) syncResourceGraph(ctx context.Context) error {
	pairs, err := r.appEnvs(ctx)
	if err != nil {
		return err
	}
	// shared across environments so a node may depend on one published for an earlier environment
	pub := newGraphPublisher(r.batch)
	for _, p := range pairs {
		modules, err := r.modules(ctx, p)
		if err != nil {
			return err
		}
		if len(modules) == 0 {
			continue
		}
		reqs := make([]source.GraphRequest, 0, len(modules))
		for _, res := range modules {
			reqs = append(reqs, source.GraphRequestFor(res))
		}
		nodes, err := r.src.FetchDependencyGraph(ctx, p.app.ID, p.env.ID, reqs)
		if err != nil {
			return err
		}
		logtrace.Logger(ctx).Debug().
			Str("app_id", p.app.ID).
			Str("env_id", p.env.ID).
			Int("nodes", len(nodes)).
			Msg("publishing resource graph")
		if err := pub.Publish(ctx, nodes); err != nil {
			return err
		}
	}
	return nil
}

// syncResources publishes one resource entity per module resource. For each application the
// graph lookups of all its environments run concurrently, then the resulting entities are
// upserted as one batch.
func (r *run) syncResources(ctx context.Context) error {
	apps, err := r.src.ListApplications(ctx)
	if err != nil {
		return err
	}
	for _, app := range apps {
		envs, err := r.src.ListEnvironments(ctx, app.ID)
		if err != nil {
			return err
		}

		type lookup struct {
			envID string
			res   source.Resource
		}
		var work []lookup
		for _, env := range envs {
			modules, err := r.modules(ctx, appEnv{app: app, env: env})
			if err != nil {
				return err
			}
			for _, res := range modules {
				work = append(work, lookup{envID: env.ID, res: res})
			}
		}

		ents := make([]catalog.Entity, len(work))
		g := r.batch.group()
		for i := range work {
			g.Go(func() error {
				stamped, err := r.stampGraphNode(ctx, app.ID, work[i].envID, work[i].res)
				if err != nil {
					return err
				}
				ents[i] = entities.Resource(stamped)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := r.batch.upsertAll(ctx, catalog.BlueprintResource, ents); err != nil {
			return err
		}
	}
	return nil
}

// modules returns the resources of the modules group of an environment.
func (r *run) modules(ctx context.Context, p appEnv) ([]source.Resource, error) {
	resources, err := r.src.ListResources(ctx, p.app.ID, p.env.ID)
	if err != nil {
		return nil, err
	}
	return source.GroupByWorkload(resources)[source.ModulesGroup], nil
}

// stampGraphNode asks the graph endpoint about res alone and records the node it maps to.
// The node whose id matches the resource's gu_res_id wins; otherwise the first node does.
func (r *run) stampGraphNode(ctx context.Context, appID, envID string, res source.Resource) (source.Resource, error) {
	nodes, err := r.src.FetchDependencyGraph(ctx, appID, envID, []source.GraphRequest{source.GraphRequestFor(res)})
	if err != nil {
		return res, err
	}
	if len(nodes) == 0 {
		return res, ErrNoGraphNode.Msg("no graph node for resource " + res.ResID)
	}
	node := nodes[0]
	for _, n := range nodes {
		if res.GuResID != "" && n.GuResID == res.GuResID {
			node = n
			break
		}
	}
	res.GraphNodeID = node.GuResID
	res.DependsOn = slices.Clone(node.DependsOn)
	return res, nil
}
