package syncer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tansive/catalogsync/internal/catalog"
	"github.com/tansive/catalogsync/internal/common/apperrors"
	"github.com/tansive/catalogsync/internal/entities"
	"github.com/tansive/catalogsync/internal/source"
)

// ErrSkeletonMissing is returned when relations are published for a node whose skeleton was
// never written by the same publisher.
var ErrSkeletonMissing = apperrors.New("graph node skeleton not published")

// batchWriter upserts entities concurrently and counts every accepted write.
type batchWriter struct {
	w      CatalogWriter
	limit  int
	report *Report
}

func (b *batchWriter) group() *errgroup.Group {
	g := &errgroup.Group{}
	if b.limit > 0 {
		g.SetLimit(b.limit)
	}
	return g
}

// upsertAll upserts every entity into blueprintID and waits for all of them. Siblings keep
// running when one fails; the first error is returned once all have finished.
func (b *batchWriter) upsertAll(ctx context.Context, blueprintID string, ents []catalog.Entity) error {
	g := b.group()
	for _, e := range ents {
		g.Go(func() error {
			if _, err := b.w.UpsertEntity(ctx, blueprintID, e); err != nil {
				return err
			}
			b.report.add(blueprintID)
			return nil
		})
	}
	return g.Wait()
}

// GraphPublisher writes the nodes of a dependency graph in two phases. PublishSkeletons
// writes every node without relations and returns only after all writes finished;
// PublishRelations then rewrites the nodes with their dependency lists. Since upserts merge,
// the second phase only adds relations, and every relation it writes points to a node the
// first phase already created, whatever the order or cycles of the graph.
type GraphPublisher struct {
	b *batchWriter

	mu        sync.Mutex
	skeletons map[string]struct{}
}

// NewGraphPublisher returns a publisher writing through w with at most maxConcurrency
// in-flight upserts per phase (0 means unbounded).
func NewGraphPublisher(w CatalogWriter, maxConcurrency int) *GraphPublisher {
	return newGraphPublisher(&batchWriter{w: w, limit: maxConcurrency, report: newReport("")})
}

func newGraphPublisher(b *batchWriter) *GraphPublisher {
	return &GraphPublisher{b: b, skeletons: make(map[string]struct{})}
}

// PublishSkeletons upserts a relation-less entity for every node and waits for all of them.
// A node counts as published only when the whole batch succeeded.
func (p *GraphPublisher) PublishSkeletons(ctx context.Context, nodes []source.GraphNode) error {
	ents := make([]catalog.Entity, 0, len(nodes))
	for _, n := range nodes {
		ents = append(ents, entities.GraphNodeSkeleton(n))
	}
	if err := p.b.upsertAll(ctx, catalog.BlueprintResourceGraph, ents); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range nodes {
		p.skeletons[n.GuResID] = struct{}{}
	}
	return nil
}

// PublishRelations upserts every node again with its dependency list and waits for all of
// them. Nothing is written unless every node of the batch, and every node it depends on,
// already has a published skeleton.
func (p *GraphPublisher) PublishRelations(ctx context.Context, nodes []source.GraphNode) error {
	if err := p.checkSkeletons(nodes); err != nil {
		return err
	}

	ents := make([]catalog.Entity, 0, len(nodes))
	for _, n := range nodes {
		ents = append(ents, entities.GraphNodeWithRelations(n))
	}
	return p.b.upsertAll(ctx, catalog.BlueprintResourceGraph, ents)
}

func (p *GraphPublisher) checkSkeletons(nodes []source.GraphNode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range nodes {
		if _, ok := p.skeletons[n.GuResID]; !ok {
			return ErrSkeletonMissing.Msg("graph node skeleton not published: " + n.GuResID)
		}
		for _, dep := range n.DependsOn {
			if _, ok := p.skeletons[dep]; !ok {
				return ErrSkeletonMissing.Msg("dependency skeleton not published: " + n.GuResID + " -> " + dep)
			}
		}
	}
	return nil
}

// Publish runs both phases for nodes.
func (p *GraphPublisher) Publish(ctx context.Context, nodes []source.GraphNode) error {
	if err := p.PublishSkeletons(ctx, nodes); err != nil {
		return err
	}
	return p.PublishRelations(ctx, nodes)
}
