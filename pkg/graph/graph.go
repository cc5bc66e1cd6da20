// Package graph holds the in-memory knowledge graph the reasoning pipeline
// queries. Entities live in an arena indexed by id; adjacency lists are kept
// per (entity, relationship type) in both directions.
package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

// Batch is one ingestion unit. Entities and relationships are upserted;
// an entity that already exists keeps its position in the arena.
type Batch struct {
	Entities      []common.Entity       `json:"entities"`
	Relationships []common.Relationship `json:"relationships"`
}

// ApplyResult describes the effect of an applied batch.
type ApplyResult struct {
	Version uint64
	// ChangedIDs lists new or modified entities and the endpoints of new or
	// modified relationships in batch order.
	ChangedIDs []string
}

type adjKey struct {
	node int
	rel  common.RelType
}

type edge struct {
	other int
	rel   int
}

// Graph is the entity arena. It is safe for concurrent use; readers never
// hold the lock across a blocking call.
type Graph struct {
	registry *schema.Registry

	mu       sync.RWMutex
	entities []common.Entity
	index    map[string]int
	byType   map[common.EntityType][]int
	rels     []common.Relationship
	relIndex map[string]int
	out      map[adjKey][]edge
	in       map[adjKey][]edge
	version  uint64
}

// New creates an empty graph bound to a schema registry.
func New(registry *schema.Registry) *Graph {
	return &Graph{
		registry: registry,
		index:    make(map[string]int),
		byType:   make(map[common.EntityType][]int),
		relIndex: make(map[string]int),
		out:      make(map[adjKey][]edge),
		in:       make(map[adjKey][]edge),
	}
}

// Apply validates the whole batch first and applies it only if every
// entity and relationship is schema-valid. Applying the same batch twice
// leaves the graph content unchanged; the version increments on every
// successful batch.
func (g *Graph) Apply(_ context.Context, batch Batch) (ApplyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.validate(batch); err != nil {
		return ApplyResult{}, err
	}

	changed := make([]string, 0, len(batch.Entities))
	seen := make(map[string]struct{})
	mark := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		changed = append(changed, id)
	}

	for _, e := range batch.Entities {
		if idx, ok := g.index[e.ID]; ok {
			if maps.Equal(g.entities[idx].Attributes, e.Attributes) {
				continue
			}
			g.entities[idx] = e.Clone()
			mark(e.ID)
			continue
		}
		idx := len(g.entities)
		g.entities = append(g.entities, e.Clone())
		g.index[e.ID] = idx
		g.byType[e.Type] = append(g.byType[e.Type], idx)
		mark(e.ID)
	}

	for _, r := range batch.Relationships {
		key := r.Key()
		if ri, ok := g.relIndex[key]; ok {
			if maps.Equal(g.rels[ri].Attributes, r.Attributes) {
				continue
			}
			g.rels[ri] = cloneRelationship(r)
			mark(r.SourceID)
			mark(r.TargetID)
			continue
		}
		ri := len(g.rels)
		g.rels = append(g.rels, cloneRelationship(r))
		g.relIndex[key] = ri

		src, dst := g.index[r.SourceID], g.index[r.TargetID]
		g.out[adjKey{src, r.Type}] = append(g.out[adjKey{src, r.Type}], edge{other: dst, rel: ri})
		g.in[adjKey{dst, r.Type}] = append(g.in[adjKey{dst, r.Type}], edge{other: src, rel: ri})
		mark(r.SourceID)
		mark(r.TargetID)
	}

	g.version++
	logger.Debug("[Graph] Applied batch", "version", g.version, "entities", len(batch.Entities), "relationships", len(batch.Relationships), "changed", len(changed))

	return ApplyResult{Version: g.version, ChangedIDs: changed}, nil
}

func (g *Graph) validate(batch Batch) error {
	types := make(map[string]common.EntityType, len(batch.Entities))
	for _, e := range batch.Entities {
		if err := g.registry.ValidateEntity(e); err != nil {
			return err
		}
		if idx, ok := g.index[e.ID]; ok && g.entities[idx].Type != e.Type {
			return common.Errorf(common.KindSchemaViolation, "entity %s: type change from %s to %s", e.ID, g.entities[idx].Type, e.Type)
		}
		if prev, ok := types[e.ID]; ok && prev != e.Type {
			return common.Errorf(common.KindSchemaViolation, "entity %s: conflicting types %s and %s in batch", e.ID, prev, e.Type)
		}
		types[e.ID] = e.Type
	}

	typeOf := func(id string) (common.EntityType, bool) {
		if t, ok := types[id]; ok {
			return t, true
		}
		if idx, ok := g.index[id]; ok {
			return g.entities[idx].Type, true
		}
		return "", false
	}

	for _, r := range batch.Relationships {
		src, ok := typeOf(r.SourceID)
		if !ok {
			return common.Errorf(common.KindSchemaViolation, "relationship %s: unknown source %q", r.Key(), r.SourceID)
		}
		dst, ok := typeOf(r.TargetID)
		if !ok {
			return common.Errorf(common.KindSchemaViolation, "relationship %s: unknown target %q", r.Key(), r.TargetID)
		}
		if err := g.registry.ValidateRelationship(r, src, dst); err != nil {
			return err
		}
	}
	return nil
}

// Replace swaps the whole graph content for the batch, as done when a full
// snapshot is loaded from a store. The batch is validated against an empty
// graph; on failure the current content is kept.
func (g *Graph) Replace(ctx context.Context, batch Batch) (ApplyResult, error) {
	return g.ReplaceAt(ctx, batch, 0)
}

// ReplaceAt is Replace adopting the version of the store the batch was
// loaded from. Versions never go backwards: a version not above the
// current one increments it instead.
func (g *Graph) ReplaceAt(ctx context.Context, batch Batch, version uint64) (ApplyResult, error) {
	fresh := New(g.registry)
	res, err := fresh.Apply(ctx, batch)
	if err != nil {
		return ApplyResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.entities = fresh.entities
	g.index = fresh.index
	g.byType = fresh.byType
	g.rels = fresh.rels
	g.relIndex = fresh.relIndex
	g.out = fresh.out
	g.in = fresh.in
	if version > g.version {
		g.version = version
	} else {
		g.version++
	}

	res.Version = g.version
	return res, nil
}

// Version returns the current snapshot version.
func (g *Graph) Version(context.Context) (uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version, nil
}

// Len returns the number of entities and relationships.
func (g *Graph) Len() (entities, relationships int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities), len(g.rels)
}

// Entity returns a copy of the entity with the given id.
func (g *Graph) Entity(id string) (common.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return common.Entity{}, false
	}
	return g.entities[idx].Clone(), true
}

// ResolveName returns entities whose id or name equals name, ignoring case,
// in insertion order. Types restricts the candidates when given.
func (g *Graph) ResolveName(_ context.Context, name string, types ...common.EntityType) ([]common.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []common.Entity
	for _, e := range g.entities {
		if len(types) > 0 && !slices.Contains(types, e.Type) {
			continue
		}
		if strings.EqualFold(e.ID, name) {
			out = append(out, e.Clone())
			continue
		}
		if n, ok := e.Attributes["name"].(string); ok && strings.EqualFold(n, name) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// IDs lists the ids of all entities of a type in insertion order.
func (g *Graph) IDs(_ context.Context, typ common.EntityType) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idxs := g.byType[typ]
	out := make([]string, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, g.entities[idx].ID)
	}
	return out, nil
}

// Neighborhood returns the entity and everything one outgoing relationship
// away, grouped by relationship type in registry order.
func (g *Graph) Neighborhood(_ context.Context, id string) (query.Neighborhood, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.index[id]
	if !ok {
		return query.Neighborhood{}, fmt.Errorf("entity %s: %w", id, common.ErrNotFound)
	}

	n := query.Neighborhood{Center: g.entities[idx].Clone(), Version: g.version}
	for _, rel := range g.registry.Relationships() {
		for _, e := range g.out[adjKey{idx, rel}] {
			n.Related = append(n.Related, g.entities[e.other].Clone())
			n.Relationships = append(n.Relationships, cloneRelationship(g.rels[e.rel]))
		}
	}
	return n, nil
}

func cloneRelationship(r common.Relationship) common.Relationship {
	if r.Attributes != nil {
		r.Attributes = maps.Clone(r.Attributes)
	}
	return r
}
