package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

func newDemoGraph(t *testing.T) *Graph {
	t.Helper()
	g := New(schema.Warehouse())
	_, err := g.Apply(context.Background(), DemoBatch())
	require.NoError(t, err)
	return g
}

func ids(rows []query.Row, binding int) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Entities[binding].ID)
	}
	return out
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := New(schema.Warehouse())

	first, err := g.Apply(ctx, DemoBatch())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Version)
	assert.Contains(t, first.ChangedIDs, "WH_001")

	entities, rels := g.Len()
	assert.Equal(t, 20, entities)
	assert.Equal(t, 22, rels)

	second, err := g.Apply(ctx, DemoBatch())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Version)
	assert.Empty(t, second.ChangedIDs)

	entities2, rels2 := g.Len()
	assert.Equal(t, entities, entities2)
	assert.Equal(t, rels, rels2)
}

func TestApplyReportsChangedEntities(t *testing.T) {
	g := newDemoGraph(t)

	res, err := g.Apply(context.Background(), Batch{
		Entities: []common.Entity{{ID: "IA_006", Type: common.TypeInfrastructureAsset, Attributes: map[string]any{"asset_type": schema.AssetFloodProtection, "operational": true}}},
		Relationships: []common.Relationship{
			{Type: common.RelHasInfrastructure, SourceID: "WH_002", TargetID: "IA_006"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"IA_006", "WH_002"}, res.ChangedIDs)
}

func TestApplyRejectsInvalidBatch(t *testing.T) {
	tests := []struct {
		name  string
		batch Batch
	}{
		{
			name: "unknown attribute",
			batch: Batch{Entities: []common.Entity{
				{ID: "WH_100", Type: common.TypeWarehouse, Attributes: map[string]any{"colour": "red"}},
			}},
		},
		{
			name: "wrong attribute kind",
			batch: Batch{Entities: []common.Entity{
				{ID: "WH_100", Type: common.TypeWarehouse, Attributes: map[string]any{"workers_count": "many"}},
			}},
		},
		{
			name: "type change",
			batch: Batch{Entities: []common.Entity{
				{ID: "WH_001", Type: common.TypeZone, Attributes: map[string]any{}},
			}},
		},
		{
			name: "unknown endpoint",
			batch: Batch{Relationships: []common.Relationship{
				{Type: common.RelLocatedIn, SourceID: "WH_001", TargetID: "ZN_404"},
			}},
		},
		{
			name: "disallowed triple",
			batch: Batch{Relationships: []common.Relationship{
				{Type: common.RelExperienced, SourceID: "ZN_1", TargetID: "RE_001"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newDemoGraph(t)
			before, _ := g.Version(context.Background())

			_, err := g.Apply(context.Background(), tt.batch)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrSchemaViolation))

			after, _ := g.Version(context.Background())
			assert.Equal(t, before, after)
		})
	}
}

func TestMatchFloodProneWithoutProtection(t *testing.T) {
	g := newDemoGraph(t)

	q := query.StructuredQuery{
		Start: query.Step{Type: common.TypeWarehouse},
		Conditions: []query.Condition{
			{Relationship: common.RelLocatedIn, Direction: query.Outgoing, TargetType: common.TypeZone, Filters: []query.Filter{query.Eq("flood_prone", true)}},
			{Negated: true, Relationship: common.RelHasInfrastructure, Direction: query.Outgoing, TargetType: common.TypeInfrastructureAsset, Filters: []query.Filter{query.Eq("asset_type", schema.AssetFloodProtection)}},
		},
	}

	rows, err := g.Match(context.Background(), q, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"WH_002"}, ids(rows, 0))
}

func TestMatchOptionalHopKeepsRow(t *testing.T) {
	g := newDemoGraph(t)

	q := query.StructuredQuery{
		Start: query.Step{Type: common.TypeWarehouse, IDs: []string{"WH_003"}},
		Hops: []query.Hop{{
			Relationships: []common.RelType{common.RelHasInfrastructure},
			Direction:     query.Outgoing,
			TargetTypes:   []common.EntityType{common.TypeInfrastructureAsset},
			Optional:      true,
		}},
	}

	rows, err := g.Match(context.Background(), q, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "WH_003", rows[0].Entities[0].ID)
	assert.Empty(t, rows[0].Entities[1].ID)

	q.Hops[0].Optional = false
	rows, err = g.Match(context.Background(), q, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMatchVariableLengthPath(t *testing.T) {
	g := newDemoGraph(t)

	q := query.StructuredQuery{
		Start: query.Step{Type: common.TypeWarehouse, IDs: []string{"WH_001"}},
		Hops: []query.Hop{{
			Relationships: []common.RelType{common.RelNear},
			Direction:     query.Both,
			TargetTypes:   []common.EntityType{common.TypeWarehouse, common.TypeInfrastructureAsset},
			MaxHops:       2,
		}},
	}

	rows, err := g.Match(context.Background(), q, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"WH_002", "IA_001"}, ids(rows, 1))
	assert.Len(t, rows[0].Relationships, 1)
	assert.Len(t, rows[1].Relationships, 2)

	q.Hops[0].MaxHops = 1
	rows, err = g.Match(context.Background(), q, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"WH_002"}, ids(rows, 1))
}

func TestMatchIsDeterministicAndBounded(t *testing.T) {
	g := newDemoGraph(t)

	q := query.StructuredQuery{
		Start: query.Step{Type: common.TypeWarehouse},
		Hops: []query.Hop{{
			Relationships: []common.RelType{common.RelHasInfrastructure, common.RelExperienced},
			Direction:     query.Outgoing,
			Optional:      true,
		}},
	}

	first, err := g.Match(context.Background(), q, 0)
	require.NoError(t, err)
	second, err := g.Match(context.Background(), q, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"WH_001", "WH_001", "WH_001", "WH_001", "WH_002", "WH_002", "WH_002", "WH_003", "WH_004"}, ids(first, 0))

	capped, err := g.Match(context.Background(), q, 3)
	require.NoError(t, err)
	assert.Equal(t, first[:3], capped)
}

func TestMatchPinnedIDsRespectType(t *testing.T) {
	g := newDemoGraph(t)

	rows, err := g.Match(context.Background(), query.StructuredQuery{
		Start: query.Step{Type: common.TypeWarehouse, IDs: []string{"ZN_1", "WH_004", "WH_404", "WH_004"}},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"WH_004"}, ids(rows, 0))
}

func TestMatchHonoursCancellation(t *testing.T) {
	g := newDemoGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Match(ctx, query.StructuredQuery{Start: query.Step{Type: common.TypeWarehouse}}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveName(t *testing.T) {
	g := newDemoGraph(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
		types []common.EntityType
		want  []string
	}{
		{name: "by name ignoring case", input: "central depot", want: []string{"WH_004"}},
		{name: "by id", input: "wh_001", want: []string{"WH_001"}},
		{name: "restricted by type", input: "Riverside", types: []common.EntityType{common.TypeWarehouse}, want: []string{}},
		{name: "zone name", input: "Riverside", types: []common.EntityType{common.TypeZone}, want: []string{"ZN_1"}},
		{name: "blank", input: "  ", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.ResolveName(ctx, tt.input, tt.types...)
			require.NoError(t, err)
			gotIDs := []string{}
			for _, e := range got {
				gotIDs = append(gotIDs, e.ID)
			}
			assert.Equal(t, tt.want, gotIDs)
		})
	}
}

func TestNeighborhood(t *testing.T) {
	g := newDemoGraph(t)

	n, err := g.Neighborhood(context.Background(), "WH_002")
	require.NoError(t, err)
	assert.Equal(t, "WH_002", n.Center.ID)
	assert.Equal(t, uint64(1), n.Version)

	related := make([]string, 0, len(n.Related))
	for _, e := range n.Related {
		related = append(related, e.ID)
	}
	assert.ElementsMatch(t, []string{"ZN_1", "RE_002", "RE_003", "IA_001", "IA_004", "MC_002"}, related)
	assert.Len(t, n.Relationships, len(n.Related))

	_, err = g.Neighborhood(context.Background(), "WH_404")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReturnedEntitiesAreCopies(t *testing.T) {
	g := newDemoGraph(t)

	e, ok := g.Entity("WH_001")
	require.True(t, ok)
	e.Attributes["name"] = "changed"

	again, _ := g.Entity("WH_001")
	assert.Equal(t, "North Hub", again.Name())
}

func TestReplace(t *testing.T) {
	g := newDemoGraph(t)

	res, err := g.Replace(context.Background(), Batch{Entities: []common.Entity{
		{ID: "ZN_9", Type: common.TypeZone, Attributes: map[string]any{"name": "Coast"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Version)

	entities, rels := g.Len()
	assert.Equal(t, 1, entities)
	assert.Equal(t, 0, rels)

	_, err = g.Replace(context.Background(), Batch{Entities: []common.Entity{{ID: "X_1", Type: "Spaceship"}}})
	require.Error(t, err)
	entities, _ = g.Len()
	assert.Equal(t, 1, entities)
}

func TestReplaceAtAdoptsStoreVersion(t *testing.T) {
	g := newDemoGraph(t)
	batch := Batch{Entities: []common.Entity{{ID: "ZN_9", Type: common.TypeZone, Attributes: map[string]any{"name": "Coast"}}}}

	res, err := g.ReplaceAt(context.Background(), batch, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.Version)

	res, err = g.ReplaceAt(context.Background(), batch, 40)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), res.Version)

	v, err := g.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(43), v)
}
