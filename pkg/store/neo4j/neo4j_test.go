package neo4j

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

type call struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	results []*neo4j.EagerResult
	err     error
	calls   []call
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	f.calls = append(f.calls, call{cypher: cypher, params: params})
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return &neo4j.EagerResult{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func node(label, id string, props map[string]any) neo4j.Node {
	p := map[string]any{"id": id}
	for k, v := range props {
		p[k] = v
	}
	return neo4j.Node{Labels: []string{label}, Props: p}
}

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

func floodQuery() query.StructuredQuery {
	return query.StructuredQuery{
		Intent: query.IntentLookup,
		Start:  query.Step{Type: common.TypeWarehouse},
		Conditions: []query.Condition{
			{
				Relationship: common.RelLocatedIn,
				Direction:    query.Outgoing,
				TargetType:   common.TypeZone,
				Filters:      []query.Filter{query.Eq("flood_prone", true)},
			},
			{
				Negated:      true,
				Relationship: common.RelHasInfrastructure,
				Direction:    query.Outgoing,
				TargetType:   common.TypeInfrastructureAsset,
				Filters:      []query.Filter{query.Eq("asset_type", "FloodProtection")},
			},
		},
		Projection: []query.Field{{Attribute: "id"}, {Attribute: "name"}},
		Limit:      10,
	}
}

func TestCompileConditions(t *testing.T) {
	cypher, params, err := Compile(floodQuery(), 10)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(cypher, "MATCH (n0:`Warehouse`)"))
	assert.Contains(t, cypher, "EXISTS { MATCH (n0)-[:`LOCATED_IN`]->(c:`Zone`) WHERE c.`flood_prone` = $p0 }")
	assert.Contains(t, cypher, "NOT EXISTS { MATCH (n0)-[:`HAS_INFRASTRUCTURE`]->(c:`InfrastructureAsset`) WHERE toLower(coalesce(toString(c.`asset_type`), '')) = toLower($p1) }")
	assert.Contains(t, cypher, "ORDER BY n0.id")
	assert.Contains(t, cypher, "LIMIT $p2")
	assert.Equal(t, map[string]any{"p0": true, "p1": "FloodProtection", "p2": int64(10)}, params)
}

func TestCompileHops(t *testing.T) {
	q := query.StructuredQuery{
		Start: query.Step{Type: common.TypeWarehouse, IDs: []string{"WH_002"}},
		Hops: []query.Hop{
			{Relationships: []common.RelType{common.RelNear, common.RelSupplies}, Direction: query.Both, MaxHops: 2, TargetTypes: []common.EntityType{common.TypeWarehouse}},
			{Relationships: []common.RelType{common.RelExperienced}, Direction: query.Outgoing, MaxHops: 1, Optional: true,
				Filters: []query.Filter{{Attribute: "occurrence_count", Op: query.OpGte, Value: int64(2)}}},
		},
	}
	cypher, params, err := Compile(q, 0)
	require.NoError(t, err)

	assert.Contains(t, cypher, "WHERE n0.id IN $p0")
	assert.Contains(t, cypher, "MATCH p = (n0)-[:`NEAR`|`SUPPLIES`*1..2]-(m)")
	assert.Contains(t, cypher, "RETURN m AS n1, p AS p1")
	assert.Contains(t, cypher, "OPTIONAL MATCH p = (n1)-[:`EXPERIENCED`]->(m)")
	assert.Contains(t, cypher, "toFloat(m.`occurrence_count`) >= $p2")
	assert.Contains(t, cypher, "ORDER BY n0.id, n1.id, n2.id")
	assert.NotContains(t, cypher, "LIMIT")
	assert.Equal(t, []string{"WH_002"}, params["p0"])
	assert.Equal(t, []string{"Warehouse"}, params["p1"])
	assert.Equal(t, float64(2), params["p2"])
}

func TestCompileTypedFilter(t *testing.T) {
	q := query.StructuredQuery{
		Start: query.Step{Type: common.TypeWarehouse, Filters: []query.Filter{
			{Type: common.TypeWarehouse, Attribute: "name", Op: query.OpContains, Value: "river"},
		}},
	}
	cypher, params, err := Compile(q, 5)
	require.NoError(t, err)
	assert.Contains(t, cypher, "(NOT $p1 IN labels(n0) OR toLower(coalesce(toString(n0.`name`), '')) CONTAINS toLower($p0))")
	assert.Equal(t, "Warehouse", params["p1"])
}

func TestCompileRejectsInjectedNames(t *testing.T) {
	q := query.StructuredQuery{Start: query.Step{Type: common.EntityType("Warehouse) DETACH DELETE (x")}}
	_, _, err := Compile(q, 1)
	require.Error(t, err)

	s := NewWithRunner(&fakeRunner{}, schema.Warehouse())
	_, err = s.Match(context.Background(), q, 1)
	require.ErrorIs(t, err, common.ErrSchemaViolation)
}

func TestMatchConvertsRecords(t *testing.T) {
	keys := []string{"n0", "n1", "r1"}
	runner := &fakeRunner{results: []*neo4j.EagerResult{{
		Keys: keys,
		Records: []*neo4j.Record{
			record(keys,
				node("Warehouse", "WH_002", map[string]any{"name": "River Depot", "workers_count": int64(40)}),
				node("Zone", "ZN_1", map[string]any{"flood_prone": true}),
				[]any{map[string]any{"type": "LOCATED_IN", "source": "WH_002", "target": "ZN_1", "attributes": map[string]any{}}},
			),
			record(keys, node("Warehouse", "WH_003", nil), nil, nil),
		},
	}}}
	s := NewWithRunner(runner, schema.Warehouse())

	q := query.StructuredQuery{
		Start: query.Step{Type: common.TypeWarehouse},
		Hops:  []query.Hop{{Relationships: []common.RelType{common.RelLocatedIn}, Direction: query.Outgoing, MaxHops: 1, Optional: true}},
	}
	rows, err := s.Match(context.Background(), q, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "WH_002", rows[0].Entities[0].ID)
	assert.Equal(t, common.TypeWarehouse, rows[0].Entities[0].Type)
	assert.Equal(t, int64(40), rows[0].Entities[0].Attributes["workers_count"])
	assert.NotContains(t, rows[0].Entities[0].Attributes, "id")
	assert.Equal(t, "ZN_1", rows[0].Entities[1].ID)
	require.Len(t, rows[0].Relationships, 1)
	assert.Equal(t, common.Relationship{Type: common.RelLocatedIn, SourceID: "WH_002", TargetID: "ZN_1"}, rows[0].Relationships[0])

	assert.Equal(t, "WH_003", rows[1].Entities[0].ID)
	assert.Empty(t, rows[1].Entities[1].ID)
	assert.Empty(t, rows[1].Relationships)
}

func TestVersion(t *testing.T) {
	runner := &fakeRunner{results: []*neo4j.EagerResult{{
		Records: []*neo4j.Record{record([]string{"version"}, int64(7))},
	}}}
	s := NewWithRunner(runner, schema.Warehouse())

	v, err := s.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
}

func TestNeighborhoodOrdersByRelationshipType(t *testing.T) {
	related := []any{
		map[string]any{"node": node("RiskEvent", "RE_002", nil), "type": "EXPERIENCED", "attributes": map[string]any{}},
		map[string]any{"node": node("Zone", "ZN_1", nil), "type": "LOCATED_IN", "attributes": map[string]any{}},
		map[string]any{"node": node("RiskEvent", "RE_001", nil), "type": "EXPERIENCED", "attributes": map[string]any{}},
	}
	keys := []string{"c", "related", "version"}
	runner := &fakeRunner{results: []*neo4j.EagerResult{{
		Records: []*neo4j.Record{record(keys, node("Warehouse", "WH_001", nil), related, int64(3))},
	}}}
	registry := schema.Warehouse()
	s := NewWithRunner(runner, registry)

	n, err := s.Neighborhood(context.Background(), "WH_001")
	require.NoError(t, err)
	assert.Equal(t, "WH_001", n.Center.ID)
	assert.Equal(t, uint64(3), n.Version)
	require.Len(t, n.Related, 3)

	order := map[common.RelType]int{}
	for i, r := range registry.Relationships() {
		order[r] = i
	}
	for i := 1; i < len(n.Relationships); i++ {
		assert.LessOrEqual(t, order[n.Relationships[i-1].Type], order[n.Relationships[i].Type])
	}
	var events []string
	for _, e := range n.Related {
		if e.Type == common.TypeRiskEvent {
			events = append(events, e.ID)
		}
	}
	assert.Equal(t, []string{"RE_001", "RE_002"}, events)
	assert.Equal(t, "WH_001", n.Relationships[0].SourceID)
}

func TestNeighborhoodNotFound(t *testing.T) {
	s := NewWithRunner(&fakeRunner{}, schema.Warehouse())
	_, err := s.Neighborhood(context.Background(), "WH_404")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestResolveNameAndIDs(t *testing.T) {
	runner := &fakeRunner{results: []*neo4j.EagerResult{
		{Records: []*neo4j.Record{record([]string{"n"}, node("Zone", "ZN_1", map[string]any{"name": "Riverside"}))}},
		{Records: []*neo4j.Record{record([]string{"id"}, "WH_001"), record([]string{"id"}, "WH_002")}},
	}}
	s := NewWithRunner(runner, schema.Warehouse())

	found, err := s.ResolveName(context.Background(), " Riverside ", common.TypeZone)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "ZN_1", found[0].ID)
	assert.Equal(t, []string{"Zone"}, runner.calls[0].params["types"])

	ids, err := s.IDs(context.Background(), common.TypeWarehouse)
	require.NoError(t, err)
	assert.Equal(t, []string{"WH_001", "WH_002"}, ids)
	assert.Contains(t, runner.calls[1].cypher, "MATCH (n:`Warehouse`)")
}

func TestErrorsPassThroughUnlessTransient(t *testing.T) {
	s := NewWithRunner(&fakeRunner{err: context.DeadlineExceeded}, schema.Warehouse())
	_, err := s.Version(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	s = NewWithRunner(&fakeRunner{err: errors.New("syntax error")}, schema.Warehouse())
	_, err = s.Version(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrStoreUnavailable)

	s = NewWithRunner(&fakeRunner{err: &neo4j.ConnectivityError{Inner: errors.New("connection refused")}}, schema.Warehouse())
	_, err = s.Version(context.Background())
	require.ErrorIs(t, err, common.ErrStoreUnavailable)
}
