// Package neo4j answers structured graph queries from a Neo4j database. The
// ingestion collaborator owns the data: entities are nodes labelled with
// their type and carrying an "id" property, the snapshot version lives on a
// single (:Snapshot {version}) node.
package neo4j

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

// Runner executes a Cypher statement and buffers its result.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error)
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *driverRunner) Run(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, r.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
}

type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

type Store struct {
	runner   Runner
	registry *schema.Registry
	driver   neo4j.DriverWithContext
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, cfg Config, registry *schema.Registry) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create Neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, classify(err)
	}
	logger.Info("[Graph] Connected to Neo4j", "uri", cfg.URI, "database", cfg.Database)

	s := NewWithRunner(&driverRunner{driver: driver, database: cfg.Database}, registry)
	s.driver = driver
	return s, nil
}

func NewWithRunner(runner Runner, registry *schema.Registry) *Store {
	return &Store{runner: runner, registry: registry}
}

func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Store) run(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	res, err := s.runner.Run(ctx, cypher, params)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// classify marks connectivity and transient database failures as
// StoreUnavailable so the executor retries them.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err) {
		return common.NewError(common.KindStoreUnavailable, "neo4j unavailable", err)
	}
	return fmt.Errorf("neo4j query: %w", err)
}

func (s *Store) Match(ctx context.Context, q query.StructuredQuery, maxRows int) ([]query.Row, error) {
	cypher, params, err := Compile(q, maxRows)
	if err != nil {
		return nil, common.NewError(common.KindSchemaViolation, "query can not be expressed in Cypher", err)
	}
	logger.Debug("[Graph] Running Cypher", "cypher", cypher)

	res, err := s.run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	rows := make([]query.Row, 0, len(res.Records))
	for _, rec := range res.Records {
		row := query.Row{Entities: make([]common.Entity, len(q.Hops)+1)}
		for i := range row.Entities {
			v, _ := rec.Get(fmt.Sprintf("n%d", i))
			if node, ok := v.(neo4j.Node); ok {
				row.Entities[i] = toEntity(node)
			}
			if i == 0 {
				continue
			}
			v, _ = rec.Get(fmt.Sprintf("r%d", i))
			row.Relationships = append(row.Relationships, toRelationships(v)...)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) Version(ctx context.Context) (uint64, error) {
	res, err := s.run(ctx, "MATCH (s:Snapshot) RETURN coalesce(max(s.version), 0) AS version", nil)
	if err != nil {
		return 0, err
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	v, _ := res.Records[0].Get("version")
	n, ok := common.AsInt(v)
	if !ok || n < 0 {
		return 0, fmt.Errorf("neo4j: invalid snapshot version %v", v)
	}
	return uint64(n), nil
}

func (s *Store) ResolveName(ctx context.Context, name string, types ...common.EntityType) ([]common.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	params := map[string]any{"name": name}
	cypher := "MATCH (n) WHERE (toLower(n.id) = toLower($name) OR toLower(n.name) = toLower($name))"
	if len(types) > 0 {
		labels := make([]string, 0, len(types))
		for _, t := range types {
			labels = append(labels, string(t))
		}
		params["types"] = labels
		cypher += " AND any(l IN labels(n) WHERE l IN $types)"
	}
	cypher += " RETURN n ORDER BY n.id"

	res, err := s.run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var out []common.Entity
	for _, rec := range res.Records {
		v, _ := rec.Get("n")
		if node, ok := v.(neo4j.Node); ok {
			out = append(out, toEntity(node))
		}
	}
	return out, nil
}

func (s *Store) IDs(ctx context.Context, typ common.EntityType) ([]string, error) {
	label, err := quote(string(typ))
	if err != nil {
		return nil, err
	}
	res, err := s.run(ctx, "MATCH (n:"+label+") RETURN n.id AS id ORDER BY id", nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		v, _ := rec.Get("id")
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

const neighborhoodCypher = `MATCH (c {id: $id})
OPTIONAL MATCH (c)-[r]->(m)
WITH c, collect(CASE WHEN m IS NULL THEN null ELSE {node: m, type: type(r), attributes: properties(r)} END) AS related
OPTIONAL MATCH (s:Snapshot)
RETURN c, related, coalesce(max(s.version), 0) AS version`

// Neighborhood returns the entity and everything one outgoing relationship
// away, grouped by relationship type in registry order and by target id
// within a type.
func (s *Store) Neighborhood(ctx context.Context, id string) (query.Neighborhood, error) {
	res, err := s.run(ctx, neighborhoodCypher, map[string]any{"id": id})
	if err != nil {
		return query.Neighborhood{}, err
	}
	if len(res.Records) == 0 {
		return query.Neighborhood{}, fmt.Errorf("entity %s: %w", id, common.ErrNotFound)
	}
	rec := res.Records[0]

	v, _ := rec.Get("c")
	center, ok := v.(neo4j.Node)
	if !ok {
		return query.Neighborhood{}, fmt.Errorf("entity %s: %w", id, common.ErrNotFound)
	}
	n := query.Neighborhood{Center: toEntity(center)}
	if v, ok := rec.Get("version"); ok {
		if version, ok := common.AsInt(v); ok && version > 0 {
			n.Version = uint64(version)
		}
	}

	type link struct {
		entity common.Entity
		rel    common.Relationship
	}
	var links []link
	v, _ = rec.Get("related")
	items, _ := v.([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		node, ok := m["node"].(neo4j.Node)
		if !ok {
			continue
		}
		target := toEntity(node)
		typ, _ := m["type"].(string)
		attrs, _ := m["attributes"].(map[string]any)
		links = append(links, link{
			entity: target,
			rel:    common.Relationship{Type: common.RelType(typ), SourceID: n.Center.ID, TargetID: target.ID, Attributes: attrs},
		})
	}

	order := make(map[common.RelType]int)
	for i, rel := range s.registry.Relationships() {
		order[rel] = i
	}
	rank := func(t common.RelType) int {
		if i, ok := order[t]; ok {
			return i
		}
		return len(order)
	}
	slices.SortStableFunc(links, func(a, b link) int {
		return cmp.Or(
			cmp.Compare(rank(a.rel.Type), rank(b.rel.Type)),
			cmp.Compare(a.rel.Type, b.rel.Type),
			cmp.Compare(a.entity.ID, b.entity.ID),
		)
	})
	for _, l := range links {
		n.Related = append(n.Related, l.entity)
		n.Relationships = append(n.Relationships, l.rel)
	}
	return n, nil
}

func toEntity(node neo4j.Node) common.Entity {
	e := common.Entity{Attributes: make(map[string]any, len(node.Props))}
	if len(node.Labels) > 0 {
		e.Type = common.EntityType(node.Labels[0])
	}
	for k, v := range node.Props {
		if k == "id" {
			e.ID, _ = v.(string)
			continue
		}
		e.Attributes[k] = v
	}
	return e
}

func toRelationships(v any) []common.Relationship {
	items, _ := v.([]any)
	out := make([]common.Relationship, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rel := common.Relationship{}
		if t, ok := m["type"].(string); ok {
			rel.Type = common.RelType(t)
		}
		rel.SourceID, _ = m["source"].(string)
		rel.TargetID, _ = m["target"].(string)
		if attrs, ok := m["attributes"].(map[string]any); ok && len(attrs) > 0 {
			rel.Attributes = attrs
		}
		out = append(out, rel)
	}
	return out
}

var (
	_ query.GraphStore         = (*Store)(nil)
	_ query.NameResolver       = (*Store)(nil)
	_ query.NeighborhoodSource = (*Store)(nil)
)
