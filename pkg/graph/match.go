package graph

import (
	"context"
	"slices"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
)

// noBinding marks an optional hop that matched nothing.
const noBinding = -1

type partial struct {
	nodes []int
	rels  []int
}

type terminal struct {
	node int
	path []int
}

// Match evaluates a structured query against the arena. Start entities are
// visited in insertion order and adjacency lists in relationship insertion
// order, so the same query on the same snapshot always yields the same rows.
// A non-positive maxRows means no row limit.
func (g *Graph) Match(ctx context.Context, q query.StructuredQuery, maxRows int) ([]query.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var rows []query.Row
	for _, start := range g.starts(q.Start) {
		if !query.MatchAll(g.entities[start], q.Start.Filters) || !g.conditionsHold(start, q.Conditions) {
			continue
		}

		partials := []partial{{nodes: []int{start}}}
		for _, hop := range q.Hops {
			partials = g.expand(partials, hop)
			if len(partials) == 0 {
				break
			}
		}

		for _, p := range partials {
			rows = append(rows, g.row(p))
			if maxRows > 0 && len(rows) >= maxRows {
				return rows, nil
			}
		}
	}
	return rows, nil
}

func (g *Graph) starts(step query.Step) []int {
	if len(step.IDs) == 0 {
		return g.byType[step.Type]
	}
	out := make([]int, 0, len(step.IDs))
	for _, id := range step.IDs {
		idx, ok := g.index[id]
		if !ok || g.entities[idx].Type != step.Type || slices.Contains(out, idx) {
			continue
		}
		out = append(out, idx)
	}
	return out
}

func (g *Graph) conditionsHold(node int, conditions []query.Condition) bool {
	for _, c := range conditions {
		exists := false
		for _, e := range g.neighbors(node, c.Relationship, c.Direction) {
			target := g.entities[e.other]
			if target.Type == c.TargetType && query.MatchAll(target, c.Filters) {
				exists = true
				break
			}
		}
		if exists == c.Negated {
			return false
		}
	}
	return true
}

func (g *Graph) expand(partials []partial, hop query.Hop) []partial {
	var out []partial
	for _, p := range partials {
		from := p.nodes[len(p.nodes)-1]

		var found []terminal
		if from != noBinding {
			found = g.traverse(from, hop)
		}

		if len(found) == 0 {
			if hop.Optional {
				out = append(out, partial{nodes: append(slices.Clone(p.nodes), noBinding), rels: p.rels})
			}
			continue
		}
		for _, t := range found {
			out = append(out, partial{
				nodes: append(slices.Clone(p.nodes), t.node),
				rels:  append(slices.Clone(p.rels), t.path...),
			})
		}
	}
	return out
}

// traverse runs a breadth first search of up to MaxHops steps over the hop's
// relationship types. Every entity is visited at most once, so each terminal
// is reached by its shortest path.
func (g *Graph) traverse(from int, hop query.Hop) []terminal {
	depth := hop.Depth()
	visited := map[int]struct{}{from: {}}
	paths := map[int][]int{from: nil}
	frontier := []int{from}

	var out []terminal
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []int
		for _, node := range frontier {
			for _, rel := range hop.Relationships {
				for _, e := range g.neighbors(node, rel, hop.Direction) {
					if _, ok := visited[e.other]; ok {
						continue
					}
					visited[e.other] = struct{}{}
					path := append(slices.Clone(paths[node]), e.rel)
					paths[e.other] = path
					next = append(next, e.other)

					target := g.entities[e.other]
					if len(hop.TargetTypes) > 0 && !slices.Contains(hop.TargetTypes, target.Type) {
						continue
					}
					if query.MatchAll(target, hop.Filters) {
						out = append(out, terminal{node: e.other, path: path})
					}
				}
			}
		}
		frontier = next
	}
	return out
}

func (g *Graph) neighbors(node int, rel common.RelType, dir query.Direction) []edge {
	switch dir {
	case query.Incoming:
		return g.in[adjKey{node, rel}]
	case query.Both:
		out := g.out[adjKey{node, rel}]
		in := g.in[adjKey{node, rel}]
		if len(in) == 0 {
			return out
		}
		return append(slices.Clone(out), in...)
	default:
		return g.out[adjKey{node, rel}]
	}
}

func (g *Graph) row(p partial) query.Row {
	row := query.Row{Entities: make([]common.Entity, len(p.nodes))}
	for i, n := range p.nodes {
		if n != noBinding {
			row.Entities[i] = g.entities[n].Clone()
		}
	}
	if len(p.rels) > 0 {
		row.Relationships = make([]common.Relationship, 0, len(p.rels))
		for _, ri := range p.rels {
			row.Relationships = append(row.Relationships, cloneRelationship(g.rels[ri]))
		}
	}
	return row
}
