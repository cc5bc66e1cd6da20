package neo4j

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quote backticks a label, relationship type or property name. Names are
// validated by the schema registry before they get here; anything else is
// rejected so no query text comes from the question.
func quote(name string) (string, error) {
	if !identifier.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return "`" + name + "`", nil
}

type compiler struct {
	b      strings.Builder
	params map[string]any
	err    error
}

func (c *compiler) param(v any) string {
	name := fmt.Sprintf("p%d", len(c.params))
	c.params[name] = v
	return "$" + name
}

func (c *compiler) quote(name string) string {
	q, err := quote(name)
	if err != nil && c.err == nil {
		c.err = err
	}
	return q
}

// Compile lowers a structured query into one read-only Cypher statement.
// Column n<i> holds the entity bound by hop i, column r<i> the relationships
// traversed to reach it. Rows are ordered by the ids of the bound entities.
func Compile(q query.StructuredQuery, maxRows int) (string, map[string]any, error) {
	c := &compiler{params: map[string]any{}}

	fmt.Fprintf(&c.b, "MATCH (n0:%s)", c.quote(string(q.Start.Type)))

	var where []string
	if len(q.Start.IDs) > 0 {
		where = append(where, "n0.id IN "+c.param(q.Start.IDs))
	}
	where = append(where, c.filters("n0", q.Start.Filters)...)
	for _, cond := range q.Conditions {
		where = append(where, c.condition("n0", cond))
	}
	if len(where) > 0 {
		c.b.WriteString("\nWHERE " + strings.Join(where, " AND "))
	}

	for i, hop := range q.Hops {
		c.hop(i+1, hop)
	}

	columns := []string{"n0"}
	order := []string{"n0.id"}
	for i := range q.Hops {
		n := fmt.Sprintf("n%d", i+1)
		columns = append(columns, n, fmt.Sprintf(
			"[r IN coalesce(relationships(p%d), []) | {type: type(r), source: startNode(r).id, target: endNode(r).id, attributes: properties(r)}] AS r%d",
			i+1, i+1))
		order = append(order, n+".id")
	}
	c.b.WriteString("\nRETURN " + strings.Join(columns, ", "))
	c.b.WriteString("\nORDER BY " + strings.Join(order, ", "))
	if maxRows > 0 {
		c.b.WriteString("\nLIMIT " + c.param(int64(maxRows)))
	}

	if c.err != nil {
		return "", nil, c.err
	}
	return c.b.String(), c.params, nil
}

// hop binds n<i> to every distinct terminal reachable from n<i-1>, each by
// its shortest path p<i>. Optional hops keep the row with a null binding.
func (c *compiler) hop(i int, hop query.Hop) {
	prev := fmt.Sprintf("n%d", i-1)

	rels := make([]string, 0, len(hop.Relationships))
	for _, r := range hop.Relationships {
		rels = append(rels, c.quote(string(r)))
	}
	pattern := ":" + strings.Join(rels, "|")
	if depth := hop.Depth(); depth > 1 {
		pattern += fmt.Sprintf("*1..%d", depth)
	}

	where := []string{"m <> " + prev}
	if len(hop.TargetTypes) > 0 {
		types := make([]string, 0, len(hop.TargetTypes))
		for _, t := range hop.TargetTypes {
			types = append(types, string(t))
		}
		where = append(where, "any(l IN labels(m) WHERE l IN "+c.param(types)+")")
	}
	where = append(where, c.filters("m", hop.Filters)...)

	match := "MATCH"
	if hop.Optional {
		match = "OPTIONAL MATCH"
	}
	fmt.Fprintf(&c.b, "\nCALL {\n  WITH %s\n  %s p = %s\n  WHERE %s\n  WITH m, p ORDER BY length(p)\n  WITH m, head(collect(p)) AS p\n  RETURN m AS n%d, p AS p%d\n}",
		prev, match, arrow(prev, pattern, "m", hop.Direction), strings.Join(where, " AND "), i, i)
}

func (c *compiler) condition(v string, cond query.Condition) string {
	var b strings.Builder
	if cond.Negated {
		b.WriteString("NOT ")
	}
	target := fmt.Sprintf("(c:%s)", c.quote(string(cond.TargetType)))
	fmt.Fprintf(&b, "EXISTS { MATCH %s", arrow(v, ":"+c.quote(string(cond.Relationship)), target, cond.Direction))
	if preds := c.filters("c", cond.Filters); len(preds) > 0 {
		b.WriteString(" WHERE " + strings.Join(preds, " AND "))
	}
	b.WriteString(" }")
	return b.String()
}

func arrow(from, rel, to string, dir query.Direction) string {
	if !strings.HasPrefix(to, "(") {
		to = "(" + to + ")"
	}
	switch dir {
	case query.Incoming:
		return fmt.Sprintf("(%s)<-[%s]-%s", from, rel, to)
	case query.Both:
		return fmt.Sprintf("(%s)-[%s]-%s", from, rel, to)
	default:
		return fmt.Sprintf("(%s)-[%s]->%s", from, rel, to)
	}
}

func (c *compiler) filters(v string, filters []query.Filter) []string {
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		out = append(out, c.filter(v, f))
	}
	return out
}

// filter mirrors query.Filter.Match: booleans compare exactly, strings
// case-insensitively and everything else numerically.
func (c *compiler) filter(v string, f query.Filter) string {
	attr := v + "." + c.quote(f.Attribute)
	if f.Attribute == "type" {
		attr = "head(labels(" + v + "))"
	}

	var pred string
	switch want := f.Value.(type) {
	case bool:
		pred = fmt.Sprintf("%s %s %s", attr, cypherOp(f.Op), c.param(want))
	case string:
		text := "toLower(coalesce(toString(" + attr + "), ''))"
		if f.Op == query.OpContains {
			pred = fmt.Sprintf("%s CONTAINS toLower(%s)", text, c.param(want))
		} else {
			pred = fmt.Sprintf("%s %s toLower(%s)", text, cypherOp(f.Op), c.param(want))
		}
	default:
		n, ok := common.AsFloat(want)
		if !ok {
			return "false"
		}
		pred = fmt.Sprintf("toFloat(%s) %s %s", attr, cypherOp(f.Op), c.param(n))
	}

	if f.Type != "" {
		return fmt.Sprintf("(NOT %s IN labels(%s) OR %s)", c.param(string(f.Type)), v, pred)
	}
	return pred
}

func cypherOp(op query.Op) string {
	switch op {
	case query.OpNe:
		return "<>"
	case query.OpEq, query.OpContains:
		return "="
	default:
		return string(op)
	}
}
