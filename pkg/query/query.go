// Package query turns free-form questions into structured graph queries and
// defines the contracts graph stores implement to answer them.
package query

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
)

// Intent classifies what the question asks for.
type Intent string

const (
	IntentLookup          Intent = "lookup"
	IntentComparison      Intent = "comparison"
	IntentRanking         Intent = "ranking"
	IntentAggregation     Intent = "aggregation"
	IntentRiskExplanation Intent = "risk-explanation"
)

// Intents lists all intents in classification order.
var Intents = []Intent{IntentLookup, IntentComparison, IntentRanking, IntentAggregation, IntentRiskExplanation}

// Direction of a traversal relative to the current entity.
type Direction string

const (
	Outgoing Direction = "out"
	Incoming Direction = "in"
	Both     Direction = "both"
)

// Derived field names supplied by the risk service.
const (
	FieldOverallScore = "overallScore"
	// FieldScorePrefix prefixes per category scores, e.g. "score.Market".
	FieldScorePrefix = "score."
)

// Step selects the start entities of a query.
type Step struct {
	Type    common.EntityType `json:"type"`
	Filters []Filter          `json:"filters,omitempty"`
	// IDs pins the start to specific entities.
	IDs []string `json:"ids,omitempty"`
}

// Hop is one link of the traversal chain. MaxHops greater than one allows a
// variable length path over the listed relationship types; the entity bound
// by the hop is the terminal of the path.
type Hop struct {
	Relationships []common.RelType    `json:"relationships"`
	Direction     Direction           `json:"direction"`
	TargetTypes   []common.EntityType `json:"target_types,omitempty"`
	// MaxHops below 1 means a single step.
	MaxHops int      `json:"max_hops"`
	Filters []Filter `json:"filters,omitempty"`
	// Optional hops keep the row with an empty binding when nothing matches.
	Optional bool `json:"optional,omitempty"`
}

// Depth is the number of steps the hop may take.
func (h Hop) Depth() int {
	return max(h.MaxHops, 1)
}

// Condition is a one hop existence predicate on the start entity.
type Condition struct {
	Negated      bool              `json:"negated,omitempty"`
	Relationship common.RelType    `json:"relationship"`
	Direction    Direction         `json:"direction"`
	TargetType   common.EntityType `json:"target_type"`
	Filters      []Filter          `json:"filters,omitempty"`
}

func (c Condition) String() string {
	var b strings.Builder
	if c.Negated {
		b.WriteString("NOT ")
	}
	b.WriteString("EXISTS ")
	b.WriteString(string(c.Relationship))
	b.WriteString(" ")
	b.WriteString(string(c.TargetType))
	if len(c.Filters) > 0 {
		parts := make([]string, 0, len(c.Filters))
		for _, f := range c.Filters {
			parts = append(parts, f.String())
		}
		b.WriteString("{" + strings.Join(parts, ", ") + "}")
	}
	return b.String()
}

// Field projects one attribute of a binding into the result record.
// Binding 0 is the start entity, binding i the entity bound by hop i.
type Field struct {
	Binding   int    `json:"binding"`
	Attribute string `json:"attribute"`
	As        string `json:"as,omitempty"`
}

// Key is the record field name of the projection.
func (f Field) Key() string {
	if f.As != "" {
		return f.As
	}
	if f.Binding == 0 {
		return f.Attribute
	}
	return fmt.Sprintf("hop%d.%s", f.Binding, f.Attribute)
}

// Sort orders result records by one field.
type Sort struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending"`
	// Explicit is set when the question named the sort key.
	Explicit bool `json:"explicit,omitempty"`
}

// AggFunc is an aggregation function.
type AggFunc string

const (
	AggCount AggFunc = "count"
	AggAvg   AggFunc = "avg"
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// Aggregation collapses records into one record per group.
type Aggregation struct {
	Func    AggFunc `json:"func"`
	Field   string  `json:"field,omitempty"`
	GroupBy string  `json:"group_by,omitempty"`
}

// Key is the record field holding the aggregated value, for example "count"
// or "avg_distance_from_hub".
func (a Aggregation) Key() string {
	if a.Func == AggCount || a.Field == "" {
		return string(AggCount)
	}
	return string(a.Func) + "_" + a.Field
}

// NamedFilters are the domain filters recognised in the question. The
// synthesizer lowers them into conditions and filters; they are kept on the
// query for logging and answer rendering.
type NamedFilters struct {
	Zone         string `json:"zone,omitempty"`
	TimeWindow   string `json:"time_window,omitempty"`
	RiskCategory string `json:"risk_category,omitempty"`
}

func (n NamedFilters) IsZero() bool {
	return n == NamedFilters{}
}

// StructuredQuery is the schema-valid query produced from a question.
type StructuredQuery struct {
	Intent      Intent       `json:"intent"`
	Start       Step         `json:"start"`
	Hops        []Hop        `json:"hops,omitempty"`
	Conditions  []Condition  `json:"conditions,omitempty"`
	Projection  []Field      `json:"projection"`
	Sort        *Sort        `json:"sort,omitempty"`
	Aggregation *Aggregation `json:"aggregation,omitempty"`
	Named       NamedFilters `json:"named,omitempty"`
	Limit       int          `json:"limit"`
}

// HopCount is the maximum number of relationships a result path traverses.
// Existence conditions are not counted.
func (q StructuredQuery) HopCount() int {
	n := 0
	for _, h := range q.Hops {
		n += h.Depth()
	}
	return n
}

// DerivedFields returns the computed fields the query references in its
// projection, sort or aggregation.
func (q StructuredQuery) DerivedFields() []string {
	var out []string
	add := func(name string) {
		if IsDerivedField(name) && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	for _, f := range q.Projection {
		if f.Binding == 0 {
			add(f.Attribute)
		}
	}
	if q.Sort != nil {
		add(q.Sort.Field)
	}
	if q.Aggregation != nil {
		add(q.Aggregation.Field)
	}
	return out
}

// IsDerivedField reports whether name is a computed risk field.
func IsDerivedField(name string) bool {
	return name == FieldOverallScore || strings.HasPrefix(name, FieldScorePrefix)
}

// Row is one match returned by a graph store. Entities[0] is the start
// entity and Entities[i] the entity bound by hop i; an optional hop without
// match leaves a zero Entity. Relationships lists every traversed edge.
type Row struct {
	Entities      []common.Entity
	Relationships []common.Relationship
}

// GraphStore executes structured queries. Implementations only read.
type GraphStore interface {
	// Match returns at most maxRows rows in a deterministic order.
	Match(ctx context.Context, q StructuredQuery, maxRows int) ([]Row, error)
	// Version returns the current snapshot version.
	Version(ctx context.Context) (uint64, error)
}

// NameResolver finds entities by id or name.
type NameResolver interface {
	ResolveName(ctx context.Context, name string, types ...common.EntityType) ([]common.Entity, error)
}

// Neighborhood is an entity with everything one outgoing hop away.
type Neighborhood struct {
	Center        common.Entity
	Related       []common.Entity
	Relationships []common.Relationship
	Version       uint64
}

// NeighborhoodSource loads neighborhoods for risk scoring.
type NeighborhoodSource interface {
	Neighborhood(ctx context.Context, id string) (Neighborhood, error)
	// IDs lists all entity ids of a type in insertion order.
	IDs(ctx context.Context, typ common.EntityType) ([]string, error)
}
