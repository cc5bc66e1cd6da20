package query

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/ai"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

type modelCondition struct {
	Negated      bool   `json:"negated"`
	Relationship string `json:"relationship"`
	TargetType   string `json:"target_type"`
	Attribute    string `json:"attribute"`
	Value        string `json:"value"`
}

type modelExtraction struct {
	Intent               string           `json:"intent" jsonschema:"enum=lookup,enum=comparison,enum=ranking,enum=aggregation,enum=risk-explanation"`
	EntityTypes          []string         `json:"entity_types"`
	Conditions           []modelCondition `json:"conditions"`
	Zone                 string           `json:"zone"`
	TimeWindow           string           `json:"time_window" jsonschema:"description=l3m or l1y when the question names a period"`
	RiskCategory         string           `json:"risk_category" jsonschema:"description=one of Infrastructure|Location|Operational|Market"`
	SortAttribute        string           `json:"sort_attribute"`
	SortDescending       bool             `json:"sort_descending"`
	Limit                int              `json:"limit"`
	Aggregation          string           `json:"aggregation" jsonschema:"description=one of count|avg|sum|min|max"`
	AggregationAttribute string           `json:"aggregation_attribute"`
	GroupByZone          bool             `json:"group_by_zone"`
}

// ModelExtractor asks the language model for a structured extraction and
// keeps only tokens that exist in the registry. The model output is never
// trusted beyond that.
type ModelExtractor struct {
	client   ai.Client
	registry *schema.Registry
	opts     []ai.GenerateOption
}

func NewModelExtractor(client ai.Client, registry *schema.Registry, opts ...ai.GenerateOption) *ModelExtractor {
	return &ModelExtractor{client: client, registry: registry, opts: opts}
}

func (m *ModelExtractor) Extract(ctx context.Context, question string) (Extraction, error) {
	prompt := fmt.Sprintf(ai.ExtractionPrompt, DescribeSchema(m.registry), question)

	var raw modelExtraction
	opts := append([]ai.GenerateOption{ai.WithTemperature(0)}, m.opts...)
	if err := m.client.GenerateCompletionWithFormat(ctx, "question_extraction", "Schema references found in a question", prompt, &raw, opts...); err != nil {
		return Extraction{}, fmt.Errorf("model extraction: %w", err)
	}
	return m.sanitize(raw), nil
}

func (m *ModelExtractor) sanitize(raw modelExtraction) Extraction {
	var ext Extraction

	if slices.Contains(Intents, Intent(raw.Intent)) {
		ext.Intent = Intent(raw.Intent)
	}
	for _, t := range raw.EntityTypes {
		typ := m.canonicalType(t)
		if typ != "" && !slices.Contains(ext.Types, typ) {
			ext.Types = append(ext.Types, typ)
		}
	}

	subject := common.TypeWarehouse
	if len(ext.Types) > 0 {
		subject = ext.Types[0]
	}

	for _, rc := range raw.Conditions {
		rel := common.RelType(strings.ToUpper(strings.TrimSpace(rc.Relationship)))
		target := m.canonicalType(rc.TargetType)
		if target == "" || !m.registry.Allowed(subject, rel, target) {
			continue
		}
		c := Condition{Negated: rc.Negated, Relationship: rel, Direction: Outgoing, TargetType: target}
		if rc.Attribute != "" {
			value, ok := m.coerce(target, rc.Attribute, rc.Value)
			if !ok {
				continue
			}
			c.Filters = []Filter{Eq(rc.Attribute, value)}
		}
		ext.Conditions = append(ext.Conditions, c)
	}

	ext.Named.Zone = strings.TrimSpace(raw.Zone)
	if raw.TimeWindow == "l3m" || raw.TimeWindow == "l1y" {
		ext.Named.TimeWindow = raw.TimeWindow
	}
	if slices.Contains(categories, raw.RiskCategory) {
		ext.Named.RiskCategory = raw.RiskCategory
	}

	if raw.Limit > 0 {
		ext.Limit = raw.Limit
	}
	if a := raw.SortAttribute; a != "" && (m.registry.HasAttribute(subject, a) || (subject == common.TypeWarehouse && IsDerivedField(a))) {
		ext.Sort = &Sort{Field: a, Descending: raw.SortDescending, Explicit: true}
	}

	switch AggFunc(raw.Aggregation) {
	case AggCount:
		ext.Aggregation = &Aggregation{Func: AggCount}
	case AggAvg, AggSum, AggMin, AggMax:
		a := raw.AggregationAttribute
		if m.numericAttribute(subject, a) || (subject == common.TypeWarehouse && IsDerivedField(a)) {
			ext.Aggregation = &Aggregation{Func: AggFunc(raw.Aggregation), Field: a}
		} else {
			ext.Aggregation = &Aggregation{Func: AggCount}
		}
	}
	ext.GroupByZone = raw.GroupByZone
	return ext
}

func (m *ModelExtractor) canonicalType(name string) common.EntityType {
	name = strings.TrimSpace(name)
	for _, t := range m.registry.Types() {
		if strings.EqualFold(string(t.Name), name) {
			return t.Name
		}
	}
	if t, ok := m.registry.MatchKeyword(name); ok {
		return t
	}
	return ""
}

func (m *ModelExtractor) numericAttribute(typ common.EntityType, name string) bool {
	t, ok := m.registry.Type(typ)
	if !ok {
		return false
	}
	a, ok := t.Attribute(name)
	return ok && (a.Kind == schema.KindInt || a.Kind == schema.KindFloat)
}

// coerce converts the model's string value into the attribute's kind.
func (m *ModelExtractor) coerce(typ common.EntityType, attr, value string) (any, bool) {
	t, ok := m.registry.Type(typ)
	if !ok {
		return nil, false
	}
	a, ok := t.Attribute(attr)
	if !ok {
		return nil, false
	}
	value = strings.TrimSpace(value)
	switch a.Kind {
	case schema.KindBool:
		b, err := strconv.ParseBool(value)
		return b, err == nil
	case schema.KindInt:
		i, err := strconv.ParseInt(value, 10, 64)
		return i, err == nil
	case schema.KindFloat:
		f, err := strconv.ParseFloat(value, 64)
		return f, err == nil
	default:
		if len(a.Values) == 0 {
			return value, value != ""
		}
		for _, v := range a.Values {
			if strings.EqualFold(v, value) {
				return v, true
			}
		}
		return nil, false
	}
}

// DescribeSchema renders the registry as prompt context.
func DescribeSchema(reg *schema.Registry) string {
	var b strings.Builder
	b.WriteString("Entity types:\n")
	for _, t := range reg.Types() {
		attrs := make([]string, 0, len(t.Attributes))
		for _, a := range t.Attributes {
			s := a.Name + " (" + string(a.Kind)
			if len(a.Values) > 0 {
				s += ": " + strings.Join(a.Values, "|")
			}
			attrs = append(attrs, s+")")
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, strings.Join(attrs, ", "))
	}
	b.WriteString("Relationships:\n")
	for _, tr := range reg.Triples() {
		fmt.Fprintf(&b, "- (%s)-[%s]->(%s)\n", tr.Source, tr.Relationship, tr.Target)
	}
	return b.String()
}
