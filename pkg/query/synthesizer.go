package query

import (
	"context"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

// Config bounds the queries the synthesizer produces.
type Config struct {
	MaxHops      int
	DefaultLimit int
	MaxLimit     int
}

// Synthesizer translates questions into StructuredQuery values. It never
// touches the graph except through the optional NameResolver.
type Synthesizer struct {
	registry *schema.Registry
	cfg      Config
	rules    Extractor
	fallback Extractor
	resolver NameResolver
	tracer   Tracer
}

// SynthesizerOption configures optional collaborators.
type SynthesizerOption func(*Synthesizer)

// WithFallbackExtractor sets the extractor used when the rules find no
// entity type, usually a ModelExtractor.
func WithFallbackExtractor(e Extractor) SynthesizerOption {
	return func(s *Synthesizer) {
		s.fallback = e
	}
}

// WithNameResolver enables resolution of entity ids and quoted names.
func WithNameResolver(r NameResolver) SynthesizerOption {
	return func(s *Synthesizer) {
		s.resolver = r
	}
}

// WithTracer records resolved entities and queried types.
func WithTracer(t Tracer) SynthesizerOption {
	return func(s *Synthesizer) {
		s.tracer = t
	}
}

func NewSynthesizer(registry *schema.Registry, cfg Config, opts ...SynthesizerOption) *Synthesizer {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 3
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	s := &Synthesizer{
		registry: registry,
		cfg:      cfg,
		rules:    NewRuleExtractor(registry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize classifies the question and builds a schema-valid query with the
// minimum number of hops. The hop chain never exceeds the configured ceiling.
func (s *Synthesizer) Synthesize(ctx context.Context, question string) (StructuredQuery, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return StructuredQuery{}, common.Errorf(common.KindUnresolvableIntent, "empty question")
	}

	ext, err := s.rules.Extract(ctx, question)
	if err != nil {
		return StructuredQuery{}, err
	}

	if len(ext.Types) == 0 && len(ext.Names) == 0 && s.fallback != nil {
		mext, err := s.fallback.Extract(ctx, question)
		if err != nil {
			logger.Warn("Fallback extraction failed", "err", err)
		} else {
			ext = mergeExtraction(ext, mext)
		}
	}

	ids, pinnedType, err := s.resolveNames(ctx, question, ext)
	if err != nil {
		return StructuredQuery{}, err
	}

	var subject common.EntityType
	switch {
	case pinnedType != "":
		subject = pinnedType
	case len(ext.Types) > 0:
		subject = ext.Types[0]
	default:
		return StructuredQuery{}, common.Errorf(common.KindUnresolvableIntent, "no entity type of the schema is mentioned")
	}

	q := s.build(ext, subject, ids)
	q = s.truncate(q)

	if err := q.Validate(s.registry, Limits{MaxHops: s.cfg.MaxHops, MaxLimit: s.cfg.MaxLimit}); err != nil {
		return StructuredQuery{}, err
	}

	RecordQueriedEntityTypes(s.tracerFor(ctx), string(q.Start.Type))
	logger.Debug(
		"Synthesized query",
		"intent", q.Intent,
		"start", q.Start.Type,
		"ids", q.Start.IDs,
		"filters", len(q.Start.Filters),
		"conditions", len(q.Conditions),
		"hops", q.HopCount(),
		"named", q.Named,
		"limit", q.Limit,
	)
	return q, nil
}

// mergeExtraction takes the model's view of types, intent and directives and
// keeps the names and filters the rules found.
func mergeExtraction(rules, model Extraction) Extraction {
	out := model
	out.Names = rules.Names
	if out.Intent == "" {
		out.Intent = rules.Intent
	}
	if len(out.Conditions) == 0 {
		out.Conditions = rules.Conditions
	}
	if len(out.StartFilters) == 0 {
		out.StartFilters = rules.StartFilters
	}
	if out.Named.IsZero() {
		out.Named = rules.Named
	}
	if out.Limit == 0 {
		out.Limit = rules.Limit
	}
	return out
}

func (s *Synthesizer) resolveNames(ctx context.Context, question string, ext Extraction) ([]string, common.EntityType, error) {
	if len(ext.Names) == 0 {
		return nil, "", nil
	}
	if s.resolver == nil {
		// Without a resolver only ids with a known subject can be pinned.
		var ids []string
		for _, n := range ext.Names {
			if idPattern.MatchString(n) {
				ids = append(ids, n)
			}
		}
		if len(ids) == 0 || len(ext.Types) == 0 {
			return nil, "", nil
		}
		return ids, ext.Types[0], nil
	}

	var (
		ids   []string
		typ   common.EntityType
		lower = strings.ToLower(question)
	)
	for _, name := range ext.Names {
		candidates, err := s.resolver.ResolveName(ctx, name)
		if err != nil {
			return nil, "", err
		}
		if len(candidates) == 0 {
			return nil, "", common.Errorf(common.KindUnresolvableIntent, "no entity matches %q", name)
		}
		e, err := disambiguate(name, lower, ext.Types, candidates)
		if err != nil {
			return nil, "", err
		}
		if typ == "" {
			typ = e.Type
		}
		if e.Type != typ {
			logger.Debug("Ignoring reference of a different type", "name", name, "type", e.Type, "subject", typ)
			continue
		}
		if !slices.Contains(ids, e.ID) {
			ids = append(ids, e.ID)
		}
	}
	RecordResolvedEntityIDs(s.tracerFor(ctx), ids...)
	return ids, typ, nil
}

func (s *Synthesizer) tracerFor(ctx context.Context) Tracer {
	t := TracerFromContext(ctx)
	switch {
	case t == nil:
		return s.tracer
	case s.tracer == nil:
		return t
	}
	return MultiTracer{s.tracer, t}
}

// disambiguate picks one candidate. Mentioned types narrow first, then
// attribute values that occur in the question.
func disambiguate(name, lowerQuestion string, types []common.EntityType, candidates []common.Entity) (common.Entity, error) {
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	if len(types) > 0 {
		var typed []common.Entity
		for _, c := range candidates {
			if slices.Contains(types, c.Type) {
				typed = append(typed, c)
			}
		}
		if len(typed) == 1 {
			return typed[0], nil
		}
		if len(typed) > 1 {
			candidates = typed
		}
	}

	var matched []common.Entity
	for _, c := range candidates {
		for key, v := range c.Attributes {
			if key == "name" {
				continue
			}
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			if indexWord(" "+lowerQuestion+" ", strings.ToLower(s), make([]bool, len(lowerQuestion)+2)) >= 0 {
				matched = append(matched, c)
				break
			}
		}
	}
	if len(matched) == 1 {
		return matched[0], nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	return common.Entity{}, common.NewError(common.KindAmbiguousReference, "\""+name+"\" matches several entities", nil, ids...)
}

func (s *Synthesizer) build(ext Extraction, subject common.EntityType, ids []string) StructuredQuery {
	q := StructuredQuery{
		Intent: ext.Intent,
		Start:  Step{Type: subject, IDs: ids},
		Named:  ext.Named,
	}

	for _, f := range ext.StartFilters {
		if s.registry.HasAttribute(subject, f.Attribute) {
			q.Start.Filters = append(q.Start.Filters, f)
		}
	}
	for _, c := range ext.Conditions {
		if s.registry.Allowed(subject, c.Relationship, c.TargetType) {
			q.Conditions = append(q.Conditions, c)
		}
	}
	s.lowerNamed(&q)

	if q.Intent == IntentRiskExplanation && subject != common.TypeWarehouse {
		q.Intent = IntentLookup
	}

	q.Limit = s.cfg.DefaultLimit
	if ext.Limit > 0 {
		q.Limit = min(ext.Limit, s.cfg.MaxLimit)
	}
	q.Projection = s.defaultProjection(subject)

	switch q.Intent {
	case IntentRanking:
		q.Sort = ext.Sort
		if q.Sort == nil {
			q.Sort = defaultSort(subject)
		}
		if !slices.ContainsFunc(q.Projection, func(f Field) bool { return f.Key() == q.Sort.Field }) {
			q.Projection = append(q.Projection, Field{Attribute: q.Sort.Field})
		}

	case IntentComparison:
		if subject == common.TypeWarehouse {
			for _, cat := range categories {
				q.Projection = append(q.Projection, Field{Attribute: FieldScorePrefix + cat})
			}
			if ext.Near && len(ids) > 0 {
				q.Hops = []Hop{{
					Relationships: []common.RelType{common.RelNear},
					Direction:     Both,
					TargetTypes:   []common.EntityType{common.TypeWarehouse},
					MaxHops:       1,
					Optional:      true,
				}}
				q.Projection = append(q.Projection,
					Field{Binding: 1, Attribute: "id", As: "near_id"},
					Field{Binding: 1, Attribute: "name", As: "near_name"},
				)
			}
		}
		q.Limit = max(q.Limit, len(ids))
		if q.Limit > s.cfg.MaxLimit {
			q.Limit = s.cfg.MaxLimit
		}

	case IntentAggregation:
		agg := Aggregation{Func: AggCount}
		if ext.Aggregation != nil {
			agg = *ext.Aggregation
		}
		if ext.GroupByZone && s.registry.Allowed(subject, common.RelLocatedIn, common.TypeZone) {
			q.Hops = []Hop{{
				Relationships: []common.RelType{common.RelLocatedIn},
				Direction:     Outgoing,
				TargetTypes:   []common.EntityType{common.TypeZone},
				MaxHops:       1,
			}}
			q.Projection = append(q.Projection, Field{Binding: 1, Attribute: "name", As: "zone"})
			agg.GroupBy = "zone"
		}
		if agg.Field != "" && !slices.ContainsFunc(q.Projection, func(f Field) bool { return f.Key() == agg.Field }) {
			q.Projection = append(q.Projection, Field{Attribute: agg.Field})
		}
		q.Aggregation = &agg

	case IntentRiskExplanation:
		for _, cat := range categories {
			q.Projection = append(q.Projection, Field{Attribute: FieldScorePrefix + cat})
		}
		q.Limit = s.cfg.MaxLimit
		related := Hop{
			Relationships: []common.RelType{common.RelHasInfrastructure, common.RelExperienced, common.RelOperatesIn, common.RelLocatedIn},
			Direction:     Outgoing,
			TargetTypes:   []common.EntityType{common.TypeInfrastructureAsset, common.TypeRiskEvent, common.TypeMarketContext, common.TypeZone},
			MaxHops:       1,
			Optional:      true,
		}
		if ext.Near {
			q.Hops = []Hop{
				{
					Relationships: []common.RelType{common.RelNear},
					Direction:     Outgoing,
					TargetTypes:   []common.EntityType{common.TypeWarehouse, common.TypeInfrastructureAsset},
					MaxHops:       1,
					Optional:      true,
				},
				{
					Relationships: []common.RelType{common.RelHasInfrastructure, common.RelExperienced},
					Direction:     Outgoing,
					TargetTypes:   []common.EntityType{common.TypeInfrastructureAsset, common.TypeRiskEvent},
					MaxHops:       1,
					Optional:      true,
				},
			}
			q.Projection = append(q.Projection, s.relatedProjection(1, "near_", q.Hops[0].TargetTypes)...)
			q.Projection = append(q.Projection, s.relatedProjection(2, "related_", q.Hops[1].TargetTypes)...)
		} else {
			q.Hops = []Hop{related}
			q.Projection = append(q.Projection, s.relatedProjection(1, "related_", related.TargetTypes)...)
		}
	}

	if tw := q.Named.TimeWindow; tw != "" {
		for i := range q.Hops {
			if slices.Contains(q.Hops[i].Relationships, common.RelExperienced) {
				q.Hops[i].Filters = append(q.Hops[i].Filters, Filter{Type: common.TypeRiskEvent, Attribute: "time_period", Op: OpEq, Value: tw})
			}
		}
	}
	return q
}

// lowerNamed turns named filters into conditions and start filters.
func (s *Synthesizer) lowerNamed(q *StructuredQuery) {
	if zone := q.Named.Zone; zone != "" {
		f := Eq("name", zone)
		if idPattern.MatchString(strings.ToUpper(zone)) {
			f = Eq("id", strings.ToUpper(zone))
		}
		switch {
		case q.Start.Type == common.TypeZone:
			q.Start.Filters = append(q.Start.Filters, f)
		case s.registry.Allowed(q.Start.Type, common.RelLocatedIn, common.TypeZone):
			q.Conditions = append(q.Conditions, Condition{
				Relationship: common.RelLocatedIn,
				Direction:    Outgoing,
				TargetType:   common.TypeZone,
				Filters:      []Filter{f},
			})
		}
	}
	if tw := q.Named.TimeWindow; tw != "" {
		for i, c := range q.Conditions {
			if c.Relationship == common.RelExperienced && !c.Negated {
				q.Conditions[i].Filters = append(slices.Clone(c.Filters), Eq("time_period", tw))
			}
		}
	}
}

// truncate drops optional tail hops, and their projections, until the chain
// fits the ceiling. Required hops are left for validation to reject.
func (s *Synthesizer) truncate(q StructuredQuery) StructuredQuery {
	for q.HopCount() > s.cfg.MaxHops && len(q.Hops) > 0 && q.Hops[len(q.Hops)-1].Optional {
		binding := len(q.Hops)
		q.Hops = q.Hops[:binding-1]
		q.Projection = slices.DeleteFunc(slices.Clone(q.Projection), func(f Field) bool { return f.Binding == binding })
		logger.Debug("Truncated optional hop", "binding", binding, "ceiling", s.cfg.MaxHops)
	}
	return q
}

func (s *Synthesizer) defaultProjection(subject common.EntityType) []Field {
	fields := []Field{{Attribute: "id"}, {Attribute: "name"}}
	if t, ok := s.registry.Type(subject); ok {
		for _, a := range t.Attributes {
			if a.RiskRelevant {
				fields = append(fields, Field{Attribute: a.Name})
			}
		}
	}
	if subject == common.TypeWarehouse {
		fields = append(fields, Field{Attribute: FieldOverallScore})
	}
	return fields
}

func defaultSort(subject common.EntityType) *Sort {
	if subject == common.TypeWarehouse {
		return &Sort{Field: FieldOverallScore, Descending: true}
	}
	return &Sort{Field: "name"}
}

// relatedProjection projects the risk evidence attributes that exist on at
// least one of the bound types.
func (s *Synthesizer) relatedProjection(binding int, prefix string, types []common.EntityType) []Field {
	attrs := []string{"id", "type", "name", "asset_type", "operational", "event_type", "occurrence_count", "flood_prone", "competitor_count", "flood_impacted"}
	out := make([]Field, 0, len(attrs))
	for _, a := range attrs {
		if anyHasAttribute(s.registry, types, a) {
			out = append(out, Field{Binding: binding, Attribute: a, As: prefix + a})
		}
	}
	return out
}

// categories are the risk categories in scoring order.
var categories = []string{"Infrastructure", "Location", "Operational", "Market"}
