package query

import (
	"context"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

// Extraction is what an Extractor found in a question. Types are ordered by
// first mention; the first one is the subject of the question.
type Extraction struct {
	Intent       Intent
	Types        []common.EntityType
	Names        []string
	Conditions   []Condition
	StartFilters []Filter
	Named        NamedFilters
	Sort         *Sort
	Aggregation  *Aggregation
	GroupByZone  bool
	Limit        int
	Near         bool
}

// Extractor pulls intent and schema references out of a question.
type Extractor interface {
	Extract(ctx context.Context, question string) (Extraction, error)
}

var (
	idPattern       = regexp.MustCompile(`\b[A-Z]{2,}_\d+\b`)
	quotedPattern   = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)
	topNPattern     = regexp.MustCompile(`\b(?:top|first|best|worst)\s+(\d{1,4})\b`)
	nHighPattern    = regexp.MustCompile(`\b(\d{1,4})\s+(?:highest|lowest|most|least|riskiest|safest|largest|smallest)\b`)
	zonePattern     = regexp.MustCompile(`\b(?:in|within|inside)\s+(?:the\s+)?zone\s+([a-z0-9_-]+)`)
	zoneIDPattern   = regexp.MustCompile(`\b(?:in|within|inside)\s+(?:the\s+)?(zn_\d+)\b`)
	zoneNamePattern = regexp.MustCompile(`\b(?:in|within|inside)\s+(?:the\s+)?([a-z][a-z-]+)\s+(?:zone|region|area)\b`)
	zoneIDLike      = regexp.MustCompile(`^[a-z]{2,}_\d+$`)
	wordPattern     = regexp.MustCompile(`[a-z0-9_]+(?:-[a-z0-9_]+)*`)
)

var (
	explainWords       = []string{"why", "explain", "what makes", "risk factors", "reason", "reasons", "contributing", "drives", "driving"}
	compareWords       = []string{"compare", "comparison", "vs", "versus", "difference between", "differ"}
	aggregateWords     = []string{"how many", "count", "number of", "average", "avg", "mean", "total", "sum of"}
	rankWords          = []string{"top", "highest", "lowest", "most", "least", "rank", "ranking", "riskiest", "safest", "worst", "largest", "smallest"}
	ascendingWords     = []string{"lowest", "least", "safest", "smallest", "fewest", "bottom"}
	nearWords          = []string{"near", "nearby", "close to", "neighbouring", "neighboring", "surrounding"}
	negators           = []string{"without", "no", "lack", "lacks", "lacking", "missing", "never", "not", "none", "don", "doesn", "didn"}
	groupByZonePhrases = []string{"per zone", "by zone", "each zone", "every zone", "per region", "by region", "each region"}
	categoryWords      = []struct{ phrase, category string }{
		{"infrastructure risk", "Infrastructure"},
		{"location risk", "Location"},
		{"operational risk", "Operational"},
		{"market risk", "Market"},
	}
)

// conditionPattern maps question phrases to an existence condition on a
// Warehouse start entity.
type conditionPattern struct {
	phrases    []string
	rel        common.RelType
	targetType common.EntityType
	filters    []Filter
}

var conditionPatterns = []conditionPattern{
	{
		phrases:    []string{"flood-prone", "flood prone", "flood zone", "flood zones", "flood-risk area", "flood-risk areas"},
		rel:        common.RelLocatedIn,
		targetType: common.TypeZone,
		filters:    []Filter{Eq("flood_prone", true)},
	},
	{
		phrases:    []string{"flood protection", "flood defence", "flood defense", "flood defences", "flood defenses"},
		rel:        common.RelHasInfrastructure,
		targetType: common.TypeInfrastructureAsset,
		filters:    []Filter{Eq("asset_type", schema.AssetFloodProtection)},
	},
	{
		phrases:    []string{"electric backup", "power backup", "backup power", "backup generator", "backup generators", "backup"},
		rel:        common.RelHasInfrastructure,
		targetType: common.TypeInfrastructureAsset,
		filters:    []Filter{Eq("asset_type", schema.AssetElectricBackup)},
	},
	{
		phrases:    []string{"temperature regulation", "temperature control", "cooling", "climate control"},
		rel:        common.RelHasInfrastructure,
		targetType: common.TypeInfrastructureAsset,
		filters:    []Filter{Eq("asset_type", schema.AssetTemperatureRegulation)},
	},
	{
		phrases:    []string{"certificate", "certificates", "certification", "certified"},
		rel:        common.RelHasInfrastructure,
		targetType: common.TypeInfrastructureAsset,
		filters:    []Filter{Eq("asset_type", schema.AssetCertificate)},
	},
	{
		phrases:    []string{"breakdowns", "breakdown"},
		rel:        common.RelExperienced,
		targetType: common.TypeRiskEvent,
		filters:    []Filter{Eq("event_type", schema.EventBreakdown)},
	},
	{
		phrases:    []string{"storage issues", "storage issue", "storage problems"},
		rel:        common.RelExperienced,
		targetType: common.TypeRiskEvent,
		filters:    []Filter{Eq("event_type", schema.EventStorageIssue)},
	},
	{
		phrases:    []string{"transport issues", "transport issue", "transport problems"},
		rel:        common.RelExperienced,
		targetType: common.TypeRiskEvent,
		filters:    []Filter{Eq("event_type", schema.EventTransportIssue)},
	},
	{
		phrases:    []string{"flood-impacted market", "flood-impacted markets", "flood impacted market", "flood impacted markets"},
		rel:        common.RelOperatesIn,
		targetType: common.TypeMarketContext,
		filters:    []Filter{Eq("flood_impacted", true)},
	},
}

var timeWindows = []struct {
	phrases []string
	window  string
}{
	{[]string{"last 3 months", "past 3 months", "last three months", "past three months", "last quarter", "recent", "recently"}, "l3m"},
	{[]string{"last year", "past year", "last 12 months", "past 12 months", "this year"}, "l1y"},
}

// RuleExtractor is the deterministic pattern and schema guided extractor.
type RuleExtractor struct {
	registry *schema.Registry
}

func NewRuleExtractor(registry *schema.Registry) *RuleExtractor {
	return &RuleExtractor{registry: registry}
}

func (r *RuleExtractor) Extract(_ context.Context, question string) (Extraction, error) {
	var ext Extraction
	lower := " " + strings.ToLower(strings.TrimSpace(question)) + " "
	words := wordPattern.FindAllString(lower, -1)

	ext.Intent = classify(lower)
	ext.Names = extractNames(question)

	for _, w := range words {
		if t, ok := r.registry.MatchKeyword(w); ok && !slices.Contains(ext.Types, t) {
			ext.Types = append(ext.Types, t)
		}
	}
	// "per zone" groups warehouses, it does not make zones the subject.
	groupByZone := containsAny(lower, groupByZonePhrases)
	if groupByZone {
		ext.Types = slices.DeleteFunc(ext.Types, func(t common.EntityType) bool { return t == common.TypeZone })
		if len(ext.Types) == 0 {
			ext.Types = []common.EntityType{common.TypeWarehouse}
		}
	}

	// Condition phrases like "breakdowns" or "backup" also match type
	// keywords; when the subject is a warehouse they become conditions.
	if len(ext.Types) > 0 && ext.Types[0] == common.TypeWarehouse {
		ext.Conditions = extractConditions(lower)
	}

	if strings.Contains(lower, " urban ") {
		ext.StartFilters = append(ext.StartFilters, Eq("location_type", "Urban"))
	} else if strings.Contains(lower, " rural ") {
		ext.StartFilters = append(ext.StartFilters, Eq("location_type", "Rural"))
	}

	ext.Named.Zone = extractZone(lower)
	if ext.Named.Zone != "" {
		ext.Names = slices.DeleteFunc(ext.Names, func(n string) bool { return strings.EqualFold(n, ext.Named.Zone) })
	}
	for _, tw := range timeWindows {
		if containsAny(lower, tw.phrases) {
			ext.Named.TimeWindow = tw.window
			break
		}
	}
	ext.Named.RiskCategory = categoryFromQuestion(lower)

	ext.Limit = extractLimit(lower)
	ext.Near = containsAnyWord(lower, nearWords)

	subject := common.TypeWarehouse
	if len(ext.Types) > 0 {
		subject = ext.Types[0]
	}
	if ext.Limit == 0 {
		ext.Limit = r.countOf(words, subject)
	}
	descending := !containsAny(lower, ascendingWords)

	switch ext.Intent {
	case IntentRanking:
		if attr, ok := r.registry.MatchAttribute(subject, lower); ok && !isConditionAttribute(attr.Name) {
			ext.Sort = &Sort{Field: attr.Name, Descending: descending, Explicit: true}
		} else if ext.Named.RiskCategory != "" && subject == common.TypeWarehouse {
			ext.Sort = &Sort{Field: FieldScorePrefix + ext.Named.RiskCategory, Descending: descending, Explicit: true}
		} else if subject == common.TypeWarehouse {
			// "lowest risk" and "safest" still rank by the overall score.
			ext.Sort = &Sort{Field: FieldOverallScore, Descending: descending, Explicit: !descending}
		}
	case IntentAggregation:
		ext.Aggregation = r.extractAggregation(lower, subject)
		ext.GroupByZone = groupByZone
	}

	return ext, nil
}

func classify(lower string) Intent {
	switch {
	case containsAnyWord(lower, explainWords):
		return IntentRiskExplanation
	case containsAnyWord(lower, compareWords):
		return IntentComparison
	case containsAnyWord(lower, aggregateWords):
		return IntentAggregation
	case containsAnyWord(lower, rankWords):
		return IntentRanking
	}
	return IntentLookup
}

func (r *RuleExtractor) extractAggregation(lower string, subject common.EntityType) *Aggregation {
	agg := &Aggregation{Func: AggCount}
	switch {
	case containsAny(lower, []string{"average", "avg", "mean"}):
		agg.Func = AggAvg
	case containsAny(lower, []string{"total", "sum of"}):
		agg.Func = AggSum
	case containsAnyWord(lower, []string{"maximum", "max"}):
		agg.Func = AggMax
	case containsAnyWord(lower, []string{"minimum", "min"}):
		agg.Func = AggMin
	}
	if agg.Func == AggCount {
		return agg
	}

	if attr, ok := r.registry.MatchAttribute(subject, lower); ok && attr.Kind != schema.KindString && attr.Kind != schema.KindBool {
		agg.Field = attr.Name
	} else if subject == common.TypeWarehouse && strings.Contains(lower, "risk") {
		agg.Field = FieldOverallScore
		if cat := categoryFromQuestion(lower); cat != "" {
			agg.Field = FieldScorePrefix + cat
		}
	} else {
		agg.Func = AggCount
	}
	return agg
}

func categoryFromQuestion(lower string) string {
	for _, c := range categoryWords {
		if strings.Contains(lower, c.phrase) {
			return c.category
		}
	}
	return ""
}

// extractConditions finds condition phrases and decides negation from the
// words directly in front of each phrase.
func extractConditions(lower string) []Condition {
	var out []Condition
	consumed := make([]bool, len(lower))

	for _, p := range conditionPatterns {
		for _, phrase := range sortedByLength(p.phrases) {
			pos := indexWord(lower, phrase, consumed)
			if pos < 0 {
				continue
			}
			for i := pos; i < pos+len(phrase); i++ {
				consumed[i] = true
			}
			c := Condition{
				Negated:      negatedBefore(lower[:pos]),
				Relationship: p.rel,
				Direction:    Outgoing,
				TargetType:   p.targetType,
				Filters:      slices.Clone(p.filters),
			}
			if !slices.ContainsFunc(out, func(o Condition) bool { return o.String() == c.String() }) {
				out = append(out, c)
			}
			break
		}
	}
	return out
}

// negatedBefore scans up to three words backwards from a phrase. A "with"
// ends the scan so "without backup and with breakdowns" keeps the second
// phrase positive.
func negatedBefore(prefix string) bool {
	words := wordPattern.FindAllString(prefix, -1)
	for i, n := len(words)-1, 0; i >= 0 && n < 3; i, n = i-1, n+1 {
		w := words[i]
		if w == "with" {
			return false
		}
		if slices.Contains(negators, w) {
			return true
		}
	}
	return false
}

func indexWord(text, phrase string, consumed []bool) int {
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], phrase)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(phrase)
		boundary := (start == 0 || !isWordChar(text[start-1])) && (end == len(text) || !isWordChar(text[end]))
		if boundary && !consumed[start] && !consumed[end-1] {
			return start
		}
		from = start + 1
	}
	return -1
}

func isWordChar(b byte) bool {
	return b == '_' || b == '-' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func sortedByLength(phrases []string) []string {
	out := slices.Clone(phrases)
	slices.SortStableFunc(out, func(a, b string) int { return len(b) - len(a) })
	return out
}

func extractNames(question string) []string {
	var names []string
	for _, id := range idPattern.FindAllString(question, -1) {
		if !slices.Contains(names, id) {
			names = append(names, id)
		}
	}
	for _, m := range quotedPattern.FindAllStringSubmatch(question, -1) {
		name := strings.TrimSpace(m[1] + m[2])
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

func extractZone(lower string) string {
	if m := zoneIDPattern.FindStringSubmatch(lower); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := zonePattern.FindStringSubmatch(lower); m != nil {
		if zoneIDLike.MatchString(m[1]) {
			return strings.ToUpper(m[1])
		}
		return m[1]
	}
	if m := zoneNamePattern.FindStringSubmatch(lower); m != nil {
		switch m[1] {
		case "flood-prone", "flood", "same", "each", "every", "that", "this":
			return ""
		}
		return m[1]
	}
	return ""
}

func extractLimit(lower string) int {
	for _, p := range []*regexp.Regexp{topNPattern, nHighPattern} {
		if m := p.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// countOf reads a count written directly before the subject, as in
// "list 3 warehouses" or "the 3 rural depots". One qualifying word may sit
// between the number and the keyword.
func (r *RuleExtractor) countOf(words []string, subject common.EntityType) int {
	for i, w := range words {
		n, err := strconv.Atoi(w)
		if err != nil || n <= 0 || len(w) > 4 {
			continue
		}
		for _, next := range words[i+1 : min(i+3, len(words))] {
			if t, ok := r.registry.MatchKeyword(next); ok {
				if t == subject {
					return n
				}
				break
			}
		}
	}
	return 0
}

// Attributes expressed through conditions are never sort keys.
func isConditionAttribute(name string) bool {
	return name == "location_type"
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func containsAnyWord(text string, words []string) bool {
	for _, w := range words {
		if indexWord(text, w, make([]bool, len(text))) >= 0 {
			return true
		}
	}
	return false
}
