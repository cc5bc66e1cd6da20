package executor

import (
	"slices"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
)

type group struct {
	key    any
	seen   map[string]struct{}
	ids    []string
	values []float64
}

// aggregate collapses rows into one record per group in first seen order.
// Every start entity contributes at most once per group.
func aggregate(q query.StructuredQuery, work []row) []Record {
	agg := q.Aggregation

	var groups []*group
	index := make(map[string]*group)
	for _, w := range work {
		var key any
		label := ""
		if agg.GroupBy != "" {
			key = w.field(agg.GroupBy)
			label = common.AsString(key)
		}
		g, ok := index[label]
		if !ok {
			g = &group{key: key, seen: make(map[string]struct{})}
			index[label] = g
			groups = append(groups, g)
		}
		if _, dup := g.seen[w.start.ID]; dup {
			continue
		}
		g.seen[w.start.ID] = struct{}{}
		g.ids = append(g.ids, w.start.ID)

		if agg.Func != query.AggCount {
			if f, ok := common.AsFloat(w.field(agg.Field)); ok {
				g.values = append(g.values, f)
			}
		}
	}

	valueKey := agg.Key()
	var keys []string
	if agg.GroupBy != "" {
		keys = append(keys, agg.GroupBy)
	}
	keys = append(keys, valueKey)

	records := make([]Record, 0, len(groups))
	for _, g := range groups {
		values := map[string]any{valueKey: reduce(agg.Func, len(g.ids), g.values)}
		if agg.GroupBy != "" {
			values[agg.GroupBy] = g.key
		}
		records = append(records, NewRecord(keys, values, g.ids, nil))
	}

	if s := q.Sort; s != nil && slices.Contains(keys, s.Field) {
		sortRecords(records, s)
	}
	return records
}

func reduce(fn query.AggFunc, count int, values []float64) any {
	if fn == query.AggCount {
		return int64(count)
	}
	if len(values) == 0 {
		return nil
	}
	switch fn {
	case query.AggSum, query.AggAvg:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		if fn == query.AggAvg {
			return sum / float64(len(values))
		}
		return sum
	case query.AggMin:
		return slices.Min(values)
	case query.AggMax:
		return slices.Max(values)
	}
	return nil
}

func sortRecords(records []Record, s *query.Sort) {
	slices.SortStableFunc(records, func(a, b Record) int {
		av, _ := a.Get(s.Field)
		bv, _ := b.Get(s.Field)
		switch {
		case less(av, bv, s.Descending):
			return -1
		case less(bv, av, s.Descending):
			return 1
		}
		return 0
	})
}
