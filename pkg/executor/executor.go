// Package executor runs structured queries against a graph store and turns
// the matches into uniform, immutable result records.
package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/OFFIS-RIT/warehouse-risk/internal/util"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/metrics"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

// Config bounds query execution.
type Config struct {
	MaxHops  int
	MaxLimit int
	// ResultCeiling is the hard cap on matched rows before projection. The
	// store is asked for ResultCeiling+1 rows to detect overflow.
	ResultCeiling int
	// StoreTimeout bounds a single store call. Zero disables the per call
	// deadline.
	StoreTimeout time.Duration
	Retry        util.Backoff
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxHops:       3,
		MaxLimit:      100,
		ResultCeiling: 1000,
		StoreTimeout:  5 * time.Second,
		Retry:         util.Backoff{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

// Deriver supplies computed fields (overallScore, score.<Category>) for
// start entities. The result maps entity id to field to value; a nil value
// means the field could not be computed.
type Deriver interface {
	Derive(ctx context.Context, ids []string, fields []string) (map[string]map[string]any, error)
}

type Executor struct {
	store    query.GraphStore
	registry *schema.Registry
	cfg      Config
	deriver  Deriver
	metrics  *metrics.Metrics
}

type Option func(*Executor)

func WithDeriver(d Deriver) Option {
	return func(e *Executor) {
		e.deriver = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func New(store query.GraphStore, registry *schema.Registry, cfg Config, opts ...Option) *Executor {
	if cfg.ResultCeiling <= 0 {
		cfg.ResultCeiling = DefaultConfig().ResultCeiling
	}
	e := &Executor{store: store, registry: registry, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates q, matches it against the store and returns the
// projected records. Zero matches yield an empty slice and no error.
func (e *Executor) Execute(ctx context.Context, q query.StructuredQuery) ([]Record, error) {
	if err := q.Validate(e.registry, query.Limits{MaxHops: e.cfg.MaxHops, MaxLimit: e.cfg.MaxLimit}); err != nil {
		return nil, err
	}

	rows, err := e.match(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) > e.cfg.ResultCeiling {
		return nil, common.Errorf(common.KindResultTooLarge, "query matches more than %d rows", e.cfg.ResultCeiling)
	}
	if len(rows) == 0 {
		logger.Debug("[Executor] No matches", "intent", q.Intent, "start", q.Start.Type)
		return []Record{}, nil
	}

	work := collect(q, rows)
	query.RecordMatchedEntityIDs(query.TracerFromContext(ctx), startIDs(work)...)

	if err := e.derive(ctx, q, work); err != nil {
		return nil, err
	}

	if q.Aggregation != nil {
		records := aggregate(q, work)
		logger.Debug("[Executor] Aggregated", "func", q.Aggregation.Func, "groups", len(records), "rows", len(rows))
		return records, nil
	}

	if q.Sort != nil {
		sortRows(work, q.Sort)
	}
	if limit := e.limit(q); len(work) > limit {
		work = work[:limit]
	}

	keys := projectionKeys(q)
	records := make([]Record, 0, len(work))
	for _, w := range work {
		records = append(records, NewRecord(keys, w.values, w.entityIDs, w.relationships))
	}
	logger.Debug("[Executor] Executed query", "intent", q.Intent, "rows", len(rows), "records", len(records))
	return records, nil
}

func (e *Executor) limit(q query.StructuredQuery) int {
	switch {
	case q.Limit > 0:
		return q.Limit
	case e.cfg.MaxLimit > 0:
		return e.cfg.MaxLimit
	default:
		return e.cfg.ResultCeiling
	}
}

func (e *Executor) match(ctx context.Context, q query.StructuredQuery) ([]query.Row, error) {
	attempt := 0
	return util.RetryWithBackoff(ctx, e.cfg.Retry, isTransient, func(ctx context.Context) ([]query.Row, error) {
		attempt++
		if attempt > 1 {
			e.metrics.StoreRetry()
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if e.cfg.StoreTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.StoreTimeout)
		}
		defer cancel()

		start := time.Now()
		rows, err := e.store.Match(callCtx, q, e.cfg.ResultCeiling+1)
		e.metrics.ObserveStoreCall(time.Since(start), err)
		if err == nil {
			return rows, nil
		}

		switch _, typed := common.KindOf(err); {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case callCtx.Err() != nil:
			err = common.NewError(common.KindStoreUnavailable, fmt.Sprintf("graph store call timed out after %s", e.cfg.StoreTimeout), nil)
		case !typed:
			err = common.NewError(common.KindStoreUnavailable, "graph store call failed", err)
		}
		logger.Warn("[Executor] Graph store call failed", "attempt", attempt, "err", err)
		return nil, err
	})
}

func isTransient(err error) bool {
	return errors.Is(err, common.ErrStoreUnavailable)
}

func (e *Executor) derive(ctx context.Context, q query.StructuredQuery, work []row) error {
	fields := q.DerivedFields()
	if len(fields) == 0 || e.deriver == nil {
		return nil
	}

	ids := startIDs(work)
	derived, err := e.deriver.Derive(ctx, ids, fields)
	if err != nil {
		return err
	}
	for i := range work {
		values := derived[work[i].start.ID]
		for _, f := range fields {
			work[i].derived[f] = values[f]
		}
		for _, p := range q.Projection {
			if p.Binding == 0 && query.IsDerivedField(p.Attribute) {
				work[i].values[p.Key()] = values[p.Attribute]
			}
		}
	}
	return nil
}

// row is a match being shaped into a record.
type row struct {
	start         common.Entity
	values        map[string]any
	derived       map[string]any
	entityIDs     []string
	relationships []string
}

func collect(q query.StructuredQuery, rows []query.Row) []row {
	out := make([]row, 0, len(rows))
	for _, r := range rows {
		w := row{
			start:   r.Entities[0],
			values:  make(map[string]any, len(q.Projection)),
			derived: make(map[string]any),
		}
		for _, p := range q.Projection {
			if p.Binding >= len(r.Entities) {
				w.values[p.Key()] = nil
				continue
			}
			ent := r.Entities[p.Binding]
			if ent.ID == "" || (p.Binding == 0 && query.IsDerivedField(p.Attribute)) {
				w.values[p.Key()] = nil
				continue
			}
			v, _ := ent.Attr(p.Attribute)
			w.values[p.Key()] = v
		}
		for _, ent := range r.Entities {
			if ent.ID != "" && !slices.Contains(w.entityIDs, ent.ID) {
				w.entityIDs = append(w.entityIDs, ent.ID)
			}
		}
		for _, rel := range r.Relationships {
			w.relationships = append(w.relationships, rel.Key())
		}
		out = append(out, w)
	}
	return out
}

// field resolves a sort or aggregation field: projection keys first, then
// derived fields, then attributes of the start entity.
func (w row) field(name string) any {
	if v, ok := w.values[name]; ok {
		return v
	}
	if query.IsDerivedField(name) {
		return w.derived[name]
	}
	v, _ := w.start.Attr(name)
	return v
}

func startIDs(work []row) []string {
	ids := make([]string, 0, len(work))
	for _, w := range work {
		if !slices.Contains(ids, w.start.ID) {
			ids = append(ids, w.start.ID)
		}
	}
	return ids
}

// sortRows orders rows stably so store order breaks ties. Missing values
// always sort last.
func sortRows(work []row, s *query.Sort) {
	sort.SliceStable(work, func(i, j int) bool {
		return less(work[i].field(s.Field), work[j].field(s.Field), s.Descending)
	})
}

func less(a, b any, descending bool) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil:
		return false
	case b == nil:
		return true
	}
	c := query.CompareValues(a, b)
	if descending {
		return c > 0
	}
	return c < 0
}

func projectionKeys(q query.StructuredQuery) []string {
	keys := make([]string, 0, len(q.Projection))
	for _, p := range q.Projection {
		keys = append(keys, p.Key())
	}
	return keys
}
