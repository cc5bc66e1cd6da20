package query

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

type TraceEventKind string

const (
	TraceEventResolvedEntityIDs  TraceEventKind = "resolved_entity_ids"
	TraceEventMatchedEntityIDs   TraceEventKind = "matched_entity_ids"
	TraceEventQueriedEntityTypes TraceEventKind = "queried_entity_types"

	TraceEventStage TraceEventKind = "stage"
)

// TraceEvent is an extensible event envelope for pipeline tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	EntityIDs   []string
	EntityTypes []string

	Stage      string
	DurationMs int64
	Error      string
}

// Tracer is a sink for tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

type tracerKey struct{}

// ContextWithTracer attaches a per question tracer to ctx.
func ContextWithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// TracerFromContext returns the tracer attached to ctx, or nil.
func TracerFromContext(ctx context.Context) Tracer {
	t, _ := ctx.Value(tracerKey{}).(Tracer)
	return t
}

func RecordResolvedEntityIDs(t Tracer, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventResolvedEntityIDs, EntityIDs: ids})
}

func RecordMatchedEntityIDs(t Tracer, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventMatchedEntityIDs, EntityIDs: ids})
}

func RecordQueriedEntityTypes(t Tracer, types ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedEntityTypes, EntityTypes: types})
}

// RecordStage reports that a pipeline stage was entered. Duration is the time
// spent in the previous stage.
func RecordStage(t Tracer, stage string, d time.Duration, err error) {
	if t == nil {
		return
	}
	ev := TraceEvent{Kind: TraceEventStage, Stage: stage, DurationMs: d.Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
	}
	t.Record(ev)
}

// StageRecord is one stage transition seen by a QueryTrace.
type StageRecord struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// QueryTrace collects information about what a single question touched.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	resolvedEntityIDs map[string]struct{}
	matchedEntityIDs  map[string]struct{}
	queriedTypes      map[string]struct{}
	stages            []StageRecord
}

type QueryTraceSnapshot struct {
	ResolvedEntityIDs  []string      `json:"resolved_entity_ids"`
	MatchedEntityIDs   []string      `json:"matched_entity_ids"`
	QueriedEntityTypes []string      `json:"queried_entity_types"`
	Stages             []StageRecord `json:"stages"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		resolvedEntityIDs: make(map[string]struct{}),
		matchedEntityIDs:  make(map[string]struct{}),
		queriedTypes:      make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventResolvedEntityIDs:
		addAll(t.resolvedEntityIDs, event.EntityIDs)
	case TraceEventMatchedEntityIDs:
		addAll(t.matchedEntityIDs, event.EntityIDs)
	case TraceEventQueriedEntityTypes:
		addAll(t.queriedTypes, event.EntityTypes)
	case TraceEventStage:
		t.stages = append(t.stages, StageRecord{Stage: event.Stage, DurationMs: event.DurationMs, Error: event.Error})
	default:
		return
	}
}

func addAll(set map[string]struct{}, values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		ResolvedEntityIDs:  keys(t.resolvedEntityIDs),
		MatchedEntityIDs:   keys(t.matchedEntityIDs),
		QueriedEntityTypes: keys(t.queriedTypes),
		Stages:             slices.Clone(t.stages),
	}
	return s
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
