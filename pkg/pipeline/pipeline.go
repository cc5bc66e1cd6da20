// Package pipeline answers questions by running the query synthesizer, the
// executor, the risk scoring and the answer synthesizer in sequence under
// one admission gate and one overall timeout.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/OFFIS-RIT/warehouse-risk/internal/util"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/answer"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/executor"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/metrics"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

// State of one question.
type State string

const (
	StateReceived     State = "Received"
	StateSynthesizing State = "Synthesizing"
	StateExecuting    State = "Executing"
	StateScoring      State = "Scoring"
	StateAnswering    State = "Answering"
	StateCompleted    State = "Completed"
	StateErrored      State = "Errored"
)

type QuerySynthesizer interface {
	Synthesize(ctx context.Context, question string) (query.StructuredQuery, error)
}

type QueryExecutor interface {
	Execute(ctx context.Context, q query.StructuredQuery) ([]executor.Record, error)
}

// Scorer scores warehouses; degraded scores are returned without error.
type Scorer interface {
	ScoreMany(ctx context.Context, ids []string) ([]risk.RiskScore, error)
}

type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, records []executor.Record, scores map[string]risk.RiskScore) (answer.Answer, error)
	Fallback(question string, records []executor.Record, scores map[string]risk.RiskScore) answer.Answer
}

type Config struct {
	// Timeout bounds a question from arrival to answer, queue wait included.
	Timeout       time.Duration
	MaxConcurrent int
	// MaxQueued is the number of questions allowed to wait for admission;
	// zero rejects every question arriving while all slots are taken.
	MaxQueued    int
	QueueTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:       60 * time.Second,
		MaxConcurrent: 10,
		MaxQueued:     100,
		QueueTimeout:  10 * time.Second,
	}
}

// Orchestrator is the single entry point of the presentation layer.
type Orchestrator struct {
	synth   QuerySynthesizer
	exec    QueryExecutor
	scorer  Scorer
	answers AnswerSynthesizer
	cfg     Config

	sem      *semaphore.Weighted
	mu       sync.Mutex
	inFlight int
	queued   int

	metrics *metrics.Metrics
	tracer  query.Tracer
}

type Option func(*Orchestrator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer receives the events of every question in addition to the
// per question trace attached to the answer.
func WithTracer(t query.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

func New(synth QuerySynthesizer, exec QueryExecutor, scorer Scorer, answers AnswerSynthesizer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	o := &Orchestrator{
		synth:   synth,
		exec:    exec,
		scorer:  scorer,
		answers: answers,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stats reports the admitted and waiting questions.
func (o *Orchestrator) Stats() (inFlight, queued int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight, o.queued
}

type requestIDKey struct{}

// ContextWithRequestID sets the id Ask reports for the question.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return util.NewRequestID()
}

type result struct {
	answer answer.Answer
	intent query.Intent
	err    error
}

// Ask answers one question. The caller receives either a complete answer or
// a typed error, never both.
func (o *Orchestrator) Ask(ctx context.Context, question string) (answer.Answer, error) {
	start := time.Now()
	id := requestID(ctx)

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	trace := query.NewQueryTrace()
	tracer := query.Tracer(trace)
	if o.tracer != nil {
		tracer = query.MultiTracer{trace, o.tracer}
	}
	ctx = query.ContextWithTracer(ctx, tracer)
	query.RecordStage(tracer, string(StateReceived), 0, nil)

	if err := o.admit(ctx); err != nil {
		err = o.classify(ctx, err)
		o.finish(id, "", start, err)
		query.RecordStage(tracer, string(StateErrored), time.Since(start), err)
		return answer.Answer{}, err
	}

	done := make(chan result, 1)
	go func() {
		defer o.release()
		done <- o.run(ctx, question, tracer)
	}()

	var r result
	select {
	case r = <-done:
		if r.err == nil && ctx.Err() != nil {
			r.err = ctx.Err()
		}
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	if r.err != nil {
		r.err = o.classify(ctx, r.err)
		query.RecordStage(tracer, string(StateErrored), 0, r.err)
		o.finish(id, r.intent, start, r.err)
		return answer.Answer{}, r.err
	}

	query.RecordStage(tracer, string(StateCompleted), 0, nil)
	snapshot := trace.Snapshot()
	a := r.answer
	a.Metadata.RequestID = id
	a.Metadata.Intent = r.intent
	a.Metadata.DurationMs = time.Since(start).Milliseconds()
	a.Trace = &snapshot
	o.finish(id, r.intent, start, nil)
	return a, nil
}

// admit waits for a free slot in arrival order.
func (o *Orchestrator) admit(ctx context.Context) error {
	if o.sem.TryAcquire(1) {
		o.track(1, 0)
		return nil
	}

	o.mu.Lock()
	if o.queued >= o.cfg.MaxQueued {
		o.mu.Unlock()
		return common.Errorf(common.KindOverloaded, "admission queue is full (%d waiting)", o.cfg.MaxQueued)
	}
	o.queued++
	in, q := o.inFlight, o.queued
	o.mu.Unlock()
	o.metrics.SetAdmission(in, q)

	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.QueueTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, o.cfg.QueueTimeout)
	}
	defer cancel()

	if err := o.sem.Acquire(waitCtx, 1); err != nil {
		o.track(0, -1)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return common.Errorf(common.KindOverloaded, "no capacity within %s", o.cfg.QueueTimeout)
	}
	o.track(1, -1)
	return nil
}

func (o *Orchestrator) release() {
	o.track(-1, 0)
	o.sem.Release(1)
}

func (o *Orchestrator) track(inFlight, queued int) {
	o.mu.Lock()
	o.inFlight += inFlight
	o.queued += queued
	in, q := o.inFlight, o.queued
	o.mu.Unlock()
	o.metrics.SetAdmission(in, q)
}

// classify maps context errors of the question deadline to Timeout.
func (o *Orchestrator) classify(ctx context.Context, err error) error {
	if _, typed := common.KindOf(err); typed {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return common.NewError(common.KindTimeout, fmt.Sprintf("question not answered within %s", o.cfg.Timeout), nil)
	}
	return err
}

func (o *Orchestrator) finish(id string, intent query.Intent, start time.Time, err error) {
	outcome := "completed"
	if err != nil {
		outcome = "errored"
		if kind, ok := common.KindOf(err); ok {
			outcome = string(kind)
		}
	}
	o.metrics.RecordQuestion(string(intent), outcome)

	if err != nil {
		logger.Warn("[Pipeline] Question failed", "request_id", id, "intent", intent, "duration_ms", time.Since(start).Milliseconds(), "err", err)
		return
	}
	logger.Info("[Pipeline] Question answered", "request_id", id, "intent", intent, "duration_ms", time.Since(start).Milliseconds())
}
