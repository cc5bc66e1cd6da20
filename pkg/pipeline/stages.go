package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/answer"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/executor"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

// stageClock reports state transitions with the time spent in the previous
// state.
type stageClock struct {
	o      *Orchestrator
	tracer query.Tracer
	state  State
	since  time.Time
}

// enter moves to state s unless the question was already abandoned.
func (c *stageClock) enter(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := time.Since(c.since)
	c.o.metrics.ObserveStage(string(c.state), d)
	query.RecordStage(c.tracer, string(s), d, nil)
	logger.Debug("[Pipeline] State transition", "from", c.state, "to", s, "duration_ms", d.Milliseconds())
	c.state = s
	c.since = time.Now()
	return nil
}

func (o *Orchestrator) run(ctx context.Context, question string, tracer query.Tracer) result {
	clock := &stageClock{o: o, tracer: tracer, state: StateReceived, since: time.Now()}

	if err := clock.enter(ctx, StateSynthesizing); err != nil {
		return result{err: err}
	}
	q, err := o.synth.Synthesize(ctx, question)
	if err != nil {
		return result{err: err}
	}

	if err := clock.enter(ctx, StateExecuting); err != nil {
		return result{intent: q.Intent, err: err}
	}
	records, err := o.exec.Execute(ctx, q)
	if err != nil {
		return result{intent: q.Intent, err: err}
	}

	if err := clock.enter(ctx, StateScoring); err != nil {
		return result{intent: q.Intent, err: err}
	}
	scores, err := o.score(ctx, q, records)
	if err != nil {
		return result{intent: q.Intent, err: err}
	}

	if err := clock.enter(ctx, StateAnswering); err != nil {
		return result{intent: q.Intent, err: err}
	}
	a, err := o.answers.Synthesize(ctx, question, records, scores)
	if errors.Is(err, common.ErrSynthesisFailed) {
		logger.Warn("[Pipeline] Answer synthesis failed, using templated answer", "err", err)
		a, err = o.answers.Fallback(question, records, scores), nil
	}
	if err != nil {
		return result{intent: q.Intent, err: err}
	}
	o.metrics.ObserveStage(string(StateAnswering), time.Since(clock.since))
	return result{answer: a, intent: q.Intent}
}

// score rates the warehouses the records start from. Aggregated records and
// other subjects carry no per warehouse score.
func (o *Orchestrator) score(ctx context.Context, q query.StructuredQuery, records []executor.Record) (map[string]risk.RiskScore, error) {
	if o.scorer == nil || q.Start.Type != common.TypeWarehouse || q.Aggregation != nil || len(records) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		entityIDs := r.EntityIDs()
		if len(entityIDs) == 0 {
			continue
		}
		if _, ok := seen[entityIDs[0]]; ok {
			continue
		}
		seen[entityIDs[0]] = struct{}{}
		ids = append(ids, entityIDs[0])
	}

	scores, err := o.scorer.ScoreMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]risk.RiskScore, len(scores))
	for _, s := range scores {
		out[s.EntityID] = s
	}
	return out, nil
}

var _ AnswerSynthesizer = (*answer.Synthesizer)(nil)
