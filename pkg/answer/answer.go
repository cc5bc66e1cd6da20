// Package answer turns executed records and risk scores into the final
// natural language answer with citations and recommendations.
package answer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/warehouse-risk/internal/util"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/ai"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/executor"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/metrics"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

const noMatchText = "No records in the knowledge graph match your question."

// Answer is the result of one question.
type Answer struct {
	Text            string                `json:"text"`
	CitedRecords    []executor.Record     `json:"cited_records"`
	Recommendations []risk.Recommendation `json:"recommendations"`
	Scores          []risk.RiskScore      `json:"scores,omitempty"`
	// Degraded is set when any score lacks a category.
	Degraded bool     `json:"degraded"`
	Notes    []string `json:"notes,omitempty"`
	// Fallback marks templated answers built without the language model.
	Fallback bool                      `json:"fallback"`
	Metadata Metadata                  `json:"metadata"`
	Trace    *query.QueryTraceSnapshot `json:"trace,omitempty"`
}

// Metadata describes how an answer was produced.
type Metadata struct {
	RequestID   string       `json:"request_id,omitempty"`
	Intent      query.Intent `json:"intent,omitempty"`
	RecordCount int          `json:"record_count"`
	DurationMs  int64        `json:"duration_ms"`
}

// Recommender derives recommendations from scores. *risk.Engine implements it.
type Recommender interface {
	Recommend(scores ...risk.RiskScore) []risk.Recommendation
}

type Config struct {
	// TokenBudget caps the grounding context handed to the model.
	TokenBudget  int
	ModelTimeout time.Duration
	Retry        util.Backoff
	Temperature  float64
	MaxTokens    int
}

func DefaultConfig() Config {
	return Config{
		TokenBudget:  3000,
		ModelTimeout: 30 * time.Second,
		Retry: util.Backoff{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    4 * time.Second,
		},
		Temperature: 0.2,
		MaxTokens:   800,
	}
}

type Synthesizer struct {
	client      ai.Client
	recommender Recommender
	cfg         Config
	count       TokenCounter
	metrics     *metrics.Metrics
}

type Option func(*Synthesizer)

// WithTokenCounter replaces the tiktoken based counter.
func WithTokenCounter(c TokenCounter) Option {
	return func(s *Synthesizer) {
		s.count = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synthesizer) {
		s.metrics = m
	}
}

// New creates a synthesizer. A nil client makes every answer templated.
func New(client ai.Client, recommender Recommender, cfg Config, opts ...Option) *Synthesizer {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultConfig().TokenBudget
	}
	s := &Synthesizer{client: client, recommender: recommender, cfg: cfg, count: ai.CountTokens}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize answers question from records and scores. The model only
// phrases the facts it is given; recommendations and degraded notes are
// appended deterministically. Zero records yield a templated answer without
// calling the model. When the model stays unreachable after retry the error
// is SynthesisFailed.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, records []executor.Record, scores map[string]risk.RiskScore) (Answer, error) {
	if len(records) == 0 {
		return s.assemble("", nil, nil, false), nil
	}
	if s.client == nil {
		return s.Fallback(question, records, scores), nil
	}

	ordered := orderScores(records, scores)
	grounding := s.buildContext(records, ordered)
	prompt := fmt.Sprintf(ai.AnswerPrompt, grounding.text, question)

	attempt := 0
	body, err := util.RetryWithBackoff(ctx, s.cfg.Retry, isUnavailable, func(ctx context.Context) (string, error) {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.cfg.ModelTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.ModelTimeout)
		}
		defer cancel()

		out, err := s.client.GenerateCompletion(callCtx, prompt,
			ai.WithTemperature(s.cfg.Temperature),
			ai.WithMaxTokens(s.cfg.MaxTokens),
		)
		switch {
		case err == nil && strings.TrimSpace(out) == "":
			err = fmt.Errorf("%w: empty completion", ai.ErrUnavailable)
		case err != nil && ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil && callCtx.Err() != nil:
			err = fmt.Errorf("%w: call timed out after %s", ai.ErrUnavailable, s.cfg.ModelTimeout)
		}
		s.metrics.ModelCall("answer", err)
		if err != nil {
			logger.Warn("[Answer] Model call failed", "attempt", attempt, "err", err)
			return "", err
		}
		return out, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		return Answer{}, common.NewError(common.KindSynthesisFailed, "language model unreachable", err)
	}

	body = util.NormalizeCitations(strings.TrimSpace(body), grounding.records)
	return s.assemble(body, records, ordered, false), nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, ai.ErrUnavailable)
}

// Fallback builds the templated answer straight from records and scores.
func (s *Synthesizer) Fallback(question string, records []executor.Record, scores map[string]risk.RiskScore) Answer {
	ordered := orderScores(records, scores)
	return s.assemble(templateBody(question, records, ordered), records, ordered, true)
}

func (s *Synthesizer) assemble(body string, records []executor.Record, scores []risk.RiskScore, fallback bool) Answer {
	a := Answer{
		CitedRecords:    append([]executor.Record{}, records...),
		Recommendations: []risk.Recommendation{},
		Scores:          scores,
		Fallback:        fallback,
		Metadata:        Metadata{RecordCount: len(records)},
	}
	if len(records) == 0 {
		a.Text = noMatchText
		return a
	}

	if s.recommender != nil && len(scores) > 0 {
		if recs := s.recommender.Recommend(scores...); len(recs) > 0 {
			a.Recommendations = recs
		}
	}
	for _, sc := range scores {
		if !sc.Degraded {
			continue
		}
		a.Degraded = true
		a.Notes = append(a.Notes, degradedNote(sc))
	}

	var b strings.Builder
	b.WriteString(body)
	if len(a.Notes) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(a.Notes, "\n"))
	}
	if len(a.Recommendations) > 0 {
		b.WriteString("\n\nRecommendations:")
		for i, r := range a.Recommendations {
			fmt.Fprintf(&b, "\n%d. [%s] %s: %s (%s, contribution %s)",
				i+1, r.Severity, r.EntityID, r.Action, r.Factor, formatNumber(r.Contribution))
		}
	}
	a.Text = b.String()
	return a
}

func degradedNote(s risk.RiskScore) string {
	missing := make([]string, 0, len(s.MissingCategories))
	for _, c := range s.MissingCategories {
		missing = append(missing, string(c))
	}
	return fmt.Sprintf("Note: the risk score of %s is degraded, no data for %s.", s.EntityID, strings.Join(missing, ", "))
}

// orderScores returns the scores of entities referenced by records in order
// of first reference, followed by unreferenced scores in id order.
func orderScores(records []executor.Record, scores map[string]risk.RiskScore) []risk.RiskScore {
	if len(scores) == 0 {
		return nil
	}
	out := make([]risk.RiskScore, 0, len(scores))
	seen := make(map[string]struct{}, len(scores))
	for _, r := range records {
		for _, id := range r.EntityIDs() {
			sc, ok := scores[id]
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, sc)
		}
	}

	rest := make([]string, 0)
	for id := range scores {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	for _, id := range rest {
		out = append(out, scores[id])
	}
	return out
}
