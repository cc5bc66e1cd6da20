package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/metrics"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/query"
)

// scoredRelationships are the edges whose targets feed the factor catalogue.
var scoredRelationships = map[common.RelType]struct{}{
	common.RelHasInfrastructure: {},
	common.RelExperienced:       {},
	common.RelOperatesIn:        {},
	common.RelLocatedIn:         {},
}

type versioner interface {
	Version(ctx context.Context) (uint64, error)
}

// Service scores warehouses on demand through a read-through cache. It also
// supplies the derived score fields of the query executor.
type Service struct {
	engine  *Engine
	source  query.NeighborhoodSource
	cache   *Cache
	group   singleflight.Group
	metrics *metrics.Metrics
	workers int
}

type ServiceOption func(*Service)

func WithCache(c *Cache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithWorkers bounds the concurrency of batch scoring.
func WithWorkers(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func NewService(engine *Engine, source query.NeighborhoodSource, opts ...ServiceOption) *Service {
	s := &Service{engine: engine, source: source, cache: NewCache(), workers: 8}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the scoring engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Score returns the score of one warehouse. A degraded score is returned
// together with its InsufficientData error.
func (s *Service) Score(ctx context.Context, id string) (RiskScore, error) {
	if v, ok := s.source.(versioner); ok {
		if version, err := v.Version(ctx); err == nil {
			if cached, hit := s.cache.Get(id, version); hit {
				s.metrics.ScoreCacheLookup(true)
				return cached, degradedError(cached)
			}
		}
	}
	s.metrics.ScoreCacheLookup(false)

	n, err := s.source.Neighborhood(ctx, id)
	if err != nil {
		return RiskScore{}, err
	}
	if n.Center.Type != common.TypeWarehouse {
		return RiskScore{}, fmt.Errorf("entity %s is a %s, not a warehouse: %w", id, n.Center.Type, common.ErrNotFound)
	}

	key := id + "@" + strconv.FormatUint(n.Version, 10)
	v, err, _ := s.group.Do(key, func() (any, error) {
		if cached, hit := s.cache.Get(id, n.Version); hit {
			return cached, nil
		}
		score, _ := s.engine.Score(n.Center, scoredNeighbors(n))
		score.SnapshotVersion = n.Version
		s.metrics.ScoreComputed()
		if !s.cache.Put(score) {
			logger.Debug("[Risk] Dropped stale score", "id", id, "version", n.Version)
		}
		return score, nil
	})
	if err != nil {
		return RiskScore{}, err
	}
	score := v.(RiskScore).Clone()
	return score, degradedError(score)
}

func scoredNeighbors(n query.Neighborhood) []common.Entity {
	out := make([]common.Entity, 0, len(n.Related))
	for i, e := range n.Related {
		if i < len(n.Relationships) {
			if _, ok := scoredRelationships[n.Relationships[i].Type]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// ScoreMany scores the given warehouses concurrently and returns the scores
// in input order. Degraded scores are included without error.
func (s *Service) ScoreMany(ctx context.Context, ids []string) ([]RiskScore, error) {
	scores := make([]RiskScore, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range ids {
		g.Go(func() error {
			score, err := s.Score(ctx, id)
			if err != nil && !errors.Is(err, common.ErrInsufficientData) {
				return fmt.Errorf("score %s: %w", id, err)
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// ScoreAll scores every warehouse of the current snapshot.
func (s *Service) ScoreAll(ctx context.Context) ([]RiskScore, error) {
	ids, err := s.source.IDs(ctx, common.TypeWarehouse)
	if err != nil {
		return nil, err
	}
	return s.ScoreMany(ctx, ids)
}

// Invalidate drops cached scores, for example after a snapshot update.
func (s *Service) Invalidate(ids ...string) {
	s.cache.Invalidate(ids...)
}

// Derive implements the executor's derived field lookup. Categories missing
// from a degraded score yield nil values.
func (s *Service) Derive(ctx context.Context, ids []string, fields []string) (map[string]map[string]any, error) {
	scores, err := s.ScoreMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any, len(scores))
	for _, score := range scores {
		values := make(map[string]any, len(fields))
		for _, f := range fields {
			values[f] = derivedValue(score, f)
		}
		out[score.EntityID] = values
	}
	return out, nil
}

func derivedValue(s RiskScore, field string) any {
	if field == query.FieldOverallScore {
		return s.OverallScore
	}
	cat := Category(field[len(query.FieldScorePrefix):])
	if v, ok := s.CategoryScores[cat]; ok {
		return v
	}
	return nil
}
