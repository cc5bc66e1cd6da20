package risk

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
)

// Profile is the risk picture of one warehouse.
type Profile struct {
	Score           RiskScore        `json:"score"`
	Level           string           `json:"level"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Report collects the profiles of a rescoring run.
type Report struct {
	GeneratedAt     time.Time `json:"generated_at"`
	SnapshotVersion uint64    `json:"snapshot_version"`
	Warehouses      []Profile `json:"warehouses"`
}

func (s *Service) profile(score RiskScore) Profile {
	recs := s.engine.Recommend(score)
	if recs == nil {
		recs = []Recommendation{}
	}
	return Profile{Score: score, Level: score.Level(), Recommendations: recs}
}

// Profile scores one warehouse and derives its recommendations. A degraded
// score is not an error here; the profile carries the Degraded flag.
func (s *Service) Profile(ctx context.Context, id string) (Profile, error) {
	score, err := s.Score(ctx, id)
	if err != nil && !errors.Is(err, common.ErrInsufficientData) {
		return Profile{}, err
	}
	return s.profile(score), nil
}

// Report profiles the given warehouses, or every warehouse when ids is
// empty, in input order.
func (s *Service) Report(ctx context.Context, ids ...string) (Report, error) {
	var (
		scores []RiskScore
		err    error
	)
	if len(ids) == 0 {
		scores, err = s.ScoreAll(ctx)
	} else {
		scores, err = s.ScoreMany(ctx, ids)
	}
	if err != nil {
		return Report{}, err
	}

	r := Report{GeneratedAt: s.engine.now().UTC(), Warehouses: make([]Profile, 0, len(scores))}
	for _, score := range scores {
		r.SnapshotVersion = max(r.SnapshotVersion, score.SnapshotVersion)
		r.Warehouses = append(r.Warehouses, s.profile(score))
	}
	return r, nil
}
