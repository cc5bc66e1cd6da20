package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

// Scores computed for an older snapshot never overwrite newer ones.
const upsertScoreSQL = `
INSERT INTO risk_scores (entity_id, snapshot_version, overall_score, level, degraded, report, computed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (entity_id) DO UPDATE
SET snapshot_version = EXCLUDED.snapshot_version,
    overall_score    = EXCLUDED.overall_score,
    level            = EXCLUDED.level,
    degraded         = EXCLUDED.degraded,
    report           = EXCLUDED.report,
    computed_at      = EXCLUDED.computed_at
WHERE risk_scores.snapshot_version <= EXCLUDED.snapshot_version`

// SaveReport stores the latest profile of every warehouse in the report.
func (s *SnapshotStore) SaveReport(ctx context.Context, report risk.Report) error {
	if len(report.Warehouses) == 0 {
		return nil
	}
	b, err := scoreBatch(report)
	if err != nil {
		return err
	}
	if err := s.conn.SendBatch(ctx, b).Close(); err != nil {
		return storeError("save risk scores", err)
	}
	return nil
}

func scoreBatch(report risk.Report) (*pgxv5.Batch, error) {
	b := &pgxv5.Batch{}
	for _, p := range report.Warehouses {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode profile %s: %w", p.Score.EntityID, err)
		}
		b.Queue(upsertScoreSQL,
			p.Score.EntityID,
			int64(p.Score.SnapshotVersion),
			p.Score.OverallScore,
			p.Level,
			p.Score.Degraded,
			raw,
			p.Score.ComputedAt,
		)
	}
	return b, nil
}
