package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/warehouse-risk/internal/util"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/graph"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

// Snapshot is a full copy of the graph at one version.
type Snapshot struct {
	Version uint64
	Batch   graph.Batch
}

const (
	latestVersionSQL = `SELECT COALESCE(MAX(version), 0) FROM graph_snapshots`

	entitiesSQL = `SELECT id, type, attributes FROM graph_entities ORDER BY seq`

	relationshipsSQL = `SELECT type, source_id, target_id, attributes FROM graph_relationships ORDER BY seq`

	upsertEntitySQL = `
INSERT INTO graph_entities (id, type, attributes)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET type = EXCLUDED.type,
    attributes = EXCLUDED.attributes,
    updated_at = now()`

	upsertRelationshipSQL = `
INSERT INTO graph_relationships (type, source_id, target_id, attributes)
VALUES ($1, $2, $3, $4)
ON CONFLICT (type, source_id, target_id) DO UPDATE
SET attributes = EXCLUDED.attributes`

	nextVersionSQL = `
INSERT INTO graph_snapshots (version)
SELECT COALESCE(MAX(version), 0) + 1 FROM graph_snapshots
RETURNING version`
)

// LatestVersion returns the newest published snapshot version, 0 when none
// was published yet.
func (s *SnapshotStore) LatestVersion(ctx context.Context) (uint64, error) {
	var v int64
	if err := s.conn.QueryRow(ctx, latestVersionSQL).Scan(&v); err != nil {
		return 0, storeError("read snapshot version", err)
	}
	return uint64(v), nil
}

// Load reads the whole snapshot in insertion order.
func (s *SnapshotStore) Load(ctx context.Context) (Snapshot, error) {
	version, err := s.LatestVersion(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Version: version}

	rows, err := s.conn.Query(ctx, entitiesSQL)
	if err != nil {
		return Snapshot{}, storeError("read entities", err)
	}
	for rows.Next() {
		var (
			id, typ string
			attrs   []byte
		)
		if err := rows.Scan(&id, &typ, &attrs); err != nil {
			rows.Close()
			return Snapshot{}, storeError("scan entity", err)
		}
		e, err := decodeEntity(s.registry, id, typ, attrs)
		if err != nil {
			rows.Close()
			return Snapshot{}, err
		}
		snap.Batch.Entities = append(snap.Batch.Entities, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Snapshot{}, storeError("read entities", err)
	}

	rows, err = s.conn.Query(ctx, relationshipsSQL)
	if err != nil {
		return Snapshot{}, storeError("read relationships", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ, source, target string
			attrs               []byte
		)
		if err := rows.Scan(&typ, &source, &target, &attrs); err != nil {
			return Snapshot{}, storeError("scan relationship", err)
		}
		rel := common.Relationship{Type: common.RelType(typ), SourceID: source, TargetID: target}
		if rel.Attributes, err = decodeAttributes(attrs); err != nil {
			return Snapshot{}, fmt.Errorf("relationship %s: %w", rel.Key(), err)
		}
		if len(rel.Attributes) == 0 {
			rel.Attributes = nil
		}
		snap.Batch.Relationships = append(snap.Batch.Relationships, rel)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, storeError("read relationships", err)
	}
	return snap, nil
}

// Sync loads the snapshot into g when Postgres holds a newer version than
// the one loaded last. It reports whether g was replaced.
func (s *SnapshotStore) Sync(ctx context.Context, g *graph.Graph) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.LatestVersion(ctx)
	if err != nil {
		return false, err
	}
	if s.synced && version <= s.loaded {
		return false, nil
	}

	snap, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	res, err := g.ReplaceAt(ctx, snap.Batch, snap.Version)
	if err != nil {
		return false, fmt.Errorf("load snapshot %d: %w", snap.Version, err)
	}
	s.loaded = snap.Version
	s.synced = true

	logger.Info("[Graph] Loaded snapshot from Postgres",
		"snapshot", snap.Version,
		"graph_version", res.Version,
		"entities", len(snap.Batch.Entities),
		"relationships", len(snap.Batch.Relationships),
	)
	return true, nil
}

// Publish upserts a batch and records a new snapshot version in one
// transaction. It is the write path of the ingestion collaborator and of
// the demo seed.
func (s *SnapshotStore) Publish(ctx context.Context, batch graph.Batch) (uint64, error) {
	for _, e := range batch.Entities {
		if err := s.registry.ValidateEntity(e); err != nil {
			return 0, err
		}
	}

	b, err := publishBatch(batch)
	if err != nil {
		return 0, err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, storeError("begin publish", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return 0, storeError("write batch", err)
	}
	var version int64
	if err := tx.QueryRow(ctx, nextVersionSQL).Scan(&version); err != nil {
		return 0, storeError("record snapshot version", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storeError("commit publish", err)
	}

	logger.Info("[Graph] Published snapshot", "snapshot", version, "entities", len(batch.Entities), "relationships", len(batch.Relationships))
	return uint64(version), nil
}

func publishBatch(batch graph.Batch) (*pgxv5.Batch, error) {
	b := &pgxv5.Batch{}
	for _, e := range batch.Entities {
		attrs, err := encodeAttributes(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", e.ID, err)
		}
		b.Queue(upsertEntitySQL, util.SanitizePostgresText(e.ID), string(e.Type), attrs)
	}
	for _, r := range batch.Relationships {
		attrs, err := encodeAttributes(r.Attributes)
		if err != nil {
			return nil, fmt.Errorf("relationship %s: %w", r.Key(), err)
		}
		b.Queue(upsertRelationshipSQL, string(r.Type), r.SourceID, r.TargetID, attrs)
	}
	return b, nil
}

func encodeAttributes(attrs map[string]any) ([]byte, error) {
	clean := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if s, ok := v.(string); ok {
			v = util.SanitizePostgresText(s)
		}
		clean[k] = v
	}
	return json.Marshal(clean)
}

func decodeAttributes(raw []byte) (map[string]any, error) {
	attrs := map[string]any{}
	if len(raw) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return attrs, nil
}

// decodeEntity restores attribute kinds JSON loses: integers come back as
// float64 and are converted where the registry declares an int.
func decodeEntity(registry *schema.Registry, id, typ string, raw []byte) (common.Entity, error) {
	attrs, err := decodeAttributes(raw)
	if err != nil {
		return common.Entity{}, fmt.Errorf("entity %s: %w", id, err)
	}
	e := common.Entity{ID: id, Type: common.EntityType(typ), Attributes: attrs}

	t, ok := registry.Type(e.Type)
	if !ok {
		return e, nil
	}
	for name, v := range attrs {
		a, ok := t.Attribute(name)
		if !ok || a.Kind != schema.KindInt {
			continue
		}
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			attrs[name] = int64(f)
		}
	}
	return e, nil
}

// storeError marks connection level failures as StoreUnavailable.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isConnError(err) {
		return common.NewError(common.KindStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
