// Package pgx keeps the knowledge graph snapshot and the computed risk
// scores in PostgreSQL. The reasoning pipeline never queries Postgres per
// question: the snapshot is loaded into the in-memory graph and reloaded
// when the ingestion collaborator publishes a newer version.
package pgx

import (
	"context"
	"sync"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

// SnapshotStore reads and writes graph snapshots and risk scores.
type SnapshotStore struct {
	conn     pgxIConn
	registry *schema.Registry

	mu     sync.Mutex
	synced bool
	loaded uint64
}

func NewSnapshotStore(conn pgxIConn, registry *schema.Registry) *SnapshotStore {
	return &SnapshotStore{conn: conn, registry: registry}
}
