package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/leaselock"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

// errPermanent marks failures a redelivery cannot fix.
var errPermanent = errors.New("permanent failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", errPermanent, err)
}

// GraphSync brings the local graph view up to date and reports whether it
// changed.
type GraphSync func(ctx context.Context) (bool, error)

type Scorer interface {
	Invalidate(ids ...string)
	Report(ctx context.Context, ids ...string) (risk.Report, error)
}

type ReportStore interface {
	SaveReport(ctx context.Context, report risk.Report) error
}

type ReportArchive interface {
	Put(ctx context.Context, report risk.Report) (string, error)
}

type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Refresher handles snapshot signals on the serving side: it reloads the
// graph and drops cached scores of the touched entities.
type Refresher struct {
	sync   GraphSync
	scorer Scorer
}

func NewRefresher(sync GraphSync, scorer Scorer) *Refresher {
	return &Refresher{sync: sync, scorer: scorer}
}

func (r *Refresher) Handle(ctx context.Context, body []byte) error {
	ev, err := ParseSnapshotEvent(body)
	if err != nil {
		return permanent(err)
	}
	_, err = refresh(ctx, r.sync, r.scorer, ev)
	return err
}

func refresh(ctx context.Context, sync GraphSync, scorer Scorer, ev SnapshotEvent) (bool, error) {
	changed := false
	if sync != nil {
		var err error
		changed, err = sync(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to sync snapshot %d: %w", ev.Version, err)
		}
	}
	if scorer != nil && len(ev.EntityIDs) > 0 {
		scorer.Invalidate(ev.EntityIDs...)
	}
	logger.Debug("[Queue] Snapshot signal handled", "version", ev.Version, "changed", changed, "entities", len(ev.EntityIDs))
	return changed, nil
}

// Rescorer handles snapshot signals on the worker side: it rescores every
// warehouse, persists the scores and archives the report. A lease per
// snapshot version keeps concurrent workers from repeating the run.
type Rescorer struct {
	sync    GraphSync
	scorer  Scorer
	store   ReportStore
	archive ReportArchive
	locker  Locker
	lease   leaselock.Options
}

type RescorerOption func(*Rescorer)

func WithGraphSync(s GraphSync) RescorerOption {
	return func(r *Rescorer) {
		r.sync = s
	}
}

func WithReportStore(s ReportStore) RescorerOption {
	return func(r *Rescorer) {
		r.store = s
	}
}

func WithArchive(a ReportArchive) RescorerOption {
	return func(r *Rescorer) {
		r.archive = a
	}
}

func WithLocker(l Locker, opts leaselock.Options) RescorerOption {
	return func(r *Rescorer) {
		r.locker = l
		r.lease = opts
	}
}

func NewRescorer(scorer Scorer, opts ...RescorerOption) *Rescorer {
	r := &Rescorer{scorer: scorer}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Rescorer) Handle(ctx context.Context, body []byte) error {
	ev, err := ParseSnapshotEvent(body)
	if err != nil {
		return permanent(err)
	}
	if _, err := refresh(ctx, r.sync, r.scorer, ev); err != nil {
		return err
	}

	if r.locker == nil {
		return r.rescore(ctx, ev)
	}
	err = r.locker.WithLease(ctx, leaselock.RescoreKey(ev.Version), r.lease, func(ctx context.Context) error {
		return r.rescore(ctx, ev)
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("[Risk] Snapshot is already being rescored", "version", ev.Version)
		return nil
	}
	return err
}

func (r *Rescorer) rescore(ctx context.Context, ev SnapshotEvent) error {
	report, err := r.scorer.Report(ctx)
	if err != nil {
		return fmt.Errorf("failed to score snapshot %d: %w", ev.Version, err)
	}
	if r.sync != nil && report.SnapshotVersion < ev.Version && len(report.Warehouses) > 0 {
		return fmt.Errorf("snapshot %d not visible yet, scored %d", ev.Version, report.SnapshotVersion)
	}

	degraded := 0
	for _, p := range report.Warehouses {
		if p.Score.Degraded {
			degraded++
		}
	}
	logger.Info("[Risk] Rescored snapshot", "version", report.SnapshotVersion, "warehouses", len(report.Warehouses), "degraded", degraded)

	if r.store != nil {
		if err := r.store.SaveReport(ctx, report); err != nil {
			return fmt.Errorf("failed to save scores: %w", err)
		}
	}
	if r.archive != nil {
		if _, err := r.archive.Put(ctx, report); err != nil {
			return err
		}
	}
	return nil
}
