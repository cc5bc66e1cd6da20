package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/leaselock"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

type published struct {
	exchange, key string
	msg           amqp091.Publishing
}

type fakeChannel struct {
	out []published
	err error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acks, nacks, requeues int
}

func (a *fakeAck) Ack(uint64, bool) error { a.acks++; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	if requeue {
		a.requeues++
	}
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

type fakeScorer struct {
	report      risk.Report
	err         error
	invalidated []string
	reports     int
}

func (f *fakeScorer) Invalidate(ids ...string) { f.invalidated = append(f.invalidated, ids...) }
func (f *fakeScorer) Report(context.Context, ...string) (risk.Report, error) {
	f.reports++
	return f.report, f.err
}

type fakeStore struct{ saved []risk.Report }

func (f *fakeStore) SaveReport(_ context.Context, r risk.Report) error {
	f.saved = append(f.saved, r)
	return nil
}

type fakeArchive struct{ keys []uint64 }

func (f *fakeArchive) Put(_ context.Context, r risk.Report) (string, error) {
	f.keys = append(f.keys, r.SnapshotVersion)
	return "reports/x.json", nil
}

type fakeLocker struct {
	busy bool
	keys []string
}

func (f *fakeLocker) WithLease(ctx context.Context, key string, _ leaselock.Options, fn func(context.Context) error) error {
	f.keys = append(f.keys, key)
	if f.busy {
		return leaselock.ErrBusy
	}
	return fn(ctx)
}

func reportAt(version uint64) risk.Report {
	return risk.Report{
		GeneratedAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		SnapshotVersion: version,
		Warehouses: []risk.Profile{
			{Score: risk.RiskScore{EntityID: "WH_001", SnapshotVersion: version}},
			{Score: risk.RiskScore{EntityID: "WH_003", SnapshotVersion: version, Degraded: true}},
		},
	}
}

func TestSnapshotEventRoundTrip(t *testing.T) {
	body, err := SnapshotEvent{Version: 7}.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":7,"entity_ids":[]}`, string(body))

	ev, err := ParseSnapshotEvent([]byte(`{"version":8,"entity_ids":["WH_001","ZN_1"]}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), ev.Version)
	assert.Equal(t, []string{"WH_001", "ZN_1"}, ev.EntityIDs)

	_, err = ParseSnapshotEvent([]byte(`{"entity_ids":[]}`))
	assert.Error(t, err)
	_, err = ParseSnapshotEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestPublishSnapshotUpdated(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, PublishSnapshotUpdated(context.Background(), ch, SnapshotEvent{Version: 3, EntityIDs: []string{"WH_002"}}))

	require.Len(t, ch.out, 1)
	assert.Equal(t, Exchange, ch.out[0].exchange)
	assert.Equal(t, SnapshotUpdatedKey, ch.out[0].key)
	assert.Equal(t, amqp091.Persistent, ch.out[0].msg.DeliveryMode)

	var ev SnapshotEvent
	require.NoError(t, json.Unmarshal(ch.out[0].msg.Body, &ev))
	assert.Equal(t, uint64(3), ev.Version)
}

func TestRescorerRunsUnderLease(t *testing.T) {
	scorer := &fakeScorer{report: reportAt(5)}
	store := &fakeStore{}
	archive := &fakeArchive{}
	locker := &fakeLocker{}
	synced := 0
	sync := func(context.Context) (bool, error) { synced++; return true, nil }

	r := NewRescorer(scorer, WithGraphSync(sync), WithReportStore(store), WithArchive(archive), WithLocker(locker, leaselock.Options{}))
	require.NoError(t, r.Handle(context.Background(), []byte(`{"version":5,"entity_ids":["WH_001"]}`)))

	assert.Equal(t, 1, synced)
	assert.Equal(t, []string{"WH_001"}, scorer.invalidated)
	assert.Equal(t, []string{"rescore:5"}, locker.keys)
	require.Len(t, store.saved, 1)
	assert.Equal(t, uint64(5), store.saved[0].SnapshotVersion)
	assert.Equal(t, []uint64{5}, archive.keys)
}

func TestRescorerSkipsBusyLease(t *testing.T) {
	scorer := &fakeScorer{report: reportAt(5)}
	store := &fakeStore{}
	r := NewRescorer(scorer, WithReportStore(store), WithLocker(&fakeLocker{busy: true}, leaselock.Options{}))

	require.NoError(t, r.Handle(context.Background(), []byte(`{"version":5}`)))
	assert.Zero(t, scorer.reports)
	assert.Empty(t, store.saved)
}

func TestRescorerWaitsForSnapshot(t *testing.T) {
	scorer := &fakeScorer{report: reportAt(4)}
	store := &fakeStore{}
	sync := func(context.Context) (bool, error) { return false, nil }
	r := NewRescorer(scorer, WithGraphSync(sync), WithReportStore(store))

	err := r.Handle(context.Background(), []byte(`{"version":5}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, errPermanent))
	assert.Empty(t, store.saved)
}

func TestRescorerRejectsMalformedEvents(t *testing.T) {
	r := NewRescorer(&fakeScorer{})
	err := r.Handle(context.Background(), []byte(`{"version":"x"}`))
	require.ErrorIs(t, err, errPermanent)
}

func TestRefresherSyncsAndInvalidates(t *testing.T) {
	scorer := &fakeScorer{}
	failing := errors.New("db down")
	calls := 0
	sync := func(context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, failing
		}
		return true, nil
	}
	r := NewRefresher(sync, scorer)

	body := []byte(`{"version":2,"entity_ids":["ZN_1"]}`)
	require.ErrorIs(t, r.Handle(context.Background(), body), failing)
	assert.Empty(t, scorer.invalidated)

	require.NoError(t, r.Handle(context.Background(), body))
	assert.Equal(t, []string{"ZN_1"}, scorer.invalidated)
}

func TestProcessRoutesFailures(t *testing.T) {
	failing := func(context.Context, []byte) error { return errors.New("boom") }

	t.Run("ack on success", func(t *testing.T) {
		ack := &fakeAck{}
		ch := &fakeChannel{}
		msg := amqp091.Delivery{Acknowledger: ack, Body: []byte("{}")}
		process(context.Background(), ch, RescoreQueue, ConsumeOptions{Retry: true}, msg, func(context.Context, []byte) error { return nil })
		assert.Equal(t, 1, ack.acks)
		assert.Empty(t, ch.out)
	})

	t.Run("retry queue with counter", func(t *testing.T) {
		ack := &fakeAck{}
		ch := &fakeChannel{}
		msg := amqp091.Delivery{Acknowledger: ack, Headers: amqp091.Table{"x-retries": int32(2)}}
		process(context.Background(), ch, RescoreQueue, ConsumeOptions{Retry: true}, msg, failing)
		require.Len(t, ch.out, 1)
		assert.Equal(t, RescoreQueue+"_retry", ch.out[0].key)
		assert.Equal(t, int32(3), ch.out[0].msg.Headers["x-retries"])
		assert.Equal(t, int32(2), msg.Headers["x-retries"])
		assert.Equal(t, 1, ack.acks)
	})

	t.Run("dead letter after max attempts", func(t *testing.T) {
		ack := &fakeAck{}
		ch := &fakeChannel{}
		msg := amqp091.Delivery{Acknowledger: ack, Headers: amqp091.Table{"x-retries": int32(maxDeliveryAttempts)}}
		process(context.Background(), ch, RescoreQueue, ConsumeOptions{Retry: true}, msg, failing)
		require.Len(t, ch.out, 1)
		assert.Equal(t, RescoreQueue+"_dlq", ch.out[0].key)
		assert.Equal(t, "boom", ch.out[0].msg.Headers["x-error"])
	})

	t.Run("dead letter for permanent failures", func(t *testing.T) {
		ch := &fakeChannel{}
		msg := amqp091.Delivery{Acknowledger: &fakeAck{}}
		process(context.Background(), ch, RescoreQueue, ConsumeOptions{Retry: true}, msg, NewRescorer(&fakeScorer{}).Handle)
		require.Len(t, ch.out, 1)
		assert.Equal(t, RescoreQueue+"_dlq", ch.out[0].key)
	})

	t.Run("requeue when republish fails", func(t *testing.T) {
		ack := &fakeAck{}
		ch := &fakeChannel{err: errors.New("channel closed")}
		process(context.Background(), ch, RescoreQueue, ConsumeOptions{Retry: true}, amqp091.Delivery{Acknowledger: ack}, failing)
		assert.Equal(t, 1, ack.requeues)
		assert.Zero(t, ack.acks)
	})

	t.Run("drop without retry", func(t *testing.T) {
		ack := &fakeAck{}
		ch := &fakeChannel{}
		process(context.Background(), ch, "", ConsumeOptions{}, amqp091.Delivery{Acknowledger: ack}, failing)
		assert.Equal(t, 1, ack.nacks)
		assert.Zero(t, ack.requeues)
		assert.Empty(t, ch.out)
	})
}
