package rebroadcaster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
	"github.com/ramiqadoumi/delegate-rebroadcast/pkg/retry"
)

func exhausted(id string) *domain.Task {
	t := queued(id, "d1")
	t.BroadcastRound = domain.MaxRound
	t.BroadcastCount = 5
	return t
}

func newTestEscalator(store EscalationStore, reporter FailureReporter, rec Recorder) *FailureEscalator {
	e := NewFailureEscalator(store, reporter, rec, discardLogger)
	e.retry = retry.Config{MaxAttempts: 3, Backoff: func(int) time.Duration { return 0 }}
	e.now = func() time.Time { return t0 }
	return e
}

func TestEscalate_MarksFailedReportsAndRecords(t *testing.T) {
	store := newFakeStore(exhausted("t1"))
	reporter := &fakeReporter{}
	rec := &fakeRecorder{}
	e := newTestEscalator(store, reporter, rec)

	require.NoError(t, e.Escalate(context.Background(), store.get("t1")))

	got := store.get("t1")
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 7, got.BroadcastCount, "one bump for the lease, one for the failure")
	assert.Equal(t, []report{{"t1", "acct-1", domain.ErrorKindRebroadcastLimitReached}}, reporter.all())
	require.Len(t, rec.events, 1)
	assert.True(t, rec.events[0].Escalated)
	assert.Equal(t, 7, rec.events[0].BroadcastCount)
}

func TestEscalate_SecondCallIsStale(t *testing.T) {
	store := newFakeStore(exhausted("t1"))
	reporter := &fakeReporter{}
	e := newTestEscalator(store, reporter, nil)
	snapshot := store.get("t1")

	require.NoError(t, e.Escalate(context.Background(), snapshot))
	err := e.Escalate(context.Background(), snapshot)

	var stale *domain.StaleBroadcastError
	require.ErrorAs(t, err, &stale)
	assert.Len(t, reporter.all(), 1)
}

func TestEscalate_RetriesReport(t *testing.T) {
	store := newFakeStore(exhausted("t1"))
	reporter := &fakeReporter{failN: 2}
	e := newTestEscalator(store, reporter, nil)

	require.NoError(t, e.Escalate(context.Background(), store.get("t1")))
	assert.Len(t, reporter.all(), 1)
}

func TestEscalate_UndeliveredReportLeavesTaskLeased(t *testing.T) {
	store := newFakeStore(exhausted("t1"))
	reporter := &fakeReporter{failN: 10}
	rec := &fakeRecorder{}
	e := newTestEscalator(store, reporter, rec)

	err := e.Escalate(context.Background(), store.get("t1"))
	require.Error(t, err)
	var stale *domain.StaleBroadcastError
	assert.False(t, errors.As(err, &stale))

	got := store.get("t1")
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, 6, got.BroadcastCount)
	assert.Equal(t, t0.Add(defaultEscalationLease), got.NextBroadcastAt)
	assert.Empty(t, rec.events)

	reporter.failN = 0
	require.NoError(t, e.Escalate(context.Background(), got))
	assert.Equal(t, domain.StatusFailed, store.get("t1").Status)
	assert.Len(t, reporter.all(), 1)
}

func TestEscalate_LeaseHeldElsewhereIsStale(t *testing.T) {
	store := newFakeStore(exhausted("t1"))
	reporter := &fakeReporter{}
	e := newTestEscalator(store, reporter, nil)
	snapshot := store.get("t1")

	_, err := store.LeaseEscalation(context.Background(), "t1", snapshot.BroadcastCount, t0.Add(time.Minute))
	require.NoError(t, err)

	err = e.Escalate(context.Background(), snapshot)
	var stale *domain.StaleBroadcastError
	require.ErrorAs(t, err, &stale)
	assert.Empty(t, reporter.all())
}
