package capture

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fieldops/internal/model"
	"fieldops/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOrder(id string) model.WorkOrder {
	return model.WorkOrder{
		ID:           id,
		Status:       model.StatusScheduled,
		Kind:         model.KindPreventive,
		BuildingID:   "b1",
		TemplateID:   "t1",
		TechnicianID: "tech1",
		ScheduledAt:  time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC),
	}
}

func drain(t *testing.T, s *Store) []PendingRecord {
	t.Helper()
	it := s.PendingRecords(2)
	out := []PendingRecord{}
	for {
		rec, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}

func TestPendingRecordsCreationOrderAcrossTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOrderSnapshot(ctx, testOrder("ot1"), nil))
	ev, err := s.RecordEvent(ctx, "ot1", model.EventArrived, &model.GeoPoint{Lat: 1, Lng: 2}, 8)
	require.NoError(t, err)
	resp, err := s.RecordChecklistResponse(ctx, "ot1", "item1", "ok", "", "")
	require.NoError(t, err)
	sig, err := s.RecordSignature(ctx, "ot1", "M. Rivas", "img://sig1")
	require.NoError(t, err)

	recs := drain(t, s)
	require.Len(t, recs, 4)
	require.Equal(t, RecordOrderSnapshot, recs[0].Kind)
	require.Equal(t, RecordEvent, recs[1].Kind)
	require.Equal(t, ev.ID, recs[1].ID)
	require.Equal(t, RecordChecklistResponse, recs[2].Kind)
	require.Equal(t, resp.ID, recs[2].ID)
	require.Equal(t, RecordSignature, recs[3].Kind)
	require.Equal(t, sig.ID, recs[3].ID)
	for i := 1; i < len(recs); i++ {
		require.Greater(t, recs[i].CreatedSeq, recs[i-1].CreatedSeq)
	}
}

func TestPendingIteratorRestartable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.RecordEvent(ctx, "ot1", model.EventArrived, nil, 0)
		require.NoError(t, err)
	}
	first := drain(t, s)
	second := drain(t, s)
	require.Equal(t, first, second)
}

func TestSyncStatusTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev, err := s.RecordEvent(ctx, "ot1", model.EventArrived, nil, 0)
	require.NoError(t, err)

	// pending -> failed -> pending -> synced.
	require.NoError(t, s.MarkFailed(ctx, ev.ID))
	recs := drain(t, s)
	require.Len(t, recs, 1)
	require.Equal(t, model.SyncFailed, recs[0].SyncStatus)

	// failed cannot go straight to synced.
	require.Error(t, s.MarkSynced(ctx, ev.ID))

	require.NoError(t, s.Requeue(ctx, ev.ID))
	require.NoError(t, s.MarkSynced(ctx, ev.ID))
	require.Empty(t, drain(t, s))

	// synced is terminal.
	require.Error(t, s.MarkFailed(ctx, ev.ID))
	require.Error(t, s.Requeue(ctx, ev.ID))
}

func TestTransitionUnknownRecord(t *testing.T) {
	s := openTestStore(t)
	err := s.MarkSynced(context.Background(), "no-such-id")
	require.ErrorIs(t, err, store.ErrStorageFailure)
}

func TestSnapshotResaveResetsPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	o := testOrder("ot1")
	require.NoError(t, s.SaveOrderSnapshot(ctx, o, nil))
	recs := drain(t, s)
	require.Len(t, recs, 1)
	require.NoError(t, s.MarkSynced(ctx, o.ID))
	require.Empty(t, drain(t, s))

	o.Status = model.StatusInProgress
	require.NoError(t, s.SaveOrderSnapshot(ctx, o, &model.GeoPoint{Lat: 1, Lng: 2}))
	recs = drain(t, s)
	require.Len(t, recs, 1)
	require.Equal(t, model.SyncPending, recs[0].SyncStatus)
}

func TestChecklistResponseUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.RecordChecklistResponse(ctx, "ot1", "item1", "fail", "leak found", "")
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, first.ID))

	second, err := s.RecordChecklistResponse(ctx, "ot1", "item1", "ok", "fixed", "img://photo1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	got, err := s.Responses(ctx, "ot1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ok", got[0].Value)
	require.Equal(t, "fixed", got[0].Note)
	require.Equal(t, model.SyncPending, got[0].SyncStatus)
}

func TestSignatureSupersede(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.RecordSignature(ctx, "ot1", "First Signer", "img://one")
	require.NoError(t, err)
	second, err := s.RecordSignature(ctx, "ot1", "Second Signer", "img://two")
	require.NoError(t, err)

	active, err := s.ActiveSignature(ctx, "ot1")
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)
	require.Equal(t, "Second Signer", active.SignerName)

	// Only the active signature is uploaded.
	recs := drain(t, s)
	require.Len(t, recs, 1)
	require.Equal(t, second.ID, recs[0].ID)
}

func TestActiveSignatureNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ActiveSignature(context.Background(), "ot1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPruneRemovesSynced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev, err := s.RecordEvent(ctx, "ot1", model.EventClosed, nil, 0)
	require.NoError(t, err)
	keep, err := s.RecordEvent(ctx, "ot1", model.EventArrived, nil, 0)
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, ev.ID))

	require.NoError(t, s.Prune(ctx, 0))

	recs := drain(t, s)
	require.Len(t, recs, 1)
	require.Equal(t, keep.ID, recs[0].ID)
}
