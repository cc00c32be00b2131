package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fieldops/internal/model"
)

func ts(min int) time.Time {
	return time.Date(2025, 9, 1, 10, min, 0, 0, time.UTC)
}

func TestMergeEventLogsUnionAndSort(t *testing.T) {
	local := []model.Event{
		{Kind: model.EventAssigned, TS: ts(0)},
		{Kind: model.EventArrived, TS: ts(10)},
	}
	remote := []model.Event{
		{Kind: model.EventArrived, TS: ts(10)}, // duplicate
		{Kind: model.EventDeparted, TS: ts(40)},
		{Kind: model.EventArrived, TS: ts(5)}, // earlier arrival from another device
	}

	merged := MergeEventLogs(local, remote)
	require.Len(t, merged, 4)
	for i := 1; i < len(merged); i++ {
		require.False(t, merged[i].TS.Before(merged[i-1].TS))
	}
	require.Equal(t, model.EventAssigned, merged[0].Kind)
	require.Equal(t, ts(5), merged[1].TS)
	require.Equal(t, ts(10), merged[2].TS)
	require.Equal(t, model.EventDeparted, merged[3].Kind)
}

func TestMergeEventLogsTieBreakIsStable(t *testing.T) {
	a := []model.Event{{Kind: model.EventArrived, TS: ts(10)}}
	b := []model.Event{{Kind: model.EventSuspended, TS: ts(10)}}
	merged := MergeEventLogs(a, b)
	require.Len(t, merged, 2)
	require.Equal(t, model.EventArrived, merged[0].Kind)
	require.Equal(t, model.EventSuspended, merged[1].Kind)
}

func TestReplayStatus(t *testing.T) {
	cases := []struct {
		name   string
		events []model.Event
		want   string
	}{
		{"empty", nil, model.StatusScheduled},
		{"assigned only", []model.Event{{Kind: model.EventAssigned, TS: ts(0)}}, model.StatusScheduled},
		{"arrived", []model.Event{
			{Kind: model.EventAssigned, TS: ts(0)},
			{Kind: model.EventArrived, TS: ts(10)},
		}, model.StatusInProgress},
		{"departed stays in progress", []model.Event{
			{Kind: model.EventAssigned, TS: ts(0)},
			{Kind: model.EventArrived, TS: ts(10)},
			{Kind: model.EventDeparted, TS: ts(40)},
		}, model.StatusInProgress},
		{"suspended", []model.Event{
			{Kind: model.EventAssigned, TS: ts(0)},
			{Kind: model.EventArrived, TS: ts(10)},
			{Kind: model.EventSuspended, TS: ts(20)},
		}, model.StatusSuspended},
		{"closed", []model.Event{
			{Kind: model.EventAssigned, TS: ts(0)},
			{Kind: model.EventArrived, TS: ts(10)},
			{Kind: model.EventDeparted, TS: ts(40)},
			{Kind: model.EventClosed, TS: ts(50)},
		}, model.StatusCompleted},
		{"cancelled", []model.Event{
			{Kind: model.EventAssigned, TS: ts(0)},
			{Kind: model.EventCancelled, TS: ts(5)},
		}, model.StatusCancelled},
		{"reassignment does not reset progress", []model.Event{
			{Kind: model.EventAssigned, TS: ts(0)},
			{Kind: model.EventArrived, TS: ts(10)},
			{Kind: model.EventAssigned, TS: ts(20)},
		}, model.StatusInProgress},
		{"late arrival cannot reopen cancelled", []model.Event{
			{Kind: model.EventAssigned, TS: ts(0)},
			{Kind: model.EventCancelled, TS: ts(5)},
			{Kind: model.EventArrived, TS: ts(10)},
		}, model.StatusCancelled},
		{"late suspend cannot reopen completed", []model.Event{
			{Kind: model.EventAssigned, TS: ts(0)},
			{Kind: model.EventArrived, TS: ts(10)},
			{Kind: model.EventDeparted, TS: ts(40)},
			{Kind: model.EventClosed, TS: ts(50)},
			{Kind: model.EventSuspended, TS: ts(55)},
		}, model.StatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ReplayStatus(tc.events))
		})
	}
}

// Two devices capture arrivals for the same order with different timestamps
// while offline; after merge the log holds both, sorted, and the recomputed
// status reflects the sequence without losing either.
func TestMergeRemoteEventsTwoDevices(t *testing.T) {
	f := newFixture(t)
	h := f.schedule(t, ts(0))
	ctx := context.Background()

	deviceA := []model.Event{
		{Kind: model.EventArrived, TS: ts(10), Coords: &model.GeoPoint{Lat: 0, Lng: 0.001}},
	}
	deviceB := []model.Event{
		{Kind: model.EventArrived, TS: ts(12), Coords: &model.GeoPoint{Lat: 0, Lng: 0.002}},
	}

	got, err := f.svc.MergeRemoteEvents(ctx, h.ID, deviceA)
	require.NoError(t, err)
	require.Equal(t, model.StatusInProgress, got.Status)

	got, err = f.svc.MergeRemoteEvents(ctx, h.ID, deviceB)
	require.NoError(t, err)
	arrivals := 0
	for _, e := range got.Events {
		if e.Kind == model.EventArrived {
			arrivals++
		}
	}
	require.Equal(t, 2, arrivals)
	require.Equal(t, model.StatusInProgress, got.Status)

	// Replaying device A's batch changes nothing.
	before := len(got.Events)
	got, err = f.svc.MergeRemoteEvents(ctx, h.ID, deviceA)
	require.NoError(t, err)
	require.Len(t, got.Events, before)
}

// A device that was offline when the dispatcher cancelled the order later
// uploads an arrival; the merge keeps the log but the order stays cancelled.
func TestMergeRemoteEventsLateArrivalAfterCancel(t *testing.T) {
	f := newFixture(t)
	h := f.schedule(t, ts(0))
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, h.ID)
	require.NoError(t, err)

	got, err := f.svc.MergeRemoteEvents(ctx, h.ID, []model.Event{
		{Kind: model.EventArrived, TS: time.Now().UTC().Add(time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, got.Status)
}

func TestMergeRemoteEventsConflict(t *testing.T) {
	f := newFixture(t)
	h := f.schedule(t, ts(0))
	ctx := context.Background()

	_, err := f.svc.MergeRemoteEvents(ctx, h.ID, []model.Event{
		{Kind: model.EventArrived, TS: ts(10)},
		{Kind: model.EventDeparted, TS: ts(20)},
		{Kind: model.EventClosed, TS: ts(30)},
	})
	require.NoError(t, err)

	_, err = f.svc.MergeRemoteEvents(ctx, h.ID, []model.Event{
		{Kind: model.EventCancelled, TS: ts(25)},
	})
	require.ErrorIs(t, err, ErrSyncConflict)
}
