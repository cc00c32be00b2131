package dispatch

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"fieldops/internal/model"
)

// MergeEventLogs unions two append-only event logs, deduplicating by
// (kind, timestamp) and sorting by timestamp with original order breaking
// ties. Events are immutable, so union-and-sort is the whole merge.
func MergeEventLogs(local, remote []model.Event) []model.Event {
	type keyed struct {
		ev  model.Event
		pos int
	}
	seen := map[string]struct{}{}
	merged := make([]keyed, 0, len(local)+len(remote))
	add := func(e model.Event) {
		k := e.Kind + "|" + e.TS.UTC().Format("2006-01-02T15:04:05.000000000Z")
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		merged = append(merged, keyed{ev: e, pos: len(merged)})
	}
	for _, e := range local {
		add(e)
	}
	for _, e := range remote {
		add(e)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].ev.TS.Equal(merged[j].ev.TS) {
			return merged[i].ev.TS.Before(merged[j].ev.TS)
		}
		return merged[i].pos < merged[j].pos
	})
	out := make([]model.Event, len(merged))
	for i, k := range merged {
		out[i] = k.ev
	}
	return out
}

// ReplayStatus folds a sorted event log into the order status it implies.
// Status is recomputed from the log after a merge rather than transmitted as
// a mutable field, so offline devices and the server cannot lose updates.
// Completed and cancelled absorb everything after them: a device arrival
// timestamped past a cancellation must not reopen the order.
func ReplayStatus(events []model.Event) string {
	status := model.StatusScheduled
	for _, e := range events {
		if terminal(status) {
			break
		}
		switch e.Kind {
		case model.EventAssigned, model.EventRescheduled:
			if status != model.StatusInProgress && status != model.StatusSuspended {
				status = model.StatusScheduled
			}
		case model.EventArrived, model.EventResumed:
			status = model.StatusInProgress
		case model.EventDeparted:
			status = model.StatusInProgress
		case model.EventSuspended:
			status = model.StatusSuspended
		case model.EventClosed:
			status = model.StatusCompleted
		case model.EventCancelled:
			status = model.StatusCancelled
		}
	}
	return status
}

// MergeRemoteEvents merges device-captured events into an order's log and
// recomputes its status from the merged log. It fails with ErrSyncConflict
// when the merged log carries contradictory terminal events, which
// union-and-sort cannot resolve; that is surfaced for manual reconciliation,
// never silently dropped.
func (s *Service) MergeRemoteEvents(ctx context.Context, id string, remote []model.Event) (model.HydratedWorkOrder, error) {
	l := s.lockOrder(id)
	l.Lock()
	defer l.Unlock()

	o, err := s.repo.GetWorkOrder(ctx, id)
	if err != nil {
		return model.HydratedWorkOrder{}, err
	}
	merged := MergeEventLogs(o.Events, remote)
	if hasEvent(merged, model.EventClosed) && hasEvent(merged, model.EventCancelled) {
		return model.HydratedWorkOrder{}, fmt.Errorf("order %s closed and cancelled: %w", id, ErrSyncConflict)
	}

	// Only the genuinely new events get persisted; the stored prefix is
	// already on disk.
	existing := map[string]struct{}{}
	for _, e := range o.Events {
		existing[e.Kind+"|"+e.TS.UTC().Format("2006-01-02T15:04:05.000000000Z")] = struct{}{}
	}
	fresh := []model.Event{}
	for _, e := range merged {
		k := e.Kind + "|" + e.TS.UTC().Format("2006-01-02T15:04:05.000000000Z")
		if _, ok := existing[k]; !ok {
			fresh = append(fresh, e)
		}
	}
	o.Status = ReplayStatus(merged)
	updated, err := s.repo.UpdateWorkOrder(ctx, o, fresh)
	if err != nil {
		return model.HydratedWorkOrder{}, err
	}
	s.log.Info("event logs merged",
		zap.String("otId", id),
		zap.Int("incoming", len(remote)),
		zap.Int("applied", len(fresh)),
		zap.String("status", updated.Status))
	return s.Hydrate(ctx, updated)
}
