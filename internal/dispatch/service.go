// Package dispatch owns the work-order state machine. Every mutation goes
// through Service, appends exactly one event, and is serialized per order id
// so the event log stays monotonic.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldops/internal/model"
	"fieldops/internal/store"
)

type Service struct {
	repo store.Repository
	log  *zap.Logger
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(repo store.Repository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log, now: time.Now, locks: map[string]*sync.Mutex{}}
}

// lockOrder returns the mutex serializing mutations for one order id.
// Mutations to different orders proceed independently.
func (s *Service) lockOrder(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[id]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func terminal(status string) bool {
	return status == model.StatusCompleted || status == model.StatusCancelled
}

// Hydrate joins an order with its building and template. Read-side only;
// the embedded copies are never written back.
func (s *Service) Hydrate(ctx context.Context, o model.WorkOrder) (model.HydratedWorkOrder, error) {
	h := model.HydratedWorkOrder{WorkOrder: o}
	b, err := s.repo.GetBuilding(ctx, o.BuildingID)
	if err != nil {
		return h, fmt.Errorf("building %s: %w", o.BuildingID, err)
	}
	t, err := s.repo.GetTemplate(ctx, o.TemplateID)
	if err != nil {
		return h, fmt.Errorf("template %s: %w", o.TemplateID, err)
	}
	h.Building = &b
	h.Template = &t
	return h, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.HydratedWorkOrder, error) {
	o, err := s.repo.GetWorkOrder(ctx, id)
	if err != nil {
		return model.HydratedWorkOrder{}, err
	}
	return s.Hydrate(ctx, o)
}

// ScheduleInput creates a preventive or corrective order.
type ScheduleInput struct {
	Kind         string
	BuildingID   string
	TemplateID   string
	TechnicianID string
	ScheduledAt  time.Time
}

// Schedule creates a work order with status scheduled and a single assigned
// event.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (model.HydratedWorkOrder, error) {
	if in.Kind != model.KindPreventive && in.Kind != model.KindCorrective {
		return model.HydratedWorkOrder{}, fmt.Errorf("kind %q: %w", in.Kind, ErrInvalidTransition)
	}
	return s.create(ctx, in)
}

// InjectEmergency creates a brand-new emergency order scheduled now, for
// unplanned urgent visits inserted into a technician's day.
func (s *Service) InjectEmergency(ctx context.Context, technicianID, buildingID, templateID string) (model.HydratedWorkOrder, error) {
	return s.create(ctx, ScheduleInput{
		Kind:         model.KindEmergency,
		BuildingID:   buildingID,
		TemplateID:   templateID,
		TechnicianID: technicianID,
		ScheduledAt:  s.now(),
	})
}

func (s *Service) create(ctx context.Context, in ScheduleInput) (model.HydratedWorkOrder, error) {
	if _, err := s.repo.GetBuilding(ctx, in.BuildingID); err != nil {
		return model.HydratedWorkOrder{}, fmt.Errorf("building %s: %w", in.BuildingID, err)
	}
	if _, err := s.repo.GetTemplate(ctx, in.TemplateID); err != nil {
		return model.HydratedWorkOrder{}, fmt.Errorf("template %s: %w", in.TemplateID, err)
	}
	if _, err := s.repo.GetTechnician(ctx, in.TechnicianID); err != nil {
		return model.HydratedWorkOrder{}, fmt.Errorf("technician %s: %w", in.TechnicianID, err)
	}
	now := s.now().UTC()
	o := model.WorkOrder{
		Kind:         in.Kind,
		BuildingID:   in.BuildingID,
		TemplateID:   in.TemplateID,
		TechnicianID: in.TechnicianID,
		ScheduledAt:  in.ScheduledAt.UTC(),
		Status:       model.StatusScheduled,
		Events:       []model.Event{{Kind: model.EventAssigned, TS: now, TechnicianID: in.TechnicianID}},
	}
	created, err := s.repo.CreateWorkOrder(ctx, o)
	if err != nil {
		return model.HydratedWorkOrder{}, err
	}
	s.log.Info("work order created",
		zap.String("otId", created.ID),
		zap.String("kind", created.Kind),
		zap.String("technicianId", created.TechnicianID))
	return s.Hydrate(ctx, created)
}

// MarkArrival records an arrived event and moves the order to in_progress.
// The admission decision (geofence, attendance window) belongs to the
// caller; the store records whatever coordinates and out-of-geofence flag it
// is given.
func (s *Service) MarkArrival(ctx context.Context, id string, coords *model.GeoPoint, outOfGeofence bool) (model.HydratedWorkOrder, error) {
	return s.mutate(ctx, id, func(o *model.WorkOrder) (model.Event, error) {
		if o.Status != model.StatusScheduled && o.Status != model.StatusSuspended {
			return model.Event{}, fmt.Errorf("arrival from %s: %w", o.Status, ErrInvalidTransition)
		}
		o.Status = model.StatusInProgress
		return model.Event{Kind: model.EventArrived, TS: s.now().UTC(), Coords: coords, OutOfGeofence: outOfGeofence}, nil
	})
}

// MarkDeparture records a departed event. Status stays in_progress: leaving
// the site does not complete the visit, checklist and signature capture may
// still be pending.
func (s *Service) MarkDeparture(ctx context.Context, id string, coords *model.GeoPoint, outOfGeofence bool) (model.HydratedWorkOrder, error) {
	return s.mutate(ctx, id, func(o *model.WorkOrder) (model.Event, error) {
		if o.Status != model.StatusInProgress {
			return model.Event{}, fmt.Errorf("departure from %s: %w", o.Status, ErrInvalidTransition)
		}
		return model.Event{Kind: model.EventDeparted, TS: s.now().UTC(), Coords: coords, OutOfGeofence: outOfGeofence}, nil
	})
}

// Close completes the order. Requires at least one arrived and one departed
// event already on the log.
func (s *Service) Close(ctx context.Context, id string) (model.HydratedWorkOrder, error) {
	return s.mutate(ctx, id, func(o *model.WorkOrder) (model.Event, error) {
		if terminal(o.Status) {
			return model.Event{}, fmt.Errorf("close from %s: %w", o.Status, ErrInvalidTransition)
		}
		if !hasEvent(o.Events, model.EventArrived) || !hasEvent(o.Events, model.EventDeparted) {
			return model.Event{}, fmt.Errorf("close needs arrival and departure: %w", ErrPreconditionFailed)
		}
		o.Status = model.StatusCompleted
		return model.Event{Kind: model.EventClosed, TS: s.now().UTC()}, nil
	})
}

// Suspend parks an in-progress order, keeping the minutes of work left.
func (s *Service) Suspend(ctx context.Context, id string, minutesRemaining float64) (model.HydratedWorkOrder, error) {
	return s.mutate(ctx, id, func(o *model.WorkOrder) (model.Event, error) {
		if o.Status != model.StatusInProgress {
			return model.Event{}, fmt.Errorf("suspend from %s: %w", o.Status, ErrInvalidTransition)
		}
		o.Status = model.StatusSuspended
		o.MinutesLeft = int(math.Max(0, math.Round(minutesRemaining)))
		return model.Event{Kind: model.EventSuspended, TS: s.now().UTC()}, nil
	})
}

// Resume continues a suspended order under the same id.
func (s *Service) Resume(ctx context.Context, id string) (model.HydratedWorkOrder, error) {
	return s.mutate(ctx, id, func(o *model.WorkOrder) (model.Event, error) {
		if o.Status != model.StatusSuspended {
			return model.Event{}, fmt.Errorf("resume from %s: %w", o.Status, ErrInvalidTransition)
		}
		o.Status = model.StatusInProgress
		return model.Event{Kind: model.EventResumed, TS: s.now().UTC()}, nil
	})
}

// Reassign hands the order to another technician. Audit policy: an assigned
// event carrying the new technician id is appended, so a merged log
// reproduces assignment history.
func (s *Service) Reassign(ctx context.Context, id, technicianID string) (model.HydratedWorkOrder, error) {
	if _, err := s.repo.GetTechnician(ctx, technicianID); err != nil {
		return model.HydratedWorkOrder{}, fmt.Errorf("technician %s: %w", technicianID, err)
	}
	return s.mutate(ctx, id, func(o *model.WorkOrder) (model.Event, error) {
		if terminal(o.Status) {
			return model.Event{}, fmt.Errorf("reassign from %s: %w", o.Status, ErrInvalidTransition)
		}
		o.TechnicianID = technicianID
		return model.Event{Kind: model.EventAssigned, TS: s.now().UTC(), TechnicianID: technicianID}, nil
	})
}

// Cancel terminates the order from any non-terminal status.
func (s *Service) Cancel(ctx context.Context, id string) (model.HydratedWorkOrder, error) {
	return s.mutate(ctx, id, func(o *model.WorkOrder) (model.Event, error) {
		if terminal(o.Status) {
			return model.Event{}, fmt.Errorf("cancel from %s: %w", o.Status, ErrInvalidTransition)
		}
		o.Status = model.StatusCancelled
		return model.Event{Kind: model.EventCancelled, TS: s.now().UTC()}, nil
	})
}

// Reschedule moves a scheduled order to a new timestamp. The order passes
// through rescheduled and is immediately servable again at the new time.
func (s *Service) Reschedule(ctx context.Context, id string, newTime time.Time) (model.HydratedWorkOrder, error) {
	return s.mutate(ctx, id, func(o *model.WorkOrder) (model.Event, error) {
		if o.Status != model.StatusScheduled {
			return model.Event{}, fmt.Errorf("reschedule from %s: %w", o.Status, ErrInvalidTransition)
		}
		o.ScheduledAt = newTime.UTC()
		return model.Event{Kind: model.EventRescheduled, TS: s.now().UTC(), Note: newTime.UTC().Format(time.RFC3339)}, nil
	})
}

// Agenda returns a technician's hydrated orders for one day, in creation
// order. This is the input the route sequencer consumes.
func (s *Service) Agenda(ctx context.Context, technicianID string, day time.Time) ([]model.HydratedWorkOrder, error) {
	orders, err := s.repo.ListWorkOrders(ctx, store.OrderFilter{TechnicianID: technicianID, Day: day})
	if err != nil {
		return nil, err
	}
	out := make([]model.HydratedWorkOrder, 0, len(orders))
	for _, o := range orders {
		h, err := s.Hydrate(ctx, o)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// mutate runs one serialized state transition: load, step, persist with the
// new event appended. A replayed event (same kind and timestamp already on
// the log) is dropped and the stored order returned unchanged.
func (s *Service) mutate(ctx context.Context, id string, step func(*model.WorkOrder) (model.Event, error)) (model.HydratedWorkOrder, error) {
	l := s.lockOrder(id)
	l.Lock()
	defer l.Unlock()

	o, err := s.repo.GetWorkOrder(ctx, id)
	if err != nil {
		return model.HydratedWorkOrder{}, err
	}
	pristine := o
	prev := o.Status
	ev, err := step(&o)
	if err != nil {
		return model.HydratedWorkOrder{}, err
	}
	if isDuplicate(o.Events, ev) {
		s.log.Debug("event replay ignored", zap.String("otId", id), zap.String("kind", ev.Kind))
		return s.Hydrate(ctx, pristine)
	}
	updated, err := s.repo.UpdateWorkOrder(ctx, o, []model.Event{ev})
	if err != nil {
		return model.HydratedWorkOrder{}, err
	}
	s.log.Info("work order transition",
		zap.String("otId", id),
		zap.String("event", ev.Kind),
		zap.String("from", prev),
		zap.String("to", updated.Status))
	return s.Hydrate(ctx, updated)
}

func hasEvent(events []model.Event, kind string) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func isDuplicate(events []model.Event, ev model.Event) bool {
	for _, e := range events {
		if e.Kind == ev.Kind && e.TS.Equal(ev.TS) {
			return true
		}
	}
	return false
}
