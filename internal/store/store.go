package store

import (
    "context"
    "errors"
    "fmt"
    "time"

    "fieldops/internal/model"
)

// Repository is the persistence interface the dispatch service runs on. It
// is plain CRUD + queries; all state-machine logic stays above it so the
// same service logic runs against the in-memory double or Postgres.
type Repository interface {
    // Technicians
    CreateTechnician(ctx context.Context, t model.Technician) (model.Technician, error)
    GetTechnician(ctx context.Context, id string) (model.Technician, error)
    ListTechnicians(ctx context.Context) ([]model.Technician, error)
    SetTechnicianActive(ctx context.Context, id string, active bool) error

    // Buildings
    CreateBuilding(ctx context.Context, b model.Building) (model.Building, error)
    GetBuilding(ctx context.Context, id string) (model.Building, error)
    ListBuildings(ctx context.Context) ([]model.Building, error)

    // Checklist templates
    CreateTemplate(ctx context.Context, t model.ChecklistTemplate) (model.ChecklistTemplate, error)
    GetTemplate(ctx context.Context, id string) (model.ChecklistTemplate, error)
    ListTemplates(ctx context.Context) ([]model.ChecklistTemplate, error)

    // Work orders. GetWorkOrder returns the order with its full event log.
    // UpdateWorkOrder persists the order's mutable fields and appends the
    // given events in one atomic write.
    CreateWorkOrder(ctx context.Context, o model.WorkOrder) (model.WorkOrder, error)
    GetWorkOrder(ctx context.Context, id string) (model.WorkOrder, error)
    ListWorkOrders(ctx context.Context, f OrderFilter) ([]model.WorkOrder, error)
    UpdateWorkOrder(ctx context.Context, o model.WorkOrder, newEvents []model.Event) (model.WorkOrder, error)
}

// OrderFilter narrows ListWorkOrders. Zero values mean "any". Day filters on
// the scheduled timestamp's calendar date in UTC.
type OrderFilter struct {
    TechnicianID string
    Status       string
    Kind         string
    Day          time.Time
}

var (
    ErrNotFound       = errors.New("not found")
    ErrStorageFailure = errors.New("storage failure")
)

// ValidateBuilding enforces window sanity: start <= end per window, weekdays
// in 0..6. Shared by every Repository implementation.
func ValidateBuilding(b model.Building) error {
    for i, w := range b.Windows {
        if w.StartMin < 0 || w.EndMin > 24*60 || w.StartMin > w.EndMin {
            return fmt.Errorf("window %d: start must be <= end within a day", i)
        }
        for _, d := range w.Weekdays {
            if d < 0 || d > 6 {
                return fmt.Errorf("window %d: weekday %d out of range 0..6", i, d)
            }
        }
    }
    return nil
}

// ValidateTemplate enforces item id uniqueness within a template.
func ValidateTemplate(t model.ChecklistTemplate) error {
    seen := map[string]struct{}{}
    for _, it := range t.Items {
        if it.ID == "" {
            return fmt.Errorf("checklist item id must not be empty")
        }
        if _, dup := seen[it.ID]; dup {
            return fmt.Errorf("duplicate checklist item id %q", it.ID)
        }
        seen[it.ID] = struct{}{}
    }
    return nil
}

// SameDay reports whether ts falls on the filter day (UTC calendar date).
func SameDay(ts, day time.Time) bool {
    y1, m1, d1 := ts.UTC().Date()
    y2, m2, d2 := day.UTC().Date()
    return y1 == y2 && m1 == m2 && d1 == d2
}
