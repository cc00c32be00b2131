package store

import (
    "context"
    "sort"
    "sync"

    "github.com/google/uuid"

    "fieldops/internal/model"
)

// Memory is a simple in-memory repository used when no DATABASE_URL is set,
// and as the test double.
type Memory struct {
    mu     sync.Mutex
    techs  map[string]model.Technician
    blds   map[string]model.Building
    tmpls  map[string]model.ChecklistTemplate
    orders map[string]model.WorkOrder
    events map[string][]model.Event // orderId -> events in insertion order
    seq    []string                 // order ids in creation order
}

func NewMemory() *Memory {
    return &Memory{
        techs:  map[string]model.Technician{},
        blds:   map[string]model.Building{},
        tmpls:  map[string]model.ChecklistTemplate{},
        orders: map[string]model.WorkOrder{},
        events: map[string][]model.Event{},
    }
}

func (m *Memory) CreateTechnician(ctx context.Context, t model.Technician) (model.Technician, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if t.ID == "" { t.ID = uuid.New().String() }
    m.techs[t.ID] = t
    return t, nil
}

func (m *Memory) GetTechnician(ctx context.Context, id string) (model.Technician, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    t, ok := m.techs[id]
    if !ok { return model.Technician{}, ErrNotFound }
    return t, nil
}

func (m *Memory) ListTechnicians(ctx context.Context) ([]model.Technician, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Technician, 0, len(m.techs))
    for _, t := range m.techs { out = append(out, t) }
    return out, nil
}

func (m *Memory) SetTechnicianActive(ctx context.Context, id string, active bool) error {
    m.mu.Lock(); defer m.mu.Unlock()
    t, ok := m.techs[id]
    if !ok { return ErrNotFound }
    t.Active = active
    m.techs[id] = t
    return nil
}

func (m *Memory) CreateBuilding(ctx context.Context, b model.Building) (model.Building, error) {
    if err := ValidateBuilding(b); err != nil { return model.Building{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    if b.ID == "" { b.ID = uuid.New().String() }
    m.blds[b.ID] = b
    return b, nil
}

func (m *Memory) GetBuilding(ctx context.Context, id string) (model.Building, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    b, ok := m.blds[id]
    if !ok { return model.Building{}, ErrNotFound }
    return b, nil
}

func (m *Memory) ListBuildings(ctx context.Context) ([]model.Building, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Building, 0, len(m.blds))
    for _, b := range m.blds { out = append(out, b) }
    return out, nil
}

func (m *Memory) CreateTemplate(ctx context.Context, t model.ChecklistTemplate) (model.ChecklistTemplate, error) {
    if err := ValidateTemplate(t); err != nil { return model.ChecklistTemplate{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    if t.ID == "" { t.ID = uuid.New().String() }
    m.tmpls[t.ID] = t
    return t, nil
}

func (m *Memory) GetTemplate(ctx context.Context, id string) (model.ChecklistTemplate, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    t, ok := m.tmpls[id]
    if !ok { return model.ChecklistTemplate{}, ErrNotFound }
    return t, nil
}

func (m *Memory) ListTemplates(ctx context.Context) ([]model.ChecklistTemplate, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.ChecklistTemplate, 0, len(m.tmpls))
    for _, t := range m.tmpls { out = append(out, t) }
    return out, nil
}

func (m *Memory) CreateWorkOrder(ctx context.Context, o model.WorkOrder) (model.WorkOrder, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if o.ID == "" { o.ID = uuid.New().String() }
    evs := o.Events
    o.Events = nil
    m.orders[o.ID] = o
    m.seq = append(m.seq, o.ID)
    for _, e := range evs {
        if e.ID == "" { e.ID = uuid.New().String() }
        e.OrderID = o.ID
        m.events[o.ID] = append(m.events[o.ID], e)
    }
    return m.withEventsLocked(o.ID), nil
}

func (m *Memory) GetWorkOrder(ctx context.Context, id string) (model.WorkOrder, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.orders[id]; !ok { return model.WorkOrder{}, ErrNotFound }
    return m.withEventsLocked(id), nil
}

func (m *Memory) ListWorkOrders(ctx context.Context, f OrderFilter) ([]model.WorkOrder, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.WorkOrder{}
    for _, id := range m.seq {
        o := m.orders[id]
        if f.TechnicianID != "" && o.TechnicianID != f.TechnicianID { continue }
        if f.Status != "" && o.Status != f.Status { continue }
        if f.Kind != "" && o.Kind != f.Kind { continue }
        if !f.Day.IsZero() && !SameDay(o.ScheduledAt, f.Day) { continue }
        out = append(out, m.withEventsLocked(id))
    }
    return out, nil
}

func (m *Memory) UpdateWorkOrder(ctx context.Context, o model.WorkOrder, newEvents []model.Event) (model.WorkOrder, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.orders[o.ID]; !ok { return model.WorkOrder{}, ErrNotFound }
    cp := o
    cp.Events = nil
    m.orders[o.ID] = cp
    for _, e := range newEvents {
        if e.ID == "" { e.ID = uuid.New().String() }
        e.OrderID = o.ID
        m.events[o.ID] = append(m.events[o.ID], e)
    }
    return m.withEventsLocked(o.ID), nil
}

// withEventsLocked returns a copy of the order joined with a copy of its
// event log in timestamp order, insertion order breaking ties. Callers hold
// m.mu.
func (m *Memory) withEventsLocked(id string) model.WorkOrder {
    o := m.orders[id]
    o.Events = append([]model.Event(nil), m.events[id]...)
    sort.SliceStable(o.Events, func(i, j int) bool { return o.Events[i].TS.Before(o.Events[j].TS) })
    return o
}
