package model

import "time"

// Core domain types for field-service dispatch.

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

// Technician is a field worker that work orders are assigned to.
type Technician struct {
    ID     string `json:"id"`
    Name   string `json:"name"`
    Phone  string `json:"phone,omitempty"`
    Active bool   `json:"active"`
}

// AttendanceWindow is a recurring weekday + time-of-day range during which
// a site accepts visits. Weekdays use 0=Sunday..6=Saturday. Start and End
// are minutes since midnight, inclusive on both ends.
type AttendanceWindow struct {
    Weekdays []int `json:"weekdays"`
    StartMin int   `json:"startMin"`
    EndMin   int   `json:"endMin"`
}

// Building is a fixed service site. An empty Windows list means the site is
// always attendable.
type Building struct {
    ID          string             `json:"id"`
    ClientID    string             `json:"clientId,omitempty"`
    Address     string             `json:"address,omitempty"`
    Location    *GeoPoint          `json:"location"`
    Windows     []AttendanceWindow `json:"windows,omitempty"`
    DurationMin int                `json:"durationMin,omitempty"`
}

type ChecklistItem struct {
    ID       string `json:"id"`
    Text     string `json:"text"`
    Required bool   `json:"required"`
}

// ChecklistTemplate is an ordered list of checklist items. ClientID empty
// means the template is generic.
type ChecklistTemplate struct {
    ID       string          `json:"id"`
    Name     string          `json:"name"`
    ClientID string          `json:"clientId,omitempty"`
    Items    []ChecklistItem `json:"items"`
}

// Work order kinds
const (
    KindPreventive = "preventive"
    KindCorrective = "corrective"
    KindEmergency  = "emergency"
)

// Work order statuses (state machine nodes)
const (
    StatusScheduled   = "scheduled"
    StatusInProgress  = "in_progress"
    StatusSuspended   = "suspended"
    StatusCompleted   = "completed"
    StatusCancelled   = "cancelled"
    StatusRescheduled = "rescheduled"
)

// Event kinds
const (
    EventAssigned    = "assigned"
    EventArrived     = "arrived"
    EventDeparted    = "departed"
    EventSuspended   = "suspended"
    EventResumed     = "resumed"
    EventRescheduled = "rescheduled"
    EventClosed      = "closed"
    EventCancelled   = "cancelled"
)

// Event is an append-only record on a work order. Ordering is timestamp
// order, ties broken by insertion order.
type Event struct {
    ID            string    `json:"id"`
    OrderID       string    `json:"otId"`
    Kind          string    `json:"kind"`
    TS            time.Time `json:"ts"`
    Coords        *GeoPoint `json:"coords,omitempty"`
    OutOfGeofence bool      `json:"outOfGeofence,omitempty"`
    TechnicianID  string    `json:"technicianId,omitempty"`
    Note          string    `json:"note,omitempty"`
}

// WorkOrder (OT) is a scheduled or emergency maintenance visit. Orders are
// never deleted; cancellation is a terminal status and the event log keeps
// full history.
type WorkOrder struct {
    ID           string    `json:"id"`
    Kind         string    `json:"kind"`
    BuildingID   string    `json:"buildingId"`
    TemplateID   string    `json:"templateId"`
    TechnicianID string    `json:"technicianId"`
    ScheduledAt  time.Time `json:"scheduledAt"`
    Status       string    `json:"status"`
    MinutesLeft  int       `json:"minutesRemaining,omitempty"`
    Events       []Event   `json:"events,omitempty"`
}

// HydratedWorkOrder joins a work order with its building and template at
// read time. The embedded copies are never persisted.
type HydratedWorkOrder struct {
    WorkOrder
    Building *Building          `json:"building,omitempty"`
    Template *ChecklistTemplate `json:"template,omitempty"`
}

// Sync statuses for locally captured records.
const (
    SyncPending = "pending"
    SyncSynced  = "synced"
    SyncFailed  = "failed"
)

// ChecklistResponse is a per-item answer captured on device.
type ChecklistResponse struct {
    ID         string `json:"id"`
    OrderID    string `json:"otId"`
    ItemID     string `json:"itemId"`
    Value      string `json:"value"`
    Note       string `json:"note,omitempty"`
    PhotoRef   string `json:"photoRef,omitempty"`
    SyncStatus string `json:"syncStatus"`
}

// Signature is the signer acknowledgment captured on device. At most one
// signature per work order is active; a new one supersedes the previous.
type Signature struct {
    ID         string    `json:"id"`
    OrderID    string    `json:"otId"`
    SignerName string    `json:"signerName"`
    ImageRef   string    `json:"imageRef"`
    TS         time.Time `json:"ts"`
    SyncStatus string    `json:"syncStatus"`
}

// RouteStop is one entry of a proposed visiting order. OutsideWindow warns
// that the order's scheduled time falls outside the site's attendance
// windows; it never blocks sequencing.
type RouteStop struct {
    Order         HydratedWorkOrder `json:"order"`
    Seq           int               `json:"seq"`
    DistM         float64           `json:"distM"`
    OutsideWindow bool              `json:"outsideWindow"`
}

// Candidate is a fill-in suggestion for open capacity.
type Candidate struct {
    BuildingID string  `json:"buildingId"`
    DistM      float64 `json:"distM"`
    Score      float64 `json:"score"`
}
