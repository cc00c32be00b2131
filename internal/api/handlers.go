package api

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "fieldops/internal/geo"
    "fieldops/internal/metrics"
    "fieldops/internal/model"
    "fieldops/internal/opt"
    "fieldops/internal/store"
)

// TechniciansHandler handles POST/GET /v1/technicians
func (s *Server) TechniciansHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var t model.Technician
        if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if t.Name == "" { writeProblem(w, 400, "Missing name", "", r.URL.Path); return }
        t.Active = true
        created, err := s.Store.CreateTechnician(r.Context(), t)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusCreated, created)
    case http.MethodGet:
        items, err := s.Store.ListTechnicians(r.Context())
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// TechnicianByIDHandler handles GET/PATCH /v1/technicians/{id} and
// GET /v1/technicians/{id}/agenda?date=
func (s *Server) TechnicianByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/technicians/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    if len(parts) > 1 && parts[1] == "agenda" {
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        day := time.Now().UTC()
        if v := r.URL.Query().Get("date"); v != "" {
            d, err := time.Parse("2006-01-02", v)
            if err != nil { writeProblem(w, 400, "Invalid date", "expected YYYY-MM-DD", r.URL.Path); return }
            day = d
        }
        orders, err := s.Dispatch.Agenda(r.Context(), id, day)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": orders, "date": day.Format("2006-01-02")})
        return
    }
    switch r.Method {
    case http.MethodGet:
        t, err := s.Store.GetTechnician(r.Context(), id)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusOK, t)
    case http.MethodPatch:
        p := s.getPrincipal(r)
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var body struct{ Active *bool `json:"active"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Active == nil {
            writeProblem(w, 400, "Invalid JSON", "active required", r.URL.Path)
            return
        }
        if err := s.Store.SetTechnicianActive(r.Context(), id, *body.Active); err != nil { writeError(w, err, r.URL.Path); return }
        t, err := s.Store.GetTechnician(r.Context(), id)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusOK, t)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// BuildingsHandler handles POST/GET /v1/buildings
func (s *Server) BuildingsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var b model.Building
        if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := store.ValidateBuilding(b); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid building", err.Error(), r.URL.Path)
            return
        }
        created, err := s.Store.CreateBuilding(r.Context(), b)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusCreated, created)
    case http.MethodGet:
        items, err := s.Store.ListBuildings(r.Context())
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// TemplatesHandler handles POST/GET /v1/templates
func (s *Server) TemplatesHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var t model.ChecklistTemplate
        if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := store.ValidateTemplate(t); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid template", err.Error(), r.URL.Path)
            return
        }
        created, err := s.Store.CreateTemplate(r.Context(), t)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusCreated, created)
    case http.MethodGet:
        items, err := s.Store.ListTemplates(r.Context())
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// WorkOrdersHandler handles POST/GET /v1/workorders
func (s *Server) WorkOrdersHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var req scheduleRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateScheduleRequest(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid schedule request", err.Error(), r.URL.Path)
            return
        }
        o, err := s.Dispatch.Schedule(r.Context(), req.toInput())
        if err != nil { writeError(w, err, r.URL.Path); return }
        metrics.DispatchOps.WithLabelValues(model.EventAssigned, "ok").Inc()
        s.publishOrderEvent(o.ID, model.EventAssigned, o.Status)
        writeJSON(w, http.StatusCreated, o)
    case http.MethodGet:
        f := store.OrderFilter{
            TechnicianID: r.URL.Query().Get("technicianId"),
            Status:       r.URL.Query().Get("status"),
            Kind:         r.URL.Query().Get("kind"),
        }
        if v := r.URL.Query().Get("date"); v != "" {
            d, err := time.Parse("2006-01-02", v)
            if err != nil { writeProblem(w, 400, "Invalid date", "expected YYYY-MM-DD", r.URL.Path); return }
            f.Day = d
        }
        items, err := s.Store.ListWorkOrders(r.Context(), f)
        if err != nil { writeError(w, err, r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// EmergenciesHandler handles POST /v1/emergencies
func (s *Server) EmergenciesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    var req struct {
        TechnicianID string `json:"technicianId"`
        BuildingID   string `json:"buildingId"`
        TemplateID   string `json:"templateId"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.TechnicianID == "" || req.BuildingID == "" || req.TemplateID == "" {
        writeProblem(w, 400, "Missing fields", "technicianId, buildingId, templateId required", r.URL.Path)
        return
    }
    o, err := s.Dispatch.InjectEmergency(r.Context(), req.TechnicianID, req.BuildingID, req.TemplateID)
    if err != nil { writeError(w, err, r.URL.Path); return }
    metrics.DispatchOps.WithLabelValues(model.EventAssigned, "ok").Inc()
    s.publishOrderEvent(o.ID, model.EventAssigned, o.Status)
    writeJSON(w, http.StatusCreated, o)
}

// WorkOrderByIDHandler handles GET /v1/workorders/{id} plus action and
// stream subpaths.
func (s *Server) WorkOrderByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/workorders/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
        s.streamOrderEvents(w, r, id)
        return
    }
    if len(parts) > 1 && parts[1] == "events:merge" {
        s.mergeOrderEvents(w, r, id)
        return
    }
    if len(parts) > 1 {
        s.orderAction(w, r, id, parts[1])
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    o, err := s.Dispatch.Get(r.Context(), id)
    if err != nil { writeError(w, err, r.URL.Path); return }
    writeJSON(w, http.StatusOK, o)
}

type actionRequest struct {
    Coords           *model.GeoPoint `json:"coords,omitempty"`
    MinutesRemaining float64         `json:"minutesRemaining,omitempty"`
    TechnicianID     string          `json:"technicianId,omitempty"`
    ScheduledAt      string          `json:"scheduledAt,omitempty"`
}

func (s *Server) orderAction(w http.ResponseWriter, r *http.Request, id, action string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req actionRequest
    if r.Body != nil { _ = json.NewDecoder(r.Body).Decode(&req) }

    current, err := s.Dispatch.Get(r.Context(), id)
    if err != nil { writeError(w, err, r.URL.Path); return }

    p := s.getPrincipal(r)
    switch action {
    case "arrive", "depart", "close", "suspend", "resume":
        if !p.CanAct(current.TechnicianID) { writeProblem(w, 403, "Forbidden", "assigned technician, dispatcher or admin required", r.URL.Path); return }
    default:
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    }

    var o model.HydratedWorkOrder
    var kind string
    extra := map[string]any{}
    switch action {
    case "arrive":
        kind = model.EventArrived
        out := !geo.WithinGeofence(req.Coords, current.Building.Location, s.Cfg.GeofenceM)
        extra["outOfGeofence"] = out
        extra["withinWindow"] = geo.WithinAttendanceWindow(time.Now().UTC(), current.Building.Windows)
        o, err = s.Dispatch.MarkArrival(r.Context(), id, req.Coords, out)
    case "depart":
        kind = model.EventDeparted
        out := !geo.WithinGeofence(req.Coords, current.Building.Location, s.Cfg.GeofenceM)
        o, err = s.Dispatch.MarkDeparture(r.Context(), id, req.Coords, out)
    case "close":
        kind = model.EventClosed
        o, err = s.Dispatch.Close(r.Context(), id)
    case "suspend":
        kind = model.EventSuspended
        o, err = s.Dispatch.Suspend(r.Context(), id, req.MinutesRemaining)
    case "resume":
        kind = model.EventResumed
        o, err = s.Dispatch.Resume(r.Context(), id)
    case "cancel":
        kind = model.EventCancelled
        o, err = s.Dispatch.Cancel(r.Context(), id)
    case "reassign":
        kind = model.EventAssigned
        if req.TechnicianID == "" { writeProblem(w, 400, "Missing technicianId", "", r.URL.Path); return }
        o, err = s.Dispatch.Reassign(r.Context(), id, req.TechnicianID)
    case "reschedule":
        kind = model.EventRescheduled
        t, perr := time.Parse(time.RFC3339, req.ScheduledAt)
        if perr != nil { writeProblem(w, 400, "Invalid scheduledAt", "expected RFC3339", r.URL.Path); return }
        o, err = s.Dispatch.Reschedule(r.Context(), id, t)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "unknown action "+action, r.URL.Path)
        return
    }
    if err != nil {
        metrics.DispatchOps.WithLabelValues(kind, "error").Inc()
        writeError(w, err, r.URL.Path)
        return
    }
    metrics.DispatchOps.WithLabelValues(kind, "ok").Inc()
    s.publishOrderEvent(id, kind, o.Status)
    resp := map[string]any{"order": o}
    for k, v := range extra { resp[k] = v }
    writeJSON(w, http.StatusOK, resp)
}

func (s *Server) publishOrderEvent(id, kind, status string) {
    s.Broker.Publish(id, SSEEvent{Type: "order." + kind, Data: map[string]any{
        "otId":   id,
        "status": status,
        "ts":     time.Now().UTC().Format(time.RFC3339),
    }})
}

// mergeOrderEvents handles POST /v1/workorders/{id}/events:merge for device
// reconciliation. The remote log is unioned with the server log, sorted,
// and the status recomputed by replay.
func (s *Server) mergeOrderEvents(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct{ Events []model.Event `json:"events"` }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    o, err := s.Dispatch.MergeRemoteEvents(r.Context(), id, req.Events)
    if err != nil { writeError(w, err, r.URL.Path); return }
    s.publishOrderEvent(id, "merged", o.Status)
    writeJSON(w, http.StatusOK, o)
}

func (s *Server) streamOrderEvents(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    pr := s.getPrincipal(r)
    if !pr.CanDispatch() {
        o, err := s.Dispatch.Get(r.Context(), id)
        if err != nil { writeProblem(w, 404, "Order not found", err.Error(), r.URL.Path); return }
        if !pr.CanAct(o.TechnicianID) {
            writeProblem(w, 403, "Forbidden", "not authorized for order events", r.URL.Path)
            return
        }
    }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"otId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"otId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// RoutePlanHandler handles POST /v1/routes/plan, sequencing a technician's
// day. Advisory only; the technician may deviate freely.
func (s *Server) RoutePlanHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    var req planRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validatePlanRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
        return
    }
    day := time.Now().UTC()
    if req.Date != "" {
        d, err := time.Parse("2006-01-02", req.Date)
        if err != nil { writeProblem(w, 400, "Invalid date", "expected YYYY-MM-DD", r.URL.Path); return }
        day = d
    }
    orders, err := s.Dispatch.Agenda(r.Context(), req.TechnicianID, day)
    if err != nil { writeError(w, err, r.URL.Path); return }
    stops := opt.SequenceDay(orders, req.Start)
    if req.Improve {
        iters := req.Iterations
        if iters <= 0 { iters = 50 }
        stops = opt.Improve2Opt(stops, iters)
    }
    writeJSON(w, http.StatusOK, map[string]any{"stops": stops, "date": day.Format("2006-01-02")})
}

// CandidatesHandler handles POST /v1/candidates, ranking nearby buildings to
// fill capacity opened by a suspension or early completion. Buildings named
// in excludeBuildingIds (those already on the day's route) never come back
// as suggestions.
func (s *Server) CandidatesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    var req struct {
        Location           *model.GeoPoint `json:"location"`
        ExcludeBuildingIDs []string        `json:"excludeBuildingIds,omitempty"`
        K                  int             `json:"k,omitempty"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.Location == nil {
        writeProblem(w, 400, "Missing location", "", r.URL.Path)
        return
    }
    pool, err := s.Store.ListBuildings(r.Context())
    if err != nil { writeError(w, err, r.URL.Path); return }
    if len(req.ExcludeBuildingIDs) > 0 {
        excluded := map[string]struct{}{}
        for _, id := range req.ExcludeBuildingIDs { excluded[id] = struct{}{} }
        kept := pool[:0]
        for _, b := range pool {
            if _, skip := excluded[b.ID]; !skip { kept = append(kept, b) }
        }
        pool = kept
    }
    items := opt.RankCandidates(*req.Location, pool, req.K)
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using the Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
