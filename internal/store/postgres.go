package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "fieldops/internal/model"
)

// Postgres is the server-of-record repository.
type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// Ping is used by readiness checks.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies all .sql files in dir in lexical order. Dev helper;
// production deployments run migrations out of band.
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migration %s: %w", n, err)
        }
    }
    return nil
}

func (p *Postgres) CreateTechnician(ctx context.Context, t model.Technician) (model.Technician, error) {
    if t.ID == "" { t.ID = uuid.New().String() }
    _, err := p.db.ExecContext(ctx, `INSERT INTO technicians (id, name, phone, active) VALUES ($1,$2,$3,$4)`,
        t.ID, t.Name, nullIfEmpty(t.Phone), t.Active)
    if err != nil { return model.Technician{}, err }
    return t, nil
}

func (p *Postgres) GetTechnician(ctx context.Context, id string) (model.Technician, error) {
    var t model.Technician
    var phone sql.NullString
    err := p.db.QueryRowContext(ctx, `SELECT id::text, name, phone, active FROM technicians WHERE id=$1`, id).
        Scan(&t.ID, &t.Name, &phone, &t.Active)
    if errors.Is(err, sql.ErrNoRows) { return t, ErrNotFound }
    if err != nil { return t, err }
    t.Phone = phone.String
    return t, nil
}

func (p *Postgres) ListTechnicians(ctx context.Context) ([]model.Technician, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, name, phone, active FROM technicians ORDER BY name`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Technician{}
    for rows.Next() {
        var t model.Technician
        var phone sql.NullString
        if err := rows.Scan(&t.ID, &t.Name, &phone, &t.Active); err != nil { return nil, err }
        t.Phone = phone.String
        out = append(out, t)
    }
    return out, rows.Err()
}

func (p *Postgres) SetTechnicianActive(ctx context.Context, id string, active bool) error {
    res, err := p.db.ExecContext(ctx, `UPDATE technicians SET active=$1 WHERE id=$2`, active, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) CreateBuilding(ctx context.Context, b model.Building) (model.Building, error) {
    if err := ValidateBuilding(b); err != nil { return model.Building{}, err }
    if b.ID == "" { b.ID = uuid.New().String() }
    var lat, lng any
    if b.Location != nil { lat, lng = b.Location.Lat, b.Location.Lng }
    windows, _ := json.Marshal(b.Windows)
    _, err := p.db.ExecContext(ctx, `INSERT INTO buildings (id, client_id, address, lat, lng, windows, duration_min) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
        b.ID, nullIfEmpty(b.ClientID), nullIfEmpty(b.Address), lat, lng, windows, b.DurationMin)
    if err != nil { return model.Building{}, err }
    return b, nil
}

func (p *Postgres) GetBuilding(ctx context.Context, id string) (model.Building, error) {
    row := p.db.QueryRowContext(ctx, `SELECT id::text, client_id, address, lat, lng, windows, duration_min FROM buildings WHERE id=$1`, id)
    b, err := scanBuilding(row.Scan)
    if errors.Is(err, sql.ErrNoRows) { return b, ErrNotFound }
    return b, err
}

func (p *Postgres) ListBuildings(ctx context.Context) ([]model.Building, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, client_id, address, lat, lng, windows, duration_min FROM buildings ORDER BY id`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Building{}
    for rows.Next() {
        b, err := scanBuilding(rows.Scan)
        if err != nil { return nil, err }
        out = append(out, b)
    }
    return out, rows.Err()
}

func scanBuilding(scan func(...any) error) (model.Building, error) {
    var b model.Building
    var clientID, address sql.NullString
    var lat, lng sql.NullFloat64
    var windows []byte
    if err := scan(&b.ID, &clientID, &address, &lat, &lng, &windows, &b.DurationMin); err != nil {
        return b, err
    }
    b.ClientID = clientID.String
    b.Address = address.String
    if lat.Valid && lng.Valid { b.Location = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64} }
    if len(windows) > 0 { _ = json.Unmarshal(windows, &b.Windows) }
    return b, nil
}

func (p *Postgres) CreateTemplate(ctx context.Context, t model.ChecklistTemplate) (model.ChecklistTemplate, error) {
    if err := ValidateTemplate(t); err != nil { return model.ChecklistTemplate{}, err }
    if t.ID == "" { t.ID = uuid.New().String() }
    items, _ := json.Marshal(t.Items)
    _, err := p.db.ExecContext(ctx, `INSERT INTO checklist_templates (id, name, client_id, items) VALUES ($1,$2,$3,$4)`,
        t.ID, t.Name, nullIfEmpty(t.ClientID), items)
    if err != nil { return model.ChecklistTemplate{}, err }
    return t, nil
}

func (p *Postgres) GetTemplate(ctx context.Context, id string) (model.ChecklistTemplate, error) {
    var t model.ChecklistTemplate
    var clientID sql.NullString
    var items []byte
    err := p.db.QueryRowContext(ctx, `SELECT id::text, name, client_id, items FROM checklist_templates WHERE id=$1`, id).
        Scan(&t.ID, &t.Name, &clientID, &items)
    if errors.Is(err, sql.ErrNoRows) { return t, ErrNotFound }
    if err != nil { return t, err }
    t.ClientID = clientID.String
    if len(items) > 0 { _ = json.Unmarshal(items, &t.Items) }
    return t, nil
}

func (p *Postgres) ListTemplates(ctx context.Context) ([]model.ChecklistTemplate, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, name, client_id, items FROM checklist_templates ORDER BY name`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.ChecklistTemplate{}
    for rows.Next() {
        var t model.ChecklistTemplate
        var clientID sql.NullString
        var items []byte
        if err := rows.Scan(&t.ID, &t.Name, &clientID, &items); err != nil { return nil, err }
        t.ClientID = clientID.String
        if len(items) > 0 { _ = json.Unmarshal(items, &t.Items) }
        out = append(out, t)
    }
    return out, rows.Err()
}

func (p *Postgres) CreateWorkOrder(ctx context.Context, o model.WorkOrder) (model.WorkOrder, error) {
    if o.ID == "" { o.ID = uuid.New().String() }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.WorkOrder{}, err }
    defer func(){ _ = tx.Rollback() }()

    _, err = tx.ExecContext(ctx, `INSERT INTO work_orders (id, kind, building_id, template_id, technician_id, scheduled_at, status, minutes_left) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
        o.ID, o.Kind, o.BuildingID, o.TemplateID, o.TechnicianID, o.ScheduledAt.UTC(), o.Status, o.MinutesLeft)
    if err != nil { return model.WorkOrder{}, err }
    if err := insertEvents(ctx, tx, o.ID, o.Events); err != nil { return model.WorkOrder{}, err }
    if err := tx.Commit(); err != nil { return model.WorkOrder{}, err }
    return p.GetWorkOrder(ctx, o.ID)
}

func (p *Postgres) GetWorkOrder(ctx context.Context, id string) (model.WorkOrder, error) {
    var o model.WorkOrder
    err := p.db.QueryRowContext(ctx, `SELECT id::text, kind, building_id::text, template_id::text, technician_id::text, scheduled_at, status, minutes_left FROM work_orders WHERE id=$1`, id).
        Scan(&o.ID, &o.Kind, &o.BuildingID, &o.TemplateID, &o.TechnicianID, &o.ScheduledAt, &o.Status, &o.MinutesLeft)
    if errors.Is(err, sql.ErrNoRows) { return o, ErrNotFound }
    if err != nil { return o, err }
    evs, err := p.eventsFor(ctx, id)
    if err != nil { return o, err }
    o.Events = evs
    return o, nil
}

func (p *Postgres) ListWorkOrders(ctx context.Context, f OrderFilter) ([]model.WorkOrder, error) {
    where := []string{}
    args := []any{}
    add := func(cond string, v any) {
        args = append(args, v)
        where = append(where, fmt.Sprintf(cond, len(args)))
    }
    if f.TechnicianID != "" { add("technician_id=$%d", f.TechnicianID) }
    if f.Status != "" { add("status=$%d", f.Status) }
    if f.Kind != "" { add("kind=$%d", f.Kind) }
    if !f.Day.IsZero() {
        day := f.Day.UTC().Truncate(24 * time.Hour)
        add("scheduled_at >= $%d", day)
        add("scheduled_at < $%d", day.Add(24*time.Hour))
    }
    q := `SELECT id::text, kind, building_id::text, template_id::text, technician_id::text, scheduled_at, status, minutes_left FROM work_orders`
    if len(where) > 0 { q += " WHERE " + strings.Join(where, " AND ") }
    q += ` ORDER BY created_seq`
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.WorkOrder{}
    for rows.Next() {
        var o model.WorkOrder
        if err := rows.Scan(&o.ID, &o.Kind, &o.BuildingID, &o.TemplateID, &o.TechnicianID, &o.ScheduledAt, &o.Status, &o.MinutesLeft); err != nil { return nil, err }
        out = append(out, o)
    }
    if err := rows.Err(); err != nil { return nil, err }
    for i := range out {
        evs, err := p.eventsFor(ctx, out[i].ID)
        if err != nil { return nil, err }
        out[i].Events = evs
    }
    return out, nil
}

func (p *Postgres) UpdateWorkOrder(ctx context.Context, o model.WorkOrder, newEvents []model.Event) (model.WorkOrder, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.WorkOrder{}, err }
    defer func(){ _ = tx.Rollback() }()

    res, err := tx.ExecContext(ctx, `UPDATE work_orders SET status=$1, technician_id=$2, scheduled_at=$3, minutes_left=$4 WHERE id=$5`,
        o.Status, o.TechnicianID, o.ScheduledAt.UTC(), o.MinutesLeft, o.ID)
    if err != nil { return model.WorkOrder{}, err }
    if n, _ := res.RowsAffected(); n == 0 { return model.WorkOrder{}, ErrNotFound }
    if err := insertEvents(ctx, tx, o.ID, newEvents); err != nil { return model.WorkOrder{}, err }
    if err := tx.Commit(); err != nil { return model.WorkOrder{}, err }
    return p.GetWorkOrder(ctx, o.ID)
}

func insertEvents(ctx context.Context, tx *sql.Tx, orderID string, events []model.Event) error {
    for _, e := range events {
        if e.ID == "" { e.ID = uuid.New().String() }
        var lat, lng any
        if e.Coords != nil { lat, lng = e.Coords.Lat, e.Coords.Lng }
        _, err := tx.ExecContext(ctx, `INSERT INTO order_events (id, order_id, kind, ts, lat, lng, out_of_geofence, technician_id, note) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
            e.ID, orderID, e.Kind, e.TS.UTC(), lat, lng, e.OutOfGeofence, nullIfEmpty(e.TechnicianID), nullIfEmpty(e.Note))
        if err != nil { return err }
    }
    return nil
}

// eventsFor returns the order's event log in timestamp order, insertion
// order breaking ties.
func (p *Postgres) eventsFor(ctx context.Context, orderID string) ([]model.Event, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, kind, ts, lat, lng, out_of_geofence, technician_id, note FROM order_events WHERE order_id=$1 ORDER BY ts, seq`, orderID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Event{}
    for rows.Next() {
        var e model.Event
        var lat, lng sql.NullFloat64
        var tech, note sql.NullString
        if err := rows.Scan(&e.ID, &e.Kind, &e.TS, &lat, &lng, &e.OutOfGeofence, &tech, &note); err != nil { return nil, err }
        e.OrderID = orderID
        if lat.Valid && lng.Valid { e.Coords = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64} }
        e.TechnicianID = tech.String
        e.Note = note.String
        out = append(out, e)
    }
    return out, rows.Err()
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
