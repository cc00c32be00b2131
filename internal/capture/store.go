// Package capture is the on-device durable store for technician actions.
// Every record carries a sync status so connectivity loss never loses data;
// an uploader drains pending records to the server of record later.
package capture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"fieldops/internal/model"
	"fieldops/internal/store"
)

// Store wraps a local SQLite database. One file per device; writes are
// assumed sequential per device, a single technician acting on a single
// handset.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the capture database at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening capture db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// nextSeq hands out the device-wide creation sequence number. All captured
// records share one sequence so the upload order matches capture order
// across tables.
func nextSeq(tx *sqlx.Tx) (int64, error) {
	if _, err := tx.Exec("UPDATE seq_counter SET v = v + 1"); err != nil {
		return 0, err
	}
	var v int64
	if err := tx.Get(&v, "SELECT v FROM seq_counter"); err != nil {
		return 0, err
	}
	return v, nil
}

// SaveOrderSnapshot stores the local copy of a work order for offline use.
// Upsert by order id; re-saving resets the row to pending.
func (s *Store) SaveOrderSnapshot(ctx context.Context, o model.WorkOrder, loc *model.GeoPoint) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		seq, err := nextSeq(tx)
		if err != nil {
			return err
		}
		var lat, lng any
		if loc != nil {
			lat, lng = loc.Lat, loc.Lng
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO order_snapshots (
				id, status, kind, building_id, template_id, technician_id,
				scheduled_at, minutes_left, lat, lng, updated_at, sync_status, created_seq
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.Status, o.Kind, o.BuildingID, o.TemplateID, o.TechnicianID,
			o.ScheduledAt.UTC(), o.MinutesLeft, lat, lng, time.Now().UTC(), model.SyncPending, seq,
		)
		return err
	})
}

// RecordEvent appends an event row with sync status pending.
func (s *Store) RecordEvent(ctx context.Context, otID, kind string, coords *model.GeoPoint, accuracyM float64) (model.Event, error) {
	ev := model.Event{
		ID:      uuid.New().String(),
		OrderID: otID,
		Kind:    kind,
		TS:      time.Now().UTC(),
		Coords:  coords,
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		seq, err := nextSeq(tx)
		if err != nil {
			return err
		}
		var lat, lng any
		if coords != nil {
			lat, lng = coords.Lat, coords.Lng
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (id, ot_id, kind, ts, lat, lng, accuracy_m, sync_status, created_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, otID, kind, ev.TS, lat, lng, accuracyM, model.SyncPending, seq,
		)
		return err
	})
	if err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// RecordChecklistResponse upserts the answer for one checklist item of one
// work order. Re-submission overwrites the value and resets the row to
// pending.
func (s *Store) RecordChecklistResponse(ctx context.Context, otID, itemID, value, note, photoRef string) (model.ChecklistResponse, error) {
	resp := model.ChecklistResponse{
		OrderID:    otID,
		ItemID:     itemID,
		Value:      value,
		Note:       note,
		PhotoRef:   photoRef,
		SyncStatus: model.SyncPending,
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var existing string
		err := tx.GetContext(ctx, &existing,
			"SELECT id FROM checklist_responses WHERE ot_id = ? AND item_id = ?", otID, itemID)
		switch {
		case err == nil:
			resp.ID = existing
			_, err = tx.ExecContext(ctx, `
				UPDATE checklist_responses
				SET value = ?, note = ?, photo_ref = ?, sync_status = ?
				WHERE id = ?`,
				value, note, photoRef, model.SyncPending, existing,
			)
			return err
		case errors.Is(err, sql.ErrNoRows):
			resp.ID = uuid.New().String()
			seq, err := nextSeq(tx)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO checklist_responses (id, ot_id, item_id, value, note, photo_ref, sync_status, created_seq)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				resp.ID, otID, itemID, value, note, photoRef, model.SyncPending, seq,
			)
			return err
		default:
			return err
		}
	})
	if err != nil {
		return model.ChecklistResponse{}, err
	}
	return resp, nil
}

// RecordSignature stores the signer acknowledgment. A new signature
// supersedes the previous one for the same work order in the same
// transaction, so at most one is active.
func (s *Store) RecordSignature(ctx context.Context, otID, signerName, imageRef string) (model.Signature, error) {
	sig := model.Signature{
		ID:         uuid.New().String(),
		OrderID:    otID,
		SignerName: signerName,
		ImageRef:   imageRef,
		TS:         time.Now().UTC(),
		SyncStatus: model.SyncPending,
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE signatures SET superseded = 1 WHERE ot_id = ? AND superseded = 0", otID); err != nil {
			return err
		}
		seq, err := nextSeq(tx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO signatures (id, ot_id, signer_name, image_ref, ts, superseded, sync_status, created_seq)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			sig.ID, otID, signerName, imageRef, sig.TS, model.SyncPending, seq,
		)
		return err
	})
	if err != nil {
		return model.Signature{}, err
	}
	return sig, nil
}

// ActiveSignature returns the non-superseded signature for a work order.
func (s *Store) ActiveSignature(ctx context.Context, otID string) (model.Signature, error) {
	var row struct {
		ID         string    `db:"id"`
		OtID       string    `db:"ot_id"`
		SignerName string    `db:"signer_name"`
		ImageRef   string    `db:"image_ref"`
		TS         time.Time `db:"ts"`
		SyncStatus string    `db:"sync_status"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, ot_id, signer_name, image_ref, ts, sync_status
		FROM signatures WHERE ot_id = ? AND superseded = 0`, otID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Signature{}, store.ErrNotFound
	}
	if err != nil {
		return model.Signature{}, fmt.Errorf("reading signature: %w", err)
	}
	return model.Signature{
		ID: row.ID, OrderID: row.OtID, SignerName: row.SignerName,
		ImageRef: row.ImageRef, TS: row.TS, SyncStatus: row.SyncStatus,
	}, nil
}

// Responses returns the captured checklist answers for a work order.
func (s *Store) Responses(ctx context.Context, otID string) ([]model.ChecklistResponse, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, ot_id, item_id, value, note, photo_ref, sync_status
		FROM checklist_responses WHERE ot_id = ? ORDER BY created_seq`, otID)
	if err != nil {
		return nil, fmt.Errorf("querying responses: %w", err)
	}
	defer rows.Close()
	out := []model.ChecklistResponse{}
	for rows.Next() {
		var r model.ChecklistResponse
		var note, photo sql.NullString
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ItemID, &r.Value, &note, &photo, &r.SyncStatus); err != nil {
			return nil, err
		}
		r.Note = note.String
		r.PhotoRef = photo.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// withTx runs fn inside a transaction. Any failure rolls the whole write
// back, so partial writes are never observable; storage errors surface as
// ErrStorageFailure for the caller to retry or alert on.
func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", store.ErrStorageFailure, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrStorageFailure, err)
	}
	return nil
}
