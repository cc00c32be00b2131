package capture

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"fieldops/internal/model"
	"fieldops/internal/store"
)

// Record kinds as they appear in upload batches.
const (
	RecordOrderSnapshot     = "order_snapshot"
	RecordEvent             = "event"
	RecordChecklistResponse = "checklist_response"
	RecordSignature         = "signature"
)

// PendingRecord is one locally captured row awaiting upload.
type PendingRecord struct {
	Kind       string          `json:"kind"`
	ID         string          `json:"id"`
	OrderID    string          `json:"otId"`
	SyncStatus string          `json:"syncStatus"`
	CreatedSeq int64           `json:"createdSeq"`
	Payload    json.RawMessage `json:"payload"`
}

var errSyncedTerminal = errors.New("record already synced")

// PendingRecords returns a lazy, restartable iterator over every record
// with sync status pending or failed, in creation order across all four
// tables. The iterator re-queries per batch, so records captured while
// iterating are picked up and a crashed upload restarts where it left off.
func (s *Store) PendingRecords(batchSize int) *PendingIterator {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &PendingIterator{store: s, batchSize: batchSize}
}

type PendingIterator struct {
	store     *Store
	batchSize int
	afterSeq  int64
	buf       []PendingRecord
}

// Next returns the next pending record, or ok=false when the sequence is
// exhausted.
func (it *PendingIterator) Next(ctx context.Context) (PendingRecord, bool, error) {
	if len(it.buf) == 0 {
		batch, err := it.store.pendingBatch(ctx, it.afterSeq, it.batchSize)
		if err != nil {
			return PendingRecord{}, false, err
		}
		if len(batch) == 0 {
			return PendingRecord{}, false, nil
		}
		it.buf = batch
		it.afterSeq = batch[len(batch)-1].CreatedSeq
	}
	rec := it.buf[0]
	it.buf = it.buf[1:]
	return rec, true, nil
}

// pendingBatch collects up to limit pending/failed records with
// created_seq > afterSeq from all tables, merged in creation order.
func (s *Store) pendingBatch(ctx context.Context, afterSeq int64, limit int) ([]PendingRecord, error) {
	out := []PendingRecord{}

	collect := func(recs []PendingRecord, err error) error {
		if err != nil {
			return err
		}
		out = append(out, recs...)
		return nil
	}
	if err := collect(s.pendingSnapshots(ctx, afterSeq, limit)); err != nil {
		return nil, err
	}
	if err := collect(s.pendingEvents(ctx, afterSeq, limit)); err != nil {
		return nil, err
	}
	if err := collect(s.pendingResponses(ctx, afterSeq, limit)); err != nil {
		return nil, err
	}
	if err := collect(s.pendingSignatures(ctx, afterSeq, limit)); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedSeq < out[j].CreatedSeq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) pendingSnapshots(ctx context.Context, afterSeq int64, limit int) ([]PendingRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, status, kind, building_id, template_id, technician_id,
		       scheduled_at, minutes_left, lat, lng, sync_status, created_seq
		FROM order_snapshots
		WHERE sync_status IN ('pending','failed') AND created_seq > ?
		ORDER BY created_seq LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()
	out := []PendingRecord{}
	for rows.Next() {
		var (
			o        model.WorkOrder
			lat, lng sql.NullFloat64
			status   string
			seq      int64
		)
		if err := rows.Scan(&o.ID, &o.Status, &o.Kind, &o.BuildingID, &o.TemplateID,
			&o.TechnicianID, &o.ScheduledAt, &o.MinutesLeft, &lat, &lng, &status, &seq); err != nil {
			return nil, err
		}
		payload, _ := json.Marshal(o)
		out = append(out, PendingRecord{
			Kind: RecordOrderSnapshot, ID: o.ID, OrderID: o.ID,
			SyncStatus: status, CreatedSeq: seq, Payload: payload,
		})
	}
	return out, rows.Err()
}

func (s *Store) pendingEvents(ctx context.Context, afterSeq int64, limit int) ([]PendingRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, ot_id, kind, ts, lat, lng, sync_status, created_seq
		FROM events
		WHERE sync_status IN ('pending','failed') AND created_seq > ?
		ORDER BY created_seq LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()
	out := []PendingRecord{}
	for rows.Next() {
		var (
			e        model.Event
			lat, lng sql.NullFloat64
			status   string
			seq      int64
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Kind, &e.TS, &lat, &lng, &status, &seq); err != nil {
			return nil, err
		}
		if lat.Valid && lng.Valid {
			e.Coords = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
		}
		payload, _ := json.Marshal(e)
		out = append(out, PendingRecord{
			Kind: RecordEvent, ID: e.ID, OrderID: e.OrderID,
			SyncStatus: status, CreatedSeq: seq, Payload: payload,
		})
	}
	return out, rows.Err()
}

func (s *Store) pendingResponses(ctx context.Context, afterSeq int64, limit int) ([]PendingRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, ot_id, item_id, value, note, photo_ref, sync_status, created_seq
		FROM checklist_responses
		WHERE sync_status IN ('pending','failed') AND created_seq > ?
		ORDER BY created_seq LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("querying responses: %w", err)
	}
	defer rows.Close()
	out := []PendingRecord{}
	for rows.Next() {
		var (
			r           model.ChecklistResponse
			note, photo sql.NullString
			seq         int64
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ItemID, &r.Value, &note, &photo, &r.SyncStatus, &seq); err != nil {
			return nil, err
		}
		r.Note = note.String
		r.PhotoRef = photo.String
		payload, _ := json.Marshal(r)
		out = append(out, PendingRecord{
			Kind: RecordChecklistResponse, ID: r.ID, OrderID: r.OrderID,
			SyncStatus: r.SyncStatus, CreatedSeq: seq, Payload: payload,
		})
	}
	return out, rows.Err()
}

func (s *Store) pendingSignatures(ctx context.Context, afterSeq int64, limit int) ([]PendingRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, ot_id, signer_name, image_ref, ts, sync_status, created_seq
		FROM signatures
		WHERE sync_status IN ('pending','failed') AND superseded = 0 AND created_seq > ?
		ORDER BY created_seq LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("querying signatures: %w", err)
	}
	defer rows.Close()
	out := []PendingRecord{}
	for rows.Next() {
		var (
			sig model.Signature
			seq int64
		)
		if err := rows.Scan(&sig.ID, &sig.OrderID, &sig.SignerName, &sig.ImageRef, &sig.TS, &sig.SyncStatus, &seq); err != nil {
			return nil, err
		}
		payload, _ := json.Marshal(sig)
		out = append(out, PendingRecord{
			Kind: RecordSignature, ID: sig.ID, OrderID: sig.OrderID,
			SyncStatus: sig.SyncStatus, CreatedSeq: seq, Payload: payload,
		})
	}
	return out, rows.Err()
}

var recordTables = []string{"order_snapshots", "events", "checklist_responses", "signatures"}

// MarkSynced confirms an upload: pending -> synced. Synced is terminal for
// a record version; only a new write creates a new pending version.
func (s *Store) MarkSynced(ctx context.Context, recordID string) error {
	return s.transition(ctx, recordID, model.SyncPending, model.SyncSynced)
}

// MarkFailed records an upload failure: pending -> failed. The record stays
// in the pending sequence and is requeued before the next attempt.
func (s *Store) MarkFailed(ctx context.Context, recordID string) error {
	return s.transition(ctx, recordID, model.SyncPending, model.SyncFailed)
}

// Requeue retries a failed record: failed -> pending.
func (s *Store) Requeue(ctx context.Context, recordID string) error {
	return s.transition(ctx, recordID, model.SyncFailed, model.SyncPending)
}

func (s *Store) transition(ctx context.Context, recordID, from, to string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range recordTables {
			var current string
			err := tx.GetContext(ctx, &current,
				"SELECT sync_status FROM "+table+" WHERE id = ?", recordID)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}
			if current == model.SyncSynced {
				return fmt.Errorf("%s: %w", recordID, errSyncedTerminal)
			}
			if current != from {
				return fmt.Errorf("record %s is %s, want %s", recordID, current, from)
			}
			_, err = tx.ExecContext(ctx,
				"UPDATE "+table+" SET sync_status = ? WHERE id = ?", to, recordID)
			return err
		}
		return store.ErrNotFound
	})
}

// Prune deletes synced records older than keep. Called by the reconciler
// once the authoritative copies have superseded the local ones.
func (s *Store) Prune(ctx context.Context, keep time.Duration) error {
	cutoff := time.Now().UTC().Add(-keep)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM events WHERE sync_status = 'synced' AND ts < ?", cutoff); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM signatures WHERE sync_status = 'synced' AND (superseded = 1 OR ts < ?)", cutoff); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM checklist_responses WHERE sync_status = 'synced'"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM order_snapshots WHERE sync_status = 'synced' AND updated_at < ?", cutoff)
		return err
	})
}
