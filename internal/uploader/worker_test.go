package uploader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"fieldops/internal/capture"
)

func testCapture(t *testing.T) *capture.Store {
	t.Helper()
	c, err := capture.Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("open capture store: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func pendingIDs(t *testing.T, c *capture.Store) []string {
	t.Helper()
	ids := []string{}
	it := c.PendingRecords(10)
	for {
		rec, ok, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("iterating pending: %v", err)
		}
		if !ok {
			return ids
		}
		ids = append(ids, rec.ID)
	}
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotKind string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotKind = r.Header.Get("X-Record-Kind")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	c := testCapture(t)
	ev, err := c.RecordEvent(context.Background(), "ot1", "arrived", nil, 0)
	if err != nil || ev.ID == "" {
		t.Fatalf("record event failed: %v", err)
	}
	w := NewWorker(c, zap.NewNop(), srv.URL, "secret")
	w.HTTP = srv.Client()

	w.processOnce()

	if gotSig == "" || gotKind != capture.RecordEvent {
		t.Fatalf("missing signature/kind headers: sig=%q kind=%q", gotSig, gotKind)
	}
	if ids := pendingIDs(t, c); len(ids) != 0 {
		t.Fatalf("expected record synced, still pending: %v", ids)
	}
}

func TestWorkerProcessOnce_FailThenRetry(t *testing.T) {
	code := 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) }))
	defer srv.Close()

	c := testCapture(t)
	ev, _ := c.RecordEvent(context.Background(), "ot1", "arrived", nil, 0)
	w := NewWorker(c, zap.NewNop(), srv.URL, "")
	w.HTTP = srv.Client()
	w.MaxAttempts = 3

	w.processOnce()
	if ids := pendingIDs(t, c); len(ids) != 1 || ids[0] != ev.ID {
		t.Fatalf("expected record still queued after failure: %v", ids)
	}

	// Clear the backoff hold and let the server recover.
	code = 200
	w.notBefore[ev.ID] = time.Now().Add(-time.Second)
	w.processOnce()
	if ids := pendingIDs(t, c); len(ids) != 0 {
		t.Fatalf("expected record synced after retry, got: %v", ids)
	}
}

func TestWorkerAbandonsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()

	c := testCapture(t)
	ev, _ := c.RecordEvent(context.Background(), "ot1", "arrived", nil, 0)
	w := NewWorker(c, zap.NewNop(), srv.URL, "")
	w.HTTP = srv.Client()
	w.MaxAttempts = 2

	for i := 0; i < 4; i++ {
		w.notBefore[ev.ID] = time.Now().Add(-time.Second)
		w.processOnce()
	}
	if got := w.attempts[ev.ID]; got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestNextBackoffGrowsAndCaps(t *testing.T) {
	if nextBackoff(1) >= nextBackoff(3) {
		t.Fatalf("backoff should grow with attempts")
	}
	if nextBackoff(30) > time.Hour {
		t.Fatalf("backoff should cap at an hour")
	}
}

func TestSignAndVerifyHMAC(t *testing.T) {
	body := []byte(`{"id":"rec1"}`)
	sig := SignHMAC("secret", body)
	if !VerifyHMAC("secret", body, sig) {
		t.Fatalf("signature should verify")
	}
	if VerifyHMAC("other", body, sig) {
		t.Fatalf("wrong secret should not verify")
	}
	if VerifyHMAC("secret", body, "zz") {
		t.Fatalf("non-hex signature should not verify")
	}
}
