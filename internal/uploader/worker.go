// Package uploader drains the on-device capture store to the dispatch
// backend. Records go up one at a time in creation order; each body is
// signed with HMAC-SHA256 so the backend can authenticate the device.
package uploader

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "time"

    "go.uber.org/zap"

    "fieldops/internal/capture"
    "fieldops/internal/metrics"
    "fieldops/internal/model"
    "os"
    "strconv"
)

type Worker struct {
    Capture *capture.Store
    HTTP    *http.Client
    Log     *zap.Logger
    URL     string
    Secret  string
    Stop    chan struct{}
    MaxAttempts int

    attempts  map[string]int
    notBefore map[string]time.Time
}

func NewWorker(c *capture.Store, log *zap.Logger, url, secret string) *Worker {
    max := 10
    if v := os.Getenv("SYNC_MAX_ATTEMPTS"); v != "" { if n,err := strconv.Atoi(v); err == nil && n>0 { max = n } }
    return &Worker{
        Capture: c, HTTP: &http.Client{Timeout: 5 * time.Second}, Log: log,
        URL: url, Secret: secret, Stop: make(chan struct{}), MaxAttempts: max,
        attempts: map[string]int{}, notBefore: map[string]time.Time{},
    }
}

func (w *Worker) Start() {
    go func() {
        ticker := time.NewTicker(1 * time.Second)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.processOnce()
            }
        }
    }()
}

func (w *Worker) processOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    it := w.Capture.PendingRecords(50)
    for {
        rec, ok, err := it.Next(ctx)
        if err != nil || !ok { return }
        if !w.due(rec) { continue }
        if rec.SyncStatus == model.SyncFailed {
            if err := w.Capture.Requeue(ctx, rec.ID); err != nil { continue }
        }
        w.deliver(ctx, rec)
    }
}

func (w *Worker) due(rec capture.PendingRecord) bool {
    if w.attempts[rec.ID] >= w.MaxAttempts { return false }
    nb, held := w.notBefore[rec.ID]
    return !held || !time.Now().Before(nb)
}

func (w *Worker) deliver(ctx context.Context, rec capture.PendingRecord) {
    body, _ := json.Marshal(rec)
    req, _ := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Record-Kind", rec.Kind)
    if w.Secret != "" {
        req.Header.Set("X-Signature", SignHMAC(w.Secret, body))
    }
    start := time.Now()
    resp, err := w.HTTP.Do(req)
    latency := float64(time.Since(start).Milliseconds())
    code := 0
    success := false
    if err == nil && resp != nil {
        code = resp.StatusCode
        if resp.Body != nil { _ = resp.Body.Close() }
        if code >= 200 && code < 300 { success = true }
    }
    if success {
        delete(w.attempts, rec.ID)
        delete(w.notBefore, rec.ID)
        metrics.Uploads.WithLabelValues(rec.Kind, "synced").Inc()
        metrics.UploadLatency.WithLabelValues(rec.Kind, "synced").Observe(latency)
        _ = w.Capture.MarkSynced(ctx, rec.ID)
        return
    }
    w.attempts[rec.ID]++
    w.notBefore[rec.ID] = time.Now().Add(nextBackoff(w.attempts[rec.ID]))
    metrics.Uploads.WithLabelValues(rec.Kind, "failed").Inc()
    metrics.UploadLatency.WithLabelValues(rec.Kind, "failed").Observe(latency)
    _ = w.Capture.MarkFailed(ctx, rec.ID)
    w.Log.Warn("upload failed",
        zap.String("record", rec.ID), zap.String("kind", rec.Kind),
        zap.Int("code", code), zap.Int("attempts", w.attempts[rec.ID]), zap.Error(err))
    if w.attempts[rec.ID] >= w.MaxAttempts {
        w.Log.Error("upload abandoned after max attempts", zap.String("record", rec.ID))
    }
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
