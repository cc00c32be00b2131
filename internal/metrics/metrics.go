package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // DispatchOps counts work-order lifecycle operations by kind and outcome
    DispatchOps = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "dispatch_operations_total", Help: "Work-order operations by event kind and outcome."},
        []string{"kind", "outcome"},
    )
    // Uploads counts capture-record upload outcomes by record kind and status
    Uploads = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "capture_uploads_total", Help: "Capture record uploads by record kind and status."},
        []string{"kind", "status"},
    )
    // UploadLatency tracks capture upload latencies in milliseconds
    UploadLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "capture_upload_latency_ms", Help: "Capture upload latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"kind", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(DispatchOps)
        Registry.MustRegister(Uploads)
        Registry.MustRegister(UploadLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
