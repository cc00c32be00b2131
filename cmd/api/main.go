package main

import (
    "log"
    "net/http"
    "os"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"

    "fieldops/internal/api"
    "fieldops/internal/buildinfo"
    "fieldops/internal/capture"
    "fieldops/internal/config"
    "fieldops/internal/metrics"
    "fieldops/internal/uploader"
)

func main() {
    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    logger, err := newLogger(cfg.LogLevel)
    if err != nil {
        log.Fatalf("failed to init logger: %v", err)
    }
    defer func() { _ = logger.Sync() }()

    metrics.RegisterDefault()

    srvDeps, err := api.NewServer(cfg, logger)
    if err != nil {
        logger.Fatal("failed to init server", zap.Error(err))
    }

    mux := http.NewServeMux()

    // Work orders
    mux.HandleFunc("/v1/workorders", srvDeps.WorkOrdersHandler)
    mux.HandleFunc("/v1/workorders/", srvDeps.WorkOrderByIDHandler) // actions, events/stream, events:merge
    mux.HandleFunc("/v1/emergencies", srvDeps.EmergenciesHandler)

    // Planning
    mux.HandleFunc("/v1/routes/plan", srvDeps.RoutePlanHandler)
    mux.HandleFunc("/v1/candidates", srvDeps.CandidatesHandler)

    // Catalog
    mux.HandleFunc("/v1/technicians", srvDeps.TechniciansHandler)
    mux.HandleFunc("/v1/technicians/", srvDeps.TechnicianByIDHandler) // includes /agenda
    mux.HandleFunc("/v1/buildings", srvDeps.BuildingsHandler)
    mux.HandleFunc("/v1/templates", srvDeps.TemplatesHandler)

    // Streams
    mux.HandleFunc("/v1/ws", srvDeps.WSHandler)

    // Health and metrics
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    srv := &http.Server{
        Addr:              cfg.Addr,
        Handler:           srvDeps.Middleware(mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    // Device-agent mode: drain the local capture store to SYNC_URL.
    if cfg.CaptureDBPath != "" && cfg.SyncURL != "" {
        cs, err := capture.Open(cfg.CaptureDBPath)
        if err != nil {
            logger.Fatal("failed to open capture store", zap.Error(err))
        }
        defer func() { _ = cs.Close() }()
        worker := uploader.NewWorker(cs, logger, cfg.SyncURL, cfg.SyncSecret)
        worker.Start()
        defer close(worker.Stop)
        logger.Info("uploader started", zap.String("syncUrl", cfg.SyncURL))
    }

    logger.Info("API listening",
        zap.String("addr", cfg.Addr),
        zap.String("version", buildinfo.Version))
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        logger.Fatal("server error", zap.Error(err))
    }
}

func newLogger(level string) (*zap.Logger, error) {
    lvl, err := zapcore.ParseLevel(level)
    if err != nil {
        lvl = zapcore.InfoLevel
    }
    zcfg := zap.NewProductionConfig()
    zcfg.Level = zap.NewAtomicLevelAt(lvl)
    return zcfg.Build()
}
