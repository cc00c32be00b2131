package api

import (
    "strings"

    "go.uber.org/zap"

    "fieldops/internal/auth"
    "fieldops/internal/config"
    "fieldops/internal/dispatch"
    "fieldops/internal/store"
)

type Server struct {
    Store    store.Repository
    Dispatch *dispatch.Service
    Auth     *auth.Verifier
    Broker   EventBroker
    Log      *zap.Logger
    Cfg      config.Config
}

// NewServer creates a Server. If DatabaseURL is unset, uses the in-memory store.
func NewServer(cfg config.Config, log *zap.Logger) (*Server, error) {
    if log == nil {
        log = zap.NewNop()
    }
    var repo store.Repository
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        repo = store.NewMemory()
    } else {
        pg, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if err := pg.MigrateDir("db/migrations"); err != nil {
            log.Warn("migrations failed", zap.Error(err))
        }
        repo = pg
    }
    var broker EventBroker
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }
    return &Server{
        Store:    repo,
        Dispatch: dispatch.New(repo, log),
        Auth:     auth.NewVerifier(cfg.AuthMode, cfg.AuthSecret),
        Broker:   broker,
        Log:      log,
        Cfg:      cfg,
    }, nil
}
