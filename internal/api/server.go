package api

import (
    "log"
    "strings"

    "sitecover/internal/auth"
    "sitecover/internal/config"
    "sitecover/internal/store"
    "sitecover/internal/webhooks"
)

type Server struct {
    Store   store.Store
    Pub     *webhooks.Publisher
    Auth    *auth.Verifier
    Broker  EventBroker
    Cfg     config.Config
    Limiter *TenantLimiter
}

// NewServer loads the configuration and creates a Server. If no database URL
// is configured, uses in-memory store.
func NewServer() (*Server, error) {
    cfg, err := config.Load()
    if err != nil {
        return nil, err
    }
    return NewServerWithConfig(cfg)
}

func NewServerWithConfig(cfg config.Config) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if cfg.Migrate {
            if err := sp.MigrateDir("db/migrations"); err != nil {
                log.Printf("migrate: %v", err)
            }
        }
        s = sp
    }
    // Broker selection
    var broker EventBroker = NewBroker()
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
            broker = rb
        } else {
            log.Printf("redis broker: %v; falling back to in-memory", err)
        }
    }
    return &Server{
        Store:   s,
        Pub:     webhooks.NewPublisher(s),
        Auth:    auth.NewVerifierFromEnv(),
        Broker:  broker,
        Cfg:     cfg,
        Limiter: NewTenantLimiter(cfg.RateRPS, cfg.RateBurst),
    }, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Cfg.WebhookMaxAttempts)
}
