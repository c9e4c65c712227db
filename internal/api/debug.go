package api

import (
    "encoding/json"
    "net/http"
    "time"

    "sitecover/internal/auth"
    "sitecover/internal/buildinfo"
    "sitecover/internal/opt"
)

// DebugJSON reports build info and the non-secret parts of the configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    if _, ok := s.authorize(w, r, auth.RoleAdmin); !ok { return }
    c := s.Cfg
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "port":               c.Port,
            "rateRps":            c.RateRPS,
            "rateBurst":          c.RateBurst,
            "webhookMaxAttempts": c.WebhookMaxAttempts,
            "hasDatabaseUrl":     c.DatabaseURL != "",
            "hasRedisUrl":        c.RedisURL != "",
            "optimizer":          c.Optimizer,
            "timeLimitSec":       c.Optimizer.TimeLimit.Seconds(),
        },
        "solvers": opt.Backends(),
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
