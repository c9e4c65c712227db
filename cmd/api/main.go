package main

import (
    "log"
    "net/http"
    "strings"
    "time"

    "sitecover/internal/api"
    "sitecover/internal/metrics"
)

func main() {
    srvDeps, err := api.NewServer()
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    mux := http.NewServeMux()

    // Solving
    mux.HandleFunc("/v1/mappings", srvDeps.RateLimited(srvDeps.MappingsHandler))
    mux.HandleFunc("/v1/runs", srvDeps.RateLimited(srvDeps.RunsHandler))
    mux.HandleFunc("/v1/runs/", srvDeps.RunByIDHandler) // includes /events/stream, /ws
    mux.HandleFunc("/v1/solvers", srvDeps.SolversHandler)
    mux.HandleFunc("/v1/optimizer/config", srvDeps.OptimizerConfigHandler)
    mux.HandleFunc("/v1/optimizer/stats", srvDeps.OptimizerStatsHandler)

    // Subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

    // Health
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.Handle("/metrics", metrics.Handler())
    mux.HandleFunc("/debug/vars", srvDeps.DebugJSON)

    // Admin
    mux.HandleFunc("/v1/admin/optimizer/config", srvDeps.AdminOptimizerConfigHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries", srvDeps.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries/", srvDeps.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-dlq", srvDeps.WebhookDLQHandler)
    mux.HandleFunc("/v1/admin/webhook-dlq/", srvDeps.WebhookDLQHandler)

    addr := ":" + srvDeps.Cfg.Port
    srv := &http.Server{
        Addr:              addr,
        Handler:           metrics.Middleware(routeLabel, logMiddleware(mux)),
        ReadHeaderTimeout: 5 * time.Second,
    }

    log.Printf("API listening on %s", addr)
    // Start webhook worker
    if srvDeps.Pub != nil {
        worker := srvDeps.NewWebhookWorker()
        worker.Start()
    }
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

// routeLabel collapses ids out of the path so metric labels stay bounded.
func routeLabel(r *http.Request) string {
    p := r.URL.Path
    switch {
    case strings.HasPrefix(p, "/v1/runs/"):
        switch {
        case strings.HasSuffix(p, "/events/stream"):
            return "/v1/runs/{id}/events/stream"
        case strings.HasSuffix(p, "/ws"):
            return "/v1/runs/{id}/ws"
        }
        return "/v1/runs/{id}"
    case strings.HasPrefix(p, "/v1/subscriptions/"):
        return "/v1/subscriptions/{id}"
    case strings.HasPrefix(p, "/v1/admin/webhook-deliveries/"):
        return "/v1/admin/webhook-deliveries/{id}/retry"
    case strings.HasPrefix(p, "/v1/admin/webhook-dlq/"):
        return "/v1/admin/webhook-dlq/{id}/requeue"
    }
    return p
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        next.ServeHTTP(w, r)
        dur := time.Since(start)
        log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
    })
}
