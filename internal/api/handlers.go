package api

import (
    "context"
    "encoding/json"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"

    "sitecover/internal/auth"
    "sitecover/internal/cover"
    "sitecover/internal/model"
    "sitecover/internal/opt"
)

func queryLimit(r *http.Request) int {
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" {
        if n, err := strconv.Atoi(v); err == nil { limit = n }
    }
    return limit
}

// MappingsHandler handles POST /v1/mappings: build and check a mapping.
// With ?strict=true every demand point must be reachable.
func (s *Server) MappingsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if _, ok := s.authorize(w, r, auth.RolePlanner); !ok { return }
    var req model.MappingRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    m, err := cover.Build(req.Coverage, req.Weights, req.Covered)
    if err == nil {
        err = cover.Check(m, req.Weights, r.URL.Query().Get("strict") == "true")
    }
    if err != nil {
        writeError(w, r, "Build mapping failed", err)
        return
    }
    writeJSON(w, http.StatusOK, mappingStats(m, req.Weights, req.Covered))
}

// RunsHandler handles POST/GET /v1/runs
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p, ok := s.authorize(w, r, auth.RolePlanner)
        if !ok { return }
        var req model.RunRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        req.TenantID = p.Tenant
        if req.Source != nil && !p.IsAdmin() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "file sources require admin", r.URL.Path)
            return
        }
        if err := validateRunRequest(&req, s.Cfg.Optimizer.MaxBudget); err != nil {
            writeError(w, r, "Invalid run request", err)
            return
        }
        run := model.Run{ID: uuid.New().String(), TenantID: p.Tenant, Name: req.Name, Algorithm: req.Algorithm, Status: model.RunRunning, CreatedAt: time.Now().UTC()}
        if r.URL.Query().Get("async") == "true" {
            if _, err := s.Store.CreateRun(r.Context(), run); err != nil {
                writeProblem(w, http.StatusInternalServerError, "Create run failed", err.Error(), r.URL.Path)
                return
            }
            go func(ctx context.Context) { _, _ = s.finish(ctx, run, req) }(context.WithoutCancel(r.Context()))
            w.Header().Set("Location", "/v1/runs/"+run.ID)
            writeJSON(w, http.StatusAccepted, run)
            return
        }
        run, err := s.finish(r.Context(), run, req)
        if err != nil {
            writeError(w, r, "Run failed", err)
            return
        }
        writeJSON(w, http.StatusCreated, run)
    case http.MethodGet:
        p, ok := s.authorize(w, r, auth.RoleViewer)
        if !ok { return }
        items, next, err := s.Store.ListRuns(r.Context(), p.Tenant, r.URL.Query().Get("algorithm"), r.URL.Query().Get("cursor"), queryLimit(r))
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// RunByIDHandler handles GET/DELETE /v1/runs/{id}, GET /v1/runs/{id}/events/stream
// and GET /v1/runs/{id}/ws
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    switch {
    case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
        s.runEventStream(w, r, id)
        return
    case len(parts) == 2 && parts[1] == "ws":
        s.runWebSocket(w, r, id)
        return
    case len(parts) > 1:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    switch r.Method {
    case http.MethodGet:
        p, ok := s.authorize(w, r, auth.RoleViewer)
        if !ok { return }
        run, err := s.Store.GetRun(r.Context(), p.Tenant, id)
        if err != nil {
            writeError(w, r, "Get run failed", err)
            return
        }
        writeJSON(w, http.StatusOK, run)
    case http.MethodDelete:
        p, ok := s.authorize(w, r, auth.RoleAdmin)
        if !ok { return }
        if err := s.Store.DeleteRun(r.Context(), p.Tenant, id); err != nil {
            writeError(w, r, "Delete run failed", err)
            return
        }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SolversHandler lists the registered exact backends.
func (s *Server) SolversHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": opt.Backends(), "default": s.Cfg.Optimizer.Backend})
}

// OptimizerConfigHandler returns the optimizer defaults with the tenant overlay applied
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/optimizer/config" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    o := s.Cfg.Optimizer
    defaults := map[string]any{
        "backend":      o.Backend,
        "timeLimitSec": o.TimeLimit.Seconds(),
        "gap":          o.Gap,
        "parsimonious": o.Parsimonious,
        "parallel":     o.Parallel,
        "maxBudget":    o.MaxBudget,
        "algorithms":   []string{model.AlgoExact, model.AlgoGreedy, model.AlgoGreedyLS, model.AlgoIncremental},
    }
    cfg, _ := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
    for k, v := range cfg { defaults[k] = v }
    writeJSON(w, 200, map[string]any{"defaults": defaults})
}

// Admin get/set optimizer tenant config
func (s *Server) AdminOptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/optimizer/config" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    switch r.Method {
    case http.MethodGet:
        cfg, _ := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
        if cfg == nil { cfg = map[string]any{} }
        writeJSON(w, 200, map[string]any{"config": cfg})
    case http.MethodPut:
        var body struct{ Config map[string]any `json:"config"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if body.Config == nil { writeProblem(w, 400, "Missing config", "", r.URL.Path); return }
        if err := validateOverrides(body.Config); err != nil { writeError(w, r, "Invalid config", err); return }
        if err := s.Store.SaveOptimizerConfig(r.Context(), p.Tenant, body.Config); err != nil { writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]bool{"ok": true})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// OptimizerStatsHandler returns per-algorithm sweep totals for the tenant.
func (s *Server) OptimizerStatsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    writeJSON(w, http.StatusOK, map[string]any{"items": opt.GetSweepStats(p.Tenant)})
}

func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusUnprocessableEntity, "Invalid subscription", "url and events are required", r.URL.Path)
            return
        }
        req.TenantID = p.Tenant
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil { writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path); return }
    w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]any{"status": "ready", "solvers": opt.Backends()})
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    if r.URL.Path == "/v1/admin/webhook-deliveries" && r.Method == http.MethodGet {
        items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, r.URL.Query().Get("status"), r.URL.Query().Get("cursor"), queryLimit(r))
        if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
        return
    }
    if strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") && strings.HasSuffix(r.URL.Path, "/retry") && r.Method == http.MethodPost {
        id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
        if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil { writeError(w, r, "Retry delivery failed", err); return }
        writeJSON(w, 202, map[string]int{"accepted": 1})
        return
    }
    writeProblem(w, 404, "Not Found", "", r.URL.Path)
}

// Admin: webhook DLQ list and requeue
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, auth.RoleAdmin)
    if !ok { return }
    if r.URL.Path == "/v1/admin/webhook-dlq" && r.Method == http.MethodGet {
        items, next, err := s.Store.ListWebhookDLQ(r.Context(), p.Tenant, r.URL.Query().Get("eventType"), r.URL.Query().Get("cursor"), queryLimit(r))
        if err != nil { writeProblem(w, 500, "List DLQ failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
        return
    }
    if strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-dlq/") && strings.HasSuffix(r.URL.Path, "/requeue") && r.Method == http.MethodPost {
        id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-dlq/"), "/requeue")
        if err := s.Store.RequeueWebhookDLQ(r.Context(), p.Tenant, id); err != nil { writeError(w, r, "Requeue failed", err); return }
        writeJSON(w, 202, map[string]int{"accepted": 1})
        return
    }
    writeProblem(w, 404, "Not Found", "", r.URL.Path)
}

