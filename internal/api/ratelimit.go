package api

import (
    "net/http"
    "strconv"
    "sync"

    "golang.org/x/time/rate"
)

// TenantLimiter keeps one token bucket per tenant for the solve endpoints.
type TenantLimiter struct {
    mu    sync.Mutex
    rps   rate.Limit
    burst int
    byKey map[string]*rate.Limiter
}

// NewTenantLimiter returns nil when rps is not positive, which disables limiting.
func NewTenantLimiter(rps float64, burst int) *TenantLimiter {
    if rps <= 0 {
        return nil
    }
    if burst <= 0 {
        burst = 1
    }
    return &TenantLimiter{rps: rate.Limit(rps), burst: burst, byKey: map[string]*rate.Limiter{}}
}

func (l *TenantLimiter) Allow(tenant string) bool {
    if l == nil {
        return true
    }
    l.mu.Lock()
    lim, ok := l.byKey[tenant]
    if !ok {
        lim = rate.NewLimiter(l.rps, l.burst)
        l.byKey[tenant] = lim
    }
    l.mu.Unlock()
    return lim.Allow()
}

// RateLimited wraps a solve handler with the per-tenant bucket.
func (s *Server) RateLimited(next http.HandlerFunc) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodPost && !s.Limiter.Allow(s.getPrincipal(r).Tenant) {
            w.Header().Set("Retry-After", strconv.Itoa(1))
            writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "solve rate exceeded for tenant", r.URL.Path)
            return
        }
        next(w, r)
    }
}
