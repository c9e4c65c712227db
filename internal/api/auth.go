// Package api implements HTTP handlers and helpers for the sitecover service.
package api

import (
    "net/http"
    "strings"

    "sitecover/internal/auth"
)

type Principal struct {
    Tenant string
    Role   string // admin, planner, viewer
}

// getPrincipal extracts tenant and role from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Tenant: normalizeTenantID(pr.Tenant), Role: pr.Role}
        }
        return Principal{}
    }
    tenant := r.Header.Get("X-Tenant-Id")
    role := strings.ToLower(r.Header.Get("X-Role"))
    if tenant == "" {
        tenant = "t_demo"
    }
    if role == "" {
        role = auth.RoleAdmin
    }
    return Principal{Tenant: normalizeTenantID(tenant), Role: role}
}

func normalizeTenantID(t string) string { return strings.ToLower(strings.TrimSpace(t)) }

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == auth.RoleAdmin }

// authorize writes a problem and returns false unless the caller holds min.
// A rejected bearer token yields an empty principal and a 401.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, min string) (Principal, bool) {
    p := s.getPrincipal(r)
    if p.Tenant == "" {
        writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token", r.URL.Path)
        return p, false
    }
    if !auth.Allows(p.Role, min) {
        writeProblem(w, http.StatusForbidden, "Forbidden", min+" role required", r.URL.Path)
        return p, false
    }
    return p, true
}
