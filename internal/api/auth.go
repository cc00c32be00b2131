// Package api implements HTTP handlers and helpers for the dispatch service.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
    Role         string // admin, dispatcher, technician
    TechnicianID string
}

// getPrincipal extracts role and technician id from a bearer token or headers.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Role: pr.Role, TechnicianID: pr.TechnicianID}
        }
    }
    role := r.Header.Get("X-Role")
    techID := r.Header.Get("X-Technician-Id")
    if role == "" {
        role = "admin"
    }
    return Principal{Role: role, TechnicianID: techID}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanDispatch reports whether the principal may schedule, reassign, or
// cancel orders.
func (p Principal) CanDispatch() bool { return p.Role == "admin" || p.Role == "dispatcher" }

// CanAct reports whether the principal may record field events on the order
// assigned to technicianID.
func (p Principal) CanAct(technicianID string) bool {
    if p.CanDispatch() {
        return true
    }
    return p.Role == "technician" && p.TechnicianID != "" && p.TechnicianID == technicianID
}
