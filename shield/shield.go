// Package shield provides reusable HTTP security middleware for sitebookify's
// HTTP services. It consolidates security headers, rate limiting, body
// limits, request tracing, maintenance mode, and HEAD method handling into a
// single importable package.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxJSONBody(1 << 20))
//	r.Use(shield.TraceID)
//	r.Use(shield.NewRateLimiter(db).Middleware)
//	r.Use(shield.HeadToGet)
//
// Or apply the default stack in one call:
//
//	stack, mm := shield.DefaultAPIStack(db)
//	mm.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"database/sql"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultAPIStack returns the standard middleware stack for the sitebookify
// job service's public HTTP surface (CreateJob, GetJob, downloads, …).
// Middleware is ordered: Maintenance → HeadToGet → SecurityHeaders →
// MaxJSONBody → TraceID → RateLimiter. The returned MaintenanceMode handle
// allows callers to set a custom page and call StartReloader. /healthz
// bypasses maintenance and rate limiting.
func DefaultAPIStack(db *sql.DB) ([]func(http.Handler) http.Handler, *MaintenanceMode) {
	rl := NewRateLimiter(db, "/healthz")
	mm := NewMaintenanceMode(db, "/healthz")
	return []func(http.Handler) http.Handler{
		mm.Middleware,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(1 << 20),
		TraceID,
		rl.Middleware,
	}, mm
}

// DefaultWorkerStack returns the standard middleware stack for the internal
// worker HTTP surface (`POST /internal/jobs/{id}/run`). Rate limiting is
// omitted since the worker endpoint is only reachable with the shared
// dispatch token and is not exposed to untrusted clients.
func DefaultWorkerStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(1 << 20),
		TraceID,
	}
}
