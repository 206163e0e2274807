package council

import (
	"context"
	"net/http"
)

// EventHook receives async notifications when a council session reaches a
// terminal state. Multiple hooks may be registered via multiple WithEventHook
// calls. Hook methods run in goroutines — they must not block indefinitely.
// Failures are logged but do not fail the originating session.
type EventHook interface {
	OnDecisionRecorded(ctx context.Context, result ReviewResult) error
}

// Middleware wraps the root HTTP handler. Applied outermost (before
// routing), so it sees all requests including /health. Multiple middlewares
// are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler

// RouteRegistrar registers additional routes on the shared HTTP mux. Called
// once during New() after the council's own routes are registered.
type RouteRegistrar func(mux *http.ServeMux)
