// Package kit provides the small transport-agnostic pieces shared by every
// sitebookify RPC surface: a narrow Endpoint/Middleware/Chain abstraction
// (the same shape used by go-kit-style services) and per-request context
// helpers (context.go), so that the HTTP and MCP transports can register
// the same business logic without duplicating decode/encode glue.
package kit

import "context"

// Endpoint is one RPC method, independent of transport. Request and
// response are untyped at this layer; each transport's decode function is
// responsible for producing the concrete request type an Endpoint expects.
type Endpoint func(ctx context.Context, request any) (response any, err error)

// Middleware wraps an Endpoint to add cross-cutting behavior (logging,
// auth, metrics) without changing its signature.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so that the first one listed runs outermost:
// Chain(a, b, c)(e) behaves as a(b(c(e))), meaning a's "before" logic runs
// first and its "after" logic runs last.
func Chain(mw ...Middleware) Middleware {
	return func(e Endpoint) Endpoint {
		for i := len(mw) - 1; i >= 0; i-- {
			e = mw[i](e)
		}
		return e
	}
}
