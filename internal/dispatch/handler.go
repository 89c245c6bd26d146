// Package dispatch owns the per-update pipeline: views evaluate
// middlewares, rules and handlers in registration order, and the router
// picks the view for each raw update. Registration lists are read-only
// once polling starts; concurrent updates flow through the same view
// independently.
package dispatch

import (
	"context"

	"vkbox/internal/rules"
)

// Context is the per-dispatch scratch space. Vars accumulates extracted
// rule data and middleware contributions; it is private to one update's
// dispatch and never shared across events.
type Context struct {
	ID    string // correlation id, one per dispatched update
	Event *rules.Event
	Vars  map[string]interface{}
}

// HandlerFunc is a handler body. The returned value is passed to the
// view's return handler (a string return is auto-sent as a reply when the
// bot wires one up).
type HandlerFunc func(ctx context.Context, dctx *Context) (interface{}, error)

// Handler binds a body to its rule set. The rule list is implicitly
// AND-combined. A blocking handler that matches stops iteration over later
// handlers for that update; a non-blocking one never does, whether or not
// it matched.
type Handler struct {
	Rules    []rules.Rule
	Fn       HandlerFunc
	Blocking bool
}

// match evaluates the handler's rule set with AND semantics.
func (h *Handler) match(ctx context.Context, ev *rules.Event) rules.Result {
	if len(h.Rules) == 0 {
		return rules.Match()
	}
	return rules.And(h.Rules...).Check(ctx, ev)
}

// ErrorHandler receives failures that must not abort dispatch: handler
// panics, middleware errors, undecodable updates. Implementations must not
// themselves panic.
type ErrorHandler interface {
	Handle(ctx context.Context, err error)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(ctx context.Context, err error)

func (f ErrorHandlerFunc) Handle(ctx context.Context, err error) { f(ctx, err) }
