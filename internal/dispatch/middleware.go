package dispatch

import "context"

// MiddlewareResponse controls the flow of pre-processing.
type MiddlewareResponse int

const (
	// Continue proceeds to the next middleware.
	Continue MiddlewareResponse = iota
	// Skip aborts the remaining pre-hooks but still lets handlers run.
	Skip
	// Stop aborts the whole dispatch: no handlers run, and only the
	// post-hooks of middlewares whose pre already ran are invoked.
	Stop
)

// Middleware wraps handler execution for one view. Pre runs before rule
// evaluation and may contribute context variables by writing to dctx.Vars;
// Post runs after the handler loop with the collected handler responses
// (empty when nothing matched). Post is invoked only for middlewares whose
// Pre actually ran.
type Middleware interface {
	Pre(ctx context.Context, dctx *Context) (MiddlewareResponse, error)
	Post(ctx context.Context, dctx *Context, responses []interface{}) error
}

// MiddlewareFunc builds a Middleware from a pre hook only.
type MiddlewareFunc func(ctx context.Context, dctx *Context) (MiddlewareResponse, error)

func (f MiddlewareFunc) Pre(ctx context.Context, dctx *Context) (MiddlewareResponse, error) {
	return f(ctx, dctx)
}

func (f MiddlewareFunc) Post(context.Context, *Context, []interface{}) error { return nil }
