// Package polling sustains the long-poll session and feeds updates into
// the router. The loop itself is sequential — one outstanding a_check at a
// time — but every yielded update is dispatched in its own goroutine and
// never awaited before the next poll.
package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vkbox/internal/model"
)

// Transport is the long-poll collaborator. AcquireSession obtains a fresh
// session descriptor; Poll issues one bounded wait against it.
type Transport interface {
	AcquireSession(ctx context.Context) (*model.LongPollServer, error)
	Poll(ctx context.Context, server *model.LongPollServer) (*model.LongPollResponse, error)
}

// Dispatcher receives yielded updates; hand-off is final, dispatch
// failures are the router's concern.
type Dispatcher interface {
	Route(ctx context.Context, update *model.Update)
}

// ErrorHandler receives transport failures. It must not panic; the loop
// always resumes after it returns.
type ErrorHandler interface {
	Handle(ctx context.Context, err error)
}

// Poller runs the long-poll loop until stopped.
type Poller struct {
	transport  Transport
	dispatcher Dispatcher
	errors     ErrorHandler
	log        *zap.Logger
	retryDelay time.Duration
	stopped    atomic.Bool
	wg         sync.WaitGroup
}

// Option configures a Poller.
type Option func(*Poller)

// WithRetryDelay sets the pause before retrying after a transport error
// (default 3s). Keeps a dead upstream from turning into a hot loop.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Poller) { p.retryDelay = d }
}

func New(transport Transport, dispatcher Dispatcher, errHandler ErrorHandler, log *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		transport:  transport,
		dispatcher: dispatcher,
		errors:     errHandler,
		log:        log,
		retryDelay: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stop flags the loop to exit. It is observed before the next request; an
// in-flight poll is left to complete, and Run returns after in-flight
// dispatches drain.
func (p *Poller) Stop() { p.stopped.Store(true) }

func (p *Poller) stopping(ctx context.Context) bool {
	return p.stopped.Load() || ctx.Err() != nil
}

// Run drives the session/poll loop. It returns when stopped or when ctx
// is cancelled; transport failures are reported and retried indefinitely.
func (p *Poller) Run(ctx context.Context) error {
	defer p.wg.Wait()

	for !p.stopping(ctx) {
		server, err := p.transport.AcquireSession(ctx)
		if err != nil {
			if p.report(ctx, err) {
				return nil
			}
			p.pause(ctx)
			continue
		}
		p.log.Info("long poll session acquired", zap.String("server", server.Server))

		p.listen(ctx, server)
	}
	p.log.Info("polling stopped")
	return nil
}

// listen polls one session until it expires or the poller stops.
func (p *Poller) listen(ctx context.Context, server *model.LongPollServer) {
	for !p.stopping(ctx) {
		resp, err := p.transport.Poll(ctx, server)
		if err != nil {
			if p.report(ctx, err) {
				return
			}
			// Transient failure: resume with the same session.
			p.pause(ctx)
			continue
		}

		switch {
		case resp.Failed == 1:
			// Stale cursor only; the response carries the fresh one.
			server.TS = resp.TS
			continue
		case resp.Failed != 0:
			// Session key expired. Not an error: re-acquire.
			p.log.Debug("long poll session expired", zap.Int("failed", resp.Failed))
			return
		}

		server.TS = resp.TS
		for i := range resp.Updates {
			update := resp.Updates[i]
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.dispatcher.Route(ctx, &update)
			}()
		}
	}
}

// report forwards an error to the handler. Cancellation is not an error;
// report returns true when the loop should just exit.
func (p *Poller) report(ctx context.Context, err error) bool {
	// Only the poller's own context decides shutdown: an HTTP timeout
	// also unwraps to DeadlineExceeded and must stay a transient error.
	if ctx.Err() != nil {
		return true
	}
	p.errors.Handle(ctx, err)
	return false
}

func (p *Poller) pause(ctx context.Context) {
	select {
	case <-time.After(p.retryDelay):
	case <-ctx.Done():
	}
}
