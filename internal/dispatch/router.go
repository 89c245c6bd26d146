package dispatch

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"vkbox/internal/model"
)

// Tap observes every routed update, e.g. the websocket event inspector.
// Publish must not block.
type Tap interface {
	Publish(dispatchID string, update *model.Update)
}

// Router forwards raw updates to the view claiming their type. Message
// updates go to the message view; everything else goes to the raw view by
// discriminant string; updates nothing claims are dropped and counted.
type Router struct {
	messages *MessageView
	raw      *RawEventView
	errors   ErrorHandler
	metrics  *Metrics
	taps     []Tap
	log      *zap.Logger
}

func NewRouter(messages *MessageView, raw *RawEventView, errors ErrorHandler, metrics *Metrics, log *zap.Logger) *Router {
	return &Router{
		messages: messages,
		raw:      raw,
		errors:   errors,
		metrics:  metrics,
		log:      log,
	}
}

// AddTap attaches an update observer. Setup-time only, like handler
// registration.
func (r *Router) AddTap(t Tap) { r.taps = append(r.taps, t) }

// MessageView exposes the message pipeline for registration-time wiring.
func (r *Router) MessageView() *MessageView { return r.messages }

// RawEventView exposes the raw pipeline for registration-time wiring.
func (r *Router) RawEventView() *RawEventView { return r.raw }

// Merge appends another router's handlers and middlewares onto the
// matching views, after this router's own registrations.
func (r *Router) Merge(other *Router) {
	r.messages.Merge(other.messages)
	r.raw.Merge(other.raw)
}

// Route dispatches one raw update. Dispatch failures are reported through
// the error handler, never returned: the polling loop treats hand-off as
// final.
func (r *Router) Route(ctx context.Context, update *model.Update) {
	dispatchID := ulid.MustNew(ulid.Now(), rand.Reader).String()

	for _, tap := range r.taps {
		tap.Publish(dispatchID, update)
	}

	var (
		outcome Outcome
		err     error
	)
	switch {
	case r.messages.ProcessesUpdate(update.Type):
		r.metrics.Routed.WithLabelValues(string(update.Type)).Inc()
		outcome, err = r.messages.Handle(ctx, dispatchID, update)
	case r.raw.Has(update.Type):
		r.metrics.Routed.WithLabelValues(string(update.Type)).Inc()
		outcome, err = r.raw.Handle(ctx, dispatchID, update)
	default:
		r.metrics.Dropped.WithLabelValues(string(update.Type)).Inc()
		r.log.Debug("update dropped, no view claims type",
			zap.String("dispatch_id", dispatchID),
			zap.String("type", string(update.Type)),
		)
		return
	}

	if err != nil {
		r.metrics.DispatchError.Inc()
		r.errors.Handle(ctx, fmt.Errorf("dispatch %s: %w", dispatchID, err))
		return
	}
	if outcome == Stopped {
		r.log.Debug("dispatch stopped by middleware", zap.String("dispatch_id", dispatchID))
	}
}
