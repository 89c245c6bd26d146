package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"vkbox/internal/model"
	"vkbox/internal/rules"
	"vkbox/internal/state"
)

// Outcome is the terminal state of one update's dispatch.
type Outcome int

const (
	// Dispatched means at least one handler matched and ran.
	Dispatched Outcome = iota
	// Absorbed means no handler matched; this is not an error.
	Absorbed
	// Stopped means a middleware pre-hook vetoed the dispatch.
	Stopped
)

// ReturnHandler post-processes a non-nil handler response, e.g. sending a
// string return back to the peer as a reply.
type ReturnHandler func(ctx context.Context, msg *model.Message, response interface{}) error

// MessageView is the ordered pipeline for message-kind updates.
type MessageView struct {
	handlers      []*Handler
	middlewares   []Middleware
	approximators []func(*model.Message) string
	states        state.Store
	errors        ErrorHandler
	ret           ReturnHandler
	log           *zap.Logger
}

func NewMessageView(states state.Store, errors ErrorHandler, log *zap.Logger) *MessageView {
	return &MessageView{states: states, errors: errors, log: log}
}

// AddHandler appends a handler; registration order is dispatch order.
func (v *MessageView) AddHandler(h *Handler) { v.handlers = append(v.handlers, h) }

// AddMiddleware appends a middleware; pre-hooks run in this order.
func (v *MessageView) AddMiddleware(m Middleware) { v.middlewares = append(v.middlewares, m) }

// AddTextApproximator appends a text normalizer applied to the decoded
// message before any rule sees it.
func (v *MessageView) AddTextApproximator(f func(*model.Message) string) {
	v.approximators = append(v.approximators, f)
}

// SetReturnHandler installs the post-processor for handler return values.
func (v *MessageView) SetReturnHandler(r ReturnHandler) { v.ret = r }

// Merge appends another view's handlers and middlewares after this view's
// own, preserving both registration orders.
func (v *MessageView) Merge(other *MessageView) {
	v.handlers = append(v.handlers, other.handlers...)
	v.middlewares = append(v.middlewares, other.middlewares...)
	v.approximators = append(v.approximators, other.approximators...)
}

// ProcessesUpdate reports whether this view claims the update type.
func (v *MessageView) ProcessesUpdate(t model.UpdateType) bool {
	switch t {
	case model.UpdateMessageNew, model.UpdateMessageReply, model.UpdateMessageEdit:
		return true
	}
	return false
}

func decodeMessage(update *model.Update) (*model.Message, error) {
	if update.Type == model.UpdateMessageNew {
		var obj model.MessageNewObject
		if err := json.Unmarshal(update.Object, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode %s object: %w", update.Type, err)
		}
		if obj.Message.PeerID != 0 || obj.Message.ID != 0 {
			return &obj.Message, nil
		}
		// Some transports deliver the message unwrapped.
	}
	var msg model.Message
	if err := json.Unmarshal(update.Object, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s object: %w", update.Type, err)
	}
	return &msg, nil
}

// Handle runs one message update through the pipeline.
func (v *MessageView) Handle(ctx context.Context, dispatchID string, update *model.Update) (Outcome, error) {
	msg, err := decodeMessage(update)
	if err != nil {
		return Absorbed, err
	}

	var peerState *state.State
	if v.states != nil {
		peerState, err = v.states.Get(ctx, msg.PeerID)
		if err != nil {
			// State backend trouble downgrades to "no state" so text
			// handlers keep working.
			v.errors.Handle(ctx, fmt.Errorf("failed to load state for peer %d: %w", msg.PeerID, err))
			peerState = nil
		}
	}

	for _, approximate := range v.approximators {
		msg.Text = approximate(msg)
	}

	dctx := &Context{
		ID:    dispatchID,
		Event: &rules.Event{Update: update, Message: msg, State: peerState},
		Vars:  make(map[string]interface{}),
	}

	outcome := runPipeline(ctx, dctx, v.handlers, v.middlewares, v.errors, v.ret)
	v.log.Debug("message dispatch finished",
		zap.String("dispatch_id", dispatchID),
		zap.Int64("peer_id", msg.PeerID),
		zap.Int("outcome", int(outcome)),
	)
	return outcome, nil
}

// RawEventView routes non-message updates to handlers keyed by the raw
// update type string.
type RawEventView struct {
	handlers    map[string][]*Handler
	middlewares []Middleware
	errors      ErrorHandler
	log         *zap.Logger
}

func NewRawEventView(errors ErrorHandler, log *zap.Logger) *RawEventView {
	return &RawEventView{handlers: make(map[string][]*Handler), errors: errors, log: log}
}

// AddHandler registers a handler for one raw update type.
func (v *RawEventView) AddHandler(eventType string, h *Handler) {
	v.handlers[eventType] = append(v.handlers[eventType], h)
}

// AddMiddleware appends a middleware; pre-hooks run in this order.
func (v *RawEventView) AddMiddleware(m Middleware) { v.middlewares = append(v.middlewares, m) }

// Merge appends another view's handlers per event type and its middlewares.
func (v *RawEventView) Merge(other *RawEventView) {
	for eventType, hs := range other.handlers {
		v.handlers[eventType] = append(v.handlers[eventType], hs...)
	}
	v.middlewares = append(v.middlewares, other.middlewares...)
}

// Has reports whether any handler claims the update type.
func (v *RawEventView) Has(t model.UpdateType) bool {
	return len(v.handlers[string(t)]) > 0
}

// Handle runs one raw update through the pipeline.
func (v *RawEventView) Handle(ctx context.Context, dispatchID string, update *model.Update) (Outcome, error) {
	dctx := &Context{
		ID:    dispatchID,
		Event: &rules.Event{Update: update},
		Vars:  make(map[string]interface{}),
	}

	outcome := runPipeline(ctx, dctx, v.handlers[string(update.Type)], v.middlewares, v.errors, nil)
	v.log.Debug("raw dispatch finished",
		zap.String("dispatch_id", dispatchID),
		zap.String("type", string(update.Type)),
		zap.Int("outcome", int(outcome)),
	)
	return outcome, nil
}

// runPipeline is the dispatch state machine shared by both views:
// middleware pre-hooks, the handler loop with blocking semantics, then
// post-hooks for every middleware whose pre-hook ran.
func runPipeline(
	ctx context.Context,
	dctx *Context,
	handlers []*Handler,
	middlewares []Middleware,
	errors ErrorHandler,
	ret ReturnHandler,
) Outcome {
	preRan := 0
	stopped := false

pre:
	for _, mw := range middlewares {
		resp, err := callPre(ctx, mw, dctx)
		preRan++
		if err != nil {
			errors.Handle(ctx, fmt.Errorf("middleware pre failed: %w", err))
			continue
		}
		switch resp {
		case Skip:
			break pre
		case Stop:
			stopped = true
			break pre
		}
	}

	var responses []interface{}
	matched := false

	if !stopped {
		for _, h := range handlers {
			res := h.match(ctx, dctx.Event)
			if !res.Matched {
				continue
			}
			matched = true
			for k, val := range res.Data {
				dctx.Vars[k] = val
			}

			resp, err := callHandler(ctx, h, dctx)
			if err != nil {
				errors.Handle(ctx, fmt.Errorf("handler failed: %w", err))
			} else {
				responses = append(responses, resp)
				if ret != nil && resp != nil && dctx.Event.Message != nil {
					if err := ret(ctx, dctx.Event.Message, resp); err != nil {
						errors.Handle(ctx, fmt.Errorf("return handler failed: %w", err))
					}
				}
			}

			// Blocking resolves against rule match, not body success: a
			// matched handler that errored still blocks later handlers.
			if h.Blocking {
				break
			}
		}
	}

	for _, mw := range middlewares[:preRan] {
		if err := callPost(ctx, mw, dctx, responses); err != nil {
			errors.Handle(ctx, fmt.Errorf("middleware post failed: %w", err))
		}
	}

	switch {
	case stopped:
		return Stopped
	case matched:
		return Dispatched
	default:
		return Absorbed
	}
}

// callHandler invokes a handler body, converting panics into errors so one
// handler cannot take down the dispatch loop.
func callHandler(ctx context.Context, h *Handler, dctx *Context) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Fn(ctx, dctx)
}

// callPre and callPost contain middleware panics the same way callHandler
// contains handler panics; a panicking pre-hook reads as Continue so the
// rest of the chain keeps its usual error-path behavior.
func callPre(ctx context.Context, mw Middleware, dctx *Context) (resp MiddlewareResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = Continue
			err = fmt.Errorf("middleware pre panicked: %v", r)
		}
	}()
	return mw.Pre(ctx, dctx)
}

func callPost(ctx context.Context, mw Middleware, dctx *Context, responses []interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("middleware post panicked: %v", r)
		}
	}()
	return mw.Post(ctx, dctx, responses)
}
