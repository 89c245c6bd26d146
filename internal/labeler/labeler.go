// Package labeler is the registration surface user code talks to. A
// Labeler accumulates handlers, middlewares and shorthand rule options,
// resolving shorthands against a per-instance constructor registry at
// registration time — unknown keys fail immediately, not at dispatch.
// Labelers can be loaded into one another for modular bots, then applied
// to a router once, before polling starts.
package labeler

import (
	"fmt"
	"sort"

	"vkbox/internal/dispatch"
	"vkbox/internal/model"
	"vkbox/internal/rules"
)

// Options is the shorthand form of rule configuration, keyed by registry
// name ("command", "from_chat", "sticker", ...).
type Options map[string]interface{}

// RuleConstructor resolves one shorthand value into a concrete rule.
type RuleConstructor func(value interface{}) (rules.Rule, error)

type rawRegistration struct {
	types   []string
	handler *dispatch.Handler
}

// Labeler accumulates registrations until Apply copies them onto a
// router's views in registration order.
type Labeler struct {
	msgHandlers    []*dispatch.Handler
	rawHandlers    []rawRegistration
	msgMiddlewares []dispatch.Middleware
	rawMiddlewares []dispatch.Middleware
	approximators  []func(*model.Message) string
	autoRules      []rules.Rule
	custom         map[string]RuleConstructor
	matcher        rules.PatternMatcher
}

// Option configures a Labeler at construction.
type Option func(*Labeler)

// WithMatcher installs the pattern matcher backing the "text" shorthand
// and Template rules built through this labeler.
func WithMatcher(m rules.PatternMatcher) Option {
	return func(l *Labeler) { l.matcher = m }
}

// WithRule adds a custom shorthand constructor to this labeler's registry.
// The registry is per-instance; nothing is process-global.
func WithRule(name string, ctor RuleConstructor) Option {
	return func(l *Labeler) { l.custom[name] = ctor }
}

func New(opts ...Option) *Labeler {
	l := &Labeler{custom: make(map[string]RuleConstructor)}
	for name, ctor := range builtinRules(l) {
		l.custom[name] = ctor
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Message registers a handler for message updates guarded by rs
// (implicitly AND-combined, auto-rules appended).
func (l *Labeler) Message(blocking bool, fn dispatch.HandlerFunc, rs ...rules.Rule) {
	l.msgHandlers = append(l.msgHandlers, &dispatch.Handler{
		Rules:    append(append([]rules.Rule{}, rs...), l.autoRules...),
		Fn:       fn,
		Blocking: blocking,
	})
}

// ChatMessage is Message restricted to multi-party conversations.
func (l *Labeler) ChatMessage(blocking bool, fn dispatch.HandlerFunc, rs ...rules.Rule) {
	l.Message(blocking, fn, append([]rules.Rule{rules.Peer(true)}, rs...)...)
}

// PrivateMessage is Message restricted to one-on-one conversations.
func (l *Labeler) PrivateMessage(blocking bool, fn dispatch.HandlerFunc, rs ...rules.Rule) {
	l.Message(blocking, fn, append([]rules.Rule{rules.Peer(false)}, rs...)...)
}

// MessageOpts registers a message handler from shorthand options plus
// explicit rules. Unknown option keys are configuration errors.
func (l *Labeler) MessageOpts(blocking bool, fn dispatch.HandlerFunc, opts Options, rs ...rules.Rule) error {
	resolved, err := l.resolve(opts)
	if err != nil {
		return err
	}
	l.Message(blocking, fn, append(append([]rules.Rule{}, rs...), resolved...)...)
	return nil
}

// RawEvent registers a handler for the given raw update types.
func (l *Labeler) RawEvent(eventTypes []string, blocking bool, fn dispatch.HandlerFunc, rs ...rules.Rule) {
	l.rawHandlers = append(l.rawHandlers, rawRegistration{
		types: eventTypes,
		handler: &dispatch.Handler{
			Rules:    append(append([]rules.Rule{}, rs...), l.autoRules...),
			Fn:       fn,
			Blocking: blocking,
		},
	})
}

// MessageMiddleware appends a middleware to the message pipeline.
func (l *Labeler) MessageMiddleware(m dispatch.Middleware) {
	l.msgMiddlewares = append(l.msgMiddlewares, m)
}

// RawMiddleware appends a middleware to the raw-event pipeline.
func (l *Labeler) RawMiddleware(m dispatch.Middleware) {
	l.rawMiddlewares = append(l.rawMiddlewares, m)
}

// TextApproximator appends a text normalizer run before rule checks.
func (l *Labeler) TextApproximator(f func(*model.Message) string) {
	l.approximators = append(l.approximators, f)
}

// AutoRule appends rules attached to every handler registered afterwards.
func (l *Labeler) AutoRule(rs ...rules.Rule) {
	l.autoRules = append(l.autoRules, rs...)
}

// Load appends another labeler's registrations after this one's,
// preserving both orders. Custom registries are not inherited.
func (l *Labeler) Load(other *Labeler) {
	l.msgHandlers = append(l.msgHandlers, other.msgHandlers...)
	l.rawHandlers = append(l.rawHandlers, other.rawHandlers...)
	l.msgMiddlewares = append(l.msgMiddlewares, other.msgMiddlewares...)
	l.rawMiddlewares = append(l.rawMiddlewares, other.rawMiddlewares...)
	l.approximators = append(l.approximators, other.approximators...)
}

// Apply copies all registrations onto the router's views. Call once,
// before polling starts.
func (l *Labeler) Apply(r *dispatch.Router) {
	msg, raw := r.MessageView(), r.RawEventView()
	for _, f := range l.approximators {
		msg.AddTextApproximator(f)
	}
	for _, m := range l.msgMiddlewares {
		msg.AddMiddleware(m)
	}
	for _, h := range l.msgHandlers {
		msg.AddHandler(h)
	}
	for _, m := range l.rawMiddlewares {
		raw.AddMiddleware(m)
	}
	for _, reg := range l.rawHandlers {
		for _, t := range reg.types {
			raw.AddHandler(t, reg.handler)
		}
	}
}

func (l *Labeler) resolve(opts Options) ([]rules.Rule, error) {
	// Sorted keys keep rule evaluation order deterministic.
	keys := make([]string, 0, len(opts))
	for key := range opts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]rules.Rule, 0, len(opts))
	for _, key := range keys {
		ctor, ok := l.custom[key]
		if !ok {
			return nil, fmt.Errorf("unknown rule option %q", key)
		}
		r, err := ctor(opts[key])
		if err != nil {
			return nil, fmt.Errorf("invalid value for rule option %q: %w", key, err)
		}
		out = append(out, r)
	}
	return out, nil
}
