// Package rules implements the predicate algebra handlers are bound to.
// A Rule checks one inbound event and either rejects it, accepts it, or
// accepts it with extracted data that the dispatcher merges into the
// handler's context variables. Rules are immutable after construction:
// everything they need is a constructor parameter.
package rules

import (
	"context"

	"vkbox/internal/model"
	"vkbox/internal/state"
)

// Event is the dispatch-time wrapper rules are checked against. Update is
// always present; Message is decoded for message-kind updates and nil
// otherwise; State is the peer's current conversation state or nil when
// the peer has none. Rules never mutate the event.
type Event struct {
	Update  *model.Update
	Message *model.Message
	State   *state.State
}

// Result is the outcome of a rule check. Data is non-nil only for rules
// that extract something (template groups, regexp captures, ...).
type Result struct {
	Matched bool
	Data    map[string]interface{}
}

// NoMatch rejects the event.
func NoMatch() Result { return Result{} }

// Match accepts the event without extracted data.
func Match() Result { return Result{Matched: true} }

// MatchWith accepts the event and contributes extracted data.
func MatchWith(data map[string]interface{}) Result {
	return Result{Matched: true, Data: data}
}

// Rule is a predicate over one event. Check must be a pure function of the
// event and the rule's own configuration, and must fail closed to NoMatch
// on missing or malformed event fields instead of returning an error.
type Rule interface {
	Check(ctx context.Context, ev *Event) Result
}

// Func adapts a plain function into a Rule. This is the single uniform
// shape for user-supplied predicates; there is no separate asynchronous
// variant — a predicate that needs to block does so via ctx.
type Func func(ctx context.Context, ev *Event) Result

func (f Func) Check(ctx context.Context, ev *Event) Result { return f(ctx, ev) }

type andRule struct {
	rules []Rule
}

// And combines rules conjunctively. Evaluation is in argument order and
// stops at the first NoMatch. Extracted data from all matched rules is
// merged, later rules winning on key conflict.
func And(rs ...Rule) Rule { return &andRule{rules: rs} }

func (r *andRule) Check(ctx context.Context, ev *Event) Result {
	var data map[string]interface{}
	for _, sub := range r.rules {
		res := sub.Check(ctx, ev)
		if !res.Matched {
			return NoMatch()
		}
		if len(res.Data) > 0 {
			if data == nil {
				data = make(map[string]interface{}, len(res.Data))
			}
			for k, v := range res.Data {
				data[k] = v
			}
		}
	}
	if data == nil {
		return Match()
	}
	return MatchWith(data)
}

type orRule struct {
	rules []Rule
}

// Or combines rules disjunctively. The first matching rule's result is
// returned verbatim and later rules are not evaluated.
func Or(rs ...Rule) Rule { return &orRule{rules: rs} }

func (r *orRule) Check(ctx context.Context, ev *Event) Result {
	for _, sub := range r.rules {
		if res := sub.Check(ctx, ev); res.Matched {
			return res
		}
	}
	return NoMatch()
}

type notRule struct {
	rule Rule
}

// Not inverts a rule. Extracted data of the inner rule is discarded.
func Not(r Rule) Rule { return &notRule{rule: r} }

func (r *notRule) Check(ctx context.Context, ev *Event) Result {
	if res := r.rule.Check(ctx, ev); res.Matched {
		return NoMatch()
	}
	return Match()
}
