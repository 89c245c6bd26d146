package rules

import (
	"context"
	"regexp"

	"vkbox/internal/model"
)

// DefaultPrefixes is the prefix set Command falls back to.
var DefaultPrefixes = []string{"!", "/"}

type peerRule struct {
	fromChat bool
}

// Peer matches when the message's conversation kind (chat vs private)
// equals fromChat.
func Peer(fromChat bool) Rule { return &peerRule{fromChat: fromChat} }

func (r *peerRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil {
		return NoMatch()
	}
	if ev.Message.IsChat() == r.fromChat {
		return Match()
	}
	return NoMatch()
}

type commandRule struct {
	command  string
	prefixes []string
}

// Command matches when the text equals prefix+command for any configured
// prefix. With no prefixes given, DefaultPrefixes apply.
func Command(command string, prefixes ...string) Rule {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	return &commandRule{command: command, prefixes: prefixes}
}

func (r *commandRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil {
		return NoMatch()
	}
	for _, prefix := range r.prefixes {
		if ev.Message.Text == prefix+r.command {
			return Match()
		}
	}
	return NoMatch()
}

// PatternMatcher is the external template-matching collaborator consumed by
// Template. It returns the named groups extracted from text, or ok=false
// when the pattern does not apply.
type PatternMatcher interface {
	Match(pattern, text string) (map[string]interface{}, bool)
}

type templateRule struct {
	matcher  PatternMatcher
	patterns []string
}

// Template delegates to an external pattern matcher and contributes the
// extracted groups of the first pattern that applies.
func Template(matcher PatternMatcher, patterns ...string) Rule {
	return &templateRule{matcher: matcher, patterns: patterns}
}

func (r *templateRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil {
		return NoMatch()
	}
	for _, pattern := range r.patterns {
		if groups, ok := r.matcher.Match(pattern, ev.Message.Text); ok {
			return MatchWith(groups)
		}
	}
	return NoMatch()
}

type regexpRule struct {
	exps []*regexp.Regexp
}

// Regexp matches when any expression matches at the start of the text,
// contributing the capture groups under the "match" key.
func Regexp(exps ...*regexp.Regexp) Rule { return &regexpRule{exps: exps} }

func (r *regexpRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil {
		return NoMatch()
	}
	for _, exp := range r.exps {
		groups := exp.FindStringSubmatch(ev.Message.Text)
		if groups == nil {
			continue
		}
		// Mirror anchored matching: the expression must apply at the
		// start of the text, not anywhere inside it.
		if loc := exp.FindStringIndex(ev.Message.Text); loc == nil || loc[0] != 0 {
			continue
		}
		return MatchWith(map[string]interface{}{"match": groups[1:]})
	}
	return NoMatch()
}

type stickerRule struct {
	ids []int
}

// Sticker matches when the first attachment is a sticker whose id is in
// ids; with an empty id set any sticker matches.
func Sticker(ids ...int) Rule { return &stickerRule{ids: ids} }

func (r *stickerRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil || len(ev.Message.Attachments) == 0 {
		return NoMatch()
	}
	sticker := ev.Message.Attachments[0].Sticker
	if sticker == nil {
		return NoMatch()
	}
	if len(r.ids) == 0 {
		return Match()
	}
	for _, id := range r.ids {
		if sticker.StickerID == id {
			return Match()
		}
	}
	return NoMatch()
}

type peerIDsRule struct {
	ids []int64
}

// PeerIDs matches messages arriving from any of the given peers.
func PeerIDs(ids ...int64) Rule { return &peerIDsRule{ids: ids} }

func (r *peerIDsRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil {
		return NoMatch()
	}
	for _, id := range r.ids {
		if ev.Message.PeerID == id {
			return Match()
		}
	}
	return NoMatch()
}

type attachmentTypeRule struct {
	types []model.AttachmentType
}

// AttachmentType matches only when the message has at least one attachment
// and every attachment's type is in the configured set.
func AttachmentType(types ...model.AttachmentType) Rule {
	return &attachmentTypeRule{types: types}
}

func (r *attachmentTypeRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil || len(ev.Message.Attachments) == 0 {
		return NoMatch()
	}
	for _, att := range ev.Message.Attachments {
		allowed := false
		for _, t := range r.types {
			if att.Type == t {
				allowed = true
				break
			}
		}
		if !allowed {
			return NoMatch()
		}
	}
	return Match()
}

type forwardedRule struct{}

// Forwarded matches messages carrying forwarded messages.
func Forwarded() Rule { return forwardedRule{} }

func (forwardedRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil || len(ev.Message.FwdMessages) == 0 {
		return NoMatch()
	}
	return Match()
}

type replyRule struct{}

// Reply matches messages that reply to another message.
func Reply() Rule { return replyRule{} }

func (replyRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil || ev.Message.ReplyTo == nil {
		return NoMatch()
	}
	return Match()
}

type geoRule struct{}

// Geo matches messages with an attached location.
func Geo() Rule { return geoRule{} }

func (geoRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil || ev.Message.Geo == nil {
		return NoMatch()
	}
	return Match()
}

type levenshteinRule struct {
	texts       []string
	maxDistance int
}

// Levenshtein matches when the edit distance between the text and any of
// the configured texts is at most maxDistance.
func Levenshtein(maxDistance int, texts ...string) Rule {
	return &levenshteinRule{texts: texts, maxDistance: maxDistance}
}

func (r *levenshteinRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil {
		return NoMatch()
	}
	for _, text := range r.texts {
		if Distance(ev.Message.Text, text) <= r.maxDistance {
			return Match()
		}
	}
	return NoMatch()
}

type minLengthRule struct {
	min int
}

// MinLength matches texts of at least min characters.
func MinLength(min int) Rule { return &minLengthRule{min: min} }

func (r *minLengthRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil || len([]rune(ev.Message.Text)) < r.min {
		return NoMatch()
	}
	return Match()
}

type chatActionRule struct {
	types []string
}

// ChatAction matches service actions (invite, kick, ...) of the given types.
func ChatAction(types ...string) Rule { return &chatActionRule{types: types} }

func (r *chatActionRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil || ev.Message.Action == nil {
		return NoMatch()
	}
	for _, t := range r.types {
		if ev.Message.Action.Type == t {
			return Match()
		}
	}
	return NoMatch()
}

type fromMeRule struct {
	userID int64
	fromMe bool
}

// FromMe matches depending on whether the sender is the given account.
func FromMe(userID int64, fromMe bool) Rule {
	return &fromMeRule{userID: userID, fromMe: fromMe}
}

func (r *fromMeRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil {
		return NoMatch()
	}
	if (ev.Message.FromID == r.userID) == r.fromMe {
		return Match()
	}
	return NoMatch()
}

type fromUserRule struct {
	fromUser bool
}

// FromUser matches depending on whether the sender is a human account
// (positive id) rather than a community.
func FromUser(fromUser bool) Rule { return &fromUserRule{fromUser: fromUser} }

func (r *fromUserRule) Check(_ context.Context, ev *Event) Result {
	if ev.Message == nil {
		return NoMatch()
	}
	if (ev.Message.FromID > 0) == r.fromUser {
		return Match()
	}
	return NoMatch()
}

type stateRule struct {
	states []StateID
}

// StateID identifies a concrete state value inside a state group.
type StateID struct {
	Group string
	Name  string
}

// StateIs matches when the peer's current state is one of the given states.
// With an empty set it matches only peers that have no state at all — this
// inversion is relied upon by handlers that must run outside any flow.
func StateIs(states ...StateID) Rule { return &stateRule{states: states} }

func (r *stateRule) Check(_ context.Context, ev *Event) Result {
	if ev.State == nil {
		if len(r.states) == 0 {
			return Match()
		}
		return NoMatch()
	}
	for _, s := range r.states {
		if ev.State.Group == s.Group && ev.State.Name == s.Name {
			return Match()
		}
	}
	return NoMatch()
}

type stateGroupRule struct {
	groups []string
}

// StateGroup matches when the peer's current state belongs to one of the
// given groups; an empty group set matches only peers without state, same
// as StateIs.
func StateGroup(groups ...string) Rule { return &stateGroupRule{groups: groups} }

func (r *stateGroupRule) Check(_ context.Context, ev *Event) Result {
	if ev.State == nil {
		if len(r.groups) == 0 {
			return Match()
		}
		return NoMatch()
	}
	for _, g := range r.groups {
		if ev.State.Group == g {
			return Match()
		}
	}
	return NoMatch()
}
