// Package pattern implements the templated-text matcher consumed by the
// template rule. A pattern is plain text with <name> placeholders:
// "buy <item> for <price>" applied to "buy milk for 5" extracts
// {"item": "milk", "price": "5"}. Compiled patterns are kept in an
// expirable LRU so hot patterns are compiled once per process.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var placeholderExp = regexp.MustCompile(`<([a-zA-Z_][a-zA-Z0-9_]*)>`)

// Matcher compiles and applies templated patterns.
type Matcher struct {
	cache      *expirable.LRU[string, *regexp.Regexp]
	ignoreCase bool
}

// Option configures a Matcher.
type Option func(*Matcher)

// IgnoreCase makes literal parts of patterns match case-insensitively.
func IgnoreCase() Option {
	return func(m *Matcher) { m.ignoreCase = true }
}

// NewMatcher creates a matcher caching up to maxSize compiled patterns.
func NewMatcher(maxSize int, opts ...Option) *Matcher {
	m := &Matcher{
		cache: expirable.NewLRU[string, *regexp.Regexp](maxSize, nil, time.Hour),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compile translates a template into an anchored regular expression.
// Exposed so registration code can reject malformed patterns up front.
func (m *Matcher) Compile(pattern string) (*regexp.Regexp, error) {
	if exp, ok := m.cache.Get(pattern); ok {
		return exp, nil
	}

	var sb strings.Builder
	if m.ignoreCase {
		sb.WriteString("(?i)")
	}
	sb.WriteString("^")

	rest := pattern
	for {
		loc := placeholderExp.FindStringSubmatchIndex(rest)
		if loc == nil {
			sb.WriteString(regexp.QuoteMeta(rest))
			break
		}
		sb.WriteString(regexp.QuoteMeta(rest[:loc[0]]))
		name := rest[loc[2]:loc[3]]
		sb.WriteString("(?P<" + name + ">.+?)")
		rest = rest[loc[1]:]
	}
	sb.WriteString("$")

	exp, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
	}
	m.cache.Add(pattern, exp)
	return exp, nil
}

// Match applies pattern to text. It returns the extracted placeholder
// values and true on a match; a malformed pattern fails closed.
func (m *Matcher) Match(pattern, text string) (map[string]interface{}, bool) {
	exp, err := m.Compile(pattern)
	if err != nil {
		return nil, false
	}

	groups := exp.FindStringSubmatch(text)
	if groups == nil {
		return nil, false
	}

	out := make(map[string]interface{})
	for i, name := range exp.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = groups[i]
	}
	return out, true
}
