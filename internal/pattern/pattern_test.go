package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_ExtractsPlaceholders(t *testing.T) {
	m := NewMatcher(16)

	groups, ok := m.Match("buy <item> for <price>", "buy milk for 5")
	require.True(t, ok)
	assert.Equal(t, "milk", groups["item"])
	assert.Equal(t, "5", groups["price"])
}

func TestMatch_IsAnchored(t *testing.T) {
	m := NewMatcher(16)

	_, ok := m.Match("my name is <name>", "hey, my name is bob")
	assert.False(t, ok)

	_, ok = m.Match("my name is <name>", "my name is bob, hi")
	assert.True(t, ok, "the placeholder swallows the tail, the pattern itself still spans the whole text")
}

func TestMatch_LiteralsAreQuoted(t *testing.T) {
	m := NewMatcher(16)

	groups, ok := m.Match("price: <n> (approx.)", "price: 5 (approx.)")
	require.True(t, ok)
	assert.Equal(t, "5", groups["n"])

	_, ok = m.Match("price: <n> (approx.)", "price: 5 XapproxY")
	assert.False(t, ok, "dots and parens in the literal part must not act as regexp syntax")
}

func TestMatch_NoPlaceholders(t *testing.T) {
	m := NewMatcher(16)

	groups, ok := m.Match("hello", "hello")
	require.True(t, ok)
	assert.Empty(t, groups)

	_, ok = m.Match("hello", "hello!")
	assert.False(t, ok)
}

func TestIgnoreCase(t *testing.T) {
	sensitive := NewMatcher(16)
	_, ok := sensitive.Match("Hello <name>", "hello bob")
	assert.False(t, ok)

	insensitive := NewMatcher(16, IgnoreCase())
	groups, ok := insensitive.Match("Hello <name>", "hello bob")
	require.True(t, ok)
	assert.Equal(t, "bob", groups["name"])
}

func TestCompile_CachesByPattern(t *testing.T) {
	m := NewMatcher(16)

	first, err := m.Compile("buy <item>")
	require.NoError(t, err)
	second, err := m.Compile("buy <item>")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCompile_RejectsDuplicatePlaceholder(t *testing.T) {
	m := NewMatcher(16)

	_, err := m.Compile("<a> and <a>")
	require.Error(t, err)

	_, ok := m.Match("<a> and <a>", "x and y")
	assert.False(t, ok, "malformed patterns fail closed at match time")
}
