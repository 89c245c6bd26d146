package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vkbox/internal/model"
	"vkbox/internal/rules"
	"vkbox/internal/state"
)

type errorCollector struct {
	errs []error
}

func (c *errorCollector) Handle(_ context.Context, err error) { c.errs = append(c.errs, err) }

func messageUpdate(t *testing.T, msg model.Message) *model.Update {
	t.Helper()
	obj, err := json.Marshal(model.MessageNewObject{Message: msg})
	require.NoError(t, err)
	return &model.Update{Type: model.UpdateMessageNew, Object: obj}
}

func alwaysMatch() rules.Rule {
	return rules.Func(func(context.Context, *rules.Event) rules.Result { return rules.Match() })
}

func neverMatch() rules.Rule {
	return rules.Func(func(context.Context, *rules.Event) rules.Result { return rules.NoMatch() })
}

func noopHandler(ran *bool) HandlerFunc {
	return func(context.Context, *Context) (interface{}, error) {
		*ran = true
		return nil, nil
	}
}

func newTestView(errs *errorCollector) *MessageView {
	return NewMessageView(state.NewMemoryStore(), errs, zap.NewNop())
}

func TestMessageView_BlockingStopsLaterHandlers(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	var first, second bool
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&first), Blocking: true})
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&second), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.True(t, first)
	assert.False(t, second, "a matched blocking handler must stop iteration")
	assert.Empty(t, errs.errs)
}

func TestMessageView_NonBlockingRunsAll(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	var first, second bool
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&first), Blocking: false})
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&second), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.True(t, first)
	assert.True(t, second)
}

func TestMessageView_UnmatchedBlockingDoesNotBlock(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	var first, second bool
	v.AddHandler(&Handler{Rules: []rules.Rule{neverMatch()}, Fn: noopHandler(&first), Blocking: true})
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&second), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.False(t, first)
	assert.True(t, second)
}

func TestMessageView_NoMatchIsAbsorbed(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	var ran bool
	v.AddHandler(&Handler{Rules: []rules.Rule{neverMatch()}, Fn: noopHandler(&ran), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Absorbed, outcome)
	assert.False(t, ran)
	assert.Empty(t, errs.errs, "an absorbed update is not an error")
}

func TestMessageView_HandlerErrorStillBlocks(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	var second bool
	v.AddHandler(&Handler{
		Rules:    []rules.Rule{alwaysMatch()},
		Fn:       func(context.Context, *Context) (interface{}, error) { return nil, errors.New("boom") },
		Blocking: true,
	})
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&second), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.False(t, second, "blocking resolves against the rule match, not the body outcome")
	require.Len(t, errs.errs, 1)
	assert.Contains(t, errs.errs[0].Error(), "boom")
}

func TestMessageView_HandlerPanicIsContained(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	v.AddHandler(&Handler{
		Rules:    []rules.Rule{alwaysMatch()},
		Fn:       func(context.Context, *Context) (interface{}, error) { panic("oops") },
		Blocking: true,
	})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	require.Len(t, errs.errs, 1)
	assert.Contains(t, errs.errs[0].Error(), "panicked")
}

func TestMessageView_RuleDataReachesHandler(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	extract := rules.Func(func(context.Context, *rules.Event) rules.Result {
		return rules.MatchWith(map[string]interface{}{"name": "bob"})
	})

	var got interface{}
	v.AddHandler(&Handler{
		Rules: []rules.Rule{extract},
		Fn: func(_ context.Context, dctx *Context) (interface{}, error) {
			got = dctx.Vars["name"]
			return nil, nil
		},
		Blocking: true,
	})

	_, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "bob", got)
}

// scriptedMiddleware returns a fixed response from Pre and records what ran.
type scriptedMiddleware struct {
	resp      MiddlewareResponse
	preErr    error
	preCalls  int
	postCalls int
	responses []interface{}
}

func (m *scriptedMiddleware) Pre(context.Context, *Context) (MiddlewareResponse, error) {
	m.preCalls++
	return m.resp, m.preErr
}

func (m *scriptedMiddleware) Post(_ context.Context, _ *Context, responses []interface{}) error {
	m.postCalls++
	m.responses = responses
	return nil
}

func TestMessageView_MiddlewareSkipRunsHandlers(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	skipper := &scriptedMiddleware{resp: Skip}
	after := &scriptedMiddleware{resp: Continue}
	v.AddMiddleware(skipper)
	v.AddMiddleware(after)

	var ran bool
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&ran), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.True(t, ran, "skip aborts later pre-hooks but handlers still run")
	assert.Equal(t, 0, after.preCalls)
	assert.Equal(t, 1, skipper.postCalls)
	assert.Equal(t, 0, after.postCalls, "post runs only when pre ran")
}

func TestMessageView_MiddlewareStopVetoesDispatch(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	stopper := &scriptedMiddleware{resp: Stop}
	after := &scriptedMiddleware{resp: Continue}
	v.AddMiddleware(stopper)
	v.AddMiddleware(after)

	var ran bool
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&ran), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Stopped, outcome)
	assert.False(t, ran)
	assert.Equal(t, 0, after.preCalls)
	assert.Equal(t, 1, stopper.postCalls)
	assert.Equal(t, 0, after.postCalls)
}

func TestMessageView_MiddlewarePostSeesResponses(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	mw := &scriptedMiddleware{resp: Continue}
	v.AddMiddleware(mw)
	v.AddHandler(&Handler{
		Rules:    []rules.Rule{alwaysMatch()},
		Fn:       func(context.Context, *Context) (interface{}, error) { return "pong", nil },
		Blocking: true,
	})

	_, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	require.Equal(t, 1, mw.postCalls)
	assert.Equal(t, []interface{}{"pong"}, mw.responses)
}

func TestMessageView_MiddlewarePreErrorContinuesChain(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	broken := &scriptedMiddleware{resp: Continue, preErr: errors.New("mw down")}
	after := &scriptedMiddleware{resp: Continue}
	v.AddMiddleware(broken)
	v.AddMiddleware(after)

	var ran bool
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&ran), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.True(t, ran)
	assert.Equal(t, 1, after.preCalls)
	require.Len(t, errs.errs, 1)
}

type panickyMiddleware struct {
	panicInPre  bool
	panicInPost bool
	postCalls   int
}

func (m *panickyMiddleware) Pre(context.Context, *Context) (MiddlewareResponse, error) {
	if m.panicInPre {
		panic("middleware bug")
	}
	return Continue, nil
}

func (m *panickyMiddleware) Post(context.Context, *Context, []interface{}) error {
	m.postCalls++
	if m.panicInPost {
		panic("middleware bug")
	}
	return nil
}

func TestMessageView_MiddlewarePrePanicIsContained(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	v.AddMiddleware(&panickyMiddleware{panicInPre: true})
	after := &scriptedMiddleware{resp: Continue}
	v.AddMiddleware(after)

	var ran bool
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&ran), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.True(t, ran, "a broken middleware must not take the dispatch down with it")
	assert.Equal(t, 1, after.preCalls)
	require.Len(t, errs.errs, 1)
	assert.Contains(t, errs.errs[0].Error(), "panicked")
}

func TestMessageView_MiddlewarePostPanicIsContained(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	broken := &panickyMiddleware{panicInPost: true}
	after := &scriptedMiddleware{resp: Continue}
	v.AddMiddleware(broken)
	v.AddMiddleware(after)

	var ran bool
	v.AddHandler(&Handler{Rules: []rules.Rule{alwaysMatch()}, Fn: noopHandler(&ran), Blocking: true})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.True(t, ran)
	assert.Equal(t, 1, broken.postCalls)
	assert.Equal(t, 1, after.postCalls, "one broken post-hook must not starve the others")
	require.Len(t, errs.errs, 1)
	assert.Contains(t, errs.errs[0].Error(), "panicked")
}

func TestMessageView_ReturnHandlerGetsResponse(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	var sentTo int64
	var sent interface{}
	v.SetReturnHandler(func(_ context.Context, msg *model.Message, response interface{}) error {
		sentTo = msg.PeerID
		sent = response
		return nil
	})
	v.AddHandler(&Handler{
		Rules:    []rules.Rule{alwaysMatch()},
		Fn:       func(context.Context, *Context) (interface{}, error) { return "pong", nil },
		Blocking: true,
	})

	_, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 77, Text: "!ping"}))
	require.NoError(t, err)
	assert.Equal(t, int64(77), sentTo)
	assert.Equal(t, "pong", sent)
}

func TestMessageView_StateAnnotation(t *testing.T) {
	errs := &errorCollector{}
	states := state.NewMemoryStore()
	require.NoError(t, states.Set(context.Background(), 5, state.State{Group: "survey", Name: "age"}))

	v := NewMessageView(states, errs, zap.NewNop())

	var seen *state.State
	v.AddHandler(&Handler{
		Rules: []rules.Rule{alwaysMatch()},
		Fn: func(_ context.Context, dctx *Context) (interface{}, error) {
			seen = dctx.Event.State
			return nil, nil
		},
		Blocking: true,
	})

	_, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 5, Text: "42"}))
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "survey", seen.Group)
}

type failingStore struct{}

func (failingStore) Get(context.Context, int64) (*state.State, error) {
	return nil, errors.New("backend down")
}
func (failingStore) Set(context.Context, int64, state.State) error { return nil }
func (failingStore) Clear(context.Context, int64) error            { return nil }

func TestMessageView_StateErrorDowngradesToNoState(t *testing.T) {
	errs := &errorCollector{}
	v := NewMessageView(failingStore{}, errs, zap.NewNop())

	var seen *state.State = &state.State{}
	v.AddHandler(&Handler{
		Rules: []rules.Rule{alwaysMatch()},
		Fn: func(_ context.Context, dctx *Context) (interface{}, error) {
			seen = dctx.Event.State
			return nil, nil
		},
		Blocking: true,
	})

	outcome, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 5, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.Nil(t, seen)
	require.Len(t, errs.errs, 1)
}

func TestMessageView_TextApproximators(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)
	v.AddTextApproximator(func(m *model.Message) string { return m.Text + "!" })

	var text string
	v.AddHandler(&Handler{
		Rules: []rules.Rule{alwaysMatch()},
		Fn: func(_ context.Context, dctx *Context) (interface{}, error) {
			text = dctx.Event.Message.Text
			return nil, nil
		},
		Blocking: true,
	})

	_, err := v.Handle(context.Background(), "d1", messageUpdate(t, model.Message{ID: 1, PeerID: 1, Text: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "hi!", text, "approximators run before any rule or handler")
}

func TestMessageView_DecodesUnwrappedMessage(t *testing.T) {
	errs := &errorCollector{}
	v := newTestView(errs)

	var peer int64
	v.AddHandler(&Handler{
		Rules: []rules.Rule{alwaysMatch()},
		Fn: func(_ context.Context, dctx *Context) (interface{}, error) {
			peer = dctx.Event.Message.PeerID
			return nil, nil
		},
		Blocking: true,
	})

	raw, err := json.Marshal(model.Message{ID: 1, PeerID: 9, Text: "hi"})
	require.NoError(t, err)
	_, err = v.Handle(context.Background(), "d1", &model.Update{Type: model.UpdateMessageNew, Object: raw})
	require.NoError(t, err)
	assert.Equal(t, int64(9), peer)
}

func TestRawEventView_KeyedByType(t *testing.T) {
	errs := &errorCollector{}
	v := NewRawEventView(errs, zap.NewNop())

	var joined bool
	v.AddHandler("group_join", &Handler{Fn: noopHandler(&joined), Blocking: true})

	assert.True(t, v.Has("group_join"))
	assert.False(t, v.Has("group_leave"))

	outcome, err := v.Handle(context.Background(), "d1", &model.Update{Type: "group_join", Object: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.True(t, joined)

	outcome, err = v.Handle(context.Background(), "d2", &model.Update{Type: "group_leave", Object: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, Absorbed, outcome)
}
