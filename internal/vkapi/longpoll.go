package vkapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"vkbox/internal/model"
)

// LongPoll is the long-poll transport the poller consumes. It owns no loop
// of its own: AcquireSession and Poll are single calls, retry policy lives
// in the poller.
type LongPoll struct {
	client *Client
	httpc  *http.Client
	wait   int
	log    *zap.Logger
}

// LongPollOption configures a LongPoll transport.
type LongPollOption func(*LongPoll)

// WithWait overrides the long-poll hold time in seconds (default 25).
func WithWait(seconds int) LongPollOption {
	return func(lp *LongPoll) { lp.wait = seconds }
}

// WithPollHTTPClient overrides the HTTP client used for a_check requests.
// Its timeout must exceed the wait time.
func WithPollHTTPClient(httpc *http.Client) LongPollOption {
	return func(lp *LongPoll) { lp.httpc = httpc }
}

func NewLongPoll(client *Client, log *zap.Logger, opts ...LongPollOption) *LongPoll {
	lp := &LongPoll{
		client: client,
		wait:   25,
		log:    log,
	}
	for _, opt := range opts {
		opt(lp)
	}
	if lp.httpc == nil {
		lp.httpc = &http.Client{Timeout: time.Duration(lp.wait+10) * time.Second}
	}
	return lp
}

// AcquireSession obtains a fresh session descriptor from the API.
func (lp *LongPoll) AcquireSession(ctx context.Context) (*model.LongPollServer, error) {
	lp.log.Debug("acquiring long poll session")
	return lp.client.GetLongPollServer(ctx)
}

// Poll issues one a_check request bounded by the configured wait time.
func (lp *LongPoll) Poll(ctx context.Context, server *model.LongPollServer) (*model.LongPollResponse, error) {
	params := url.Values{}
	params.Set("act", "a_check")
	params.Set("key", server.Key)
	params.Set("ts", server.TS)
	params.Set("wait", strconv.Itoa(lp.wait))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		server.Server+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build poll request: %w", err)
	}

	resp, err := lp.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	var out model.LongPollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return &out, nil
}
