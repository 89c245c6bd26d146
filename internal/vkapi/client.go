// Package vkapi is a minimal client for the platform API: the generic
// method caller, the calls the framework itself needs (send message,
// acquire a long-poll server) and the long-poll transport built on top.
package vkapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vkbox/internal/model"
)

const (
	defaultBaseURL = "https://api.vk.com/method"
	defaultVersion = "5.131"
)

// APIError is the platform error envelope.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

type Client struct {
	httpc   *http.Client
	token   string
	version string
	baseURL string
	groupID int64
	log     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) { c.httpc = httpc }
}

// WithBaseURL points the client at a different API host (tests).
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

func NewClient(token string, groupID int64, log *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpc:   &http.Client{Timeout: 60 * time.Second},
		token:   token,
		version: defaultVersion,
		baseURL: defaultBaseURL,
		groupID: groupID,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request calls one API method and returns the raw response payload.
func (c *Client) Request(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.token)
	params.Set("v", c.version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *APIError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}

	c.log.Debug("api call", zap.String("method", method))
	return envelope.Response, nil
}

// SendMessage sends text to a peer and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, peerID int64, text string) (int64, error) {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	params.Set("message", text)
	params.Set("random_id", strconv.FormatInt(rand.Int63(), 10))

	raw, err := c.Request(ctx, "messages.send", params)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		// Community tokens get an object response instead of a bare id.
		var obj []struct {
			MessageID int64 `json:"message_id"`
		}
		if err2 := json.Unmarshal(raw, &obj); err2 == nil && len(obj) > 0 {
			return obj[0].MessageID, nil
		}
		return 0, fmt.Errorf("failed to decode messages.send response: %w", err)
	}
	return id, nil
}

// GetLongPollServer acquires a long-poll session descriptor.
func (c *Client) GetLongPollServer(ctx context.Context) (*model.LongPollServer, error) {
	params := url.Values{}
	params.Set("group_id", strconv.FormatInt(c.groupID, 10))

	raw, err := c.Request(ctx, "groups.getLongPollServer", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get long poll server: %w", err)
	}
	var server model.LongPollServer
	if err := json.Unmarshal(raw, &server); err != nil {
		return nil, fmt.Errorf("failed to decode long poll server: %w", err)
	}
	return &server, nil
}
