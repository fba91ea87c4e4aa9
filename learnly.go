// Package learnly provides the official Go SDK for the Learnly notification
// service.
//
// It covers the paginated notification history API, notification
// preferences, and the real-time push channel with automatic reconnection.
//
// Example:
//
//	client := learnly.NewClient("token-...")
//
//	// REST history
//	page, _ := client.Notifications().List(ctx, 1, nil)
//
//	// Real-time feed reconciled with REST history
//	rt := client.Realtime(nil)
//	feed := learnly.NewFeedStore(client, rt, nil, nil)
//	feed.Setup(ctx, learnly.Identity("42"))
//	defer feed.Teardown()
package learnly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
)

var environments = map[Environment]string{
	Production: "https://api.learnly.app",
}

const (
	DefaultBaseURL = "https://api.learnly.app"
	DefaultTimeout = 15 * time.Second

	defaultMaxRetries = 2
	defaultRetryDelay = 1 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	maxRetries int
	retryDelay time.Duration

	notifications *NotificationsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithRetryPolicy overrides the transient-failure retry policy.
// retries is the number of attempts after the first; delay is the
// linear backoff unit (delay * attemptNumber between attempts).
func WithRetryPolicy(retries int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = retries
		c.retryDelay = delay
	}
}

// NewClient creates a new Learnly client.
// token is the bearer token of the authenticated user.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log:        zerolog.Nop(),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.notifications = &NotificationsClient{client: c}
	return c
}

// SetToken sets or updates the bearer token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Notifications returns the notification API sub-client.
func (c *Client) Notifications() *NotificationsClient {
	return c.notifications
}

// Realtime creates a real-time client bound to this client's base URL,
// token, and logger. Call Connect on the result to establish the channel.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Token == "" {
		cfg.Token = c.token
	}
	cfg.defaults()
	return NewRealtime(c.baseURL, &cfg, c.log)
}

// ============================================================================
// Internal request helper
// ============================================================================

// doRequest performs one API request with the transient-failure retry
// policy: up to maxRetries extra attempts with linear backoff, applied to
// network errors and 5xx responses only. 401 and 404 are never retried.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(attempt)
			c.log.Warn().
				Str("method", method).
				Str("path", path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := c.attempt(ctx, method, u, payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, apiErrorFrom(resp.StatusCode, data)
	}
	return data, nil
}

// apiErrorFrom builds an APIError from a non-2xx response body, which is
// either a {"detail": "..."} envelope or opaque.
func apiErrorFrom(status int, data []byte) *APIError {
	var envelope struct {
		Detail string `json:"detail"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(data, &envelope) == nil && envelope.Detail != "" {
		msg = envelope.Detail
	}
	return &APIError{Status: status, Message: msg}
}

// isTransient reports whether an error qualifies for a retry: network
// failures and 5xx responses do, 4xx responses (401 and 404 included)
// never do.
func isTransient(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Status >= 500
	}
	return true
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Notification API
// ============================================================================

// NotificationsClient covers the notification history and preference
// endpoints.
type NotificationsClient struct{ client *Client }

// List fetches one page of notification history. The response is
// normalized to NotificationPage whether the server returns a bare array
// or a {results, count, next} envelope.
func (n *NotificationsClient) List(ctx context.Context, page int, opts *ListOptions) (*NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	query := map[string]string{"page": fmt.Sprintf("%d", page)}
	if opts != nil {
		if opts.PageSize > 0 {
			query["page_size"] = fmt.Sprintf("%d", opts.PageSize)
		}
		if opts.Type != "" {
			query["type"] = opts.Type
		}
		if opts.Read != nil {
			query["read"] = fmt.Sprintf("%t", *opts.Read)
		}
		if opts.DateFrom != "" {
			query["date_from"] = opts.DateFrom
		}
		if opts.DateTo != "" {
			query["date_to"] = opts.DateTo
		}
	}

	data, err := n.client.doRequest(ctx, "GET", "/api/notifications/", nil, query)
	if err != nil {
		return nil, err
	}
	return decodePage(data)
}

// MarkRead persists the read flag for a single notification.
func (n *NotificationsClient) MarkRead(ctx context.Context, id int64) error {
	_, err := n.client.doRequest(ctx, "PATCH", fmt.Sprintf("/api/notifications/%d/mark-read/", id), nil, nil)
	return err
}

// MarkAllRead persists the read flag for every notification of the user.
func (n *NotificationsClient) MarkAllRead(ctx context.Context) error {
	_, err := n.client.doRequest(ctx, "PATCH", "/api/notifications/mark-all-read/", nil, nil)
	return err
}

// GetPreferences fetches the per-channel notification preferences.
func (n *NotificationsClient) GetPreferences(ctx context.Context) (*Preferences, error) {
	data, err := n.client.doRequest(ctx, "GET", "/api/notifications/preferences/", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Preferences](data)
}

// UpdatePreferences persists a partial preference update and returns the
// canonical server-side state.
func (n *NotificationsClient) UpdatePreferences(ctx context.Context, update *PreferenceUpdate) (*Preferences, error) {
	data, err := n.client.doRequest(ctx, "PUT", "/api/notifications/preferences/", update, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Preferences](data)
}
