package learnly

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// Close codes used by the push channel.
const (
	CloseNormal     = 1000 // manual disconnect, never reconnects
	CloseAbnormal   = 1006 // endpoint unavailable / connection dropped
	CloseAuthFailed = 4001 // authentication failed, never reconnects
	CloseForbidden  = 4003 // authorization failed, never reconnects
)

// RealtimeConfig configures a RealtimeClient. The zero value gets the
// production defaults from defaults().
type RealtimeConfig struct {
	Token                string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	// EndpointTemplate is the channel path; "{subject}" is replaced by
	// the subject id.
	EndpointTemplate string
}

func (c *RealtimeConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.EndpointTemplate == "" {
		c.EndpointTemplate = "/notifications/{subject}"
	}
}

// ConnState represents the push channel lifecycle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	// StateFallback means automatic retries have been given up (attempts
	// exhausted or a terminal auth closure); a manual Connect is still
	// allowed.
	StateFallback ConnState = "fallback"
)

// ============================================================================
// Callback bridge
// ============================================================================

// Callbacks is the registration surface between the connection manager
// and the application state layer. The manager holds at most one active
// set; SetCallbacks merges non-nil fields into it, so re-registration
// overwrites per event kind rather than stacking.
type Callbacks struct {
	OnMessage      func(notification json.RawMessage)
	OnConnect      func()
	OnDisconnect   func(code int, reason string)
	OnError        func(err error)
	OnReconnecting func(attempt int, delay time.Duration)
}

type callbackBridge struct {
	mu sync.RWMutex
	cb Callbacks
}

func (b *callbackBridge) set(cb Callbacks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb.OnMessage != nil {
		b.cb.OnMessage = cb.OnMessage
	}
	if cb.OnConnect != nil {
		b.cb.OnConnect = cb.OnConnect
	}
	if cb.OnDisconnect != nil {
		b.cb.OnDisconnect = cb.OnDisconnect
	}
	if cb.OnError != nil {
		b.cb.OnError = cb.OnError
	}
	if cb.OnReconnecting != nil {
		b.cb.OnReconnecting = cb.OnReconnecting
	}
}

func (b *callbackBridge) emitMessage(n json.RawMessage) {
	b.mu.RLock()
	h := b.cb.OnMessage
	b.mu.RUnlock()
	if h != nil {
		h(n)
	}
}

func (b *callbackBridge) emitConnect() {
	b.mu.RLock()
	h := b.cb.OnConnect
	b.mu.RUnlock()
	if h != nil {
		h()
	}
}

func (b *callbackBridge) emitDisconnect(code int, reason string) {
	b.mu.RLock()
	h := b.cb.OnDisconnect
	b.mu.RUnlock()
	if h != nil {
		h(code, reason)
	}
}

func (b *callbackBridge) emitError(err error) {
	b.mu.RLock()
	h := b.cb.OnError
	b.mu.RUnlock()
	if h != nil {
		h(err)
	}
}

func (b *callbackBridge) emitReconnecting(attempt int, delay time.Duration) {
	b.mu.RLock()
	h := b.cb.OnReconnecting
	b.mu.RUnlock()
	if h != nil {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks reconnection attempts and computes the capped
// exponential backoff: min(base * 2^(attempt-1), max), no jitter.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldRetry() bool {
	return r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	r.attempt++
	delay := r.baseDelay << (r.attempt - 1)
	if delay > r.maxDelay || delay <= 0 {
		delay = r.maxDelay
	}
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// Wire frames
// ============================================================================

// frame is the JSON envelope of every push channel message, inbound and
// outbound, discriminated by Type.
type frame struct {
	Type            string          `json:"type"`
	Notification    json.RawMessage `json:"notification,omitempty"`
	NotificationID  int64           `json:"notification_id,omitempty"`
	NotificationIDs []int64         `json:"notification_ids,omitempty"`
	Success         *bool           `json:"success,omitempty"`
	Message         string          `json:"message,omitempty"`
}

const (
	frameNotification = "notification"
	frameMarkedRead   = "notification_marked_read"
	frameMarkRead     = "mark_read"
	frameMarkMultiple = "mark_multiple_read"
	framePing         = "ping"
	framePong         = "pong"
)

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns one persistent push connection: connect, heartbeat,
// reconnection with capped exponential backoff, and graceful teardown.
// It never touches application state; everything it learns is delivered
// through the callback bridge.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig
	log     zerolog.Logger
	bridge  callbackBridge

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	subjectID        string
	dialCtx          context.Context
	cancelFn         context.CancelFunc
	reconnectTimer   *time.Timer
	intentionalClose bool
	recon            *reconnector
}

// NewRealtime creates a disconnected RealtimeClient. The configuration is
// injected here once; there is no process-wide shared instance.
func NewRealtime(baseURL string, config *RealtimeConfig, log zerolog.Logger) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &RealtimeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  &cfg,
		log:     log,
		state:   StateDisconnected,
		recon:   newReconnector(&cfg),
	}
}

// SetCallbacks registers the active callback set, merging non-nil fields
// into the current one.
func (rt *RealtimeClient) SetCallbacks(cb Callbacks) {
	rt.bridge.set(cb)
}

// State returns the current connection state.
func (rt *RealtimeClient) State() ConnState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// IsConnected reports whether the channel is currently open.
func (rt *RealtimeClient) IsConnected() bool {
	return rt.State() == StateConnected
}

// Connect opens the push channel for a subject id. It is fire-and-forget:
// a missing subject id and establishment failures are reported through
// the error callback, never returned. Any prior connection is torn down
// first.
func (rt *RealtimeClient) Connect(ctx context.Context, subjectID string) {
	rt.mu.Lock()
	if subjectID != "" {
		rt.subjectID = subjectID
	}
	if rt.subjectID == "" {
		rt.mu.Unlock()
		rt.log.Error().Msg("connect aborted: subject id is required")
		rt.bridge.emitError(&ConfigError{Reason: "subject id is required"})
		return
	}
	rt.teardownLocked()
	rt.intentionalClose = false
	rt.state = StateConnecting
	rt.dialCtx = ctx
	rt.mu.Unlock()

	go rt.dial(ctx)
}

// Disconnect tears the channel down with a normal closure, stops the
// heartbeat, cancels any pending reconnection, and zeroes the attempt
// counter. Safe to call at any time, connected or not.
func (rt *RealtimeClient) Disconnect() {
	rt.mu.Lock()
	rt.intentionalClose = true
	rt.teardownLocked()
	rt.state = StateDisconnected
	rt.recon.reset()
	rt.mu.Unlock()

	rt.log.Debug().Msg("push channel disconnected")
	rt.bridge.emitDisconnect(CloseNormal, "client disconnect")
}

// teardownLocked closes the current connection and cancels timers.
// Callers hold rt.mu.
func (rt *RealtimeClient) teardownLocked() {
	if rt.reconnectTimer != nil {
		rt.reconnectTimer.Stop()
		rt.reconnectTimer = nil
	}
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	if rt.conn != nil {
		rt.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		rt.conn = nil
	}
}

// endpoint builds the channel URL. The encrypted scheme is used when the
// base URL itself is encrypted.
func (rt *RealtimeClient) endpoint(subjectID string) string {
	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += strings.Replace(rt.config.EndpointTemplate, "{subject}", subjectID, 1)
	if rt.config.Token != "" {
		wsURL += "?token=" + rt.config.Token
	}
	return wsURL
}

func (rt *RealtimeClient) dial(ctx context.Context) {
	rt.mu.Lock()
	subjectID := rt.subjectID
	rt.mu.Unlock()

	wsURL := rt.endpoint(subjectID)
	rt.log.Debug().Str("url", wsURL).Msg("dialing push channel")

	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()

		rt.log.Warn().Err(err).Msg("push channel dial failed")
		rt.bridge.emitError(&TransportError{Code: CloseAbnormal, Reason: err.Error()})
		rt.maybeReconnect()
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	if rt.intentionalClose {
		// Disconnect raced the dial; drop the fresh connection.
		rt.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return
	}
	rt.conn = conn
	rt.state = StateConnected
	rt.cancelFn = cancel
	rt.recon.reset()
	rt.mu.Unlock()

	rt.log.Info().Str("subject", subjectID).Msg("push channel connected")
	rt.bridge.emitConnect()

	go rt.heartbeatLoop(connCtx, conn)
	rt.readLoop(connCtx, conn)
}

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.handleClose(conn, err)
			return
		}
		rt.handleFrame(data)
	}
}

// handleClose runs the post-closure state machine: terminal codes (normal
// closure and auth failures) never reconnect, everything else does while
// attempts remain.
func (rt *RealtimeClient) handleClose(conn *websocket.Conn, err error) {
	rt.mu.Lock()
	if rt.conn != conn || rt.intentionalClose {
		// Replaced by a newer connection or manually torn down; that
		// path already reported the closure.
		rt.mu.Unlock()
		return
	}
	rt.conn = nil
	rt.state = StateDisconnected
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	rt.mu.Unlock()

	code, reason := closeDetails(err)
	rt.log.Debug().Int("code", code).Str("reason", reason).Msg("push channel closed")
	rt.bridge.emitDisconnect(code, reason)

	switch code {
	case CloseNormal:
	case CloseAuthFailed, CloseForbidden:
		rt.mu.Lock()
		rt.state = StateFallback
		rt.mu.Unlock()
		rt.log.Error().Int("code", code).Msg("push channel rejected the session")
		rt.bridge.emitError(&TransportError{Code: code, Reason: reason})
	default:
		rt.maybeReconnect()
	}
}

func closeDetails(err error) (int, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return int(ce.Code), ce.Reason
	}
	if code := websocket.CloseStatus(err); code != -1 {
		return int(code), ""
	}
	return CloseAbnormal, err.Error()
}

// maybeReconnect schedules the next attempt, or drops to fallback once
// the attempt budget is spent.
func (rt *RealtimeClient) maybeReconnect() {
	rt.mu.Lock()
	if rt.intentionalClose {
		rt.mu.Unlock()
		return
	}
	if !rt.recon.shouldRetry() {
		rt.state = StateFallback
		rt.mu.Unlock()
		rt.log.Warn().Int("attempts", rt.config.MaxReconnectAttempts).
			Msg("reconnect attempts exhausted, falling back to fetch-only mode")
		rt.bridge.emitError(&TransportError{Code: CloseAbnormal, Reason: "reconnect attempts exhausted"})
		return
	}
	delay := rt.recon.nextDelay()
	attempt := rt.recon.attempt
	ctx := rt.dialCtx
	rt.reconnectTimer = time.AfterFunc(delay, func() {
		rt.mu.Lock()
		if rt.intentionalClose {
			rt.mu.Unlock()
			return
		}
		rt.reconnectTimer = nil
		rt.state = StateConnecting
		rt.mu.Unlock()
		rt.dial(ctx)
	})
	rt.mu.Unlock()

	rt.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
	rt.bridge.emitReconnecting(attempt, delay)
}

// handleFrame dispatches one inbound frame by kind. Acknowledgements and
// heartbeat replies are consumed silently; unknown kinds are logged and
// dropped.
func (rt *RealtimeClient) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		rt.log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch f.Type {
	case frameNotification:
		rt.bridge.emitMessage(f.Notification)
	case frameMarkedRead:
		rt.log.Debug().Int64("notification_id", f.NotificationID).Msg("mark-read acknowledged")
	case framePong:
	default:
		rt.log.Debug().Str("kind", f.Type).Msg("dropping frame of unknown kind")
	}
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rt.State() != StateConnected {
				return
			}
			data, _ := json.Marshal(frame{Type: framePing})
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				rt.log.Warn().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}

// ============================================================================
// Outbound operations
// ============================================================================

// MarkRead sends the companion mark-read frame. A no-op with a warning
// when not connected; callers fall back to the REST path, which is the
// source of truth either way.
func (rt *RealtimeClient) MarkRead(ctx context.Context, id int64) {
	if !rt.send(ctx, frame{Type: frameMarkRead, NotificationID: id}) {
		rt.log.Warn().Int64("notification_id", id).Msg("cannot mark as read: push channel not connected")
	}
}

// MarkMultipleRead sends a batched companion mark-read frame; same
// not-connected semantics as MarkRead.
func (rt *RealtimeClient) MarkMultipleRead(ctx context.Context, ids []int64) {
	if !rt.send(ctx, frame{Type: frameMarkMultiple, NotificationIDs: ids}) {
		rt.log.Warn().Int("count", len(ids)).Msg("cannot mark as read: push channel not connected")
	}
}

// Send writes an arbitrary outbound frame; a no-op with a warning when
// not connected.
func (rt *RealtimeClient) Send(ctx context.Context, v any) {
	if !rt.send(ctx, v) {
		rt.log.Warn().Msg("cannot send: push channel not connected")
	}
}

func (rt *RealtimeClient) send(ctx context.Context, v any) bool {
	rt.mu.Lock()
	conn := rt.conn
	state := rt.state
	rt.mu.Unlock()

	if conn == nil || state != StateConnected {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		rt.log.Warn().Err(err).Msg("cannot marshal outbound frame")
		return false
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		rt.log.Warn().Err(err).Msg("outbound frame failed")
		return false
	}
	return true
}
