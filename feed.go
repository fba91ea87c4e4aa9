package learnly

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Identity
// ============================================================================

// IdentityProvider yields the subject id the feed belongs to. The second
// return is false when no identity is available, in which case the feed
// runs in fetch-only fallback mode.
type IdentityProvider interface {
	SubjectID() (string, bool)
}

type staticIdentity string

func (s staticIdentity) SubjectID() (string, bool) { return string(s), s != "" }

// Identity wraps a known subject id as an IdentityProvider.
func Identity(id string) IdentityProvider { return staticIdentity(id) }

// ============================================================================
// Configuration
// ============================================================================

// FeedConfig configures a FeedStore. The zero value gets defaults().
type FeedConfig struct {
	PageSize int
	// DebounceWindow is the minimum gap between accepted live
	// notifications; bursts inside the window are dropped.
	DebounceWindow time.Duration
	// ConnectTimeout bounds how long Setup waits for the push channel
	// before declaring fallback mode.
	ConnectTimeout time.Duration
	// Recent is how many notifications Recent returns.
	Recent int
}

func (c *FeedConfig) defaults() {
	if c.PageSize == 0 {
		c.PageSize = 20
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = 100 * time.Millisecond
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Recent == 0 {
		c.Recent = 5
	}
}

// ============================================================================
// FeedStore
// ============================================================================

// FeedStore is the single in-memory notification feed: it merges live
// push deliveries with paginated REST history, keeps the unread count
// derived from the feed, and performs read-state mutations optimistically
// with rollback on persistence failure.
type FeedStore struct {
	api   *NotificationsClient
	rt    *RealtimeClient
	prefs *PreferenceStore
	cfg   *FeedConfig
	log   zerolog.Logger

	mu         sync.RWMutex
	feed       []Notification
	unread     int
	pagination Pagination
	filter     ListOptions
	loading    bool
	lastErr    error
	status     ConnState
	attempts   int
	lastIngest time.Time

	connectTimer *time.Timer
	nowFn        func() time.Time
}

// NewFeedStore creates an empty feed. rt may be nil for a fetch-only
// store.
func NewFeedStore(client *Client, rt *RealtimeClient, prefs *PreferenceStore, config *FeedConfig) *FeedStore {
	cfg := FeedConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &FeedStore{
		api:    client.Notifications(),
		rt:     rt,
		prefs:  prefs,
		cfg:    &cfg,
		log:    client.log,
		status: StateDisconnected,
		nowFn:  time.Now,
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// Setup wires the push channel into the feed and loads the first page
// and the subject's preferences. Without an identity, or if the channel
// is not up within the connect timeout, the feed drops to fetch-only
// fallback mode; REST operations keep working either way.
func (s *FeedStore) Setup(ctx context.Context, identity IdentityProvider) {
	subjectID, ok := identity.SubjectID()
	if !ok || s.rt == nil {
		s.mu.Lock()
		s.status = StateFallback
		s.mu.Unlock()
		s.log.Warn().Msg("no subject identity, feed running in fetch-only mode")
	} else {
		s.rt.SetCallbacks(Callbacks{
			OnMessage: s.IngestLive,
			OnConnect: func() {
				s.mu.Lock()
				if s.connectTimer != nil {
					s.connectTimer.Stop()
					s.connectTimer = nil
				}
				s.status = StateConnected
				s.attempts = 0
				s.mu.Unlock()
			},
			OnDisconnect: func(code int, reason string) {
				s.mu.Lock()
				if s.status != StateFallback {
					s.status = StateDisconnected
				}
				s.mu.Unlock()
			},
			OnError: func(err error) {
				s.mu.Lock()
				s.lastErr = err
				if s.rt.State() == StateFallback {
					s.status = StateFallback
				}
				s.mu.Unlock()
			},
			OnReconnecting: func(attempt int, delay time.Duration) {
				s.mu.Lock()
				s.attempts = attempt
				if s.status != StateFallback {
					s.status = StateConnecting
				}
				s.mu.Unlock()
			},
		})

		s.mu.Lock()
		s.status = StateConnecting
		s.connectTimer = time.AfterFunc(s.cfg.ConnectTimeout, func() {
			s.mu.Lock()
			s.connectTimer = nil
			if s.status != StateConnected {
				s.status = StateFallback
				s.log.Warn().Dur("timeout", s.cfg.ConnectTimeout).
					Msg("push channel not up in time, feed running in fetch-only mode")
			}
			s.mu.Unlock()
		})
		s.mu.Unlock()

		s.rt.Connect(ctx, subjectID)
	}

	if s.prefs != nil {
		s.prefs.Fetch(ctx)
	}
	s.FetchPage(ctx, 1)
}

// Teardown closes the push channel and stops pending timers. The feed
// contents stay readable.
func (s *FeedStore) Teardown() {
	s.mu.Lock()
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	s.mu.Unlock()
	if s.rt != nil {
		s.rt.Disconnect()
	}
}

// ============================================================================
// History fetching
// ============================================================================

// FetchPage loads one page of history through the REST client. Page 1
// replaces the feed, later pages append; on failure the current feed is
// left untouched and the error is recorded.
func (s *FeedStore) FetchPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	opts := s.filter
	opts.PageSize = s.cfg.PageSize
	s.loading = true
	s.mu.Unlock()

	result, err := s.api.List(ctx, page, &opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.lastErr = err
		s.log.Warn().Err(err).Int("page", page).Msg("history fetch failed, keeping current feed")
		return err
	}
	s.lastErr = nil

	if page == 1 {
		s.feed = result.Results
	} else {
		s.feed = append(s.feed, result.Results...)
	}

	if result.Paginated {
		s.pagination = Pagination{
			Page:     page,
			PageSize: s.cfg.PageSize,
			Total:    result.Count,
			HasMore:  result.HasMore,
		}
	} else {
		// Bare-array response: a single unpaginated page.
		s.pagination = Pagination{
			Page:     1,
			PageSize: s.cfg.PageSize,
			Total:    len(s.feed),
			HasMore:  false,
		}
	}
	s.recomputeUnreadLocked()
	return nil
}

// LoadMore fetches the next page if the backend reported one.
func (s *FeedStore) LoadMore(ctx context.Context) error {
	s.mu.RLock()
	hasMore := s.pagination.HasMore
	next := s.pagination.Page + 1
	s.mu.RUnlock()
	if !hasMore {
		return nil
	}
	return s.FetchPage(ctx, next)
}

// Refresh reloads the first page, replacing the feed.
func (s *FeedStore) Refresh(ctx context.Context) error {
	return s.FetchPage(ctx, 1)
}

// SetFilter applies a server-side filter and reloads from page 1.
// PageSize on the filter is ignored; the feed's configured size wins.
func (s *FeedStore) SetFilter(ctx context.Context, filter ListOptions) error {
	s.mu.Lock()
	s.filter = filter
	s.mu.Unlock()
	return s.FetchPage(ctx, 1)
}

// ============================================================================
// Live ingestion
// ============================================================================

// IngestLive processes one live notification payload: debounce bursts,
// normalize and validate, gate on the subject's in-app preferences,
// dedupe by id, then prepend. Ingestion is idempotent per notification
// id.
func (s *FeedStore) IngestLive(raw json.RawMessage) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastIngest.IsZero() && now.Sub(s.lastIngest) < s.cfg.DebounceWindow {
		s.log.Debug().Msg("dropping live notification inside debounce window")
		return
	}

	n, err := normalizeNotification(raw, now)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed live notification")
		return
	}

	if s.prefs != nil && !s.prefs.ShouldSurface(n.Type) {
		s.log.Debug().Str("kind", n.Type).Msg("dropping live notification disabled by preferences")
		return
	}

	for i := range s.feed {
		if s.feed[i].ID == n.ID {
			s.log.Debug().Int64("notification_id", n.ID).Msg("dropping duplicate live notification")
			return
		}
	}

	s.lastIngest = now
	s.feed = append([]Notification{n}, s.feed...)
	s.pagination.Total++
	s.recomputeUnreadLocked()
	s.log.Debug().Int64("notification_id", n.ID).Str("kind", n.Type).Msg("live notification ingested")
}

// ============================================================================
// Read-state mutations
// ============================================================================

// MarkRead marks one notification as read: the feed updates immediately,
// the companion frame goes out on the push channel when connected, and
// the REST call persists it. On persistence failure the pre-mutation
// feed is restored. Unknown and already-read ids are no-ops.
func (s *FeedStore) MarkRead(ctx context.Context, id int64) error {
	s.mu.RLock()
	found, alreadyRead := false, false
	for i := range s.feed {
		if s.feed[i].ID == id {
			found, alreadyRead = true, s.feed[i].Read
			break
		}
	}
	s.mu.RUnlock()
	if !found || alreadyRead {
		return nil
	}

	txn := optimisticTxn{
		Apply: func() any {
			s.mu.Lock()
			defer s.mu.Unlock()
			snapshot := s.snapshotLocked()
			for i := range s.feed {
				if s.feed[i].ID == id {
					s.feed[i].Read = true
				}
			}
			s.recomputeUnreadLocked()
			return snapshot
		},
		Persist: func(ctx context.Context) error {
			if s.rt != nil {
				s.rt.MarkRead(ctx, id)
			}
			return s.api.MarkRead(ctx, id)
		},
		Restore: s.restore,
	}

	err := txn.run(ctx, "mark notification read")
	s.setLastErr(err)
	if err != nil {
		s.log.Warn().Err(err).Int64("notification_id", id).Msg("mark-read failed, feed restored")
	}
	return err
}

// MarkAllRead marks every notification as read with the same optimistic
// contract as MarkRead; the companion frame carries the ids that were
// unread at the time.
func (s *FeedStore) MarkAllRead(ctx context.Context) error {
	s.mu.RLock()
	var unreadIDs []int64
	for i := range s.feed {
		if !s.feed[i].Read {
			unreadIDs = append(unreadIDs, s.feed[i].ID)
		}
	}
	s.mu.RUnlock()
	if len(unreadIDs) == 0 {
		return nil
	}

	txn := optimisticTxn{
		Apply: func() any {
			s.mu.Lock()
			defer s.mu.Unlock()
			snapshot := s.snapshotLocked()
			for i := range s.feed {
				s.feed[i].Read = true
			}
			s.recomputeUnreadLocked()
			return snapshot
		},
		Persist: func(ctx context.Context) error {
			if s.rt != nil {
				s.rt.MarkMultipleRead(ctx, unreadIDs)
			}
			return s.api.MarkAllRead(ctx)
		},
		Restore: s.restore,
	}

	err := txn.run(ctx, "mark all notifications read")
	s.setLastErr(err)
	if err != nil {
		s.log.Warn().Err(err).Int("count", len(unreadIDs)).Msg("mark-all-read failed, feed restored")
	}
	return err
}

type feedSnapshot struct {
	feed   []Notification
	unread int
}

func (s *FeedStore) snapshotLocked() feedSnapshot {
	feed := make([]Notification, len(s.feed))
	copy(feed, s.feed)
	return feedSnapshot{feed: feed, unread: s.unread}
}

func (s *FeedStore) restore(snapshot any) {
	snap := snapshot.(feedSnapshot)
	s.mu.Lock()
	s.feed = snap.feed
	s.unread = snap.unread
	s.mu.Unlock()
}

func (s *FeedStore) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// recomputeUnreadLocked rederives the unread count from the feed; it is
// never incremented independently.
func (s *FeedStore) recomputeUnreadLocked() {
	count := 0
	for i := range s.feed {
		if !s.feed[i].Read {
			count++
		}
	}
	s.unread = count
}

// ============================================================================
// Derived views
// ============================================================================

// Notifications returns a copy of the feed, newest first.
func (s *FeedStore) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, len(s.feed))
	copy(out, s.feed)
	return out
}

// UnreadCount returns the number of unread notifications in the feed.
func (s *FeedStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// HasUnread reports whether any notification is unread.
func (s *FeedStore) HasUnread() bool {
	return s.UnreadCount() > 0
}

// Unread returns the unread notifications, newest first.
func (s *FeedStore) Unread() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for i := range s.feed {
		if !s.feed[i].Read {
			out = append(out, s.feed[i])
		}
	}
	return out
}

// ByType returns the notifications of one type, newest first.
func (s *FeedStore) ByType(notificationType string) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for i := range s.feed {
		if s.feed[i].Type == notificationType {
			out = append(out, s.feed[i])
		}
	}
	return out
}

// Recent returns the newest notifications, capped at the configured
// recent size.
func (s *FeedStore) Recent() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.cfg.Recent
	if n > len(s.feed) {
		n = len(s.feed)
	}
	out := make([]Notification, n)
	copy(out, s.feed[:n])
	return out
}

// Pagination returns the current paging cursor.
func (s *FeedStore) Pagination() Pagination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pagination
}

// Status returns the feed's view of the push channel state.
func (s *FeedStore) Status() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ReconnectAttempts returns how many reconnection attempts the current
// outage has consumed.
func (s *FeedStore) ReconnectAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// Loading reports whether a history fetch is in flight.
func (s *FeedStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// LastError returns the most recent fetch, mutation, or channel error.
func (s *FeedStore) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
