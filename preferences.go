package learnly

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// PreferenceStore holds the subject's notification preferences and gates
// which live notifications surface in the feed. It starts from the
// defaults (everything enabled) so the gate is permissive until the
// backend copy has been fetched.
type PreferenceStore struct {
	api *NotificationsClient
	log zerolog.Logger

	mu      sync.RWMutex
	prefs   Preferences
	loaded  bool
	lastErr error
}

// NewPreferenceStore creates a store seeded with DefaultPreferences.
func NewPreferenceStore(api *NotificationsClient, log zerolog.Logger) *PreferenceStore {
	return &PreferenceStore{
		api:   api,
		log:   log,
		prefs: DefaultPreferences(),
	}
}

// Current returns a copy of the preferences.
func (s *PreferenceStore) Current() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// LastError returns the most recent fetch or update failure, or nil.
func (s *PreferenceStore) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Fetch loads the backend copy. On failure the current (default or
// previously fetched) preferences stay in place.
func (s *PreferenceStore) Fetch(ctx context.Context) error {
	prefs, err := s.api.GetPreferences(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		s.log.Warn().Err(err).Msg("preference fetch failed, keeping current settings")
		return err
	}
	s.prefs = *prefs
	s.loaded = true
	s.lastErr = nil
	return nil
}

// Update applies a partial preference change optimistically: the local
// copy changes immediately, the backend is updated, and on failure the
// pre-change snapshot is restored. On success the server's canonical
// response replaces the local copy.
func (s *PreferenceStore) Update(ctx context.Context, change PreferenceUpdate) error {
	txn := optimisticTxn{
		Apply: func() any {
			s.mu.Lock()
			defer s.mu.Unlock()
			snapshot := s.prefs
			change.apply(&s.prefs)
			return snapshot
		},
		Persist: func(ctx context.Context) error {
			canonical, err := s.api.UpdatePreferences(ctx, &change)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.prefs = *canonical
			s.mu.Unlock()
			return nil
		},
		Restore: func(snapshot any) {
			s.mu.Lock()
			s.prefs = snapshot.(Preferences)
			s.mu.Unlock()
		},
	}

	err := txn.run(ctx, "update preferences")
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		s.log.Warn().Err(err).Msg("preference update failed, restored previous settings")
	}
	return err
}

// ShouldSurface reports whether a live notification of the given type
// passes the in-app channel gate. Unknown types always pass.
func (s *PreferenceStore) ShouldSurface(notificationType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.appChannelEnabled(notificationType)
}
