package learnly

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
)

func newTestPreferences(t *testing.T, handler http.Handler) *PreferenceStore {
	t.Helper()
	client, _ := newTestClient(t, handler)
	return NewPreferenceStore(client.Notifications(), zerolog.Nop())
}

func TestPreferenceStore(t *testing.T) {
	t.Run("starts permissive", func(t *testing.T) {
		store := newTestPreferences(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		for _, kind := range []string{"live_class", "course_update", "private_message", "grade_update", "unknown"} {
			if !store.ShouldSurface(kind) {
				t.Errorf("default gate blocked %q", kind)
			}
		}
	})

	t.Run("fetch adopts the backend copy", func(t *testing.T) {
		store := newTestPreferences(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			prefs := DefaultPreferences()
			prefs.AppGradeUpdate = false
			prefs.Digest = DigestDaily
			json.NewEncoder(w).Encode(prefs)
		}))

		if err := store.Fetch(context.Background()); err != nil {
			t.Fatal(err)
		}
		if store.ShouldSurface("grade_update") {
			t.Error("fetched gate not applied")
		}
		if got := store.Current(); got.Digest != DigestDaily {
			t.Errorf("digest = %q, want daily", got.Digest)
		}
	})

	t.Run("fetch failure keeps current settings", func(t *testing.T) {
		store := newTestPreferences(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		if err := store.Fetch(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if !store.ShouldSurface("live_class") {
			t.Error("defaults lost after failed fetch")
		}
		if store.LastError() == nil {
			t.Error("expected recorded error")
		}
	})

	t.Run("update adopts the canonical response", func(t *testing.T) {
		store := newTestPreferences(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The server applies its own policy on top of the change.
			prefs := DefaultPreferences()
			prefs.AppCourseUpdate = false
			prefs.EmailCourseUpdate = false
			json.NewEncoder(w).Encode(prefs)
		}))

		disabled := false
		err := store.Update(context.Background(), PreferenceUpdate{AppCourseUpdate: &disabled})
		if err != nil {
			t.Fatal(err)
		}
		got := store.Current()
		if got.AppCourseUpdate || got.EmailCourseUpdate {
			t.Errorf("canonical response not adopted: %+v", got)
		}
	})

	t.Run("update failure restores the snapshot", func(t *testing.T) {
		store := newTestPreferences(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		disabled := false
		err := store.Update(context.Background(), PreferenceUpdate{AppPrivateMessage: &disabled})
		if _, ok := err.(*PersistenceError); !ok {
			t.Fatalf("expected *PersistenceError, got %v", err)
		}
		if !store.ShouldSurface("private_message") {
			t.Error("optimistic change survived the rollback")
		}
		if store.LastError() == nil {
			t.Error("expected recorded error")
		}
	})
}
