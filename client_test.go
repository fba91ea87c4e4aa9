package learnly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient("test-token",
		WithBaseURL(srv.URL),
		WithRetryPolicy(2, 1*time.Millisecond),
	)
	return client, srv
}

func testNotificationJSON(id int64, read bool) string {
	return fmt.Sprintf(`{"id":%d,"notification_type":"course_update","title":"Course updated","message":"Lesson %d published","read":%t,"created_at":"2026-08-30T10:00:00Z"}`, id, id, read)
}

// ============================================================================
// Client construction
// ============================================================================

func TestNewClient(t *testing.T) {
	t.Run("default base URL", func(t *testing.T) {
		client := NewClient("tok")
		if client.BaseURL() != "https://api.learnly.app" {
			t.Errorf("unexpected base URL: %s", client.BaseURL())
		}
	})

	t.Run("custom base URL trims trailing slash", func(t *testing.T) {
		client := NewClient("tok", WithBaseURL("https://example.test/"))
		if client.BaseURL() != "https://example.test" {
			t.Errorf("unexpected base URL: %s", client.BaseURL())
		}
	})

	t.Run("environment selection", func(t *testing.T) {
		client := NewClient("tok", WithEnvironment(Production))
		if client.BaseURL() != "https://api.learnly.app" {
			t.Errorf("unexpected base URL: %s", client.BaseURL())
		}
	})
}

// ============================================================================
// Retry policy
// ============================================================================

func TestRetryPolicy(t *testing.T) {
	t.Run("retries transient failures", func(t *testing.T) {
		var calls atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, "[]")
		}))

		_, err := client.Notifications().List(context.Background(), 1, nil)
		if err != nil {
			t.Fatalf("expected success after retries, got %v", err)
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("expected 3 attempts, got %d", got)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		_, err := client.Notifications().List(context.Background(), 1, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
		}
	})

	t.Run("never retries 401", func(t *testing.T) {
		var calls atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"detail":"Invalid token."}`)
		}))

		_, err := client.Notifications().List(context.Background(), 1, nil)
		apiErr, ok := err.(*APIError)
		if !ok {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Status != 401 || apiErr.Message != "Invalid token." {
			t.Errorf("unexpected error: %v", apiErr)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("expected 1 attempt, got %d", got)
		}
	})

	t.Run("never retries 404", func(t *testing.T) {
		var calls atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))

		err := client.Notifications().MarkRead(context.Background(), 99)
		if err == nil {
			t.Fatal("expected error")
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("expected 1 attempt, got %d", got)
		}
	})
}

// ============================================================================
// List
// ============================================================================

func TestList(t *testing.T) {
	t.Run("sends auth and query parameters", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
				t.Errorf("unexpected Authorization header: %s", got)
			}
			if r.URL.Path != "/api/notifications/" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			q := r.URL.Query()
			if q.Get("page") != "2" || q.Get("page_size") != "10" || q.Get("type") != "grade_update" || q.Get("read") != "false" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			fmt.Fprint(w, "[]")
		}))

		unread := false
		_, err := client.Notifications().List(context.Background(), 2, &ListOptions{
			PageSize: 10,
			Type:     "grade_update",
			Read:     &unread,
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("normalizes paginated envelope", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"results":[%s,%s],"count":41,"next":"http://x/api/notifications/?page=2"}`,
				testNotificationJSON(1, false), testNotificationJSON(2, true))
		}))

		page, err := client.Notifications().List(context.Background(), 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !page.Paginated {
			t.Error("expected paginated page")
		}
		if page.Count != 41 || !page.HasMore || len(page.Results) != 2 {
			t.Errorf("unexpected page: count=%d hasMore=%t len=%d", page.Count, page.HasMore, len(page.Results))
		}
	})

	t.Run("normalizes bare array", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `[%s]`, testNotificationJSON(7, false))
		}))

		page, err := client.Notifications().List(context.Background(), 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		if page.Paginated {
			t.Error("bare array must not report pagination")
		}
		if page.Count != 1 || page.HasMore || len(page.Results) != 1 {
			t.Errorf("unexpected page: count=%d hasMore=%t len=%d", page.Count, page.HasMore, len(page.Results))
		}
		if page.Results[0].ID != 7 || page.Results[0].Type != "course_update" {
			t.Errorf("unexpected notification: %+v", page.Results[0])
		}
	})

	t.Run("envelope with null next has no more pages", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"results":[%s],"count":1,"next":null}`, testNotificationJSON(1, false))
		}))

		page, err := client.Notifications().List(context.Background(), 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !page.Paginated || page.HasMore {
			t.Errorf("unexpected page: paginated=%t hasMore=%t", page.Paginated, page.HasMore)
		}
	})
}

// ============================================================================
// Mark read
// ============================================================================

func TestMarkReadEndpoints(t *testing.T) {
	t.Run("mark one", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "PATCH" || r.URL.Path != "/api/notifications/15/mark-read/" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			fmt.Fprint(w, `{"status":"ok"}`)
		}))

		if err := client.Notifications().MarkRead(context.Background(), 15); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("mark all", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "PATCH" || r.URL.Path != "/api/notifications/mark-all-read/" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			fmt.Fprint(w, `{"status":"ok"}`)
		}))

		if err := client.Notifications().MarkAllRead(context.Background()); err != nil {
			t.Fatal(err)
		}
	})
}

// ============================================================================
// Preference endpoints
// ============================================================================

func TestPreferenceEndpoints(t *testing.T) {
	t.Run("update sends only changed fields", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "PUT" || r.URL.Path != "/api/notifications/preferences/" {
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if len(body) != 1 {
				t.Errorf("expected 1 field in body, got %d: %v", len(body), body)
			}
			if v, ok := body["app_course_update"].(bool); !ok || v {
				t.Errorf("unexpected body: %v", body)
			}
			prefs := DefaultPreferences()
			prefs.AppCourseUpdate = false
			json.NewEncoder(w).Encode(prefs)
		}))

		disabled := false
		prefs, err := client.Notifications().UpdatePreferences(context.Background(), &PreferenceUpdate{
			AppCourseUpdate: &disabled,
		})
		if err != nil {
			t.Fatal(err)
		}
		if prefs.AppCourseUpdate {
			t.Error("expected app_course_update to be disabled")
		}
		if !prefs.AppLiveClass {
			t.Error("expected untouched preferences to stay enabled")
		}
	})
}

// ============================================================================
// Normalization
// ============================================================================

func TestNormalizeNotification(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	t.Run("fills missing fields", func(t *testing.T) {
		n, err := normalizeNotification([]byte(`{"id":3,"message":"hi"}`), now)
		if err != nil {
			t.Fatal(err)
		}
		if n.Type != "general" || n.Title != "Notification" || n.Icon != DefaultIcon {
			t.Errorf("unexpected defaults: %+v", n)
		}
		if n.CreatedAt != now.Format(time.RFC3339) {
			t.Errorf("unexpected created_at: %s", n.CreatedAt)
		}
	})

	t.Run("accepts legacy type field", func(t *testing.T) {
		n, err := normalizeNotification([]byte(`{"id":4,"type":"grade_update","message":"B+"}`), now)
		if err != nil {
			t.Fatal(err)
		}
		if n.Type != "grade_update" {
			t.Errorf("unexpected type: %s", n.Type)
		}
	})

	t.Run("synthesizes id when missing", func(t *testing.T) {
		n, err := normalizeNotification([]byte(`{"message":"hi"}`), now)
		if err != nil {
			t.Fatal(err)
		}
		if n.ID != now.UnixMilli() {
			t.Errorf("unexpected id: %d", n.ID)
		}
	})

	t.Run("rejects payload without id and message", func(t *testing.T) {
		_, err := normalizeNotification([]byte(`{"title":"empty"}`), now)
		if _, ok := err.(*ValidationError); !ok {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		if _, err := normalizeNotification([]byte(`{`), now); err == nil {
			t.Fatal("expected error")
		}
	})
}
