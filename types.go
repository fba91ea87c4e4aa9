package learnly

import (
	"bytes"
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a non-2xx API response.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"detail"`
}

func (e *APIError) Error() string {
	return e.Message
}

// ============================================================================
// Notification
// ============================================================================

// DefaultIcon is the display hint used when the server sends none.
const DefaultIcon = "fas fa-bell"

// Notification is one delivered or fetched event.
type Notification struct {
	ID        int64  `json:"id"`
	Type      string `json:"notification_type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Icon      string `json:"icon"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

// rawNotification is the loose shape of a push-delivered event. The push
// channel tags the category as "type" while the REST history uses
// "notification_type"; both are accepted.
type rawNotification struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	LegacyType string `json:"notification_type"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Icon       string `json:"icon"`
	Read       bool   `json:"read"`
	CreatedAt  string `json:"created_at"`
}

// normalizeNotification validates and canonicalizes a push-delivered
// event. An event carrying neither an id nor a message is rejected.
// Missing fields get display defaults; a missing id falls back to the
// arrival timestamp.
func normalizeNotification(data []byte, now time.Time) (Notification, error) {
	var raw rawNotification
	if err := json.Unmarshal(data, &raw); err != nil {
		return Notification{}, &ValidationError{Reason: "malformed notification payload: " + err.Error()}
	}
	if raw.ID == 0 && raw.Message == "" {
		return Notification{}, &ValidationError{Reason: "notification missing both id and message"}
	}

	n := Notification{
		ID:        raw.ID,
		Type:      raw.Type,
		Title:     raw.Title,
		Message:   raw.Message,
		Icon:      raw.Icon,
		Read:      raw.Read,
		CreatedAt: raw.CreatedAt,
	}
	if n.ID == 0 {
		n.ID = now.UnixMilli()
	}
	if n.Type == "" {
		n.Type = raw.LegacyType
	}
	if n.Type == "" {
		n.Type = "general"
	}
	if n.Title == "" {
		n.Title = "Notification"
	}
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.CreatedAt == "" {
		n.CreatedAt = now.UTC().Format(time.RFC3339)
	}
	return n, nil
}

// ============================================================================
// Pagination
// ============================================================================

// ListOptions filters a history fetch.
type ListOptions struct {
	PageSize int
	Type     string
	Read     *bool
	DateFrom string
	DateTo   string
}

// NotificationPage is the canonical page shape produced by the
// normalization adapter, regardless of the wire representation.
type NotificationPage struct {
	Results []Notification
	Count   int
	HasMore bool
	// Paginated reports whether the server sent cursor information at
	// all. A bare array carries none, and the caller's pagination state
	// must not be updated from it.
	Paginated bool
}

// pageEnvelope is the enveloped wire shape: {results, count, next}.
type pageEnvelope struct {
	Results []Notification `json:"results"`
	Count   int            `json:"count"`
	Next    *string        `json:"next"`
}

// decodePage normalizes either wire shape into a NotificationPage.
func decodePage(data []byte) (*NotificationPage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var results []Notification
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, &ValidationError{Reason: "malformed notification list: " + err.Error()}
		}
		return &NotificationPage{Results: results, Count: len(results)}, nil
	}

	var env pageEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &ValidationError{Reason: "malformed notification page: " + err.Error()}
	}
	return &NotificationPage{
		Results:   env.Results,
		Count:     env.Count,
		HasMore:   env.Next != nil,
		Paginated: true,
	}, nil
}

// Pagination is the feed-side fetch cursor.
type Pagination struct {
	Page     int
	PageSize int
	Total    int
	HasMore  bool
}

// ============================================================================
// Preferences
// ============================================================================

// DigestFrequency is the summary-email cadence.
type DigestFrequency string

const (
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
	DigestNone   DigestFrequency = "none"
)

// Preferences maps notification channels to opt-in flags.
type Preferences struct {
	EmailLiveClass      bool            `json:"email_live_class"`
	EmailCourseUpdate   bool            `json:"email_course_update"`
	EmailPrivateMessage bool            `json:"email_private_message"`
	EmailGradeUpdate    bool            `json:"email_grade_update"`
	AppLiveClass        bool            `json:"app_live_class"`
	AppCourseUpdate     bool            `json:"app_course_update"`
	AppPrivateMessage   bool            `json:"app_private_message"`
	AppGradeUpdate      bool            `json:"app_grade_update"`
	Digest              DigestFrequency `json:"digest_frequency"`
}

// DefaultPreferences returns the opt-in defaults used before the first
// fetch: every channel enabled, weekly digest.
func DefaultPreferences() Preferences {
	return Preferences{
		EmailLiveClass:      true,
		EmailCourseUpdate:   true,
		EmailPrivateMessage: true,
		EmailGradeUpdate:    true,
		AppLiveClass:        true,
		AppCourseUpdate:     true,
		AppPrivateMessage:   true,
		AppGradeUpdate:      true,
		Digest:              DigestWeekly,
	}
}

// PreferenceUpdate is a partial preference mutation; nil fields are left
// untouched.
type PreferenceUpdate struct {
	EmailLiveClass      *bool            `json:"email_live_class,omitempty"`
	EmailCourseUpdate   *bool            `json:"email_course_update,omitempty"`
	EmailPrivateMessage *bool            `json:"email_private_message,omitempty"`
	EmailGradeUpdate    *bool            `json:"email_grade_update,omitempty"`
	AppLiveClass        *bool            `json:"app_live_class,omitempty"`
	AppCourseUpdate     *bool            `json:"app_course_update,omitempty"`
	AppPrivateMessage   *bool            `json:"app_private_message,omitempty"`
	AppGradeUpdate      *bool            `json:"app_grade_update,omitempty"`
	Digest              *DigestFrequency `json:"digest_frequency,omitempty"`
}

// apply folds the partial update into a full preference set,
// last-writer-wins.
func (u *PreferenceUpdate) apply(p *Preferences) {
	if u == nil {
		return
	}
	if u.EmailLiveClass != nil {
		p.EmailLiveClass = *u.EmailLiveClass
	}
	if u.EmailCourseUpdate != nil {
		p.EmailCourseUpdate = *u.EmailCourseUpdate
	}
	if u.EmailPrivateMessage != nil {
		p.EmailPrivateMessage = *u.EmailPrivateMessage
	}
	if u.EmailGradeUpdate != nil {
		p.EmailGradeUpdate = *u.EmailGradeUpdate
	}
	if u.AppLiveClass != nil {
		p.AppLiveClass = *u.AppLiveClass
	}
	if u.AppCourseUpdate != nil {
		p.AppCourseUpdate = *u.AppCourseUpdate
	}
	if u.AppPrivateMessage != nil {
		p.AppPrivateMessage = *u.AppPrivateMessage
	}
	if u.AppGradeUpdate != nil {
		p.AppGradeUpdate = *u.AppGradeUpdate
	}
	if u.Digest != nil {
		p.Digest = *u.Digest
	}
}

// appChannelEnabled reports whether in-app delivery is enabled for a
// notification type. Unknown types are always surfaced.
func (p Preferences) appChannelEnabled(notificationType string) bool {
	switch notificationType {
	case "live_class":
		return p.AppLiveClass
	case "course_update":
		return p.AppCourseUpdate
	case "private_message":
		return p.AppPrivateMessage
	case "grade_update":
		return p.AppGradeUpdate
	default:
		return true
	}
}
