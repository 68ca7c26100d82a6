package tracking

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("tracking: not found")
	ErrInvalidInput   = errors.New("tracking: invalid input")
	ErrSessionActive  = errors.New("tracking: session already active")
	ErrClockSkew      = errors.New("tracking: session starts in the future")
	ErrSessionTooLong = errors.New("tracking: session exceeds maximum duration")
)

// Session statuses. A session is created active and completes exactly once,
// either explicitly or through inactivity detection.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Heartbeat and end result tags. Soft conditions use tags instead of errors so
// polling clients that race the server's own auto-completion can stop
// gracefully.
const (
	ResultUpdated          = "updated"
	ResultAutoPaused       = "auto_paused"
	ResultInvalidSession   = "invalid_session"
	ResultCompleted        = "completed"
	ResultAlreadyCompleted = "already_completed"
)

// Session is one tracking interval of a user against a subject.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	SubjectID       string    `json:"subject_id"`
	SubjectType     string    `json:"subject_type"`
	Status          string    `json:"status"`
	StartTime       time.Time `json:"start_time"`
	LastPing        time.Time `json:"last_ping"`
	LastActivity    time.Time `json:"last_activity"`
	EndTime         time.Time `json:"end_time,omitzero"`
	LocalStartTime  time.Time `json:"local_start_time,omitzero"`
	LocalEndTime    time.Time `json:"local_end_time,omitzero"`
	InactivityEnded bool      `json:"inactivity_ended"`
	OfflineSynced   bool      `json:"offline_synced"`
	ClientKey       string    `json:"client_key,omitempty"`
	DurationMillis  int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Tracker accumulates total tracked time per (user, subject) pair. Created
// lazily on the first completed session for the pair, never deleted.
type Tracker struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SubjectID      string    `json:"subject_id"`
	SubjectType    string    `json:"subject_type"`
	DurationMillis int64     `json:"total_duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DailyLog accumulates tracked time per (user, calendar day). Day is the
// server's clock date at the moment the session ended, formatted YYYY-MM-DD.
type DailyLog struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Day            string    `json:"day"`
	DurationMillis int64     `json:"total_duration_ms"`
	SessionIDs     []string  `json:"session_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HeartbeatResult reports the outcome of a heartbeat.
type HeartbeatResult struct {
	Status         string `json:"status"`
	DurationMillis int64  `json:"duration_ms,omitempty"`
}

// EndResult reports the outcome of ending a session. Repeat calls carry the
// originally recorded duration.
type EndResult struct {
	Status         string    `json:"status"`
	DurationMillis int64     `json:"duration_ms"`
	EndedAt        time.Time `json:"ended_at"`
}

// OfflineEntry is one client-buffered session recorded while disconnected.
// Duration is supplied by the client and trusted after bounds validation; the
// client key is recorded for traceability but not used for deduplication.
type OfflineEntry struct {
	SubjectID      string    `json:"subject_id"`
	SubjectType    string    `json:"subject_type"`
	LocalStartTime time.Time `json:"local_start_time,omitzero"`
	LocalEndTime   time.Time `json:"local_end_time,omitzero"`
	DurationMillis int64     `json:"duration_ms"`
	ClientKey      string    `json:"client_key,omitempty"`
}

// OfflineResult reports one entry's outcome. Failed entries echo the original
// input so clients can retry just the failures.
type OfflineResult struct {
	Success   bool          `json:"success"`
	SessionID string        `json:"session_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Entry     *OfflineEntry `json:"entry,omitempty"`
}
