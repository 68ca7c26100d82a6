package tracking

import (
	"context"
	"time"
)

// Store persists sessions and their aggregates.
//
// CreateSession must enforce the one-active-session rule atomically when the
// inserted session is active: if the user already has an active session the
// insert fails with ErrSessionActive and nothing is written. Completed
// sessions (offline sync) insert unconditionally.
//
// AddToTracker and AppendDailyLog are atomic upserts: they create the
// aggregate row on first use and accumulate in place thereafter, so two
// concurrent completions for the same key cannot lose an update. The caller
// supplies now so aggregate timestamps come from the service clock.
type Store interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	UpdateSession(ctx context.Context, s Session) (Session, error)
	ActiveSession(ctx context.Context, userID string) (Session, error)

	AddToTracker(ctx context.Context, userID, subjectID, subjectType string, durationMillis int64, now time.Time) (Tracker, error)
	AppendDailyLog(ctx context.Context, userID, day string, durationMillis int64, sessionID string, now time.Time) (DailyLog, error)

	ListTrackers(ctx context.Context, userID, subjectID string) ([]Tracker, error)
	ListDailyLogs(ctx context.Context, userID, day string) ([]DailyLog, error)
}
