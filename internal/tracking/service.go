package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"worklane.org/internal/ids"
	"worklane.org/internal/obs"
	"worklane.org/internal/stream"
)

const (
	// DefaultInactivityTimeout is how long a session may sit without activity
	// before an inactive heartbeat auto-completes it.
	DefaultInactivityTimeout = 60 * time.Second

	// maxSessionDuration caps a single session. Anything longer is treated as
	// a runaway timer rather than real work.
	maxSessionDuration = 24 * time.Hour
)

// Service is the session state machine. All timestamps come from the
// injectable clock so tests can drive inactivity and midnight boundaries.
type Service struct {
	store             Store
	clock             func() time.Time
	inactivityTimeout time.Duration
	events            *stream.Stream
}

type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithInactivityTimeout overrides the auto-complete threshold.
func WithInactivityTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.inactivityTimeout = d
		}
	}
}

// WithEvents attaches a stream that receives session lifecycle events.
func WithEvents(events *stream.Stream) Option {
	return func(s *Service) { s.events = events }
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("tracking store is required")
	}
	s := &Service{
		store:             store,
		clock:             time.Now,
		inactivityTimeout: DefaultInactivityTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StartSession opens a new active session for the user. Fails with
// ErrSessionActive while a previous session is still open.
func (s *Service) StartSession(ctx context.Context, userID, subjectID, subjectType string, localStart time.Time) (Session, error) {
	userID = strings.TrimSpace(userID)
	subjectID = strings.TrimSpace(subjectID)
	subjectType = strings.TrimSpace(subjectType)
	if userID == "" || subjectID == "" || subjectType == "" {
		return Session{}, fmt.Errorf("%w: user_id, subject_id and subject_type are required", ErrInvalidInput)
	}
	now := s.clock().UTC()
	if localStart.IsZero() {
		localStart = now
	}
	sess, err := s.store.CreateSession(ctx, Session{
		ID:             ids.New(),
		UserID:         userID,
		SubjectID:      subjectID,
		SubjectType:    subjectType,
		Status:         StatusActive,
		StartTime:      now,
		LastPing:       now,
		LastActivity:   now,
		LocalStartTime: localStart,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return Session{}, err
	}
	obs.SessionStarted()
	s.publish(stream.SessionEvent{
		Type:        stream.EventStarted,
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		SubjectID:   sess.SubjectID,
		SubjectType: sess.SubjectType,
		Timestamp:   now,
	})
	return sess, nil
}

// Heartbeat records liveness for an active session. A heartbeat against a
// missing, foreign, or already-completed session reports invalid_session
// instead of erroring so polling clients can stop gracefully.
//
// An inactive heartbeat past the timeout completes the session in place. This
// path intentionally skips aggregation: idle tail time is not counted toward
// trackers or daily logs.
func (s *Service) Heartbeat(ctx context.Context, userID, sessionID string, isActive bool) (HeartbeatResult, error) {
	sess, err := s.store.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return HeartbeatResult{Status: ResultInvalidSession}, nil
		}
		return HeartbeatResult{}, err
	}
	if sess.UserID != strings.TrimSpace(userID) || sess.Status != StatusActive {
		return HeartbeatResult{Status: ResultInvalidSession}, nil
	}

	now := s.clock().UTC()
	lastActive := now
	if !isActive {
		switch {
		case !sess.LastActivity.IsZero():
			lastActive = sess.LastActivity
		case !sess.LastPing.IsZero():
			lastActive = sess.LastPing
		default:
			lastActive = sess.StartTime
		}
	}

	if !isActive && now.Sub(lastActive) > s.inactivityTimeout {
		elapsed := now.Sub(sess.StartTime).Milliseconds()
		sess.Status = StatusCompleted
		sess.EndTime = now
		sess.InactivityEnded = true
		sess.DurationMillis = elapsed
		sess.UpdatedAt = now
		if _, err := s.store.UpdateSession(ctx, sess); err != nil {
			return HeartbeatResult{}, err
		}
		obs.SessionCompleted("inactivity")
		s.publish(stream.SessionEvent{
			Type:           stream.EventAutoPaused,
			SessionID:      sess.ID,
			UserID:         sess.UserID,
			SubjectID:      sess.SubjectID,
			SubjectType:    sess.SubjectType,
			DurationMillis: elapsed,
			Timestamp:      now,
		})
		return HeartbeatResult{Status: ResultAutoPaused, DurationMillis: elapsed}, nil
	}

	sess.LastPing = now
	if isActive {
		sess.LastActivity = now
	}
	sess.UpdatedAt = now
	if _, err := s.store.UpdateSession(ctx, sess); err != nil {
		return HeartbeatResult{}, err
	}
	return HeartbeatResult{Status: ResultUpdated}, nil
}

// EndSession completes the session and folds its duration into the
// (user, subject) tracker and the daily log for the server date at end time.
// A second call is idempotent: it reports already_completed with the
// originally recorded duration and aggregates nothing.
func (s *Service) EndSession(ctx context.Context, userID, sessionID string, localEnd time.Time) (EndResult, error) {
	sess, err := s.store.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return EndResult{}, err
	}
	if sess.UserID != strings.TrimSpace(userID) {
		return EndResult{}, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if sess.Status == StatusCompleted {
		return EndResult{
			Status:         ResultAlreadyCompleted,
			DurationMillis: sess.DurationMillis,
			EndedAt:        sess.EndTime,
		}, nil
	}

	now := s.clock().UTC()
	if sess.StartTime.After(now) {
		return EndResult{}, fmt.Errorf("%w: started %s", ErrClockSkew, sess.StartTime.Format(time.RFC3339))
	}
	duration := now.Sub(sess.StartTime)
	if duration > maxSessionDuration {
		return EndResult{}, fmt.Errorf("%w: %s", ErrSessionTooLong, duration)
	}
	if localEnd.IsZero() {
		localEnd = now
	}

	sess.Status = StatusCompleted
	sess.EndTime = now
	sess.LocalEndTime = localEnd
	sess.DurationMillis = duration.Milliseconds()
	sess.UpdatedAt = now
	if _, err := s.store.UpdateSession(ctx, sess); err != nil {
		return EndResult{}, err
	}
	if err := s.aggregate(ctx, sess, now); err != nil {
		return EndResult{}, err
	}
	obs.SessionCompleted("manual")
	s.publish(stream.SessionEvent{
		Type:           stream.EventCompleted,
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		SubjectID:      sess.SubjectID,
		SubjectType:    sess.SubjectType,
		DurationMillis: sess.DurationMillis,
		Timestamp:      now,
	})
	return EndResult{
		Status:         ResultCompleted,
		DurationMillis: sess.DurationMillis,
		EndedAt:        now,
	}, nil
}

// SyncOfflineSessions replays client-buffered sessions. Each entry is
// processed in isolation: a bad entry yields a failure record echoing the
// input and does not abort its siblings. Synthesized sessions are backdated
// from the processing instant by the client-reported duration, so the whole
// batch lands in the same day bucket. Retried batches double-count; callers
// own idempotency.
func (s *Service) SyncOfflineSessions(ctx context.Context, userID string, entries []OfflineEntry) ([]OfflineResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: at least one session entry is required", ErrInvalidInput)
	}

	now := s.clock().UTC()
	results := make([]OfflineResult, 0, len(entries))
	for i := range entries {
		entry := entries[i]
		sessionID, err := s.syncOne(ctx, userID, entry, now)
		if err != nil {
			obs.OfflineEntrySynced("failed")
			results = append(results, OfflineResult{Success: false, Error: err.Error(), Entry: &entry})
			continue
		}
		obs.OfflineEntrySynced("ok")
		results = append(results, OfflineResult{Success: true, SessionID: sessionID})
	}
	return results, nil
}

func (s *Service) syncOne(ctx context.Context, userID string, entry OfflineEntry, now time.Time) (string, error) {
	subjectID := strings.TrimSpace(entry.SubjectID)
	subjectType := strings.TrimSpace(entry.SubjectType)
	if subjectID == "" || subjectType == "" {
		return "", fmt.Errorf("%w: subject_id and subject_type are required", ErrInvalidInput)
	}
	if entry.DurationMillis <= 0 {
		return "", fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	duration := time.Duration(entry.DurationMillis) * time.Millisecond
	if duration > maxSessionDuration {
		return "", fmt.Errorf("%w: %s", ErrSessionTooLong, duration)
	}

	sess := Session{
		ID:             ids.New(),
		UserID:         userID,
		SubjectID:      subjectID,
		SubjectType:    subjectType,
		Status:         StatusCompleted,
		StartTime:      now.Add(-duration),
		LastPing:       now,
		LastActivity:   now,
		EndTime:        now,
		LocalStartTime: entry.LocalStartTime,
		LocalEndTime:   entry.LocalEndTime,
		OfflineSynced:  true,
		ClientKey:      strings.TrimSpace(entry.ClientKey),
		DurationMillis: entry.DurationMillis,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	sess, err := s.store.CreateSession(ctx, sess)
	if err != nil {
		return "", err
	}
	if err := s.aggregate(ctx, sess, now); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// aggregate folds a completed session into both aggregate rows. Day comes
// from the clock at completion time; a session spanning midnight attributes
// its whole duration to the day it ended.
func (s *Service) aggregate(ctx context.Context, sess Session, now time.Time) error {
	if _, err := s.store.AddToTracker(ctx, sess.UserID, sess.SubjectID, sess.SubjectType, sess.DurationMillis, now); err != nil {
		return err
	}
	day := now.Format(time.DateOnly)
	if _, err := s.store.AppendDailyLog(ctx, sess.UserID, day, sess.DurationMillis, sess.ID, now); err != nil {
		return err
	}
	return nil
}

// ActiveSession returns the caller's open session, if any.
func (s *Service) ActiveSession(ctx context.Context, userID string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.ActiveSession(ctx, userID)
}

// Trackers lists the caller's aggregates, optionally filtered by subject.
func (s *Service) Trackers(ctx context.Context, userID, subjectID string) ([]Tracker, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.ListTrackers(ctx, userID, strings.TrimSpace(subjectID))
}

// DailyLogs lists the caller's daily aggregates, optionally for a single day.
func (s *Service) DailyLogs(ctx context.Context, userID, day string) ([]DailyLog, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	day = strings.TrimSpace(day)
	if day != "" {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			return nil, fmt.Errorf("%w: day must be YYYY-MM-DD", ErrInvalidInput)
		}
	}
	return s.store.ListDailyLogs(ctx, userID, day)
}

func (s *Service) publish(evt stream.SessionEvent) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}
