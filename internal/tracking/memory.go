package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"worklane.org/internal/ids"
)

// InMemory keeps sessions and aggregates in maps behind one mutex. The mutex
// serializes the active-session check with the insert, closing the
// check-then-act race the interface contract requires the store to close.
type InMemory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	trackers map[string]*Tracker  // userID + "/" + subjectID
	logs     map[string]*DailyLog // userID + "/" + day
}

func NewInMemory() *InMemory {
	return &InMemory{
		sessions: make(map[string]*Session),
		trackers: make(map[string]*Tracker),
		logs:     make(map[string]*DailyLog),
	}
}

func (s *InMemory) CreateSession(ctx context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return Session{}, fmt.Errorf("tracking: session %s already exists", sess.ID)
	}
	if sess.Status == StatusActive {
		for _, existing := range s.sessions {
			if existing.UserID == sess.UserID && existing.Status == StatusActive {
				return Session{}, fmt.Errorf("%w: session %s", ErrSessionActive, existing.ID)
			}
		}
	}
	stored := sess
	s.sessions[sess.ID] = &stored
	return stored, nil
}

func (s *InMemory) GetSession(ctx context.Context, sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return *sess, nil
}

func (s *InMemory) UpdateSession(ctx context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return Session{}, fmt.Errorf("%w: session %s", ErrNotFound, sess.ID)
	}
	stored := sess
	s.sessions[sess.ID] = &stored
	return stored, nil
}

func (s *InMemory) ActiveSession(ctx context.Context, userID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status == StatusActive {
			return *sess, nil
		}
	}
	return Session{}, fmt.Errorf("%w: no active session for user %s", ErrNotFound, userID)
}

func (s *InMemory) AddToTracker(ctx context.Context, userID, subjectID, subjectType string, durationMillis int64, now time.Time) (Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + subjectID
	t, ok := s.trackers[key]
	if !ok {
		t = &Tracker{
			ID:          ids.New(),
			UserID:      userID,
			SubjectID:   subjectID,
			SubjectType: subjectType,
			CreatedAt:   now,
		}
		s.trackers[key] = t
	}
	t.DurationMillis += durationMillis
	t.UpdatedAt = now
	return *t, nil
}

func (s *InMemory) AppendDailyLog(ctx context.Context, userID, day string, durationMillis int64, sessionID string, now time.Time) (DailyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + day
	l, ok := s.logs[key]
	if !ok {
		l = &DailyLog{
			ID:        ids.New(),
			UserID:    userID,
			Day:       day,
			CreatedAt: now,
		}
		s.logs[key] = l
	}
	l.DurationMillis += durationMillis
	l.SessionIDs = append(l.SessionIDs, sessionID)
	l.UpdatedAt = now
	return *l, nil
}

func (s *InMemory) ListTrackers(ctx context.Context, userID, subjectID string) ([]Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Tracker, 0)
	for _, t := range s.trackers {
		if t.UserID != userID {
			continue
		}
		if subjectID != "" && t.SubjectID != subjectID {
			continue
		}
		result = append(result, *t)
	}
	return result, nil
}

func (s *InMemory) ListDailyLogs(ctx context.Context, userID, day string) ([]DailyLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]DailyLog, 0)
	for _, l := range s.logs {
		if l.UserID != userID {
			continue
		}
		if day != "" && l.Day != day {
			continue
		}
		copied := *l
		copied.SessionIDs = append([]string(nil), l.SessionIDs...)
		result = append(result, copied)
	}
	return result, nil
}
