package stream

import (
	"context"
	"sync"
	"time"
)

// Event types published on session lifecycle transitions.
const (
	EventStarted    = "started"
	EventCompleted  = "completed"
	EventAutoPaused = "auto_paused"
)

// SessionEvent describes one session lifecycle transition for live consumers.
type SessionEvent struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	SubjectID      string    `json:"subject_id"`
	SubjectType    string    `json:"subject_type"`
	DurationMillis int64     `json:"duration_ms,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stream fan-outs session events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan SessionEvent
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan SessionEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan SessionEvent {
	ch := make(chan SessionEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt SessionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
