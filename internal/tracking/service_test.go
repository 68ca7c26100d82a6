package tracking

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testClock is a hand-driven clock for exercising inactivity and midnight
// boundaries.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T, opts ...Option) (*Service, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc, err := NewService(NewInMemory(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, clock
}

func TestStartSessionRejectsSecondActive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if first.Status != StatusActive {
		t.Fatalf("expected active status, got %s", first.Status)
	}

	if _, err := svc.StartSession(ctx, "user-1", "task-2", "task", time.Time{}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	// A different user is unaffected.
	if _, err := svc.StartSession(ctx, "user-2", "task-1", "task", time.Time{}); err != nil {
		t.Fatalf("StartSession for second user: %v", err)
	}

	// Ending the first session frees the slot.
	if _, err := svc.EndSession(ctx, "user-1", first.ID, time.Time{}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := svc.StartSession(ctx, "user-1", "task-2", "task", time.Time{}); err != nil {
		t.Fatalf("StartSession after end: %v", err)
	}
}

func TestEndSessionAggregatesIntoEndDay(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	// Starts at 23:30 on March 10, ends one hour later on March 11.
	clock.now = time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	sess, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	clock.Advance(time.Hour)

	res, err := svc.EndSession(ctx, "user-1", sess.ID, time.Time{})
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if res.Status != ResultCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.DurationMillis != 3600000 {
		t.Fatalf("expected 3600000 ms, got %d", res.DurationMillis)
	}

	trackers, err := svc.Trackers(ctx, "user-1", "task-1")
	if err != nil {
		t.Fatalf("Trackers: %v", err)
	}
	if len(trackers) != 1 || trackers[0].DurationMillis != 3600000 {
		t.Fatalf("tracker not accumulated: %+v", trackers)
	}

	// The whole duration lands on the end day, not the start day.
	logs, err := svc.DailyLogs(ctx, "user-1", "2026-03-11")
	if err != nil {
		t.Fatalf("DailyLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].DurationMillis != 3600000 {
		t.Fatalf("daily log not accumulated on end day: %+v", logs)
	}
	if len(logs[0].SessionIDs) != 1 || logs[0].SessionIDs[0] != sess.ID {
		t.Fatalf("session id not appended: %v", logs[0].SessionIDs)
	}
	startDay, err := svc.DailyLogs(ctx, "user-1", "2026-03-10")
	if err != nil {
		t.Fatalf("DailyLogs: %v", err)
	}
	if len(startDay) != 0 {
		t.Fatalf("start day must carry nothing: %+v", startDay)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	clock.Advance(30 * time.Minute)

	first, err := svc.EndSession(ctx, "user-1", sess.ID, time.Time{})
	if err != nil {
		t.Fatalf("first EndSession: %v", err)
	}
	clock.Advance(10 * time.Minute)

	second, err := svc.EndSession(ctx, "user-1", sess.ID, time.Time{})
	if err != nil {
		t.Fatalf("second EndSession: %v", err)
	}
	if second.Status != ResultAlreadyCompleted {
		t.Fatalf("expected already_completed, got %s", second.Status)
	}
	if second.DurationMillis != first.DurationMillis {
		t.Fatalf("repeat end changed duration: %d != %d", second.DurationMillis, first.DurationMillis)
	}
	if !second.EndedAt.Equal(first.EndedAt) {
		t.Fatalf("repeat end changed end time: %s != %s", second.EndedAt, first.EndedAt)
	}

	trackers, _ := svc.Trackers(ctx, "user-1", "task-1")
	if len(trackers) != 1 || trackers[0].DurationMillis != first.DurationMillis {
		t.Fatalf("tracker double-counted: %+v", trackers)
	}
	logs, _ := svc.DailyLogs(ctx, "user-1", "")
	if len(logs) != 1 || len(logs[0].SessionIDs) != 1 {
		t.Fatalf("daily log double-counted: %+v", logs)
	}
}

func TestEndSessionGuards(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// Clock moved backwards past the start: skew guard.
	clock.Advance(-time.Minute)
	if _, err := svc.EndSession(ctx, "user-1", sess.ID, time.Time{}); !errors.Is(err, ErrClockSkew) {
		t.Fatalf("expected ErrClockSkew, got %v", err)
	}

	// Runaway timer: over 24 hours.
	clock.Advance(25 * time.Hour)
	if _, err := svc.EndSession(ctx, "user-1", sess.ID, time.Time{}); !errors.Is(err, ErrSessionTooLong) {
		t.Fatalf("expected ErrSessionTooLong, got %v", err)
	}

	// Someone else's session reads as not found.
	if _, err := svc.EndSession(ctx, "user-2", sess.ID, time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign session, got %v", err)
	}
	if _, err := svc.EndSession(ctx, "user-1", "missing", time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing session, got %v", err)
	}
}

func TestHeartbeatKeepsSessionAlive(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	clock.Advance(30 * time.Second)
	res, err := svc.Heartbeat(ctx, "user-1", sess.ID, true)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if res.Status != ResultUpdated {
		t.Fatalf("expected updated, got %s", res.Status)
	}

	// An active heartbeat refreshes last activity, so an inactive one right
	// after does not trip the timeout.
	clock.Advance(30 * time.Second)
	res, err = svc.Heartbeat(ctx, "user-1", sess.ID, false)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if res.Status != ResultUpdated {
		t.Fatalf("expected updated within timeout, got %s", res.Status)
	}
}

func TestHeartbeatAutoCompletesWithoutAggregation(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	clock.Advance(2 * time.Minute)
	res, err := svc.Heartbeat(ctx, "user-1", sess.ID, false)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if res.Status != ResultAutoPaused {
		t.Fatalf("expected auto_paused, got %s", res.Status)
	}
	if res.DurationMillis != (2 * time.Minute).Milliseconds() {
		t.Fatalf("unexpected elapsed duration: %d", res.DurationMillis)
	}

	got, err := svc.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusCompleted || !got.InactivityEnded {
		t.Fatalf("session not auto-completed: %+v", got)
	}

	// Idle tail time is not counted.
	trackers, _ := svc.Trackers(ctx, "user-1", "")
	if len(trackers) != 0 {
		t.Fatalf("auto-pause must not aggregate: %+v", trackers)
	}
	logs, _ := svc.DailyLogs(ctx, "user-1", "")
	if len(logs) != 0 {
		t.Fatalf("auto-pause must not aggregate: %+v", logs)
	}

	// A later explicit end settles idempotently.
	end, err := svc.EndSession(ctx, "user-1", sess.ID, time.Time{})
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if end.Status != ResultAlreadyCompleted {
		t.Fatalf("expected already_completed after auto-pause, got %s", end.Status)
	}
	if trackers, _ = svc.Trackers(ctx, "user-1", ""); len(trackers) != 0 {
		t.Fatalf("end after auto-pause must not aggregate: %+v", trackers)
	}
}

func TestHeartbeatSoftFailures(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.Heartbeat(ctx, "user-1", "missing", true)
	if err != nil || res.Status != ResultInvalidSession {
		t.Fatalf("expected soft invalid_session, got %+v, %v", res, err)
	}

	sess, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	res, err = svc.Heartbeat(ctx, "user-2", sess.ID, true)
	if err != nil || res.Status != ResultInvalidSession {
		t.Fatalf("foreign session should soft-fail, got %+v, %v", res, err)
	}

	clock.Advance(time.Minute)
	if _, err := svc.EndSession(ctx, "user-1", sess.ID, time.Time{}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	res, err = svc.Heartbeat(ctx, "user-1", sess.ID, true)
	if err != nil || res.Status != ResultInvalidSession {
		t.Fatalf("completed session should soft-fail, got %+v, %v", res, err)
	}
}

func TestSyncOfflineSessionsPartialBatch(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	entries := []OfflineEntry{
		{SubjectID: "task-1", SubjectType: "task", DurationMillis: 3600000, ClientKey: "batch-1/0"},
		{SubjectID: "", SubjectType: "task", DurationMillis: 1000},
		{SubjectID: "task-2", SubjectType: "task", DurationMillis: -5},
	}
	results, err := svc.SyncOfflineSessions(ctx, "user-1", entries)
	if err != nil {
		t.Fatalf("SyncOfflineSessions: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[0].SessionID == "" {
		t.Fatalf("first entry should succeed: %+v", results[0])
	}
	for i := 1; i < 3; i++ {
		if results[i].Success {
			t.Fatalf("entry %d should fail: %+v", i, results[i])
		}
		if results[i].Entry == nil || results[i].Error == "" {
			t.Fatalf("failed entry %d must echo input and error: %+v", i, results[i])
		}
	}
	if results[1].Entry.DurationMillis != 1000 {
		t.Fatalf("echoed entry mismatch: %+v", results[1].Entry)
	}

	// The good entry aggregated: backdated from now by the client duration.
	sess, err := svc.store.GetSession(ctx, results[0].SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != StatusCompleted || !sess.OfflineSynced {
		t.Fatalf("synthesized session malformed: %+v", sess)
	}
	wantStart := clock.Now().UTC().Add(-time.Hour)
	if !sess.StartTime.Equal(wantStart) {
		t.Fatalf("start not backdated: %s != %s", sess.StartTime, wantStart)
	}
	trackers, _ := svc.Trackers(ctx, "user-1", "task-1")
	if len(trackers) != 1 || trackers[0].DurationMillis != 3600000 {
		t.Fatalf("tracker not updated by sync: %+v", trackers)
	}
	logs, _ := svc.DailyLogs(ctx, "user-1", clock.Now().UTC().Format(time.DateOnly))
	if len(logs) != 1 || logs[0].DurationMillis != 3600000 {
		t.Fatalf("daily log not updated by sync: %+v", logs)
	}

	// An over-cap duration fails its entry.
	over := []OfflineEntry{{SubjectID: "task-3", SubjectType: "task", DurationMillis: (25 * time.Hour).Milliseconds()}}
	results, err = svc.SyncOfflineSessions(ctx, "user-1", over)
	if err != nil || len(results) != 1 || results[0].Success {
		t.Fatalf("over-cap entry should fail in place: %+v, %v", results, err)
	}
}

func TestSyncOfflineSessionsValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SyncOfflineSessions(ctx, "", []OfflineEntry{{}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank user, got %v", err)
	}
	if _, err := svc.SyncOfflineSessions(ctx, "user-1", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty batch, got %v", err)
	}
}

func TestActiveSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.ActiveSession(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	sess, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	got, err := svc.ActiveSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("wrong active session: %s != %s", got.ID, sess.ID)
	}
}

func TestDailyLogsRejectsBadDate(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.DailyLogs(context.Background(), "user-1", "03/10/2026"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// faultStore fails GetSession with an injectable error and delegates the rest.
type faultStore struct {
	Store
	getSessionErr error
}

func (s *faultStore) GetSession(ctx context.Context, id string) (Session, error) {
	if s.getSessionErr != nil {
		return Session{}, s.getSessionErr
	}
	return s.Store.GetSession(ctx, id)
}

func TestHeartbeatPropagatesStoreFailure(t *testing.T) {
	store := &faultStore{Store: NewInMemory()}
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// An infrastructure failure must surface as an error, not as the soft
	// invalid_session status that tells clients to stop polling.
	store.getSessionErr = errors.New("connection reset by peer")
	res, err := svc.Heartbeat(ctx, "user-1", sess.ID, true)
	if err == nil {
		t.Fatalf("expected store failure to propagate, got result %+v", res)
	}
	if res.Status == ResultInvalidSession {
		t.Fatal("store failure reported as invalid_session")
	}

	// A genuinely missing session still takes the soft path.
	store.getSessionErr = nil
	res, err = svc.Heartbeat(ctx, "user-1", "missing", true)
	if err != nil {
		t.Fatalf("Heartbeat for missing session: %v", err)
	}
	if res.Status != ResultInvalidSession {
		t.Fatalf("expected invalid_session, got %s", res.Status)
	}
}

func TestAggregateTimestampsFollowClock(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "user-1", "task-1", "task", time.Time{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := svc.EndSession(ctx, "user-1", sess.ID, time.Time{}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	want := clock.Now().UTC()
	trackers, err := svc.Trackers(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("Trackers: %v", err)
	}
	if len(trackers) != 1 {
		t.Fatalf("expected one tracker, got %d", len(trackers))
	}
	if !trackers[0].CreatedAt.Equal(want) || !trackers[0].UpdatedAt.Equal(want) {
		t.Fatalf("tracker timestamps off the clock: created=%s updated=%s want=%s",
			trackers[0].CreatedAt, trackers[0].UpdatedAt, want)
	}

	logs, err := svc.DailyLogs(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("DailyLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one daily log, got %d", len(logs))
	}
	if !logs[0].CreatedAt.Equal(want) || !logs[0].UpdatedAt.Equal(want) {
		t.Fatalf("daily log timestamps off the clock: created=%s updated=%s want=%s",
			logs[0].CreatedAt, logs[0].UpdatedAt, want)
	}
}
