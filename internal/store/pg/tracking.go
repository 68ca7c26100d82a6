package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"worklane.org/internal/ids"
	"worklane.org/internal/tracking"
)

// uq_time_sessions_active is the partial unique index on (user_id) where
// status = 'active'. Violating it means a second concurrent start lost the
// race, so it maps to ErrSessionActive rather than a generic conflict.
const activeSessionIndex = "uq_time_sessions_active"

func (s *Store) CreateSession(ctx context.Context, sess tracking.Session) (tracking.Session, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into time_sessions (
			id, user_id, subject_id, subject_type, status,
			start_time, last_ping, last_activity, end_time,
			local_start_time, local_end_time,
			inactivity_ended, offline_synced, client_key, duration_ms,
			created_at, updated_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, sess.ID, sess.UserID, sess.SubjectID, sess.SubjectType, sess.Status,
		sess.StartTime, sess.LastPing, sess.LastActivity, nullIfZero(sess.EndTime),
		nullIfZero(sess.LocalStartTime), nullIfZero(sess.LocalEndTime),
		sess.InactivityEnded, sess.OfflineSynced, nullIfEmpty(sess.ClientKey), sess.DurationMillis,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			if pgErr.ConstraintName == activeSessionIndex {
				return tracking.Session{}, fmt.Errorf("%w: user %s", tracking.ErrSessionActive, sess.UserID)
			}
			return tracking.Session{}, fmt.Errorf("tracking: session %s already exists", sess.ID)
		}
		return tracking.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (tracking.Session, error) {
	return s.sessionBy(ctx, `where id = $1`, sessionID)
}

func (s *Store) ActiveSession(ctx context.Context, userID string) (tracking.Session, error) {
	return s.sessionBy(ctx, `where user_id = $1 and status = 'active'`, userID)
}

func (s *Store) sessionBy(ctx context.Context, clause string, arg any) (tracking.Session, error) {
	var (
		sess      tracking.Session
		endTime   sql.NullTime
		localS    sql.NullTime
		localE    sql.NullTime
		clientKey sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, subject_id, subject_type, status,
			start_time, last_ping, last_activity, end_time,
			local_start_time, local_end_time,
			inactivity_ended, offline_synced, client_key, duration_ms,
			created_at, updated_at
		from time_sessions `+clause, arg,
	).Scan(&sess.ID, &sess.UserID, &sess.SubjectID, &sess.SubjectType, &sess.Status,
		&sess.StartTime, &sess.LastPing, &sess.LastActivity, &endTime,
		&localS, &localE,
		&sess.InactivityEnded, &sess.OfflineSynced, &clientKey, &sess.DurationMillis,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.Session{}, fmt.Errorf("%w: session", tracking.ErrNotFound)
	}
	if err != nil {
		return tracking.Session{}, err
	}
	sess.EndTime = endTime.Time
	sess.LocalStartTime = localS.Time
	sess.LocalEndTime = localE.Time
	sess.ClientKey = clientKey.String
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess tracking.Session) (tracking.Session, error) {
	res, err := s.db.ExecContext(ctx, `
		update time_sessions set
			status = $2, last_ping = $3, last_activity = $4, end_time = $5,
			local_end_time = $6, inactivity_ended = $7, duration_ms = $8,
			updated_at = $9
		where id = $1
	`, sess.ID, sess.Status, sess.LastPing, sess.LastActivity, nullIfZero(sess.EndTime),
		nullIfZero(sess.LocalEndTime), sess.InactivityEnded, sess.DurationMillis, sess.UpdatedAt)
	if err != nil {
		return tracking.Session{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return tracking.Session{}, err
	}
	if affected == 0 {
		return tracking.Session{}, fmt.Errorf("%w: session %s", tracking.ErrNotFound, sess.ID)
	}
	return sess, nil
}

// AddToTracker upserts the (user, subject) aggregate in one statement, so
// concurrent completions serialize on the row instead of racing a
// read-modify-write.
func (s *Store) AddToTracker(ctx context.Context, userID, subjectID, subjectType string, durationMillis int64, now time.Time) (tracking.Tracker, error) {
	var t tracking.Tracker
	err := s.db.QueryRowContext(ctx, `
		insert into time_trackers (id, user_id, subject_id, subject_type, total_duration_ms, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
		on conflict (user_id, subject_id) do update
		set total_duration_ms = time_trackers.total_duration_ms + excluded.total_duration_ms,
			updated_at = excluded.updated_at
		returning id, user_id, subject_id, subject_type, total_duration_ms, created_at, updated_at
	`, ids.New(), userID, subjectID, subjectType, durationMillis, now,
	).Scan(&t.ID, &t.UserID, &t.SubjectID, &t.SubjectType, &t.DurationMillis, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return tracking.Tracker{}, err
	}
	return t, nil
}

// AppendDailyLog upserts the (user, day) aggregate; session ids live in a
// jsonb array appended in place.
func (s *Store) AppendDailyLog(ctx context.Context, userID, day string, durationMillis int64, sessionID string, now time.Time) (tracking.DailyLog, error) {
	var (
		l      tracking.DailyLog
		rawIDs []byte
	)
	err := s.db.QueryRowContext(ctx, `
		insert into user_daily_logs (id, user_id, day, total_duration_ms, session_ids, created_at, updated_at)
		values ($1, $2, $3, $4, jsonb_build_array($5::text), $6, $6)
		on conflict (user_id, day) do update
		set total_duration_ms = user_daily_logs.total_duration_ms + excluded.total_duration_ms,
			session_ids = user_daily_logs.session_ids || excluded.session_ids,
			updated_at = excluded.updated_at
		returning id, user_id, day, total_duration_ms, session_ids, created_at, updated_at
	`, ids.New(), userID, day, durationMillis, sessionID, now,
	).Scan(&l.ID, &l.UserID, &l.Day, &l.DurationMillis, &rawIDs, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return tracking.DailyLog{}, err
	}
	if len(rawIDs) > 0 {
		if err := json.Unmarshal(rawIDs, &l.SessionIDs); err != nil {
			return tracking.DailyLog{}, fmt.Errorf("decode session ids: %w", err)
		}
	}
	return l, nil
}

func (s *Store) ListTrackers(ctx context.Context, userID, subjectID string) ([]tracking.Tracker, error) {
	query := `
		select id, user_id, subject_id, subject_type, total_duration_ms, created_at, updated_at
		from time_trackers where user_id = $1`
	args := []any{userID}
	if subjectID != "" {
		query += ` and subject_id = $2`
		args = append(args, subjectID)
	}
	query += ` order by subject_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []tracking.Tracker{}
	for rows.Next() {
		var t tracking.Tracker
		if err := rows.Scan(&t.ID, &t.UserID, &t.SubjectID, &t.SubjectType, &t.DurationMillis, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) ListDailyLogs(ctx context.Context, userID, day string) ([]tracking.DailyLog, error) {
	query := `
		select id, user_id, day, total_duration_ms, session_ids, created_at, updated_at
		from user_daily_logs where user_id = $1`
	args := []any{userID}
	if day != "" {
		query += ` and day = $2`
		args = append(args, day)
	}
	query += ` order by day desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []tracking.DailyLog{}
	for rows.Next() {
		var (
			l      tracking.DailyLog
			rawIDs []byte
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Day, &l.DurationMillis, &rawIDs, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		if len(rawIDs) > 0 {
			if err := json.Unmarshal(rawIDs, &l.SessionIDs); err != nil {
				return nil, fmt.Errorf("decode session ids: %w", err)
			}
		}
		result = append(result, l)
	}
	return result, rows.Err()
}
