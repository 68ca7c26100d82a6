package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"worklane.org/internal/rbac"
	"worklane.org/internal/tracking"
)

// passthroughConverter lets slice arguments (pgx array binds) reach the mock
// instead of being rejected by the default converter.
type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v any) (driver.Value, error) { return driver.Value(v), nil }

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthroughConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateUser(context.Background(), rbac.User{ID: "u1", Email: "dup@example.com"})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRoleRollsBackOnBadPermission(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into roles").
		WithArgs("r1", "editor", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "missing").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	_, err := store.CreateRole(context.Background(), rbac.Role{
		ID:          "r1",
		Name:        "editor",
		Permissions: []string{"missing"},
	})
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteModulesAbortsOnMissingID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select count").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := store.DeleteModules(context.Background(), []string{"m1", "missing"})
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteModulesScrubsInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select count").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("delete from module_permissions").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from company_modules").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("delete from modules").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := store.DeleteModules(context.Background(), []string{"m1", "m2"}); err != nil {
		t.Fatalf("DeleteModules: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateSessionMapsActiveIndexViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into time_sessions").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: activeSessionIndex})

	_, err := store.CreateSession(context.Background(), tracking.Session{
		ID:     "s1",
		UserID: "u1",
		Status: tracking.StatusActive,
	})
	if !errors.Is(err, tracking.ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddToTrackerUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("insert into time_trackers").
		WithArgs(sqlmock.AnyArg(), "u1", "task-1", "task", int64(3600000), now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "subject_id", "subject_type", "total_duration_ms", "created_at", "updated_at",
		}).AddRow("t1", "u1", "task-1", "task", int64(7200000), now, now))

	tracker, err := store.AddToTracker(context.Background(), "u1", "task-1", "task", 3600000, now)
	if err != nil {
		t.Fatalf("AddToTracker: %v", err)
	}
	if tracker.DurationMillis != 7200000 {
		t.Fatalf("expected accumulated total, got %d", tracker.DurationMillis)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendDailyLogDecodesSessionIDs(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("insert into user_daily_logs").
		WithArgs(sqlmock.AnyArg(), "u1", "2026-03-11", int64(3600000), "s1", now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "day", "total_duration_ms", "session_ids", "created_at", "updated_at",
		}).AddRow("l1", "u1", "2026-03-11", int64(3600000), []byte(`["s0","s1"]`), now, now))

	log, err := store.AppendDailyLog(context.Background(), "u1", "2026-03-11", 3600000, "s1", now)
	if err != nil {
		t.Fatalf("AppendDailyLog: %v", err)
	}
	if len(log.SessionIDs) != 2 || log.SessionIDs[1] != "s1" {
		t.Fatalf("session ids not decoded: %v", log.SessionIDs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
