package sessions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/retry"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

func setupMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db, PostgresDialect{},
		WithClock(func() time.Time { return t0 }),
		WithRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1}),
	)
	return store, mock
}

func TestPostgresDialect_Rebind(t *testing.T) {
	got := PostgresDialect{}.Rebind(`SELECT a FROM t WHERE x = ? AND y = ? AND z = ?`)
	want := `SELECT a FROM t WHERE x = $1 AND y = $2 AND z = $3`
	if got != want {
		t.Errorf("Rebind = %q, want %q", got, want)
	}
	if q := (SQLiteDialect{}).Rebind(`x = ?`); q != `x = ?` {
		t.Errorf("sqlite Rebind changed query: %q", q)
	}
}

func TestPostgresDialect_Retryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pq.Error{Code: "40001"}, true},
		{&pq.Error{Code: "40P01"}, true},
		{&pq.Error{Code: "23505"}, false},
		{errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		if got := (PostgresDialect{}).Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"sqlite", "SQLite3", "postgres", "postgresql"} {
		if _, err := DialectFor(name); err != nil {
			t.Errorf("DialectFor(%q): %v", name, err)
		}
	}
	if _, err := DialectFor("mysql"); err == nil {
		t.Error("DialectFor(mysql) should fail")
	}
}

func TestSQLStore_ProposeReturnsRevision(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("INSERT INTO pending_intents").
		WithArgs("s1", "send_message", sqlmock.AnyArg(), `{"to":"ana"}`, "send to ana", "execute_send_message",
			t0.UnixMilli(), t0.Add(10*time.Minute).UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"revision"}).AddRow(int64(4)))

	intent, err := store.Propose(context.Background(), proposal("s1", "send_message", 10*time.Minute))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if intent.Revision != 4 {
		t.Errorf("revision = %d, want 4", intent.Revision)
	}
	if !intent.ExpiresAt().Equal(t0.Add(10 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", intent.ExpiresAt())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_ConfirmNoRows(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("UPDATE pending_intents SET status = 'confirmed'").
		WithArgs("s1", "send_message", int64(2), t0.UnixMilli()).
		WillReturnError(sql.ErrNoRows)

	payload, err := store.ConfirmAndConsume(context.Background(), "s1", "send_message", 2)
	if err != nil || payload != nil {
		t.Fatalf("ConfirmAndConsume = %s, %v; want nil, nil", payload, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_ConfirmReturnsPayload(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("UPDATE pending_intents SET status = 'confirmed'").
		WithArgs("s1", "send_message", int64(1), t0.UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{"to":"ana"}`)))

	payload, err := store.ConfirmAndConsume(context.Background(), "s1", "send_message", 1)
	if err != nil {
		t.Fatalf("ConfirmAndConsume: %v", err)
	}
	if string(payload) != `{"to":"ana"}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestSQLStore_RetriesSerializationFailure(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("UPDATE pending_intents SET status = 'cancelled'").
		WithArgs("s1").
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectExec("UPDATE pending_intents SET status = 'cancelled'").
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := store.CancelAll(context.Background(), "s1"); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_DoesNotRetryOtherErrors(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("DELETE FROM session_context").
		WithArgs("s1").
		WillReturnError(&pq.Error{Code: "42P01"})

	if err := store.Clear(context.Background(), "s1", ""); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_ClearSessionIsTransactional(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM session_context").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("UPDATE pending_intents SET status = 'cancelled'").WithArgs("s1").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if err := store.ClearSession(context.Background(), "s1"); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLStore_IntentNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM pending_intents").
		WithArgs("s1", "send_message").
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))

	_, err := store.Intent(context.Background(), "s1", "send_message")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_GetPendingScansRow(t *testing.T) {
	store, mock := setupMockStore(t)

	cols := []string{"session_id", "action_type", "intent_id", "status", "payload", "summary", "execute_tool", "created_at", "expires_at", "revision"}
	mock.ExpectQuery("SELECT (.+) FROM pending_intents").
		WithArgs("s1", "send_message").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"s1", "send_message", "id-1", "pending", []byte(`{}`), "summary", "execute_send_message",
			t0.Add(-time.Minute).UnixMilli(), t0.Add(time.Minute).UnixMilli(), int64(3)))

	intent, err := store.GetPending(context.Background(), "s1", "send_message")
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if intent == nil || intent.Revision != 3 || intent.TTL != 2*time.Minute || intent.Status != models.IntentPending {
		t.Fatalf("intent = %+v", intent)
	}
}
