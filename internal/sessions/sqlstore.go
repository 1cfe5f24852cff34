package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/observability"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/retry"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

const (
	contextColumns = `session_id, kind, key, value, extra, updated_at, revision`
	intentColumns  = `session_id, action_type, intent_id, status, payload, summary, execute_tool, created_at, expires_at, revision`
)

// SQLStore implements Store over database/sql. Timestamps are unix
// milliseconds taken from the store's clock, never from the database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     Clock
	retry   retry.Config
	metrics *observability.Metrics
	logger  *observability.Logger
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

func WithClock(c Clock) SQLOption {
	return func(s *SQLStore) { s.now = c }
}

func WithMetrics(m *observability.Metrics) SQLOption {
	return func(s *SQLStore) { s.metrics = m }
}

func WithLogger(l *observability.Logger) SQLOption {
	return func(s *SQLStore) { s.logger = l }
}

// WithRetry sets the backoff for contended writes.
func WithRetry(cfg retry.Config) SQLOption {
	return func(s *SQLStore) { s.retry = cfg }
}

// NewSQLStore wraps an open database. The schema must already be migrated.
func NewSQLStore(db *sql.DB, dialect Dialect, opts ...SQLOption) *SQLStore {
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		now:     time.Now,
		retry:   retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for migrations.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) q(query string) string { return s.dialect.Rebind(query) }

// write runs op with contention retries and records its latency.
func (s *SQLStore) write(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	cfg := s.retry
	cfg.Retryable = s.dialect.Retryable
	cfg.OnRetry = func(attempt int, err error) {
		s.logger.Debug(ctx, "session store write contended", "op", op, "attempt", attempt, "error", err)
	}
	res := retry.Do(ctx, cfg, fn)
	s.metrics.RecordStoreOp(s.dialect.Name(), op, time.Since(start))
	if res.Err != nil {
		s.metrics.RecordError("sessions", op)
		return fmt.Errorf("%s: %w", op, res.Err)
	}
	return nil
}

func (s *SQLStore) read(op string, start time.Time) {
	s.metrics.RecordStoreOp(s.dialect.Name(), op, time.Since(start))
}

func (s *SQLStore) Set(ctx context.Context, entry models.ContextEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	var extra any
	if len(entry.Extra) > 0 {
		raw, err := json.Marshal(entry.Extra)
		if err != nil {
			return fmt.Errorf("marshal extra: %w", err)
		}
		extra = string(raw)
	}
	query := s.q(`INSERT INTO session_context (` + contextColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (session_id, kind, key) DO UPDATE SET
			value = excluded.value,
			extra = excluded.extra,
			updated_at = excluded.updated_at,
			revision = session_context.revision + 1`)
	return s.write(ctx, "context_set", func() error {
		_, err := s.db.ExecContext(ctx, query,
			entry.SessionID, entry.Kind, entry.Key, entry.Value, extra, s.now().UnixMilli())
		return err
	})
}

func (s *SQLStore) Get(ctx context.Context, sessionID, kind, key string) ([]models.ContextEntry, error) {
	defer s.read("context_get", time.Now())

	query := `SELECT ` + contextColumns + ` FROM session_context WHERE session_id = ?`
	args := []any{sessionID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	if key != "" {
		query += ` AND key = ?`
		args = append(args, key)
	}
	query += ` ORDER BY updated_at DESC, kind, key`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query context: %w", err)
	}
	defer rows.Close()

	var out []models.ContextEntry
	for rows.Next() {
		var (
			e         models.ContextEntry
			extra     sql.NullString
			updatedAt int64
		)
		if err := rows.Scan(&e.SessionID, &e.Kind, &e.Key, &e.Value, &extra, &updatedAt, &e.Revision); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &e.Extra); err != nil {
				return nil, fmt.Errorf("decode extra: %w", err)
			}
		}
		e.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate context: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Clear(ctx context.Context, sessionID, kind string) error {
	query := `DELETE FROM session_context WHERE session_id = ?`
	args := []any{sessionID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	return s.write(ctx, "context_clear", func() error {
		_, err := s.db.ExecContext(ctx, s.q(query), args...)
		return err
	})
}

func (s *SQLStore) Propose(ctx context.Context, p models.Proposal) (*models.PendingIntent, error) {
	if err := validateProposal(p); err != nil {
		return nil, err
	}
	now := s.now()
	created := now.UnixMilli()
	intent := &models.PendingIntent{
		ID:          uuid.NewString(),
		SessionID:   p.SessionID,
		ActionType:  p.ActionType,
		Status:      models.IntentPending,
		Payload:     append(json.RawMessage(nil), payloadOrEmpty(p.Payload)...),
		Summary:     p.Summary,
		ExecuteTool: p.ExecuteTool,
		CreatedAt:   time.UnixMilli(created),
		TTL:         p.TTL.Truncate(time.Millisecond),
	}
	query := s.q(`INSERT INTO pending_intents (` + intentColumns + `)
		VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?, 1)
		ON CONFLICT (session_id, action_type) DO UPDATE SET
			intent_id = excluded.intent_id,
			status = 'pending',
			payload = excluded.payload,
			summary = excluded.summary,
			execute_tool = excluded.execute_tool,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			revision = pending_intents.revision + 1
		RETURNING revision`)
	err := s.write(ctx, "intent_propose", func() error {
		return s.db.QueryRowContext(ctx, query,
			intent.SessionID, intent.ActionType, intent.ID, string(intent.Payload),
			intent.Summary, intent.ExecuteTool, created, created+intent.TTL.Milliseconds(),
		).Scan(&intent.Revision)
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *SQLStore) GetPending(ctx context.Context, sessionID, actionType string) (*models.PendingIntent, error) {
	intent, err := s.Intent(ctx, sessionID, actionType)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if intent.Status != models.IntentPending {
		return nil, nil
	}
	now := s.now()
	if intent.Expired(now) {
		if err := s.expire(ctx, `session_id = ? AND action_type = ?`, now, sessionID, actionType); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return intent, nil
}

func (s *SQLStore) ListPending(ctx context.Context, sessionID string) ([]models.PendingIntent, error) {
	now := s.now()
	if err := s.expire(ctx, `session_id = ?`, now, sessionID); err != nil {
		return nil, err
	}
	defer s.read("intent_list", time.Now())

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+intentColumns+` FROM pending_intents
		WHERE session_id = ? AND status = 'pending' AND expires_at >= ?
		ORDER BY created_at DESC, action_type`), sessionID, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query intents: %w", err)
	}
	defer rows.Close()

	var out []models.PendingIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intents: %w", err)
	}
	return out, nil
}

// expire marks overdue pending intents matching where as expired.
func (s *SQLStore) expire(ctx context.Context, where string, now time.Time, args ...any) error {
	query := s.q(`UPDATE pending_intents SET status = 'expired'
		WHERE ` + where + ` AND status = 'pending' AND expires_at < ?`)
	args = append(args, now.UnixMilli())
	return s.write(ctx, "intent_expire", func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (s *SQLStore) ConfirmAndConsume(ctx context.Context, sessionID, actionType string, expectedRevision int64) (json.RawMessage, error) {
	query := s.q(`UPDATE pending_intents SET status = 'confirmed'
		WHERE session_id = ? AND action_type = ? AND revision = ?
			AND status = 'pending' AND expires_at >= ?
		RETURNING payload`)
	var payload []byte
	consumed := false
	err := s.write(ctx, "intent_confirm", func() error {
		err := s.db.QueryRowContext(ctx, query, sessionID, actionType, expectedRevision, s.now().UnixMilli()).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err == nil {
			consumed = true
		}
		return err
	})
	if err != nil || !consumed {
		return nil, err
	}
	return json.RawMessage(payload), nil
}

func (s *SQLStore) Cancel(ctx context.Context, sessionID, actionType string) error {
	query := s.q(`UPDATE pending_intents SET status = 'cancelled'
		WHERE session_id = ? AND action_type = ? AND status = 'pending'`)
	return s.write(ctx, "intent_cancel", func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, actionType)
		return err
	})
}

func (s *SQLStore) CancelAll(ctx context.Context, sessionID string) error {
	query := s.q(`UPDATE pending_intents SET status = 'cancelled'
		WHERE session_id = ? AND status = 'pending'`)
	return s.write(ctx, "intent_cancel_all", func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID)
		return err
	})
}

func (s *SQLStore) Intent(ctx context.Context, sessionID, actionType string) (*models.PendingIntent, error) {
	defer s.read("intent_get", time.Now())

	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+intentColumns+` FROM pending_intents
		WHERE session_id = ? AND action_type = ?`), sessionID, actionType)
	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return intent, err
}

func (s *SQLStore) ClearSession(ctx context.Context, sessionID string) error {
	deleteContext := s.q(`DELETE FROM session_context WHERE session_id = ?`)
	cancelIntents := s.q(`UPDATE pending_intents SET status = 'cancelled'
		WHERE session_id = ? AND status = 'pending'`)
	return s.write(ctx, "session_clear", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteContext, sessionID); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, cancelIntents, sessionID); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (s *SQLStore) Sweep(ctx context.Context, retention time.Duration) (SweepResult, error) {
	var res SweepResult
	now := s.now()
	cutoff := now.Add(-retention).UnixMilli()

	steps := []struct {
		query string
		arg   int64
		count *int64
	}{
		{`UPDATE pending_intents SET status = 'expired' WHERE status = 'pending' AND expires_at < ?`, now.UnixMilli(), &res.Expired},
		{`DELETE FROM pending_intents WHERE status <> 'pending' AND expires_at < ?`, cutoff, &res.PurgedIntents},
		{`DELETE FROM session_context WHERE updated_at < ?`, cutoff, &res.PurgedContexts},
	}
	for _, step := range steps {
		query := s.q(step.query)
		err := s.write(ctx, "sweep", func() error {
			r, err := s.db.ExecContext(ctx, query, step.arg)
			if err != nil {
				return err
			}
			n, err := r.RowsAffected()
			if err != nil {
				return err
			}
			*step.count = n
			return nil
		})
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*models.PendingIntent, error) {
	var (
		intent             models.PendingIntent
		status             string
		payload            []byte
		created, expiresAt int64
	)
	err := row.Scan(&intent.SessionID, &intent.ActionType, &intent.ID, &status, &payload,
		&intent.Summary, &intent.ExecuteTool, &created, &expiresAt, &intent.Revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan intent: %w", err)
	}
	intent.Status = models.IntentStatus(strings.TrimSpace(status))
	intent.Payload = json.RawMessage(payload)
	intent.CreatedAt = time.UnixMilli(created)
	intent.TTL = time.Duration(expiresAt-created) * time.Millisecond
	return &intent, nil
}
