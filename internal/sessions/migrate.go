package sessions

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema change.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migrator applies the dialect's embedded migrations.
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
	now        Clock
}

func NewMigrator(db *sql.DB, dialect Dialect) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	migrations, err := loadMigrations(dialect)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, dialect: dialect, migrations: migrations, now: time.Now}, nil
}

// Migrations lists the known migrations in order.
func (m *Migrator) Migrations() []Migration {
	return append([]Migration(nil), m.migrations...)
}

// EnsureSchema creates schema_migrations.
func (m *Migrator) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Up applies pending migrations. steps <= 0 applies all of them.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedList(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.ID] = true
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if !done[mig.ID] {
			pending = append(pending, mig)
		}
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	var ids []string
	for _, mig := range pending {
		if strings.TrimSpace(mig.UpSQL) == "" {
			return ids, fmt.Errorf("missing up migration for %s", mig.ID)
		}
		record := m.dialect.Rebind(`INSERT INTO schema_migrations (id, applied_at) VALUES (?, ?)`)
		if err := m.inTx(ctx, mig.ID, mig.UpSQL, record, mig.ID, m.now().UnixMilli()); err != nil {
			return ids, err
		}
		ids = append(ids, mig.ID)
	}
	return ids, nil
}

// Down rolls back the last steps applied migrations, newest first.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedList(ctx)
	if err != nil {
		return nil, err
	}
	if steps > len(applied) {
		steps = len(applied)
	}

	var ids []string
	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		mig, ok := m.byID(applied[i].ID)
		if !ok {
			return ids, fmt.Errorf("migration %s not found", applied[i].ID)
		}
		if strings.TrimSpace(mig.DownSQL) == "" {
			return ids, fmt.Errorf("missing down migration for %s", mig.ID)
		}
		forget := m.dialect.Rebind(`DELETE FROM schema_migrations WHERE id = ?`)
		if err := m.inTx(ctx, mig.ID, mig.DownSQL, forget, mig.ID); err != nil {
			return ids, err
		}
		ids = append(ids, mig.ID)
	}
	return ids, nil
}

func (m *Migrator) inTx(ctx context.Context, id, script, bookkeeping string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("run migration %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", id, err)
	}
	return nil
}

// Status returns applied and pending migrations.
func (m *Migrator) Status(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	if err := m.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := m.appliedList(ctx)
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.ID] = true
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if !done[mig.ID] {
			pending = append(pending, mig)
		}
	}
	return applied, pending, nil
}

func (m *Migrator) appliedList(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			entry AppliedMigration
			ms    int64
		)
		if err := rows.Scan(&entry.ID, &ms); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		entry.AppliedAt = time.UnixMilli(ms)
		applied = append(applied, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema_migrations: %w", err)
	}
	return applied, nil
}

func (m *Migrator) byID(id string) (Migration, bool) {
	for _, mig := range m.migrations {
		if mig.ID == id {
			return mig, true
		}
	}
	return Migration{}, false
}

func loadMigrations(dialect Dialect) ([]Migration, error) {
	dir := path.Join("migrations", dialect.Name())
	paths, err := fs.Glob(migrationsFS, dir+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no migrations for dialect %q", dialect.Name())
	}

	entries := map[string]*Migration{}
	for _, p := range paths {
		base := path.Base(p)
		var suffix string
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			suffix = ".up.sql"
		case strings.HasSuffix(base, ".down.sql"):
			suffix = ".down.sql"
		default:
			continue
		}
		id := strings.TrimSuffix(base, suffix)
		entry := entries[id]
		if entry == nil {
			entry = &Migration{ID: id}
			entries[id] = entry
		}
		data, err := migrationsFS.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", p, err)
		}
		if suffix == ".up.sql" {
			entry.UpSQL = string(data)
		} else {
			entry.DownSQL = string(data)
		}
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Migration, 0, len(ids))
	for _, id := range ids {
		out = append(out, *entries[id])
	}
	return out, nil
}
