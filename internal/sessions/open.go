package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DBConfig configures a SQL-backed store.
type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	AutoMigrate     bool
}

// DefaultDBConfig returns pool settings for Postgres.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		Driver:          "postgres",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		AutoMigrate:     true,
	}
}

// OpenDB opens and pings the database without touching the schema.
func OpenDB(ctx context.Context, cfg DBConfig) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	dsn := cfg.DSN
	if _, ok := dialect.(SQLiteDialect); ok {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(dialect.Name(), dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}

	switch dialect.(type) {
	case SQLiteDialect:
		// One writer avoids SQLITE_BUSY storms under WAL.
		db.SetMaxOpenConns(1)
	default:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}
	return db, dialect, nil
}

// Open returns a migrated SQLStore.
func Open(ctx context.Context, cfg DBConfig, opts ...SQLOption) (*SQLStore, error) {
	db, dialect, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		m, err := NewMigrator(db, dialect)
		if err != nil {
			db.Close()
			return nil, err
		}
		if _, err := m.Up(ctx, 0); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return NewSQLStore(db, dialect, opts...), nil
}

// sqliteDSN turns a bare path into a DSN with WAL and a busy timeout.
func sqliteDSN(path string) string {
	if path == "" {
		path = "chatia.db"
	}
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		path = "file:" + path
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}
