package sessions

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect adapts the shared SQL store to one database.
type Dialect interface {
	// Name is also the driver name passed to sql.Open.
	Name() string

	// Rebind rewrites ? placeholders into the dialect's form.
	Rebind(query string) string

	// Retryable reports whether err is transient contention.
	Retryable(err error) bool
}

// SQLiteDialect targets modernc.org/sqlite.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string               { return "sqlite" }
func (SQLiteDialect) Rebind(query string) string { return query }

func (SQLiteDialect) Retryable(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// PostgresDialect targets lib/pq.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Retryable matches serialization failures and deadlocks.
func (PostgresDialect) Retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLiteDialect{}, nil
	case "postgres", "postgresql", "pq":
		return PostgresDialect{}, nil
	}
	return nil, errors.New("sessions: unsupported driver " + strconv.Quote(driver))
}
