// Package remotedb is the durable record store served by jotd: users, chats
// keyed by owner and messages keyed by chat, in SQLite.
package remotedb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/jot/internal/remote"
	"github.com/matheus3301/jot/internal/remotedb/migrations"
	"github.com/matheus3301/jot/internal/store"
	"github.com/mattn/go-sqlite3"
)

// DB implements remote.Backend.
type DB struct {
	db *store.DB
}

var _ remote.Backend = (*DB)(nil)

// Open opens the database at path and applies pending migrations.
func Open(path string) (*DB, *store.MigrateResult, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	res, err := db.MigrateFS(migrations.FS)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return &DB{db: db}, res, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks the connection.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// Timestamps are stored as Unix nanoseconds. NULL is an absent timestamp.
func toNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}

// mapErr turns constraint violations into remote.ErrInvalid.
func mapErr(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %v: %w", op, err, remote.ErrInvalid)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type scanner interface {
	Scan(dest ...any) error
}
