package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/julianstephens/ptlog/internal/logger"
	"github.com/julianstephens/ptlog/internal/migration"
	"github.com/julianstephens/ptlog/migrations"
)

const timeLayout = time.RFC3339Nano

var _ Storage = (*SQLiteStorage)(nil)

// SQLiteStorage keeps the queue in a local SQLite database. Every append is
// its own transaction with synchronous=FULL, so an acknowledged item
// survives a crash or power loss.
type SQLiteStorage struct {
	path string
	db   *sql.DB
}

func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	return "file:" + path + "?" + q.Encode()
}

// Open creates the database if needed and applies the queue migrations.
func (s *SQLiteStorage) Open() error {
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(s.path))
	if err != nil {
		return fmt.Errorf("failed to open queue database: %w", err)
	}
	db.SetMaxOpenConns(1)

	subFS, err := fs.Sub(migrations.FS, "queue")
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to access queue migrations: %w", err)
	}
	runner := migration.NewRunner(db, subFS, migration.DriverSQLite)
	if _, err := runner.ApplyMigrations(func(msg string) { logger.Debug(msg) }); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate queue database: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStorage) Path() string {
	return s.path
}

// DB returns the underlying connection, nil before Open.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStorage) Append(ctx context.Context, item Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		"INSERT INTO queue_items (owner, idempotency_key, payload, enqueued_at) VALUES (?, ?, ?, ?)",
		item.Owner, item.IdempotencyKey, string(item.Payload), item.EnqueuedAt.UTC().Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Pending(ctx context.Context, owner string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, owner, idempotency_key, payload, enqueued_at, claimed_at FROM queue_items WHERE owner = ? ORDER BY seq",
		owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item       Item
			payload    string
			enqueuedAt string
			claimedAt  sql.NullInt64
		)
		if err := rows.Scan(&item.Seq, &item.Owner, &item.IdempotencyKey, &payload, &enqueuedAt, &claimedAt); err != nil {
			return nil, err
		}
		if claimedAt.Valid {
			item.ClaimedAt = time.Unix(0, claimedAt.Int64).UTC()
		}
		item.Payload = []byte(payload)
		item.EnqueuedAt, err = time.Parse(timeLayout, enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid enqueued_at for %s: %w", item.IdempotencyKey, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStorage) Remove(ctx context.Context, owner, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM queue_items WHERE owner = ? AND idempotency_key = ?", owner, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotQueued
	}
	return nil
}

// Claim and Withdraw run their conditional write and the existence check in
// one transaction, so a concurrent process cannot slip between them.
func (s *SQLiteStorage) Claim(ctx context.Context, owner, key string, at, staleBefore time.Time) error {
	return s.conditional(ctx, owner, key, `
		UPDATE queue_items SET claimed_at = ?
		WHERE owner = ? AND idempotency_key = ? AND (claimed_at IS NULL OR claimed_at < ?)`,
		at.UnixNano(), owner, key, staleBefore.UnixNano())
}

func (s *SQLiteStorage) Release(ctx context.Context, owner, key string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE queue_items SET claimed_at = NULL WHERE owner = ? AND idempotency_key = ?", owner, key)
	return err
}

func (s *SQLiteStorage) Withdraw(ctx context.Context, owner, key string, staleBefore time.Time) error {
	return s.conditional(ctx, owner, key, `
		DELETE FROM queue_items
		WHERE owner = ? AND idempotency_key = ? AND (claimed_at IS NULL OR claimed_at < ?)`,
		owner, key, staleBefore.UnixNano())
}

// conditional runs a write guarded on the item holding no live claim. When
// it touches nothing the item is either claimed or gone.
func (s *SQLiteStorage) conditional(ctx context.Context, owner, key, query string, args ...interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM queue_items WHERE owner = ? AND idempotency_key = ?)", owner, key).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return ErrInFlight
		}
		return ErrNotQueued
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Purge(ctx context.Context, owner string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM queue_items WHERE owner = ?", owner)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStorage) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT owner FROM queue_items ORDER BY owner")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// Session is the identity currently signed in on this device.
type Session struct {
	Identity   string
	SignedInAt time.Time
}

// ErrNoSession is returned by CurrentSession when nobody is signed in.
var ErrNoSession = errors.New("no identity signed in")

func (s *SQLiteStorage) CurrentSession(ctx context.Context) (Session, error) {
	var (
		sess       Session
		signedInAt string
	)
	err := s.db.QueryRowContext(ctx, "SELECT identity, signed_in_at FROM session WHERE id = 1").Scan(&sess.Identity, &signedInAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	sess.SignedInAt, err = time.Parse(timeLayout, signedInAt)
	if err != nil {
		return Session{}, fmt.Errorf("invalid signed_in_at: %w", err)
	}
	return sess, nil
}

// SignIn replaces the current session. Queued items of a previous identity
// stay in the queue under that identity.
func (s *SQLiteStorage) SignIn(ctx context.Context, identity string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, identity, signed_in_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET identity = excluded.identity, signed_in_at = excluded.signed_in_at`,
		identity, at.UTC().Format(timeLayout))
	return err
}

func (s *SQLiteStorage) SignOut(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE id = 1")
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
