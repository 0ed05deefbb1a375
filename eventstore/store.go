// Package eventstore persists new-mail events in SQLite.
package eventstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/account"
	"github.com/mailpulse/mailpulse/imapclient"
)

// Event is a recorded growth of an account's INBOX.
type Event struct {
	ID         int64
	Account    string
	Folder     string
	Count      uint32
	Previous   uint32
	ReceivedAt time.Time
}

// New returns the number of messages the event added.
func (ev *Event) New() uint32 {
	if ev.Count < ev.Previous {
		return 0
	}
	return ev.Count - ev.Previous
}

type eventRow struct {
	ID         int64  `db:"id"`
	Account    string `db:"account"`
	Folder     string `db:"folder"`
	Count      int64  `db:"count"`
	Previous   int64  `db:"previous"`
	ReceivedAt int64  `db:"received_at"`
}

func (row *eventRow) event() Event {
	return Event{
		ID:         row.ID,
		Account:    row.Account,
		Folder:     row.Folder,
		Count:      uint32(row.Count),
		Previous:   uint32(row.Previous),
		ReceivedAt: time.UnixMilli(row.ReceivedAt).UTC(),
	}
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Account string
	Since   time.Time
	Limit   int
}

// Store is a SQLite-backed event log.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// Writes come from a single recorder; one connection also keeps an
	// in-memory database shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Record stores ev for the INBOX of acct and returns the event ID.
func (s *Store) Record(ctx context.Context, acct string, ev imapclient.NewMailEvent) (int64, error) {
	if acct == "" {
		return 0, &mailpulse.ValidationError{Field: "account", Reason: "empty"}
	}
	t := ev.Time
	if t.IsZero() {
		t = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO new_mail_events (account, folder, count, previous, received_at) VALUES (?, ?, ?, ?, ?)`,
		account.Key(acct), mailpulse.InboxName, int64(ev.Count), int64(ev.Previous), t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}
	return res.LastInsertId()
}

// List returns the events matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Event, error) {
	var conditions []string
	var args []interface{}
	if f.Account != "" {
		conditions = append(conditions, "account = ?")
		args = append(args, account.Key(f.Account))
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "received_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}

	query := "SELECT id, account, folder, count, previous, received_at FROM new_mail_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY received_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	events := make([]Event, 0, len(rows))
	for i := range rows {
		events = append(events, rows[i].event())
	}
	return events, nil
}

// Prune deletes the events received before t and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM new_mail_events WHERE received_at < ?", t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return res.RowsAffected()
}
