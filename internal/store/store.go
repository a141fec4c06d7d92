// Package store persists fetched emails and which of them have been
// processed, so later runs skip work that already happened.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/joshsymonds/inboxrules/internal/gmail"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PersistenceError reports that the local database could not be read or
// written. Runs treat it as fatal.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Record is the metadata kept for a processed message.
type Record struct {
	RunID          string
	ProcessedAt    time.Time
	MatchedRules   []string
	ActionsApplied int
}

// Store is a SQLite-backed record of fetched and processed messages.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (if needed) and migrates the database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, &PersistenceError{Op: "open", Err: fmt.Errorf("create directory %s: %w", dir, err)}
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &PersistenceError{Op: "open", Err: fmt.Errorf("ping: %w", err)}
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, &PersistenceError{Op: "migrate", Err: err}
	}

	logger.DebugContext(ctx, "store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return &PersistenceError{Op: "close", Err: err}
	}
	return nil
}

// SaveEmails upserts the fetched batch in one transaction. Processed state of
// existing rows is preserved.
func (s *Store) SaveEmails(ctx context.Context, emails []gmail.Email) error {
	if len(emails) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "save emails", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO emails (message_id, sender, recipient, subject, body_snippet, labels, received_at, is_unread, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(message_id) DO UPDATE SET
			sender = excluded.sender,
			recipient = excluded.recipient,
			subject = excluded.subject,
			body_snippet = excluded.body_snippet,
			labels = excluded.labels,
			received_at = excluded.received_at,
			is_unread = excluded.is_unread,
			fetched_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return &PersistenceError{Op: "save emails", Err: err}
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range emails {
		if _, err := stmt.ExecContext(ctx,
			string(e.ID), e.Sender, e.Recipient, e.Subject, e.BodySnippet,
			strings.Join(e.Labels, ","), formatTime(e.ReceivedAt), e.IsUnread,
		); err != nil {
			return &PersistenceError{Op: "save emails", Err: fmt.Errorf("message %s: %w", e.ID, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "save emails", Err: err}
	}
	return nil
}

// HasProcessed reports whether id was recorded as processed by any run.
func (s *Store) HasProcessed(ctx context.Context, id gmail.MessageID) (bool, error) {
	var processed bool
	err := s.db.QueryRowContext(ctx, `SELECT processed FROM emails WHERE message_id = ?`, string(id)).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &PersistenceError{Op: "has processed", Err: err}
	}
	return processed, nil
}

// RecordProcessed marks id as processed with the given metadata.
func (s *Store) RecordProcessed(ctx context.Context, id gmail.MessageID, rec Record) error {
	matched := rec.MatchedRules
	if matched == nil {
		matched = []string{}
	}
	matchedJSON, err := json.Marshal(matched)
	if err != nil {
		return &PersistenceError{Op: "record processed", Err: fmt.Errorf("encode matched rules: %w", err)}
	}
	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emails (message_id, processed, processed_at, run_id, matched_rules, actions_applied)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			processed = 1,
			processed_at = excluded.processed_at,
			run_id = excluded.run_id,
			matched_rules = excluded.matched_rules,
			actions_applied = excluded.actions_applied
	`, string(id), formatTime(processedAt), rec.RunID, string(matchedJSON), rec.ActionsApplied)
	if err != nil {
		return &PersistenceError{Op: "record processed", Err: fmt.Errorf("message %s: %w", id, err)}
	}
	return nil
}

// UpdateEmailState rewrites the read state and labels of a stored row after
// actions changed them in Gmail. Unknown ids are ignored.
func (s *Store) UpdateEmailState(ctx context.Context, id gmail.MessageID, unread bool, labels []string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE emails SET is_unread = ?, labels = ? WHERE message_id = ?`,
		unread, strings.Join(labels, ","), string(id))
	if err != nil {
		return &PersistenceError{Op: "update email state", Err: fmt.Errorf("message %s: %w", id, err)}
	}
	return nil
}

// Email loads the stored copy of a message.
func (s *Store) Email(ctx context.Context, id gmail.MessageID) (gmail.Email, bool, error) {
	var (
		e          = gmail.Email{ID: id}
		labels     string
		receivedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT sender, recipient, subject, body_snippet, labels, received_at, is_unread
		FROM emails WHERE message_id = ?
	`, string(id)).Scan(&e.Sender, &e.Recipient, &e.Subject, &e.BodySnippet, &labels, &receivedAt, &e.IsUnread)
	if errors.Is(err, sql.ErrNoRows) {
		return gmail.Email{}, false, nil
	}
	if err != nil {
		return gmail.Email{}, false, &PersistenceError{Op: "load email", Err: err}
	}
	if labels != "" {
		e.Labels = strings.Split(labels, ",")
	}
	if receivedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, receivedAt.String); parseErr == nil {
			e.ReceivedAt = t
		}
	}
	return e, true, nil
}

// ProcessedRecord returns the stored metadata for id, if it was processed.
func (s *Store) ProcessedRecord(ctx context.Context, id gmail.MessageID) (Record, bool, error) {
	var (
		rec         Record
		processedAt sql.NullString
		matched     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT processed_at, run_id, matched_rules, actions_applied
		FROM emails WHERE message_id = ? AND processed = 1
	`, string(id)).Scan(&processedAt, &rec.RunID, &matched, &rec.ActionsApplied)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, &PersistenceError{Op: "processed record", Err: err}
	}
	if processedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, processedAt.String); parseErr == nil {
			rec.ProcessedAt = t
		}
	}
	if err := json.Unmarshal([]byte(matched), &rec.MatchedRules); err != nil {
		return Record{}, false, &PersistenceError{Op: "processed record", Err: fmt.Errorf("decode matched rules: %w", err)}
	}
	return rec, true, nil
}

// dsn applies per-connection pragmas so every pooled connection waits on
// locks instead of failing with SQLITE_BUSY.
func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
