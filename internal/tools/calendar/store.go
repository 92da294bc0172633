package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Event is one calendar entry. Date is "2006-01-02" and Time is "15:04",
// both in local time.
type Event struct {
	ID          string
	Date        string
	Time        string
	Title       string
	Description string
	CreatedAt   time.Time
}

// Store persists events in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("calendar: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("calendar: open database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("calendar: initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		date        TEXT NOT NULL,
		time        TEXT NOT NULL DEFAULT '',
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_date ON events(date, time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add stores e, assigning an ID when empty.
func (s *Store) Add(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, date, time, title, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date, e.Time, e.Title, e.Description, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calendar: add event: %w", err)
	}
	return nil
}

// Between returns events dated from..to inclusive, ordered by date and time.
func (s *Store) Between(ctx context.Context, from, to string) ([]Event, error) {
	return s.query(ctx,
		`SELECT id, date, time, title, description, created_at FROM events
		 WHERE date >= ? AND date <= ? ORDER BY date, time`, from, to)
}

// All returns up to limit events ordered by date and time.
func (s *Store) All(ctx context.Context, limit int) ([]Event, error) {
	return s.query(ctx,
		`SELECT id, date, time, title, description, created_at FROM events
		 ORDER BY date, time LIMIT ?`, limit)
}

// Delete removes the event with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("calendar: delete event: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("calendar: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Date, &e.Time, &e.Title, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("calendar: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calendar: query events: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
