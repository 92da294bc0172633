package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const ddlHistory = `
CREATE TABLE IF NOT EXISTS exchanges (
    id           TEXT         PRIMARY KEY,
    session_id   TEXT         NOT NULL DEFAULT '',
    input        TEXT         NOT NULL DEFAULT '',
    intent       TEXT         NOT NULL DEFAULT '',
    tool         TEXT         NOT NULL DEFAULT '',
    response     TEXT         NOT NULL DEFAULT '',
    success      BOOLEAN      NOT NULL,
    latency_ms   BIGINT       NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exchanges_created_at
    ON exchanges (created_at);

CREATE TABLE IF NOT EXISTS feedback (
    id           BIGSERIAL    PRIMARY KEY,
    run_id       TEXT         NOT NULL,
    score        SMALLINT     NOT NULL CHECK (score BETWEEN 1 AND 5),
    comment      TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_created_at
    ON feedback (created_at);
`

// PostgresStore keeps history in the exchanges and feedback tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore migrates the history tables on pool and returns a store.
// The pool is owned by the caller.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, ddlHistory); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SaveExchange implements [Store]. Re-recording a run id is a no-op.
func (s *PostgresStore) SaveExchange(ctx context.Context, e Exchange) error {
	const q = `
		INSERT INTO exchanges (id, session_id, input, intent, tool, response, success, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		e.ID, e.SessionID, e.Input, e.Intent, e.Tool, e.Response,
		e.Success, e.Latency.Milliseconds(), e.Time,
	)
	if err != nil {
		return fmt.Errorf("history: insert exchange %s: %w", e.ID, err)
	}
	return nil
}

// SaveFeedback implements [Store].
func (s *PostgresStore) SaveFeedback(ctx context.Context, f Feedback) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Time.IsZero() {
		f.Time = time.Now().UTC()
	}
	const q = `
		INSERT INTO feedback (run_id, score, comment, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, f.RunID, f.Score, f.Comment, f.Time); err != nil {
		return fmt.Errorf("history: insert feedback: %w", err)
	}
	return nil
}

// Exchanges implements [Store].
func (s *PostgresStore) Exchanges(ctx context.Context, since time.Time) ([]Exchange, error) {
	const q = `
		SELECT id, session_id, input, intent, tool, response, success, latency_ms, created_at
		FROM   exchanges
		WHERE  created_at >= $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("history: query exchanges: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Exchange, error) {
		var (
			e  Exchange
			ms int64
		)
		err := row.Scan(&e.ID, &e.SessionID, &e.Input, &e.Intent, &e.Tool, &e.Response, &e.Success, &ms, &e.Time)
		e.Latency = time.Duration(ms) * time.Millisecond
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan exchanges: %w", err)
	}
	return out, nil
}

// Feedback implements [Store].
func (s *PostgresStore) Feedback(ctx context.Context, since time.Time) ([]Feedback, error) {
	const q = `
		SELECT run_id, score, comment, created_at
		FROM   feedback
		WHERE  created_at >= $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("history: query feedback: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Feedback, error) {
		var f Feedback
		err := row.Scan(&f.RunID, &f.Score, &f.Comment, &f.Time)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan feedback: %w", err)
	}
	return out, nil
}
