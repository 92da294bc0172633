package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const ddlToolConfigs = `
CREATE TABLE IF NOT EXISTS tool_configs (
    name         TEXT         PRIMARY KEY,
    position     INTEGER      NOT NULL,
    factory_key  TEXT         NOT NULL DEFAULT '',
    class_path   TEXT         NOT NULL DEFAULT '',
    enabled      BOOLEAN      NOT NULL DEFAULT TRUE,
    config       JSONB        NOT NULL DEFAULT '{}'::jsonb,
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tool_configs_position
    ON tool_configs (position);
`

// PostgresStore persists tool records in the tool_configs table.
//
// An empty table is reported as [ErrNoRecords] so that the registry falls
// back to the default tool set on first start.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ErrNoRecords is returned by [PostgresStore.Load] when the table is empty.
var ErrNoRecords = errors.New("tools: no persisted tool records")

// NewPostgresStore migrates the tool_configs table on pool and returns a store.
// The pool is owned by the caller.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, ddlToolConfigs); err != nil {
		return nil, fmt.Errorf("tools: migrate tool_configs: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Load implements [Store].
func (s *PostgresStore) Load(ctx context.Context) ([]Spec, error) {
	const q = `
		SELECT name, factory_key, class_path, enabled, config
		FROM   tool_configs
		ORDER  BY position, name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("tools: load tool_configs: %w", err)
	}
	defer rows.Close()

	var specs []Spec
	for rows.Next() {
		var (
			spec Spec
			raw  []byte
		)
		if err := rows.Scan(&spec.Name, &spec.Factory, &spec.ClassPath, &spec.Enabled, &raw); err != nil {
			return nil, fmt.Errorf("tools: scan tool_configs: %w", err)
		}
		spec.Config = Settings{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &spec.Config); err != nil {
				return nil, fmt.Errorf("tools: decode config of %q: %w", spec.Name, err)
			}
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tools: load tool_configs: %w", err)
	}
	if len(specs) == 0 {
		return nil, ErrNoRecords
	}
	return specs, nil
}

// Save implements [Store]. The table is rewritten in one transaction.
func (s *PostgresStore) Save(ctx context.Context, specs []Spec) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tools: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM tool_configs`); err != nil {
		return fmt.Errorf("tools: clear tool_configs: %w", err)
	}

	const ins = `
		INSERT INTO tool_configs (name, position, factory_key, class_path, enabled, config, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`

	for i, spec := range specs {
		cfg := spec.Config
		if cfg == nil {
			cfg = Settings{}
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("tools: encode config of %q: %w", spec.Name, err)
		}
		if _, err := tx.Exec(ctx, ins, spec.Name, i, spec.Factory, spec.ClassPath, spec.Enabled, raw); err != nil {
			return fmt.Errorf("tools: insert %q: %w", spec.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tools: commit: %w", err)
	}
	return nil
}
