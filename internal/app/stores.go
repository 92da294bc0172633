package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parla/internal/config"
	"github.com/MrWong99/parla/internal/health"
	"github.com/MrWong99/parla/internal/history"
	"github.com/MrWong99/parla/internal/pgdb"
	"github.com/MrWong99/parla/internal/tools"
)

// pools hands out one PostgreSQL pool per distinct DSN, so the tool store
// and the history store share a pool when they point at the same database.
type pools struct {
	open []namedPool
}

type namedPool struct {
	name string
	dsn  string
	pool *pgxpool.Pool
}

func (p *pools) get(ctx context.Context, name, dsn string) (*pgxpool.Pool, error) {
	for _, np := range p.open {
		if np.dsn == dsn {
			return np.pool, nil
		}
	}
	pool, err := pgdb.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s database: %w", name, err)
	}
	p.open = append(p.open, namedPool{name: name, dsn: dsn, pool: pool})
	return pool, nil
}

// checkers returns a readiness check per pool.
func (p *pools) checkers() []health.Checker {
	out := make([]health.Checker, 0, len(p.open))
	for _, np := range p.open {
		out = append(out, health.PingChecker("postgres:"+np.name, np.pool))
	}
	return out
}

func (p *pools) close() error {
	for _, np := range p.open {
		np.pool.Close()
	}
	return nil
}

// openToolStore returns the persistence backend for tool records.
func openToolStore(ctx context.Context, cfg config.ToolsConfig, p *pools) (tools.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := p.get(ctx, "tools", cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return tools.NewPostgresStore(ctx, pool)
	default:
		slog.Info("tool records stored in file", "path", cfg.ConfigPath)
		return tools.NewFileStore(cfg.ConfigPath), nil
	}
}

// openHistory returns the exchange log backend.
func openHistory(ctx context.Context, cfg config.HistoryConfig, p *pools) (history.Store, error) {
	switch cfg.Backend {
	case config.StoreNone:
		return history.Nop{}, nil
	case config.StorePostgres:
		pool, err := p.get(ctx, "history", cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return history.NewPostgresStore(ctx, pool)
	default:
		return history.NewFileStore(cfg.Path), nil
	}
}

// toolDefaults converts the config's per-factory settings.
func toolDefaults(settings map[string]map[string]any) map[string]tools.Settings {
	out := make(map[string]tools.Settings, len(settings))
	for key, s := range settings {
		out[key] = tools.Settings(s)
	}
	return out
}
