// Package app wires all parla subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and websocket traffic until its context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithProviders,
// WithToolStore, WithHistory, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parla/internal/admin"
	"github.com/MrWong99/parla/internal/config"
	"github.com/MrWong99/parla/internal/health"
	"github.com/MrWong99/parla/internal/history"
	"github.com/MrWong99/parla/internal/intent"
	"github.com/MrWong99/parla/internal/observe"
	"github.com/MrWong99/parla/internal/session"
	"github.com/MrWong99/parla/internal/speech"
	"github.com/MrWong99/parla/internal/tools"
	"github.com/MrWong99/parla/internal/tools/builtin"
	"github.com/MrWong99/parla/internal/transport/ws"
	"github.com/MrWong99/parla/internal/workflow"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	providers  *Providers
	level      *slog.LevelVar
	configPath string
	watchOpts  []config.WatcherOption

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	pools     pools
	toolStore tools.Store
	history   history.Store
	registry  *tools.Registry
	engine    *workflow.Engine
	sessions  *session.Manager
	health    *health.Handler
	handler   http.Handler
	server    *http.Server
	listener  net.Listener
	watcher   *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProviders injects providers instead of building them from config.
func WithProviders(p *Providers) Option {
	return func(a *App) { a.providers = p }
}

// WithToolStore injects the tool record store.
func WithToolStore(s tools.Store) Option {
	return func(a *App) { a.toolStore = s }
}

// WithHistory injects the exchange log.
func WithHistory(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics injects metrics instead of installing the Prometheus-backed
// providers. /metrics is not served in that case.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable of the root logger so that
// config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigWatch enables hot reload of the config file at path.
func WithConfigWatch(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.watchOpts = opts
	}
}

// WithListener serves on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Failing to reach a
// configured database or to build a configured provider is an error; an
// unreadable tool config falls back to the default tool set.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Providers ─────────────────────────────────────────────────────
	if a.providers == nil {
		reg := config.NewRegistry()
		RegisterBuiltinProviders(reg)
		ps, err := BuildProviders(cfg, reg, a.metrics)
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.providers = ps
	}

	// ── 3. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 4. Tool registry ─────────────────────────────────────────────────
	a.registry = tools.NewRegistry(builtin.Factories(),
		tools.WithStore(a.toolStore),
		tools.WithDefaults(toolDefaults(cfg.Tools.Settings)),
		tools.WithCloseGrace(2*cfg.Tools.Timeout),
	)
	if _, err := a.registry.Reload(ctx); err != nil {
		slog.Warn("some tools failed to load", "err", err)
	}
	a.closers = append([]func() error{a.registry.Close}, a.closers...)

	// ── 5. Workflow engine + sessions ────────────────────────────────────
	a.initEngine()

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	// ── 7. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange, a.watchOpts...)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	if !a.cfg.Observe.MetricsEnabled() {
		a.metrics = observe.DefaultMetrics()
		return nil
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: a.cfg.Observe.ServiceName})
	if err != nil {
		return err
	}
	a.telemetry = tel
	a.metrics = tel.Metrics
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(sctx)
	})
	return nil
}

func (a *App) initStores(ctx context.Context) error {
	// Pools close after everything that uses them.
	a.closers = append(a.closers, a.pools.close)

	if a.toolStore == nil {
		s, err := openToolStore(ctx, a.cfg.Tools, &a.pools)
		if err != nil {
			return err
		}
		a.toolStore = s
	}
	if a.history == nil {
		h, err := openHistory(ctx, a.cfg.History, &a.pools)
		if err != nil {
			return err
		}
		a.history = h
	}
	return nil
}

func (a *App) initEngine() {
	cfg := a.cfg
	ps := a.providers

	bridgeOpts := []speech.Option{
		speech.WithSampleRate(cfg.Audio.SampleRate),
		speech.WithVoice("", cfg.Audio.Language),
		speech.WithMetrics(a.metrics),
	}
	if cfg.Server.SendSpeech {
		bridgeOpts = append(bridgeOpts, speech.WithOutputRate(cfg.Audio.SampleRate))
	}
	bridge := speech.New(ps.STT, ps.TTS, bridgeOpts...)

	engineOpts := []workflow.Option{
		workflow.WithSpeech(bridge, bridge),
		workflow.WithToolTimeout(cfg.Tools.Timeout),
		workflow.WithCompletionTimeout(cfg.Workflow.CompletionTimeout),
		workflow.WithLanguage(cfg.Audio.Language),
		workflow.WithRecorder(history.NewRecorder(a.history)),
		workflow.WithMetrics(a.metrics),
	}
	if ps.LLM != nil {
		engineOpts = append(engineOpts, workflow.WithCompleter(ps.LLM, cfg.Workflow.SystemPrompt))
	}
	a.engine = workflow.New(intent.New(), a.registry, engineOpts...)

	a.sessions = session.NewManager(a.engine, session.Config{
		Segmenter:        cfg.Audio.Segmenter(),
		Language:         cfg.Audio.Language,
		SendSpeech:       cfg.Server.SendSpeech && bridge.CanSynthesize(),
		SpeechSampleRate: cfg.Audio.SampleRate,
		IdleTimeout:      cfg.Server.IdleTimeout,
	}, session.WithMetrics(a.metrics))
}

func (a *App) initHTTP() {
	checkers := append(a.pools.checkers(), health.Checker{
		Name: "tools",
		Check: func(context.Context) error {
			if len(a.registry.Names()) == 0 {
				return errors.New("no tools registered")
			}
			return nil
		},
	})
	a.health = health.New(checkers...)

	mux := http.NewServeMux()
	a.health.Register(mux)
	admin.New(a.registry, a.engine,
		admin.WithHistory(a.history),
		admin.WithSessions(a.sessions),
	).Register(mux)
	mux.Handle("GET "+a.cfg.Server.WebsocketPath, ws.NewHandler(a.sessions,
		ws.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
	))
	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler)
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.handler }

// Engine returns the workflow engine, for text mode front ends.
func (a *App) Engine() *workflow.Engine { return a.engine }

// Registry returns the tool registry.
func (a *App) Registry() *tools.Registry { return a.registry }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled or the server fails. On cancellation the
// readiness probe starts failing and in-flight HTTP requests get up to
// server.shutdown_timeout to finish. Run does not release subsystems; call
// Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	slog.Info("server listening",
		"addr", ln.Addr().String(),
		"websocket_path", a.cfg.Server.WebsocketPath,
		"tls", a.cfg.Server.TLS != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining(true)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ReloadConfig re-reads the watched config file immediately. Without
// [WithConfigWatch] it does nothing.
func (a *App) ReloadConfig() error {
	if a.watcher == nil {
		return nil
	}
	changed, err := a.watcher.Reload()
	if err != nil {
		return fmt.Errorf("app: reload config: %w", err)
	}
	if !changed {
		slog.Info("config unchanged", "path", a.configPath)
	}
	return nil
}

// onConfigChange applies the live-reloadable parts of a new config.
func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ToolTimeoutChanged {
		a.engine.SetToolTimeout(d.NewToolTimeout)
		slog.Info("tool timeout changed", "timeout", d.NewToolTimeout)
	}
	if d.ToolsChanged {
		a.registry.SetDefaults(toolDefaults(new.Tools.Settings))
		if _, err := a.registry.Reload(context.Background()); err != nil {
			slog.Warn("tool reload after config change", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects all sessions, waiting for in-flight runs until ctx
// ends, then releases subsystems in order. If ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))
		a.health.SetDraining(true)

		if err := a.sessions.Close(ctx); err != nil {
			slog.Warn("session shutdown incomplete", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to open before failing.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
