// Package application assembles the import engine from configuration:
// registry, storage, surrogate sequence and export archive. The HTTP
// server and the CLI both start from here.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/sitebook/internal/archive"
	"github.com/JonMunkholm/sitebook/internal/config"
	"github.com/JonMunkholm/sitebook/internal/core"
	"github.com/JonMunkholm/sitebook/internal/schema"
	"github.com/JonMunkholm/sitebook/internal/sequence"
	"github.com/JonMunkholm/sitebook/internal/store/memstore"
	"github.com/JonMunkholm/sitebook/internal/store/pgstore"
)

// App holds the wired components. Close releases its connections.
type App struct {
	Config   *config.Config
	Registry *core.Registry
	Store    core.Store
	Sequence core.Sequence
	Importer *core.Importer
	Exporter *core.Exporter
	Limiter  *core.ImportLimiter
	// Archiver is nil when no archive bucket is configured.
	Archiver *archive.Archiver
	// Memory reports whether records live only in this process.
	Memory bool

	logger  *slog.Logger
	closers []func()
}

type options struct {
	memory   bool
	registry *core.Registry
}

// Option adjusts how New assembles the app.
type Option func(*options)

// WithMemoryStore ignores the database URL and keeps records in memory.
// The CLI uses it for dry runs.
func WithMemoryStore() Option {
	return func(o *options) { o.memory = true }
}

// WithRegistry replaces the built-in construction registry.
func WithRegistry(reg *core.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New connects to the configured backends. On error, anything already
// opened is closed and the app is nil.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		Config:  cfg,
		Limiter: core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		logger:  logger,
	}
	if err := a.assemble(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// assemble opens the backends in dependency order. Each opened resource
// registers a closer before the next step runs.
func (a *App) assemble(ctx context.Context, o options) error {
	a.Registry = o.registry
	if a.Registry == nil {
		reg, err := schema.Load()
		if err != nil {
			return err
		}
		a.Registry = reg
	}

	if o.memory || a.Config.Database.URL == "" {
		a.Store = memstore.New(a.Registry)
		a.Memory = true
		a.logger.Warn("using in-memory store; records are lost on exit")
	} else if err := a.openDatabase(ctx); err != nil {
		return err
	}

	if err := a.openSequence(ctx); err != nil {
		return err
	}

	if a.Config.Archive.Enabled() {
		archiver, err := archive.New(ctx, a.Config.Archive, a.logger)
		if err != nil {
			return err
		}
		a.Archiver = archiver
	}

	cfg := a.Config.Import
	a.Importer = core.NewImporter(a.Registry, a.Store,
		core.WithSequence(a.Sequence),
		core.WithLogger(a.logger),
		core.WithRowTimeout(cfg.RowTimeout),
		core.WithSurrogateFloor(cfg.SurrogateFloor),
	)
	a.Exporter = core.NewExporter(a.Registry, a.Store, a.logger)
	return nil
}

func (a *App) openDatabase(ctx context.Context) error {
	cfg := a.Config.Database

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	db := pgstore.FromPool(pool)
	a.closers = append(a.closers, func() { _ = db.Close() })

	store, err := pgstore.New(ctx, db, a.Registry)
	if err != nil {
		return err
	}
	a.Store = store

	a.logger.Info("connected to database",
		"name", databaseName(cfg.URL),
		"tables", len(store.Backed()),
		"registered", len(a.Registry.ListTables()),
	)
	return nil
}

func (a *App) openSequence(ctx context.Context) error {
	cfg := a.Config.Redis
	if cfg.URL == "" {
		if !a.Memory {
			a.logger.Warn("REDIS_URL not set; surrogate numbers are only unique within this process")
		}
		a.Sequence = sequence.NewMemory()
		return nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func() { _ = client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	a.Sequence = sequence.NewRedis(client, cfg.KeyPrefix)
	a.logger.Info("using redis sequence", "addr", opts.Addr, "prefix", cfg.KeyPrefix)
	return nil
}

// WaitForImports blocks until running imports finish or ctx is done.
func (a *App) WaitForImports(ctx context.Context) error {
	status := a.Limiter.Status()
	if status.Active == 0 {
		return nil
	}
	a.logger.Info("waiting for imports to complete", "active", status.Active)
	if err := a.Limiter.WaitForDrain(ctx); err != nil {
		return errors.Join(errors.New("imports did not complete in time"), err)
	}
	a.logger.Info("all imports completed")
	return nil
}

// Close releases connections in reverse order of opening. It is safe to
// call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func databaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
