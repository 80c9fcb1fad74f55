// Package database opens the configured store backend.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dukerupert/brokkr/internal"
	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/memory"
	"github.com/dukerupert/brokkr/internal/mongodb"
	"github.com/dukerupert/brokkr/internal/postgres"
)

// Stores bundles the stores of one backend. Close releases its connections.
type Stores struct {
	Driver   string
	Products domain.ProductStore
	Carts    domain.CartStore
	Orders   domain.OrderStore

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// Ping reports whether the backend answers. The memory backend always does.
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// Options control what Open does besides connecting.
type Options struct {
	// Migrate applies pending Postgres migrations, or creates MongoDB indexes.
	Migrate bool
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg internal.DatabaseConfig, opts Options, logger *slog.Logger) (*Stores, error) {
	switch cfg.Driver {
	case internal.DriverPostgres:
		return openPostgres(ctx, cfg, opts, logger)
	case internal.DriverMongo:
		return openMongo(ctx, cfg, opts, logger)
	case internal.DriverMemory:
		logger.Warn("Using in-memory store; data is lost on restart")
		store := memory.NewStore()
		return &Stores{Driver: cfg.Driver, Products: store, Carts: store, Orders: store}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg internal.DatabaseConfig, opts Options, logger *slog.Logger) (*Stores, error) {
	if opts.Migrate {
		if err := MigratePostgres(ctx, cfg.URL, logger); err != nil {
			return nil, err
		}
	}

	logger.Info("Connecting to database...", "driver", cfg.Driver)
	pool, err := postgres.Connect(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")

	store := postgres.NewStore(pool)
	return &Stores{
		Driver:   cfg.Driver,
		Products: store,
		Carts:    store,
		Orders:   store,
		ping:     store.Ping,
		close: func(context.Context) error {
			pool.Close()
			return nil
		},
	}, nil
}

// MigratePostgres runs the embedded goose migrations over a database/sql
// connection backed by the pgx driver.
func MigratePostgres(ctx context.Context, url string, logger *slog.Logger) error {
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(ctx, sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	version, err := internal.MigrationVersion(ctx, sqlDB)
	if err != nil {
		return err
	}
	logger.Info("Database migrations completed successfully", "version", version)
	return nil
}

func openMongo(ctx context.Context, cfg internal.DatabaseConfig, opts Options, logger *slog.Logger) (*Stores, error) {
	logger.Info("Connecting to database...", "driver", cfg.Driver, "database", cfg.MongoDatabase)
	client, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")

	store := mongodb.NewStore(client.Database(cfg.MongoDatabase))
	if opts.Migrate {
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		logger.Info("MongoDB indexes ensured")
	}

	return &Stores{
		Driver:   cfg.Driver,
		Products: store,
		Carts:    store,
		Orders:   store,
		ping:     store.Ping,
		close:    client.Disconnect,
	}, nil
}
