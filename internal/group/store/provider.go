package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/config"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/db"
)

// Provide creates the configured store implementation.
// SQLite gets a single-writer pool plus a concurrent read-only pool;
// PostgreSQL shares one connection pool for both roles.
func Provide(cfg *config.Config, log *logger.Logger) (*Repository, func() error, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		writer, err := db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		reader, err := db.OpenSQLiteReader(cfg.Database.Path)
		if err != nil {
			_ = writer.Close()
			return nil, nil, fmt.Errorf("failed to open sqlite reader: %w", err)
		}

		pool := db.NewPool(sqlx.NewDb(writer, db.DriverSQLite), sqlx.NewDb(reader, db.DriverSQLite))
		repo, err := NewRepository(pool)
		if err != nil {
			_ = pool.Close()
			return nil, nil, err
		}

		log.Info("Database initialized",
			zap.String("db_driver", cfg.Database.Driver),
			zap.String("db_path", cfg.Database.Path))

		cleanup := func() error {
			// Run PRAGMA optimize before closing to update query planner
			// statistics. This is the SQLite-recommended way to maintain
			// stats and is safe to call on every close.
			_, _ = writer.Exec("PRAGMA optimize")
			return repo.Close()
		}
		return repo, cleanup, nil

	case "postgres":
		conn, err := db.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres database: %w", err)
		}

		shared := sqlx.NewDb(conn, db.DriverPostgres)
		pool := db.NewPool(shared, shared)
		repo, err := NewRepository(pool)
		if err != nil {
			_ = pool.Close()
			return nil, nil, err
		}

		log.Info("Database initialized",
			zap.String("db_driver", cfg.Database.Driver),
			zap.String("db_name", cfg.Database.DBName))

		return repo, repo.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}
