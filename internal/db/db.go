package db

import (
	"context"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/austindbirch/taskmesh/internal/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationTable = "taskmesh_schema_migrations"

// goose keeps its settings in package globals
var gooseMu sync.Mutex

// Connect establishes a connection pool to the database and returns the pool
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	// Parse config from DSN
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Ping the database to verify connection
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations through the pool
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{logger})
	goose.SetTableName(migrationTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Migrations exposes the embedded migration files
func Migrations() embed.FS { return migrations }

type gooseLogger struct {
	l *logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Plain().WithField("component", "goose").Infof(format, v...)
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Plain().WithField("component", "goose").Errorf(format, v...)
}
