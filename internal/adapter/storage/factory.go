package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/seckill/internal/port"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type DatabaseOptions struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SchemaRepository is a repository that can create its own tables.
type SchemaRepository interface {
	port.Repository
	EnsureSchema(ctx context.Context) error
}

// OpenRepository connects to the configured durable store and verifies it answers.
//
// Supported drivers:
//   - "mysql": database/sql with go-sql-driver/mysql (default)
//   - "postgres": pgx connection pool
func OpenRepository(ctx context.Context, opts DatabaseOptions) (SchemaRepository, error) {
	switch opts.Driver {
	case "", DriverMySQL:
		db, err := sql.Open("mysql", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		return NewMySQLAdapter(db), nil

	case DriverPostgres:
		cfg, err := pgxpool.ParseConfig(opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres config: %w", err)
		}
		if opts.MaxOpenConns > 0 {
			cfg.MaxConns = int32(opts.MaxOpenConns)
		}
		if opts.ConnMaxLifetime > 0 {
			cfg.MaxConnLifetime = opts.ConnMaxLifetime
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return NewPostgresAdapter(pool), nil

	default:
		return nil, fmt.Errorf("unknown database driver: %s", opts.Driver)
	}
}
