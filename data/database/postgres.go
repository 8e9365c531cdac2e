package database

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"shuttle/tools/errs"
)

//go:embed schema.sql
var Schema string

type PostgresConfig struct {
	URL      string
	MaxConns int32
}

// NewPool opens a pgx pool and checks it with a ping.
func NewPool(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errs.ErrConfig.WrapMsg("postgres url is empty")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errs.ErrConfig.WrapCause(err, "parse postgres url")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errs.ErrConnection.WrapCause(err, "open postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.ErrConnection.WrapCause(err, "ping postgres")
	}
	return pool, nil
}

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate creates the tables the shuttle writes to. Every statement is idempotent.
func Migrate(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return errs.WrapMsg(err, "apply schema")
	}
	return nil
}
