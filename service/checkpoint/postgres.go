package checkpoint

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"shuttle/tools/errs"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps checkpoints in the hub_checkpoints table (see data/database/schema.sql).
type Postgres struct {
	db      Querier
	hubHost string
}

func NewPostgres(db Querier, hubHost string) *Postgres {
	return &Postgres{db: db, hubHost: hubHost}
}

func (p *Postgres) Get(ctx context.Context, shardKey string) (uint64, error) {
	var id int64
	err := p.db.QueryRow(ctx,
		`SELECT event_id FROM hub_checkpoints WHERE key = $1`,
		KeyFor(p.hubHost, shardKey)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.WrapMsg(err, "get checkpoint", "shard", shardKey)
	}
	return uint64(id), nil
}

func (p *Postgres) Set(ctx context.Context, shardKey string, eventID uint64) error {
	key := KeyFor(p.hubHost, shardKey)
	var err error
	if eventID == 0 {
		_, err = p.db.Exec(ctx, `DELETE FROM hub_checkpoints WHERE key = $1`, key)
	} else {
		_, err = p.db.Exec(ctx,
			`INSERT INTO hub_checkpoints (key, event_id, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (key) DO UPDATE SET event_id = EXCLUDED.event_id, updated_at = now()`,
			key, int64(eventID))
	}
	return errs.WrapMsg(err, "set checkpoint", "shard", shardKey, "id", eventID)
}
