package eventstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"shuttle/tools/errs"
)

const dataField = "d"

// Redis implements Queue on Redis Streams.
type Redis struct {
	rdb   redis.UniversalClient
	block time.Duration
}

// NewRedis returns a Redis queue. block bounds how long Reserve waits for new
// entries; a negative value makes Reserve return immediately.
func NewRedis(rdb redis.UniversalClient, block time.Duration) *Redis {
	return &Redis{rdb: rdb, block: block}
}

func (r *Redis) Add(ctx context.Context, stream string, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	for _, p := range payloads {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			ID:     "*",
			Values: []interface{}{dataField, p},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.ErrQueue.WrapCause(err, "xadd", "stream", stream, "count", len(payloads))
	}
	return nil
}

func (r *Redis) CreateGroup(ctx context.Context, stream, group string) error {
	err := r.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errs.ErrQueue.WrapCause(err, "xgroup create", "stream", stream, "group", group)
	}
	return nil
}

func (r *Redis) Reserve(ctx context.Context, stream, group, consumer string, count int) ([]Entry, error) {
	res, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    r.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrQueue.WrapCause(err, "xreadgroup", "stream", stream, "group", group)
	}
	var out []Entry
	for _, s := range res {
		out = append(out, toEntries(s.Messages)...)
	}
	return out, nil
}

// Ack acknowledges and deletes, so stream length tracks outstanding work.
func (r *Redis) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, stream, group, ids...)
	pipe.XDel(ctx, stream, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.ErrQueue.WrapCause(err, "xack", "stream", stream, "count", len(ids))
	}
	return nil
}

func (r *Redis) Size(ctx context.Context, stream string) (int64, error) {
	n, err := r.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, errs.ErrQueue.WrapCause(err, "xlen", "stream", stream)
	}
	return n, nil
}

func (r *Redis) ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Entry, error) {
	msgs, _, err := r.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrQueue.WrapCause(err, "xautoclaim", "stream", stream, "group", group)
	}
	return toEntries(msgs), nil
}

func (r *Redis) Trim(ctx context.Context, stream string, before time.Time) (int64, error) {
	n, err := r.rdb.XTrimMinID(ctx, stream, fmt.Sprintf("%d-0", before.UnixMilli())).Result()
	if err != nil {
		return 0, errs.ErrQueue.WrapCause(err, "xtrim", "stream", stream)
	}
	return n, nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e := Entry{ID: m.ID, EnqueuedAt: parseStreamID(m.ID)}
		switch v := m.Values[dataField].(type) {
		case string:
			e.Data = []byte(v)
		case []byte:
			e.Data = v
		}
		out = append(out, e)
	}
	return out
}
