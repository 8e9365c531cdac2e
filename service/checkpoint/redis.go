package checkpoint

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"shuttle/tools/errs"
)

type Redis struct {
	rdb     redis.UniversalClient
	hubHost string
}

func NewRedis(rdb redis.UniversalClient, hubHost string) *Redis {
	return &Redis{rdb: rdb, hubHost: hubHost}
}

func (r *Redis) Get(ctx context.Context, shardKey string) (uint64, error) {
	v, err := r.rdb.Get(ctx, KeyFor(r.hubHost, shardKey)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.WrapMsg(err, "get checkpoint", "shard", shardKey)
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errs.ErrDecode.WrapCause(err, "checkpoint value", "shard", shardKey, "value", v)
	}
	return id, nil
}

func (r *Redis) Set(ctx context.Context, shardKey string, eventID uint64) error {
	key := KeyFor(r.hubHost, shardKey)
	var err error
	if eventID == 0 {
		err = r.rdb.Del(ctx, key).Err()
	} else {
		err = r.rdb.Set(ctx, key, strconv.FormatUint(eventID, 10), 0).Err()
	}
	return errs.WrapMsg(err, "set checkpoint", "shard", shardKey, "id", eventID)
}
