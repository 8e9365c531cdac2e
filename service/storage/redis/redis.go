package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"shuttle/tools/errs"
)

// Config 用于初始化 Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewClient 创建客户端并 Ping 一次，连不上直接返回错误
func NewClient(ctx context.Context, c Config) (redis.UniversalClient, error) {
	if c.Addr == "" {
		return nil, errs.ErrConfig.WrapMsg("redis addr is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.ErrConnection.WrapCause(err, "redis ping", "addr", c.Addr)
	}
	return rdb, nil
}
