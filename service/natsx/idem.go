package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// IdemStore 抽象存储
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
	Forget(key string)
}

// memIdem 内存实现（单进程），过期键在访问时清理
type memIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expire
	ttl time.Duration
	now func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
	if _, ok := mi.m[key]; ok {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

func (mi *memIdem) Forget(key string) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	delete(mi.m, key)
}

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// NatsxIdemMiddleware 幂等中间件。处理失败时不记录，以便重投后再次执行
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration, log *zap.Logger) NatsxMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				id = msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
			}
			seen, err := store.SeenOnce(id, ttl)
			if err != nil {
				log.Warn("idem store", zap.Error(err))
			}
			if seen {
				log.Debug("duplicate message skipped", zap.String("id", id))
				return nil
			}
			if err := next(ctx, msg); err != nil {
				store.Forget(id)
				return err
			}
			return nil
		}
	}
}
