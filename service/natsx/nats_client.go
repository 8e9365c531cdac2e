package natsx

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"shuttle/tools/errs"
)

// NatsxMode 工作模式
type NatsxMode int

const (
	Core          NatsxMode = iota // 无持久化
	JetStreamPull                  // JS 拉取订阅
)

// NatsxRoute 路由配置（按 Biz 维度注册）
type NatsxRoute struct {
	Biz           string
	Subject       string
	Mode          NatsxMode
	Durable       string // JS durable 名，Pull 模式必填
	AckWait       time.Duration
	MaxAckPending int
}

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers         []string      `mapstructure:"servers"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Stream          string        `mapstructure:"stream"`
	Subjects        []string      `mapstructure:"subjects"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PublishAsyncMax int           `mapstructure:"publish_async_max"`
}

// NatsxClient 统一客户端
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger

	mu     sync.RWMutex
	routes map[string]NatsxRoute         // biz -> route
	subs   map[string]*nats.Subscription // biz -> sub
}

// NewNatsxClient 连接 NATS
func NewNatsxClient(cfg NatsxConfig, log *zap.Logger) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.ErrConfig.WrapMsg("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.ErrConnection.WrapCause(err, "nats connect", "servers", cfg.Servers)
	}
	return &NatsxClient{
		cfg:    cfg,
		nc:     nc,
		log:    log,
		routes: make(map[string]NatsxRoute),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Close 优雅关闭
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for biz, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, biz)
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

// ensureJS 初始化 JetStream 上下文，并在配置了 Stream 时确保它存在
func (c *NatsxClient) ensureJS() error {
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return errs.ErrConnection.WrapCause(err, "init jetstream")
	}
	if c.cfg.Stream != "" {
		if _, err := js.StreamInfo(c.cfg.Stream); err != nil {
			if !errors.Is(err, nats.ErrStreamNotFound) {
				return errs.ErrConnection.WrapCause(err, "stream info", "stream", c.cfg.Stream)
			}
			_, err = js.AddStream(&nats.StreamConfig{
				Name:      c.cfg.Stream,
				Subjects:  c.cfg.Subjects,
				Retention: nats.WorkQueuePolicy,
				Storage:   nats.FileStorage,
			})
			if err != nil {
				return errs.ErrConnection.WrapCause(err, "add stream", "stream", c.cfg.Stream)
			}
			c.log.Info("jetstream stream created", zap.String("stream", c.cfg.Stream), zap.Strings("subjects", c.cfg.Subjects))
		}
	}
	c.js = js
	return nil
}

// RegisterRoute 注册 Biz 路由
func (c *NatsxClient) RegisterRoute(r NatsxRoute) error {
	if r.Biz == "" || r.Subject == "" {
		return errs.ErrArgs.WrapMsg("invalid route", "biz", r.Biz, "subject", r.Subject)
	}
	if r.Mode == JetStreamPull {
		if r.Durable == "" {
			return errs.ErrArgs.WrapMsg("JetStreamPull requires Durable consumer name", "biz", r.Biz)
		}
		if err := c.ensureJS(); err != nil {
			return err
		}
	}
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

// route 查询已注册路由
func (c *NatsxClient) route(biz string) (NatsxRoute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}
