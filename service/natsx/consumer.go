package natsx

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shuttle/tools/errs"
	"shuttle/tools/safe"
)

// NatsxConsumer 消费端
type NatsxConsumer struct {
	c   *NatsxClient
	mws []NatsxMiddleware
}

func NewNatsxConsumer(c *NatsxClient, mws ...NatsxMiddleware) *NatsxConsumer {
	return &NatsxConsumer{c: c, mws: mws}
}

// PullOptions 拉取参数
type PullOptions struct {
	Batch       int
	Wait        time.Duration
	Concurrency int
}

func (o *PullOptions) setDefaults() {
	if o.Batch <= 0 {
		o.Batch = 64
	}
	if o.Wait <= 0 {
		o.Wait = 500 * time.Millisecond
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
}

// PullConsume JetStream Pull 拉取消费，阻塞直到 ctx 结束。
// 每批消息并发处理，成功 Ack，失败 Nak 等待重投
func (cs *NatsxConsumer) PullConsume(ctx context.Context, biz string, opts PullOptions, h NatsxHandler) error {
	r, ok := cs.c.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("route not found", "biz", biz)
	}
	if r.Mode != JetStreamPull {
		return errs.ErrArgs.WrapMsg("route is not JetStreamPull", "biz", biz)
	}
	if cs.c.js == nil {
		return errs.ErrConfig.WrapMsg("jetstream not initialized")
	}

	sub, err := cs.c.js.PullSubscribe(r.Subject, r.Durable,
		nats.PullMaxWaiting(8),
		nats.AckWait(r.AckWait),
		nats.MaxAckPending(r.MaxAckPending),
	)
	if err != nil {
		return errs.ErrQueue.WrapCause(err, "pull subscribe", "subject", r.Subject, "durable", r.Durable)
	}
	cs.c.mu.Lock()
	cs.c.subs[biz] = sub
	cs.c.mu.Unlock()

	h = NatsxChain(h, cs.mws...)
	opts.setDefaults()
	log := cs.c.log.With(zap.String("biz", biz))

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := sub.Fetch(opts.Batch, nats.MaxWait(opts.Wait))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			log.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for _, m := range msgs {
			m := m
			g.Go(func() error {
				cs.dispatch(ctx, log, h, m)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (cs *NatsxConsumer) dispatch(ctx context.Context, log *zap.Logger, h NatsxHandler, m *nats.Msg) {
	msg := NatsxMessage{
		Subject: m.Subject,
		Data:    append([]byte(nil), m.Data...),
		Header:  headerToMap(m.Header),
	}
	err := safe.Call(func() error { return h(ctx, msg) })
	if err == nil {
		if ackErr := m.Ack(); ackErr != nil {
			log.Warn("ack failed", zap.Error(ackErr))
		}
		return
	}
	log.Error("handler failed", zap.String("subject", m.Subject), zap.Error(err))
	_ = m.Nak()
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
