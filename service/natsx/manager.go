package natsx

import (
	"context"

	"go.uber.org/zap"

	"shuttle/tools/errs"
)

// NatsManager 统一门面：对外只暴露这一个对象来用
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	consumer *NatsxConsumer
}

// NewNatsManager 初始化
func NewNatsManager(cfg NatsxConfig, log *zap.Logger, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return &NatsManager{
		client:   c,
		producer: NewNatsxProducer(c),
		consumer: NewNatsxConsumer(c, middlewares...),
	}, nil
}

// Close 释放资源（优雅关闭订阅与连接）
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// RegisterRoute 注册业务路由（biz -> subject / mode / durable ...）
func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return errs.ErrConfig.WrapMsg("manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

func (m *NatsManager) Producer() *NatsxProducer { return m.producer }

// PublishOnce 生产消息（带 Nats-Msg-Id 去重）
func (m *NatsManager) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if m == nil || m.producer == nil {
		return errs.ErrConfig.WrapMsg("manager not initialized")
	}
	return m.producer.PublishOnce(ctx, biz, data, hdr, msgID)
}

// PullConsume JetStream Pull 拉批消费（适合后端 worker 池）
func (m *NatsManager) PullConsume(ctx context.Context, biz string, opts PullOptions, h NatsxHandler) error {
	if m == nil || m.consumer == nil {
		return errs.ErrConfig.WrapMsg("manager not initialized")
	}
	return m.consumer.PullConsume(ctx, biz, opts, h)
}
