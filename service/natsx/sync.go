package natsx

import (
	"context"
	"time"
)

// Publisher is what NatsxSyncPublisher retries; *NatsxProducer satisfies it.
type Publisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NatsxSyncPublisher 同步发布器（带重试）
type NatsxSyncPublisher struct {
	P       Publisher
	Retries int
	Backoff time.Duration
}

// PublishOnce 重试时沿用同一个 msgID，服务端去重
func (sp *NatsxSyncPublisher) PublishOnce(ctx context.Context, biz string, payload []byte, hdr map[string]string, msgID string) error {
	if msgID == "" {
		msgID = genMsgID()
	}
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.PublishOnce(ctx, biz, payload, hdr, msgID)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}
