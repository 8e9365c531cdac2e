package natsx

import (
	"context"

	"shuttle/tools/errs"
)

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送
func (p *NatsxProducer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("route not found", "biz", biz)
	}
	switch r.Mode {
	case Core:
		return p.c.sendCore(r.Subject, data, hdr)
	case JetStreamPull:
		return p.c.sendJS(ctx, r.Subject, data, hdr)
	default:
		return errs.ErrArgs.WrapMsg("unsupported mode", "biz", biz, "mode", r.Mode)
	}
}
