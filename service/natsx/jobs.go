package natsx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"go.uber.org/zap"

	"shuttle/tools/errs"
)

// JobQueue publishes JSON jobs on one JetStream route. The message id is the
// payload digest, so an identical job enqueued twice inside the stream's
// duplicate window is stored once.
type JobQueue[T any] struct {
	pub Publisher
	biz string
}

func NewJobQueue[T any](pub Publisher, biz string) *JobQueue[T] {
	return &JobQueue[T]{pub: pub, biz: biz}
}

func (q *JobQueue[T]) Enqueue(ctx context.Context, job T) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errs.WrapMsg(err, "marshal job", "biz", q.biz)
	}
	sum := sha256.Sum256(data)
	return q.pub.PublishOnce(ctx, q.biz, data, nil, hex.EncodeToString(sum[:]))
}

// JobHandler handles one decoded job; an error Naks it for redelivery.
type JobHandler[T any] func(ctx context.Context, job T) error

// DecodeJobs adapts a JobHandler to a NatsxHandler. Payloads that fail to
// decode are logged and acked, redelivery would not fix them.
func DecodeJobs[T any](h JobHandler[T], log *zap.Logger) NatsxHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, msg NatsxMessage) error {
		var job T
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Error("dropping undecodable job", zap.String("subject", msg.Subject), zap.Error(err))
			return nil
		}
		return h(ctx, job)
	}
}
