package shuttle

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
	"shuttle/tools/safe"
)

// DB opens transactions; *pgxpool.Pool and *pgx.Conn both satisfy it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// HubEventProcessor turns hub events into handler calls, one transaction per event.
type HubEventProcessor struct {
	db      DB
	handler MessageHandler
	store   MessageStore
	log     *zap.Logger
}

func NewHubEventProcessor(db DB, handler MessageHandler, store MessageStore, log *zap.Logger) *HubEventProcessor {
	safe.MustNotNil(db, "db")
	safe.MustNotNil(handler, "message handler")
	if store == nil {
		store = AlwaysNew{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HubEventProcessor{db: db, handler: handler, store: store, log: log}
}

// ProcessHubEvent applies message-bearing events. A merge and the deletions it
// implies share one transaction; other event types are skipped.
func (p *HubEventProcessor) ProcessHubEvent(ctx context.Context, evt *hubpb.HubEvent) (ProcessResult, error) {
	switch body := evt.Body.(type) {
	case *hubpb.MergeMessageBody:
		err := p.inTx(ctx, func(tx pgx.Tx) error {
			for _, deleted := range body.DeletedMessages {
				if err := p.apply(ctx, tx, deleted, OperationDelete, false); err != nil {
					return err
				}
			}
			return p.apply(ctx, tx, body.Message, OperationMerge, false)
		})
		return ProcessResult{}, err
	case *hubpb.RevokeMessageBody:
		err := p.inTx(ctx, func(tx pgx.Tx) error {
			return p.apply(ctx, tx, body.Message, OperationRevoke, false)
		})
		return ProcessResult{}, err
	case *hubpb.PruneMessageBody:
		err := p.inTx(ctx, func(tx pgx.Tx) error {
			return p.apply(ctx, tx, body.Message, OperationPrune, false)
		})
		return ProcessResult{}, err
	default:
		p.log.Debug("event skipped", zap.Uint64("event_id", evt.Id), zap.String("type", evt.Type.String()))
		return ProcessResult{Skipped: true}, nil
	}
}

// HandleMissingMessage merges a message found by reconciliation.
func (p *HubEventProcessor) HandleMissingMessage(ctx context.Context, msg *hubpb.Message) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		return p.apply(ctx, tx, msg, OperationMerge, true)
	})
}

func (p *HubEventProcessor) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, p.db, fn)
}

func (p *HubEventProcessor) apply(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, op Operation, wasMissed bool) error {
	if msg == nil || msg.Data == nil {
		return errs.ErrDecode.WrapMsg("message without data", "op", op)
	}
	state := GetMessageState(msg, op)
	isNew, err := p.store.StoreMessage(ctx, tx, msg, op)
	if err != nil {
		return errs.ErrHandler.WrapCause(err, "store message", "hash", msg.HashHex(), "op", op)
	}
	if err := p.handler.HandleMessageMerge(ctx, tx, msg, op, state, isNew, wasMissed); err != nil {
		return errs.ErrHandler.WrapCause(err, "handle message",
			"hash", msg.HashHex(), "type", msg.Type().String(), "op", op, "state", state)
	}
	return nil
}
