package processors

import (
	"context"

	"github.com/jackc/pgx/v5"

	"shuttle/module/shuttle"
	"shuttle/service/hub/hubpb"
)

// Multi fans a message out to several handlers in order; the first error aborts
// and the caller's transaction rolls back.
type Multi []shuttle.MessageHandler

func (m Multi) HandleMessageMerge(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, op shuttle.Operation,
	state shuttle.MessageState, isNew, wasMissed bool) error {
	for _, h := range m {
		if err := h.HandleMessageMerge(ctx, tx, msg, op, state, isNew, wasMissed); err != nil {
			return err
		}
	}
	return nil
}
