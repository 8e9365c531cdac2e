// Package shuttle moves hub events into Postgres: subscriber -> durable queue ->
// consumer -> processor -> MessageHandler, plus per-fid reconciliation.
package shuttle

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"

	"shuttle/service/hub/hubpb"
)

// Operation is why a message reaches the handler, not its own add/remove kind.
type Operation string

const (
	OperationMerge  Operation = "merge"
	OperationDelete Operation = "delete"
	OperationRevoke Operation = "revoke"
	OperationPrune  Operation = "prune"
)

// MessageState is the effect a message has on its entity.
type MessageState string

const (
	StateCreated MessageState = "created"
	StateDeleted MessageState = "deleted"
)

// ProcessResult reports whether onEvent had anything to do.
type ProcessResult struct {
	Skipped bool
}

// MessageHandler applies one message inside the caller's transaction. It must
// be idempotent: the same message can arrive more than once and out of order.
type MessageHandler interface {
	HandleMessageMerge(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, op Operation,
		state MessageState, isNew, wasMissed bool) error
}

type MessageHandlerFunc func(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, op Operation,
	state MessageState, isNew, wasMissed bool) error

func (f MessageHandlerFunc) HandleMessageMerge(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, op Operation,
	state MessageState, isNew, wasMissed bool) error {
	return f(ctx, tx, msg, op, state, isNew, wasMissed)
}

// MessageStore decides isNew within the same transaction as the handler.
type MessageStore interface {
	StoreMessage(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, op Operation) (bool, error)
}

// AlwaysNew reports every message as new; handlers then rely on upsert semantics.
type AlwaysNew struct{}

func (AlwaysNew) StoreMessage(context.Context, pgx.Tx, *hubpb.Message, Operation) (bool, error) {
	return true, nil
}

// Shard is this process's slice of the hub event log.
type Shard struct {
	Total uint64
	Index uint64
}

// Key is "all" for an unsharded subscription, else the shard index.
func (s Shard) Key() string {
	if s.Total == 0 {
		return "all"
	}
	return strconv.FormatUint(s.Index, 10)
}
