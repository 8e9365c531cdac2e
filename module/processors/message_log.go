package processors

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"shuttle/module/shuttle"
	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
)

// 删除/裁剪/撤销时间只会从 NULL 变为有值，不会被晚到的 merge 清空。
// 没有新的时间戳时 RETURNING 为空，isNew=false
const sqlUpsertMessage = `INSERT INTO messages (fid, type, timestamp, hash_scheme, signature_scheme, hash, signer, raw, deleted_at, pruned_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (hash, fid, type) DO UPDATE SET
    deleted_at = COALESCE(messages.deleted_at, EXCLUDED.deleted_at),
    pruned_at = COALESCE(messages.pruned_at, EXCLUDED.pruned_at),
    revoked_at = COALESCE(messages.revoked_at, EXCLUDED.revoked_at),
    updated_at = now()
WHERE (messages.deleted_at IS NULL AND EXCLUDED.deleted_at IS NOT NULL)
   OR (messages.pruned_at IS NULL AND EXCLUDED.pruned_at IS NOT NULL)
   OR (messages.revoked_at IS NULL AND EXCLUDED.revoked_at IS NOT NULL)
RETURNING id`

// MessageLog records every message in the messages table and reports whether
// the write changed anything.
type MessageLog struct {
	now func() time.Time
}

func NewMessageLog() *MessageLog {
	return &MessageLog{now: time.Now}
}

var _ shuttle.MessageStore = (*MessageLog)(nil)

func (l *MessageLog) StoreMessage(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, op shuttle.Operation) (bool, error) {
	if msg == nil || msg.Data == nil {
		return false, errs.ErrDecode.WrapMsg("message without data")
	}
	raw, err := msg.Marshal()
	if err != nil {
		return false, err
	}

	var deletedAt, prunedAt, revokedAt *time.Time
	now := l.now()
	switch op {
	case shuttle.OperationDelete:
		deletedAt = &now
	case shuttle.OperationPrune:
		prunedAt = &now
	case shuttle.OperationRevoke:
		revokedAt = &now
	}

	var id int64
	err = tx.QueryRow(ctx, sqlUpsertMessage,
		int64(msg.Fid()), int16(msg.Type()), msg.Timestamp(), int16(msg.HashScheme), int16(msg.SignatureScheme),
		msg.HashHex(), toHex(msg.Signer), raw, deletedAt, prunedAt, revokedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errs.WrapMsg(err, "upsert message", "hash", msg.HashHex())
	}
	return true, nil
}
