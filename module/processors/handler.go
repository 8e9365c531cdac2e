package processors

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"shuttle/module/shuttle"
	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
)

const (
	sqlInsertCast = `INSERT INTO casts (fid, parent_fid, hash, parent_hash, parent_url, text, embeds, mentions, mentions_positions, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (hash) DO NOTHING`
	sqlDeleteCast = `UPDATE casts SET deleted_at = $1, updated_at = now() WHERE hash = $2 AND deleted_at IS NULL`

	sqlInsertReaction = `INSERT INTO reactions (fid, target_cast_fid, type, hash, target_cast_hash, target_url, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (hash) DO NOTHING`
	sqlDeleteReactionByCast = `UPDATE reactions SET deleted_at = $1, updated_at = now()
WHERE fid = $2 AND type = $3 AND target_cast_hash = $4 AND deleted_at IS NULL`
	sqlDeleteReactionByUrl = `UPDATE reactions SET deleted_at = $1, updated_at = now()
WHERE fid = $2 AND type = $3 AND target_url = $4 AND deleted_at IS NULL`

	sqlInsertLink = `INSERT INTO links (hash, fid, target_fid, type, timestamp, display_timestamp)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (hash) DO NOTHING`
	sqlDeleteLink = `UPDATE links SET deleted_at = $1, updated_at = now()
WHERE fid = $2 AND target_fid = $3 AND deleted_at IS NULL`

	sqlInsertVerification = `INSERT INTO verifications (fid, signer_address, timestamp)
VALUES ($1, $2, $3)
ON CONFLICT (fid, signer_address) DO NOTHING`
	sqlDeleteVerification = `UPDATE verifications SET deleted_at = $1, updated_at = now()
WHERE fid = $2 AND signer_address = $3 AND deleted_at IS NULL`
)

// upsertUserDataSQL writes one profile field; an older message never overwrites a newer value.
func upsertUserDataSQL(col, updatedCol string) string {
	return fmt.Sprintf(`INSERT INTO user_data (fid, %[1]s, %[2]s, timestamp)
VALUES ($1, $2, $3, $3)
ON CONFLICT (fid) DO UPDATE SET %[1]s = EXCLUDED.%[1]s, %[2]s = EXCLUDED.%[2]s, updated_at = now()
WHERE user_data.%[2]s IS NULL OR user_data.%[2]s <= EXCLUDED.%[2]s`, col, updatedCol)
}

// Handler writes hub messages into the entity tables. Removes are soft deletes
// stamped with the removing message's timestamp.
type Handler struct {
	log *zap.Logger
}

func NewHandler(log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{log: log}
}

var _ shuttle.MessageHandler = (*Handler)(nil)

func (h *Handler) HandleMessageMerge(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, op shuttle.Operation,
	state shuttle.MessageState, isNew, wasMissed bool) error {
	if !isNew {
		return nil
	}

	var err error
	switch msg.Type().Family() {
	case hubpb.FamilyCast:
		err = h.cast(ctx, tx, msg, state)
	case hubpb.FamilyReaction:
		err = h.reaction(ctx, tx, msg, state)
	case hubpb.FamilyLink:
		err = h.link(ctx, tx, msg, state)
	case hubpb.FamilyVerification:
		err = h.verification(ctx, tx, msg, state)
	case hubpb.FamilyUserData:
		err = h.userData(ctx, tx, msg, state)
	default:
		h.log.Debug("no handler for message type", zap.String("type", msg.Type().String()))
		return nil
	}
	if err != nil {
		return err
	}

	desc := "message"
	if wasMissed {
		desc = "missed message"
	}
	h.log.Info(fmt.Sprintf("%s %s (%s)", state, desc, op),
		zap.String("hash", msg.HashHex()), zap.String("type", msg.Type().String()), zap.Uint64("fid", msg.Fid()))
	return nil
}

func (h *Handler) cast(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, state shuttle.MessageState) error {
	if state == shuttle.StateCreated {
		row, err := formatCast(msg)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, sqlInsertCast, row.Fid, row.ParentFid, row.Hash, row.ParentHash, row.ParentUrl,
			row.Text, row.Embeds, row.Mentions, row.MentionsPositions, row.Timestamp)
		return errs.WrapMsg(err, "insert cast", "hash", row.Hash)
	}

	target := msg.Hash
	if body, ok := msg.Data.Body.(*hubpb.CastRemoveBody); ok {
		target = body.TargetHash
	}
	_, err := tx.Exec(ctx, sqlDeleteCast, msg.Timestamp(), toHex(target))
	return errs.WrapMsg(err, "delete cast", "hash", toHex(target))
}

func (h *Handler) reaction(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, state shuttle.MessageState) error {
	row, err := formatReaction(msg)
	if err != nil {
		return err
	}
	if state == shuttle.StateCreated {
		_, err = tx.Exec(ctx, sqlInsertReaction, row.Fid, row.TargetCastFid, row.Type, row.Hash,
			row.TargetCastHash, row.TargetUrl, row.Timestamp)
		return errs.WrapMsg(err, "insert reaction", "hash", row.Hash)
	}

	switch {
	case row.TargetCastHash != nil:
		_, err = tx.Exec(ctx, sqlDeleteReactionByCast, row.Timestamp, row.Fid, row.Type, *row.TargetCastHash)
	case row.TargetUrl != nil:
		_, err = tx.Exec(ctx, sqlDeleteReactionByUrl, row.Timestamp, row.Fid, row.Type, *row.TargetUrl)
	default:
		return errs.ErrDecode.WrapMsg("reaction without target", "hash", row.Hash)
	}
	return errs.WrapMsg(err, "delete reaction", "hash", row.Hash)
}

func (h *Handler) link(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, state shuttle.MessageState) error {
	row, err := formatLink(msg)
	if err != nil {
		return err
	}
	if row.Type != linkTypeFollow {
		h.log.Debug("skipping link type", zap.String("type", row.Type), zap.String("hash", row.Hash))
		return nil
	}
	if state == shuttle.StateCreated {
		_, err = tx.Exec(ctx, sqlInsertLink, row.Hash, row.Fid, row.TargetFid, row.Type, row.Timestamp, row.DisplayTimestamp)
		return errs.WrapMsg(err, "insert link", "hash", row.Hash)
	}
	_, err = tx.Exec(ctx, sqlDeleteLink, row.Timestamp, row.Fid, row.TargetFid)
	return errs.WrapMsg(err, "delete link", "hash", row.Hash)
}

func (h *Handler) verification(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, state shuttle.MessageState) error {
	row, err := formatVerification(msg)
	if err != nil {
		return err
	}
	if state == shuttle.StateCreated {
		_, err = tx.Exec(ctx, sqlInsertVerification, row.Fid, row.SignerAddress, row.Timestamp)
		return errs.WrapMsg(err, "insert verification", "address", row.SignerAddress)
	}
	_, err = tx.Exec(ctx, sqlDeleteVerification, row.Timestamp, row.Fid, row.SignerAddress)
	return errs.WrapMsg(err, "delete verification", "address", row.SignerAddress)
}

// userData only applies adds; a pruned or revoked value stays until the next add replaces it.
func (h *Handler) userData(ctx context.Context, tx pgx.Tx, msg *hubpb.Message, state shuttle.MessageState) error {
	if state != shuttle.StateCreated {
		return nil
	}
	body, ok := msg.Data.Body.(*hubpb.UserDataBody)
	if !ok {
		return errs.ErrDecode.WrapMsg("missing userDataBody", "hash", msg.HashHex())
	}
	cols, ok := userDataColumns[body.Type]
	if !ok {
		h.log.Debug("unknown user data type", zap.Int32("type", int32(body.Type)))
		return nil
	}
	_, err := tx.Exec(ctx, upsertUserDataSQL(cols[0], cols[1]), int64(msg.Fid()), body.Value, msg.Timestamp())
	return errs.WrapMsg(err, "upsert user data", "fid", msg.Fid(), "field", cols[0])
}
