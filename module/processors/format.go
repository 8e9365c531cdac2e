package processors

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
	"shuttle/tools/ids"
)

func toHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// addressHex left-pads to 20 bytes like an EVM address.
func addressHex(b []byte) string {
	if len(b) < 20 {
		padded := make([]byte, 20)
		copy(padded[20-len(b):], b)
		b = padded
	}
	return toHex(b)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type castRow struct {
	Fid               int64
	ParentFid         *int64
	Hash              string
	ParentHash        *string
	ParentUrl         *string
	Text              string
	Embeds            []byte
	Mentions          []byte
	MentionsPositions []byte
	Timestamp         time.Time
}

type embedJSON struct {
	Url    string      `json:"url,omitempty"`
	CastId *castIdJSON `json:"castId,omitempty"`
}

type castIdJSON struct {
	Fid  uint64 `json:"fid"`
	Hash string `json:"hash"`
}

func formatCast(msg *hubpb.Message) (castRow, error) {
	body, ok := msg.Data.Body.(*hubpb.CastAddBody)
	if !ok {
		return castRow{}, errs.ErrDecode.WrapMsg("missing castAddBody", "hash", msg.HashHex())
	}
	row := castRow{
		Fid:       int64(msg.Fid()),
		Hash:      toHex(msg.Hash),
		ParentUrl: optString(body.ParentUrl),
		Text:      body.Text,
		Timestamp: msg.Timestamp(),
	}
	if p := body.ParentCastId; p != nil {
		fid := int64(p.Fid)
		hash := toHex(p.Hash)
		row.ParentFid = &fid
		row.ParentHash = &hash
	}

	embeds := make([]embedJSON, 0, len(body.Embeds))
	for _, e := range body.Embeds {
		ej := embedJSON{Url: e.Url}
		if e.CastId != nil {
			ej.CastId = &castIdJSON{Fid: e.CastId.Fid, Hash: toHex(e.CastId.Hash)}
		}
		embeds = append(embeds, ej)
	}
	var err error
	if row.Embeds, err = json.Marshal(embeds); err != nil {
		return castRow{}, errs.Wrap(err)
	}
	if row.Mentions, err = json.Marshal(nonNil(body.Mentions)); err != nil {
		return castRow{}, errs.Wrap(err)
	}
	if row.MentionsPositions, err = json.Marshal(nonNil(body.MentionsPositions)); err != nil {
		return castRow{}, errs.Wrap(err)
	}
	return row, nil
}

func nonNil(v []uint64) []uint64 {
	if v == nil {
		return []uint64{}
	}
	return v
}

type reactionRow struct {
	Fid            int64
	TargetCastFid  *int64
	Type           int16
	Hash           string
	TargetCastHash *string
	TargetUrl      *string
	Timestamp      time.Time
}

func formatReaction(msg *hubpb.Message) (reactionRow, error) {
	body, ok := msg.Data.Body.(*hubpb.ReactionBody)
	if !ok {
		return reactionRow{}, errs.ErrDecode.WrapMsg("missing reactionBody", "hash", msg.HashHex())
	}
	row := reactionRow{
		Fid:       int64(msg.Fid()),
		Type:      int16(body.Type),
		Hash:      toHex(msg.Hash),
		TargetUrl: optString(body.TargetUrl),
		Timestamp: msg.Timestamp(),
	}
	if t := body.TargetCastId; t != nil {
		fid := int64(t.Fid)
		hash := toHex(t.Hash)
		row.TargetCastFid = &fid
		row.TargetCastHash = &hash
	}
	return row, nil
}

type linkRow struct {
	Hash             string
	Fid              int64
	TargetFid        int64
	Type             string
	Timestamp        time.Time
	DisplayTimestamp *time.Time
}

const linkTypeFollow = "follow"

func formatLink(msg *hubpb.Message) (linkRow, error) {
	body, ok := msg.Data.Body.(*hubpb.LinkBody)
	if !ok {
		return linkRow{}, errs.ErrDecode.WrapMsg("missing linkBody", "hash", msg.HashHex())
	}
	row := linkRow{
		Hash:      toHex(msg.Hash),
		Fid:       int64(msg.Fid()),
		TargetFid: int64(body.TargetFid),
		Type:      body.Type,
		Timestamp: msg.Timestamp(),
	}
	if body.DisplayTimestamp != nil {
		ts := ids.FromHubTime(*body.DisplayTimestamp)
		row.DisplayTimestamp = &ts
	}
	return row, nil
}

type verificationRow struct {
	Fid           int64
	SignerAddress string
	Timestamp     time.Time
}

// formatVerification accepts both the add and the remove body; both carry the address.
func formatVerification(msg *hubpb.Message) (verificationRow, error) {
	var addr []byte
	switch body := msg.Data.Body.(type) {
	case *hubpb.VerificationAddAddressBody:
		addr = body.Address
	case *hubpb.VerificationRemoveBody:
		addr = body.Address
	default:
		return verificationRow{}, errs.ErrDecode.WrapMsg("missing verification body", "hash", msg.HashHex())
	}
	return verificationRow{
		Fid:           int64(msg.Fid()),
		SignerAddress: addressHex(addr),
		Timestamp:     msg.Timestamp(),
	}, nil
}

// userDataColumns maps a user data type to its value and *_updated_at columns.
var userDataColumns = map[hubpb.UserDataType][2]string{
	hubpb.UserDataTypePfp:      {"pfp", "pfp_updated_at"},
	hubpb.UserDataTypeDisplay:  {"display_name", "display_name_updated_at"},
	hubpb.UserDataTypeBio:      {"bio", "bio_updated_at"},
	hubpb.UserDataTypeUrl:      {"url", "url_updated_at"},
	hubpb.UserDataTypeUsername: {"username", "username_updated_at"},
}
