package hubpb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"shuttle/tools/errs"
)

func reactionAdd(fid uint64, hash string) *Message {
	return &Message{
		Data: &MessageData{
			Type:      MessageTypeReactionAdd,
			Fid:       fid,
			Timestamp: 100_000_000,
			Network:   1,
			Body: &ReactionBody{
				Type:         ReactionTypeLike,
				TargetCastId: &CastId{Fid: 7, Hash: []byte("target")},
			},
		},
		Hash:            []byte(hash),
		HashScheme:      1,
		Signature:       []byte("sig"),
		SignatureScheme: 1,
		Signer:          []byte("signer"),
	}
}

func TestHubEventRoundTrip(t *testing.T) {
	evt := &HubEvent{
		Type: HubEventTypeMergeMessage,
		Id:   123456789,
		Body: &MergeMessageBody{
			Message:         reactionAdd(42, "b"),
			DeletedMessages: []*Message{reactionAdd(42, "a")},
		},
	}
	b, err := evt.Marshal()
	require.NoError(t, err)

	var got HubEvent
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, HubEventTypeMergeMessage, got.Type)
	assert.Equal(t, uint64(123456789), got.Id)

	body, ok := got.Body.(*MergeMessageBody)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), body.Message.Hash)
	require.Len(t, body.DeletedMessages, 1)
	assert.Equal(t, []byte("a"), body.DeletedMessages[0].Hash)
	assert.Equal(t, MessageTypeReactionAdd, body.Message.Type())
	assert.Equal(t, uint64(42), body.Message.Fid())

	reaction, ok := body.Message.Data.Body.(*ReactionBody)
	require.True(t, ok)
	assert.Equal(t, ReactionTypeLike, reaction.Type)
	assert.Equal(t, uint64(7), reaction.TargetCastId.Fid)

	again, err := got.Marshal()
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestUsernameProofEventUsesField8(t *testing.T) {
	proof := &MergeUserNameProofBody{
		UsernameProof: &UserNameProof{Timestamp: 5, Name: []byte("alice.eth"), Fid: 42, Type: 1},
	}
	inner, err := proof.Marshal()
	require.NoError(t, err)

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(HubEventTypeMergeUsernameProof))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 9)
	b = protowire.AppendTag(b, 8, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)

	var evt HubEvent
	require.NoError(t, evt.Unmarshal(b))
	body, ok := evt.Body.(*MergeUserNameProofBody)
	require.True(t, ok, "field 8 decodes as a username proof body")
	assert.Equal(t, []byte("alice.eth"), body.UsernameProof.Name)
	assert.Equal(t, uint64(42), body.UsernameProof.Fid)

	out, err := evt.Marshal()
	require.NoError(t, err)
	assert.Equal(t, b, out)
}

func TestUnknownFieldsSurvive(t *testing.T) {
	msg := reactionAdd(1, "h")
	b, err := msg.Marshal()
	require.NoError(t, err)

	// a field from a newer schema
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	var got Message
	require.NoError(t, got.Unmarshal(b))
	out, err := got.Marshal()
	require.NoError(t, err)
	assert.Equal(t, b, out)
}

func TestDataBytesDecoded(t *testing.T) {
	data := &MessageData{
		Type:      MessageTypeUserDataAdd,
		Fid:       9,
		Timestamp: 5,
		Body:      &UserDataBody{Type: UserDataTypeBio, Value: "hello"},
	}
	raw, err := data.Marshal()
	require.NoError(t, err)

	msg := &Message{Hash: []byte("h"), DataBytes: raw}
	b, err := msg.Marshal()
	require.NoError(t, err)

	var got Message
	require.NoError(t, got.Unmarshal(b))
	require.NotNil(t, got.Data)
	assert.Equal(t, MessageTypeUserDataAdd, got.Type())
	ud, ok := got.Data.Body.(*UserDataBody)
	require.True(t, ok)
	assert.Equal(t, "hello", ud.Value)

	out, err := got.Marshal()
	require.NoError(t, err)
	assert.Equal(t, b, out)
}

func TestUnpackedMentionsAccepted(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 10)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 11)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, "gm @a @b")

	var body CastAddBody
	require.NoError(t, body.Unmarshal(b))
	assert.Equal(t, []uint64{10, 11}, body.Mentions)
	assert.Equal(t, "gm @a @b", body.Text)

	packed, err := body.Marshal()
	require.NoError(t, err)
	var again CastAddBody
	require.NoError(t, again.Unmarshal(packed))
	assert.Equal(t, body.Mentions, again.Mentions)
}

func TestTruncatedInputIsDecodeError(t *testing.T) {
	b, err := reactionAdd(1, "h").Marshal()
	require.NoError(t, err)

	var got Message
	err = got.Unmarshal(b[:len(b)-2])
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDecode))
}

func TestRequestsRoundTrip(t *testing.T) {
	sub := &SubscribeRequest{
		EventTypes:  DefaultEventTypes,
		FromId:      Uint64(0),
		TotalShards: Uint64(4),
		ShardIndex:  Uint64(0),
	}
	b, err := sub.Marshal()
	require.NoError(t, err)
	var gotSub SubscribeRequest
	require.NoError(t, gotSub.Unmarshal(b))
	assert.Equal(t, DefaultEventTypes, gotSub.EventTypes)
	require.NotNil(t, gotSub.FromId)
	assert.Equal(t, uint64(0), *gotSub.FromId)
	assert.Equal(t, uint64(4), *gotSub.TotalShards)

	req := &FidRequest{Fid: 42, PageSize: Uint32(3000), PageToken: []byte("tok"), Reverse: Bool(true)}
	b, err = req.Marshal()
	require.NoError(t, err)
	var gotReq FidRequest
	require.NoError(t, gotReq.Unmarshal(b))
	assert.Equal(t, uint64(42), gotReq.Fid)
	assert.Equal(t, uint32(3000), *gotReq.PageSize)
	assert.Equal(t, []byte("tok"), gotReq.PageToken)
	assert.True(t, *gotReq.Reverse)

	fids := &FidsRequest{PageSize: Uint32(1), Reverse: Bool(true)}
	b, err = fids.Marshal()
	require.NoError(t, err)
	var gotFids FidsRequest
	require.NoError(t, gotFids.Unmarshal(b))
	assert.Equal(t, uint32(1), *gotFids.PageSize)
	assert.Nil(t, gotFids.PageToken)
}

func TestEventCacheKey(t *testing.T) {
	merge := &HubEvent{Id: 1, Body: &MergeMessageBody{
		Message:         &Message{Hash: []byte{0xbb}},
		DeletedMessages: []*Message{{Hash: []byte{0xaa}}},
	}}
	assert.Equal(t, "hub:evt:merge:bb:aa", EventCacheKey(merge))

	again := &HubEvent{Id: 2, Body: merge.Body}
	assert.Equal(t, EventCacheKey(merge), EventCacheKey(again))

	prune := &HubEvent{Body: &PruneMessageBody{Message: &Message{Hash: []byte{0x01}}}}
	assert.Equal(t, "hub:evt:prune:01", EventCacheKey(prune))
	revoke := &HubEvent{Body: &RevokeMessageBody{Message: &Message{Hash: []byte{0x01}}}}
	assert.Equal(t, "hub:evt:revoke:01", EventCacheKey(revoke))
}

func TestMessageTypeClassification(t *testing.T) {
	assert.True(t, MessageTypeLinkAdd.IsAdd())
	assert.True(t, MessageTypeLinkRemove.IsRemove())
	assert.False(t, MessageTypeUserDataAdd.IsAdd())
	assert.True(t, MessageTypeCastRemove.Family().TwoPhase())
	assert.False(t, MessageTypeUsernameProof.Family().TwoPhase())
	assert.Equal(t, "MESSAGE_TYPE_REACTION_ADD", MessageTypeReactionAdd.String())
}

func TestCodec(t *testing.T) {
	c := Codec{}
	assert.Equal(t, "proto", c.Name())

	b, err := c.Marshal(&FidsResponse{Fids: []uint64{3, 2, 1}})
	require.NoError(t, err)
	var resp FidsResponse
	require.NoError(t, c.Unmarshal(b, &resp))
	assert.Equal(t, []uint64{3, 2, 1}, resp.Fids)

	_, err = c.Marshal("nope")
	assert.Error(t, err)
}
