package shuttle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"shuttle/service/hub/hubpb"
)

func TestGetMessageState(t *testing.T) {
	adds := []hubpb.MessageType{
		hubpb.MessageTypeCastAdd,
		hubpb.MessageTypeReactionAdd,
		hubpb.MessageTypeLinkAdd,
		hubpb.MessageTypeVerificationAddEthAddress,
	}
	removes := []hubpb.MessageType{
		hubpb.MessageTypeCastRemove,
		hubpb.MessageTypeReactionRemove,
		hubpb.MessageTypeLinkRemove,
		hubpb.MessageTypeVerificationRemove,
	}
	onePhase := []hubpb.MessageType{
		hubpb.MessageTypeUserDataAdd,
		hubpb.MessageTypeUsernameProof,
	}
	others := []Operation{OperationDelete, OperationRevoke, OperationPrune}

	msg := func(t hubpb.MessageType) *hubpb.Message {
		return &hubpb.Message{Data: &hubpb.MessageData{Type: t}}
	}

	for _, typ := range adds {
		assert.Equal(t, StateCreated, GetMessageState(msg(typ), OperationMerge), typ.String())
		for _, op := range others {
			assert.Equal(t, StateDeleted, GetMessageState(msg(typ), op), typ.String())
		}
	}
	for _, typ := range removes {
		assert.Equal(t, StateDeleted, GetMessageState(msg(typ), OperationMerge), typ.String())
		for _, op := range others {
			assert.Equal(t, StateDeleted, GetMessageState(msg(typ), op), typ.String())
		}
	}
	for _, typ := range onePhase {
		assert.Equal(t, StateCreated, GetMessageState(msg(typ), OperationMerge), typ.String())
		for _, op := range others {
			assert.Equal(t, StateDeleted, GetMessageState(msg(typ), op), typ.String())
		}
	}
}

func TestBatch(t *testing.T) {
	b := NewBatch(2)
	assert.False(t, b.IsFull())
	b.Add(&hubpb.HubEvent{Id: 1})
	b.Add(&hubpb.HubEvent{Id: 2})
	assert.True(t, b.IsFull())

	out := b.Drain()
	assert.Len(t, out, 2)
	assert.Equal(t, uint64(1), out[0].Id)
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.IsFull())
}

func TestShardKey(t *testing.T) {
	assert.Equal(t, "all", Shard{}.Key())
	assert.Equal(t, "all", Shard{Index: 3}.Key())
	assert.Equal(t, "0", Shard{Total: 4}.Key())
	assert.Equal(t, "3", Shard{Total: 4, Index: 3}.Key())
}
