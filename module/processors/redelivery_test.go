package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle/module/shuttle"
	"shuttle/service/hub/hubpb"
)

// castThenRemove returns a cast add event and the remove event that deletes it.
func castThenRemove() (add, remove *hubpb.HubEvent) {
	cast := message(hubpb.MessageTypeCastAdd, 7, []byte{0x01}, &hubpb.CastAddBody{Text: "gm"})
	rm := message(hubpb.MessageTypeCastRemove, 7, []byte{0x02}, &hubpb.CastRemoveBody{TargetHash: []byte{0x01}})
	rm.Data.Timestamp = 200

	add = &hubpb.HubEvent{Type: hubpb.HubEventTypeMergeMessage, Id: 1,
		Body: &hubpb.MergeMessageBody{Message: cast}}
	remove = &hubpb.HubEvent{Type: hubpb.HubEventTypeMergeMessage, Id: 2,
		Body: &hubpb.MergeMessageBody{Message: rm, DeletedMessages: []*hubpb.Message{cast}}}
	return add, remove
}

func replay(t *testing.T, events ...*hubpb.HubEvent) *tableDB {
	t.Helper()
	db := newTableDB()
	p := shuttle.NewHubEventProcessor(db, NewHandler(nil), NewMessageLog(), nil)
	for _, evt := range events {
		_, err := p.ProcessHubEvent(context.Background(), evt)
		require.NoError(t, err, "event %d", evt.Id)
	}
	return db
}

func TestRedeliveredMergeAfterRemoveStaysDeleted(t *testing.T) {
	add, remove := castThenRemove()

	for name, events := range map[string][]*hubpb.HubEvent{
		"in order":           {add, remove},
		"in order redeliver": {add, remove, add, remove},
		"out of order":       {remove, add},
		"remove redelivered": {remove, add, remove},
	} {
		t.Run(name, func(t *testing.T) {
			db := replay(t, events...)

			assert.Empty(t, db.liveCasts())
			cast := db.message("0x01", 7, hubpb.MessageTypeCastAdd)
			require.NotNil(t, cast)
			assert.NotNil(t, cast.deletedAt)
			rm := db.message("0x02", 7, hubpb.MessageTypeCastRemove)
			require.NotNil(t, rm)
			assert.Nil(t, rm.deletedAt)
		})
	}
}

func TestCastAddAloneIsLive(t *testing.T) {
	add, _ := castThenRemove()
	db := replay(t, add, add)
	assert.Equal(t, []string{"0x01"}, db.liveCasts())
}
