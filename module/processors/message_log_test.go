package processors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle/module/shuttle"
	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
)

func newTestLog(now time.Time) *MessageLog {
	l := NewMessageLog()
	l.now = func() time.Time { return now }
	return l
}

func TestMessageLogNewMessage(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tx := &fakeTx{row: fakeRow{id: 1}}
	msg := message(hubpb.MessageTypeCastAdd, 1, []byte{0xaa}, &hubpb.CastAddBody{Text: "gm"})

	isNew, err := newTestLog(now).StoreMessage(context.Background(), tx, msg, shuttle.OperationMerge)
	require.NoError(t, err)
	assert.True(t, isNew)

	require.Len(t, tx.calls, 1)
	args := tx.calls[0].args
	assert.Equal(t, int64(1), args[0])
	assert.Equal(t, int16(hubpb.MessageTypeCastAdd), args[1])
	assert.Equal(t, "0xaa", args[5])
	assert.Equal(t, "0xabcd", args[6])
	assert.Nil(t, args[8])
	assert.Nil(t, args[9])
	assert.Nil(t, args[10])
}

func TestMessageLogStampsOperation(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	msg := message(hubpb.MessageTypeCastAdd, 1, []byte{0xaa}, &hubpb.CastAddBody{Text: "gm"})

	for op, idx := range map[shuttle.Operation]int{
		shuttle.OperationDelete: 8,
		shuttle.OperationPrune:  9,
		shuttle.OperationRevoke: 10,
	} {
		tx := &fakeTx{row: fakeRow{id: 1}}
		_, err := newTestLog(now).StoreMessage(context.Background(), tx, msg, op)
		require.NoError(t, err)
		stamp, ok := tx.calls[0].args[idx].(*time.Time)
		require.True(t, ok, op)
		assert.Equal(t, now, *stamp, op)
	}
}

func TestMessageLogDuplicateIsNotNew(t *testing.T) {
	tx := &fakeTx{row: fakeRow{err: pgx.ErrNoRows}}
	msg := message(hubpb.MessageTypeCastAdd, 1, []byte{0xaa}, &hubpb.CastAddBody{Text: "gm"})

	isNew, err := NewMessageLog().StoreMessage(context.Background(), tx, msg, shuttle.OperationMerge)
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestMessageLogErrors(t *testing.T) {
	_, err := NewMessageLog().StoreMessage(context.Background(), &fakeTx{}, &hubpb.Message{Hash: []byte{1}}, shuttle.OperationMerge)
	assert.True(t, errors.Is(err, errs.ErrDecode))

	boom := errors.New("deadlock detected")
	tx := &fakeTx{row: fakeRow{err: boom}}
	msg := message(hubpb.MessageTypeCastAdd, 1, []byte{0xaa}, &hubpb.CastAddBody{Text: "gm"})
	_, err = NewMessageLog().StoreMessage(context.Background(), tx, msg, shuttle.OperationMerge)
	assert.ErrorIs(t, err, boom)
}

func TestMessageLogLateMergeKeepsDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	db := newTableDB()
	tx, _ := db.Begin(ctx)
	store := newTestLog(now)
	msg := message(hubpb.MessageTypeCastAdd, 1, []byte{0xaa}, &hubpb.CastAddBody{Text: "gm"})

	isNew, err := store.StoreMessage(ctx, tx, msg, shuttle.OperationDelete)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.StoreMessage(ctx, tx, msg, shuttle.OperationMerge)
	require.NoError(t, err)
	assert.False(t, isNew, "a merge arriving after its delete is not new")

	row := db.message("0xaa", 1, hubpb.MessageTypeCastAdd)
	require.NotNil(t, row)
	require.NotNil(t, row.deletedAt)
	assert.Equal(t, now, *row.deletedAt)

	isNew, err = store.StoreMessage(ctx, tx, msg, shuttle.OperationPrune)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotNil(t, row.prunedAt)
	assert.NotNil(t, row.deletedAt)
}

func TestMessageLogUpsertNeverClearsStamps(t *testing.T) {
	assert.Contains(t, sqlUpsertMessage, "COALESCE(messages.deleted_at, EXCLUDED.deleted_at)")
	assert.NotContains(t, sqlUpsertMessage, "IS DISTINCT FROM")
}
