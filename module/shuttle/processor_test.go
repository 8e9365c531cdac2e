package shuttle

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
)

func TestMergeAndImpliedDeletesShareOneTransaction(t *testing.T) {
	db := &fakeDB{}
	h := &recordingHandler{}
	p := NewHubEventProcessor(db, h, nil, nil)

	evt := mergeEvent(10, castRemove(1, "B", "A"), castAdd(1, "A"))
	res, err := p.ProcessHubEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	assert.Equal(t, 1, db.begins)
	assert.Equal(t, 1, db.commits)
	assert.Equal(t, []string{"delete:deleted:A", "merge:deleted:B"}, db.rows())

	calls := h.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, handledCall{Hash: "A", Op: OperationDelete, State: StateDeleted, IsNew: true}, calls[0])
	assert.Equal(t, handledCall{Hash: "B", Op: OperationMerge, State: StateDeleted, IsNew: true}, calls[1])
}

func TestHandlerFailureRollsBackWholeEvent(t *testing.T) {
	db := &fakeDB{}
	h := &recordingHandler{failOn: "B"}
	p := NewHubEventProcessor(db, h, nil, nil)

	_, err := p.ProcessHubEvent(context.Background(), mergeEvent(10, castAdd(1, "B"), castAdd(1, "A")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrHandler))
	assert.Contains(t, err.Error(), "constraint violation on B")

	// A's deletion was staged but never became visible
	assert.Empty(t, db.rows())
	assert.Equal(t, 0, db.commits)
	assert.Equal(t, 1, db.rollbacks)
}

func TestRevokeAndPrune(t *testing.T) {
	db := &fakeDB{}
	h := &recordingHandler{}
	p := NewHubEventProcessor(db, h, nil, nil)
	ctx := context.Background()

	_, err := p.ProcessHubEvent(ctx, &hubpb.HubEvent{Type: hubpb.HubEventTypeRevokeMessage, Id: 1,
		Body: &hubpb.RevokeMessageBody{Message: castAdd(1, "r")}})
	require.NoError(t, err)
	_, err = p.ProcessHubEvent(ctx, &hubpb.HubEvent{Type: hubpb.HubEventTypePruneMessage, Id: 2,
		Body: &hubpb.PruneMessageBody{Message: castAdd(1, "p")}})
	require.NoError(t, err)

	assert.Equal(t, []string{"revoke:deleted:r", "prune:deleted:p"}, db.rows())
	assert.Equal(t, 2, db.commits)
}

func TestNonMessageEventsAreSkipped(t *testing.T) {
	db := &fakeDB{}
	p := NewHubEventProcessor(db, &recordingHandler{}, nil, nil)

	res, err := p.ProcessHubEvent(context.Background(), &hubpb.HubEvent{
		Type: hubpb.HubEventTypeMergeOnChainEvent,
		Id:   3,
		Body: &hubpb.MergeOnChainEventBody{OnChainEvent: &hubpb.OnChainEvent{Fid: 9}},
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, db.begins)
}

func TestMissingMessageIsFlagged(t *testing.T) {
	db := &fakeDB{}
	h := &recordingHandler{}
	p := NewHubEventProcessor(db, h, nil, nil)

	require.NoError(t, p.HandleMissingMessage(context.Background(), castAdd(1, "m")))
	calls := h.snapshot()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].WasMissed)
	assert.Equal(t, OperationMerge, calls[0].Op)
	assert.Equal(t, StateCreated, calls[0].State)
}

// seenStore reports a message new only the first time its hash is stored.
type seenStore struct {
	seen map[string]bool
}

func (s *seenStore) StoreMessage(_ context.Context, _ pgx.Tx, msg *hubpb.Message, op Operation) (bool, error) {
	key := string(msg.Hash) + ":" + string(op)
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	live := map[string]bool{}
	handler := MessageHandlerFunc(func(_ context.Context, _ pgx.Tx, msg *hubpb.Message, _ Operation,
		state MessageState, isNew, _ bool) error {
		if !isNew {
			return nil
		}
		target := string(msg.Hash)
		if body, ok := msg.Data.Body.(*hubpb.CastRemoveBody); ok {
			target = string(body.TargetHash)
		}
		live[target] = state == StateCreated
		return nil
	})
	p := NewHubEventProcessor(&fakeDB{}, handler, &seenStore{seen: map[string]bool{}}, nil)

	events := []*hubpb.HubEvent{
		mergeEvent(1, castAdd(1, "A")),
		mergeEvent(2, castAdd(1, "C")),
		mergeEvent(3, castRemove(1, "B", "A"), castAdd(1, "A")),
	}
	apply := func() map[string]bool {
		for _, e := range events {
			_, err := p.ProcessHubEvent(context.Background(), e)
			require.NoError(t, err)
		}
		out := map[string]bool{}
		for k, v := range live {
			out[k] = v
		}
		return out
	}

	once := apply()
	twice := apply()
	assert.Equal(t, once, twice)
	assert.Equal(t, map[string]bool{"A": false, "C": true}, twice)
}

func TestMessageWithoutDataIsRejected(t *testing.T) {
	p := NewHubEventProcessor(&fakeDB{}, &recordingHandler{}, nil, nil)
	_, err := p.ProcessHubEvent(context.Background(), mergeEvent(1, &hubpb.Message{Hash: []byte("x")}))
	assert.True(t, errors.Is(err, errs.ErrDecode))
}
