package eventstream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, -1), mr
}

func TestRedisQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	q, _ := newRedisQueue(t)
	stream := StreamKey("localhost:2283", "0")
	assert.Equal(t, "hub:localhost:2283:evt:msg:0", stream)

	require.NoError(t, q.CreateGroup(ctx, stream, "hub_events"))
	// BUSYGROUP is swallowed
	require.NoError(t, q.CreateGroup(ctx, stream, "hub_events"))

	require.NoError(t, q.Add(ctx, stream, []byte("e100"), []byte("e101"), []byte("e102")))
	size, err := q.Size(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	got, err := q.Reserve(ctx, stream, "hub_events", "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []byte("e100"), got[0].Data)
	assert.Equal(t, []byte("e102"), got[2].Data)
	assert.False(t, got[0].EnqueuedAt.IsZero())

	require.NoError(t, q.Ack(ctx, stream, "hub_events", got[0].ID, got[1].ID))
	size, err = q.Size(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	more, err := q.Reserve(ctx, stream, "hub_events", "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, more)

	stale, err := q.ClaimStale(ctx, stream, "hub_events", "c2", 0, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, got[2].ID, stale[0].ID)
	assert.Equal(t, []byte("e102"), stale[0].Data)

	require.NoError(t, q.Ack(ctx, stream, "hub_events", stale[0].ID))
	size, err = q.Size(ctx, stream)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestRedisAddNothing(t *testing.T) {
	q, _ := newRedisQueue(t)
	require.NoError(t, q.Add(context.Background(), "s"))
	require.NoError(t, q.Ack(context.Background(), "s", "g"))
}

func TestRedisReserveWithoutGroupFails(t *testing.T) {
	q, _ := newRedisQueue(t)
	require.NoError(t, q.Add(context.Background(), "s", []byte("x")))
	_, err := q.Reserve(context.Background(), "s", "nope", "c", 1)
	assert.Error(t, err)
}

func TestRedisEnqueuedAtFromID(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()
	before := time.Now().Add(-time.Minute)
	require.NoError(t, q.CreateGroup(ctx, "s", "g"))
	require.NoError(t, q.Add(ctx, "s", []byte("x")))
	got, err := q.Reserve(ctx, "s", "g", "c", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].EnqueuedAt.After(before))
}
