package shuttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"shuttle/service/hub"
	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
	"shuttle/tools/ids"
)

// eventIDAt is the id the hub would give the first event of that millisecond.
func eventIDAt(t time.Time) uint64 {
	return uint64(t.UnixMilli()-ids.FarcasterEpoch) << ids.SeqBits
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func castAdd(fid uint64, hash string) *hubpb.Message {
	return &hubpb.Message{
		Data: &hubpb.MessageData{
			Type:      hubpb.MessageTypeCastAdd,
			Fid:       fid,
			Timestamp: 100,
			Body:      &hubpb.CastAddBody{Text: "gm"},
		},
		Hash: []byte(hash),
	}
}

func castRemove(fid uint64, hash, target string) *hubpb.Message {
	return &hubpb.Message{
		Data: &hubpb.MessageData{
			Type:      hubpb.MessageTypeCastRemove,
			Fid:       fid,
			Timestamp: 200,
			Body:      &hubpb.CastRemoveBody{TargetHash: []byte(target)},
		},
		Hash: []byte(hash),
	}
}

func mergeEvent(id uint64, msg *hubpb.Message, deleted ...*hubpb.Message) *hubpb.HubEvent {
	return &hubpb.HubEvent{
		Type: hubpb.HubEventTypeMergeMessage,
		Id:   id,
		Body: &hubpb.MergeMessageBody{Message: msg, DeletedMessages: deleted},
	}
}

func encode(evt *hubpb.HubEvent) []byte {
	b, err := evt.Marshal()
	if err != nil {
		panic(err)
	}
	return b
}

// fakeStream delivers events pushed by the test, one Recv at a time.
type fakeStream struct {
	ctx    context.Context
	events chan *hubpb.HubEvent
	end    chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan *hubpb.HubEvent), end: make(chan error)}
}

func (s *fakeStream) Recv() (*hubpb.HubEvent, error) {
	select {
	case e := <-s.events:
		return e, nil
	case err := <-s.end:
		return nil, err
	case <-s.ctx.Done():
		return nil, errs.ErrConnection.WrapCause(s.ctx.Err(), "stream cancelled")
	}
}

type fakeHubClient struct {
	host     string
	readyErr error
	streams  chan *fakeStream

	mu     sync.Mutex
	reqs   []*hubpb.SubscribeRequest
	closed bool
}

func newFakeHubClient() *fakeHubClient {
	return &fakeHubClient{host: "hub.test:2283", streams: make(chan *fakeStream, 8)}
}

func (c *fakeHubClient) Host() string { return c.host }

func (c *fakeHubClient) WaitForReady(context.Context) error { return c.readyErr }

func (c *fakeHubClient) Subscribe(ctx context.Context, req *hubpb.SubscribeRequest) (hub.EventStream, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	select {
	case s := <-c.streams:
		s.ctx = ctx
		return s, nil
	case <-ctx.Done():
		return nil, errs.ErrConnection.WrapCause(ctx.Err(), "subscribe")
	}
}

func (c *fakeHubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeHubClient) requests() []*hubpb.SubscribeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*hubpb.SubscribeRequest(nil), c.reqs...)
}

// fakeDB makes staged writes visible only on commit.
type fakeDB struct {
	mu        sync.Mutex
	committed []string
	begins    int
	commits   int
	rollbacks int
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.begins++
	return &fakeTx{db: d}, nil
}

func (d *fakeDB) rows() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.committed...)
}

type fakeTx struct {
	pgx.Tx
	db     *fakeDB
	staged []string
	closed bool
}

func (t *fakeTx) stage(row string) { t.staged = append(t.staged, row) }

func (t *fakeTx) Commit(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.commits++
	t.db.committed = append(t.db.committed, t.staged...)
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.rollbacks++
	return nil
}

type handledCall struct {
	Hash      string
	Op        Operation
	State     MessageState
	IsNew     bool
	WasMissed bool
}

// recordingHandler stages "op:state:hash" rows and remembers every call.
type recordingHandler struct {
	mu     sync.Mutex
	calls  []handledCall
	failOn string
}

func (h *recordingHandler) HandleMessageMerge(_ context.Context, tx pgx.Tx, msg *hubpb.Message, op Operation,
	state MessageState, isNew, wasMissed bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	hash := string(msg.Hash)
	h.calls = append(h.calls, handledCall{Hash: hash, Op: op, State: state, IsNew: isNew, WasMissed: wasMissed})
	if hash == h.failOn {
		return fmt.Errorf("constraint violation on %s", hash)
	}
	tx.(*fakeTx).stage(fmt.Sprintf("%s:%s:%s", op, state, hash))
	return nil
}

func (h *recordingHandler) snapshot() []handledCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]handledCall(nil), h.calls...)
}
