package shuttle

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shuttle/service/checkpoint"
	"shuttle/service/eventstream"
	"shuttle/service/hub"
	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
	"shuttle/tools/safe"
)

// HubClient is the part of hub.Client the subscriber drives.
type HubClient interface {
	Host() string
	WaitForReady(ctx context.Context) error
	Subscribe(ctx context.Context, req *hubpb.SubscribeRequest) (hub.EventStream, error)
	Close() error
}

type SubscriberState int32

const (
	StateIdle SubscriberState = iota
	StateConnecting
	StateStreaming
	StateClosed
	StateErrored
)

func (s SubscriberState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

type SubscriberConfig struct {
	Shard        Shard
	EventTypes   []hubpb.HubEventType
	BatchSize    int
	ReadyTimeout time.Duration
	RetryBackoff time.Duration
}

func (c *SubscriberConfig) setDefaults() {
	if len(c.EventTypes) == 0 {
		c.EventTypes = hubpb.DefaultEventTypes
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 5 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
}

// HubSubscriber streams hub events into the shard's queue and advances the
// checkpoint only once a whole batch has been enqueued.
type HubSubscriber struct {
	client      HubClient
	queue       eventstream.Queue
	checkpoints checkpoint.Store
	cfg         SubscriberConfig
	stream      string
	log         *zap.Logger

	state   atomic.Int32
	stopped atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHubSubscriber(client HubClient, queue eventstream.Queue, checkpoints checkpoint.Store,
	cfg SubscriberConfig, log *zap.Logger) *HubSubscriber {
	safe.MustNotNil(client, "hub client")
	safe.MustNotNil(queue, "queue")
	safe.MustNotNil(checkpoints, "checkpoint store")
	cfg.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	shardKey := cfg.Shard.Key()
	return &HubSubscriber{
		client:      client,
		queue:       queue,
		checkpoints: checkpoints,
		cfg:         cfg,
		stream:      eventstream.StreamKey(client.Host(), shardKey),
		log:         log.With(zap.String("shard", shardKey), zap.String("host", client.Host())),
	}
}

func (s *HubSubscriber) Stream() string { return s.stream }

func (s *HubSubscriber) ShardKey() string { return s.cfg.Shard.Key() }

func (s *HubSubscriber) State() SubscriberState { return SubscriberState(s.state.Load()) }

func (s *HubSubscriber) setState(st SubscriberState) { s.state.Store(int32(st)) }

// Start waits for the hub channel and then streams in the background. A hub that
// never becomes ready is fatal.
func (s *HubSubscriber) Start(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()
	if err := s.client.WaitForReady(readyCtx); err != nil {
		s.setState(StateErrored)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errs.ErrInternalServer.WrapMsg("subscriber already started")
	}
	runCtx, runCancel := context.WithCancel(ctx)
	s.cancel = runCancel
	s.done = make(chan struct{})
	done := s.done
	safe.Go("hub-subscriber", func() {
		defer close(done)
		s.run(runCtx)
	})
	return nil
}

func (s *HubSubscriber) run(ctx context.Context) {
	for {
		err := s.connectAndStream(ctx)
		if s.stopped.Load() || ctx.Err() != nil {
			s.setState(StateClosed)
			s.log.Info("subscriber stopped")
			return
		}
		if err != nil {
			s.setState(StateErrored)
			s.log.Warn("hub stream failed, reconnecting", zap.Error(err), zap.Duration("backoff", s.cfg.RetryBackoff))
		} else {
			s.setState(StateClosed)
			s.log.Info("hub stream closed, reconnecting", zap.Duration("backoff", s.cfg.RetryBackoff))
		}

		t := time.NewTimer(s.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			s.setState(StateClosed)
			return
		case <-t.C:
		}
	}
}

func (s *HubSubscriber) connectAndStream(ctx context.Context) error {
	s.setState(StateConnecting)

	shardKey := s.cfg.Shard.Key()
	from, err := s.checkpoints.Get(ctx, shardKey)
	if err != nil {
		return err
	}
	req := &hubpb.SubscribeRequest{
		EventTypes:  s.cfg.EventTypes,
		TotalShards: hubpb.Uint64(s.cfg.Shard.Total),
		ShardIndex:  hubpb.Uint64(s.cfg.Shard.Index),
	}
	if from > 0 {
		req.FromId = hubpb.Uint64(from)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := s.client.Subscribe(streamCtx, req)
	if err != nil {
		return err
	}
	s.setState(StateStreaming)
	s.log.Info("subscribed to hub", zap.Uint64("from_id", from))

	// events still buffered when the stream drops were never checkpointed,
	// so the hub sends them again after the reconnect
	batch := NewBatch(s.cfg.BatchSize)
	for {
		evt, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		batch.Add(evt)
		if batch.IsFull() {
			if err := s.flush(ctx, batch.Drain()); err != nil {
				return err
			}
		}
	}
}

// flush appends the events in order, then writes the last id as the checkpoint.
func (s *HubSubscriber) flush(ctx context.Context, events []*hubpb.HubEvent) error {
	if len(events) == 0 {
		return nil
	}
	payloads := make([][]byte, 0, len(events))
	for _, evt := range events {
		b, err := evt.Marshal()
		if err != nil {
			return errs.ErrDecode.WrapCause(err, "encode hub event", "event_id", evt.Id)
		}
		payloads = append(payloads, b)
	}
	if err := s.queue.Add(ctx, s.stream, payloads...); err != nil {
		return errs.ErrQueue.WrapCause(err, "enqueue batch", "stream", s.stream, "size", len(events))
	}

	last := events[len(events)-1].Id
	if err := s.checkpoints.Set(ctx, s.cfg.Shard.Key(), last); err != nil {
		return err
	}
	s.log.Debug("batch enqueued", zap.Int("size", len(events)), zap.Uint64("event_id", last))
	return nil
}

// LastEventID reads the shard's checkpoint.
func (s *HubSubscriber) LastEventID(ctx context.Context) (uint64, error) {
	return s.checkpoints.Get(ctx, s.cfg.Shard.Key())
}

// Stop cancels the stream and waits for the read loop to exit.
func (s *HubSubscriber) Stop() {
	s.stopped.Store(true)
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.setState(StateClosed)
}

// Destroy stops the subscriber and releases the hub channel.
func (s *HubSubscriber) Destroy() error {
	s.Stop()
	return s.client.Close()
}
