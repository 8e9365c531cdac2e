package shuttle

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shuttle/service/eventstream"
	"shuttle/service/hub/hubpb"
	"shuttle/service/metrics"
	"shuttle/tools/errs"
	"shuttle/tools/ids"
	"shuttle/tools/safe"
)

// EventHandler is invoked once per reserved event.
type EventHandler func(ctx context.Context, evt *hubpb.HubEvent) (ProcessResult, error)

type ConsumerConfig struct {
	Group                        string
	Consumer                     string
	MaxEventsPerFetch            int
	MessageProcessingConcurrency int
	EventProcessingTimeout       time.Duration // pending longer than this is reclaimed
	EventDeletionThreshold       time.Duration // entries older than this are trimmed
	IdleSleep                    time.Duration
}

func (c *ConsumerConfig) setDefaults() {
	if c.Group == "" {
		c.Group = "hub_events"
	}
	if c.Consumer == "" {
		host, _ := os.Hostname()
		c.Consumer = "shuttle-" + host
	}
	if c.MaxEventsPerFetch <= 0 {
		c.MaxEventsPerFetch = 10
	}
	if c.MessageProcessingConcurrency <= 0 {
		c.MessageProcessingConcurrency = 10
	}
	if c.EventProcessingTimeout <= 0 {
		c.EventProcessingTimeout = 10 * time.Second
	}
	if c.EventDeletionThreshold <= 0 {
		c.EventDeletionThreshold = 24 * time.Hour
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 500 * time.Millisecond
	}
}

const (
	metricStreamSize   = "hub.event.stream.size"
	metricReserveTime  = "hub.event.stream.reserve_time"
	metricDequeueDelay = "hub.event.stream.dequeue_delay"
	metricTime         = "hub.event.stream.time"
	metricE2ETime      = "hub.event.stream.e2e_time"
	metricErrors       = "hub.event.stream.errors"
	metricSkipped      = "hub.event.stream.skipped"
	metricAckTime      = "hub.event.stream.ack_time"
	metricAck          = "hub.event.stream.ack"
	metricReclaimed    = "hub.event.stream.reclaimed"
	metricTrimmed      = "hub.event.stream.trimmed"
)

// HubEventStreamConsumer drains one shard's stream. A single control loop; not re-entrant.
type HubEventStreamConsumer struct {
	queue   eventstream.Queue
	stream  string
	cfg     ConsumerConfig
	sink    metrics.Sink
	labels  metrics.Labels
	log     *zap.Logger
	now     func() time.Time
	stopped atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHubEventStreamConsumer(queue eventstream.Queue, hubHost string, shard Shard,
	cfg ConsumerConfig, sink metrics.Sink, log *zap.Logger) *HubEventStreamConsumer {
	safe.MustNotNil(queue, "queue")
	cfg.setDefaults()
	if sink == nil {
		sink = metrics.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	shardKey := shard.Key()
	return &HubEventStreamConsumer{
		queue:  queue,
		stream: eventstream.StreamKey(hubHost, shardKey),
		cfg:    cfg,
		sink:   sink,
		labels: metrics.Labels{Hub: hubHost, Source: shardKey},
		log:    log.With(zap.String("shard", shardKey), zap.String("group", cfg.Group)),
		now:    time.Now,
	}
}

func (c *HubEventStreamConsumer) Stream() string { return c.stream }

// Start creates the consumer group and runs the drain loop in the background.
func (c *HubEventStreamConsumer) Start(ctx context.Context, onEvent EventHandler) error {
	safe.MustNotNil(onEvent, "event handler")
	if err := c.queue.CreateGroup(ctx, c.stream, c.cfg.Group); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return errs.ErrInternalServer.WrapMsg("consumer already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	safe.Go("hub-event-consumer", func() {
		defer close(done)
		c.run(runCtx, onEvent)
	})
	return nil
}

func (c *HubEventStreamConsumer) run(ctx context.Context, onEvent EventHandler) {
	c.log.Info("consumer started", zap.String("stream", c.stream))
	for !c.stopped.Load() && ctx.Err() == nil {
		// nothing escaping one pass may end the loop
		err := safe.Call(func() error { return c.poll(ctx, onEvent) })
		if err != nil && ctx.Err() == nil {
			c.log.Error("consumer pass failed", zap.Error(err))
			c.sleep(ctx, c.cfg.IdleSleep)
		}
	}
	c.log.Info("consumer stopped")
}

// poll is one pass of the loop: report depth, reserve, process, ack; when the
// reserve comes back empty, reclaim stale entries and trim old ones instead.
func (c *HubEventStreamConsumer) poll(ctx context.Context, onEvent EventHandler) error {
	if size, err := c.queue.Size(ctx, c.stream); err == nil {
		c.sink.Gauge(metricStreamSize, float64(size), c.labels)
	} else {
		c.log.Warn("stream size unavailable", zap.Error(err))
	}

	start := c.now()
	entries, err := c.queue.Reserve(ctx, c.stream, c.cfg.Group, c.cfg.Consumer, c.cfg.MaxEventsPerFetch)
	c.sink.Timing(metricReserveTime, c.now().Sub(start), c.labels)
	if err != nil {
		return err
	}

	if len(entries) > 0 {
		c.processEntries(ctx, entries, onEvent)
		return nil
	}

	busy, err := c.maintain(ctx, onEvent)
	if !busy {
		c.sleep(ctx, c.cfg.IdleSleep)
	}
	return err
}

func (c *HubEventStreamConsumer) maintain(ctx context.Context, onEvent EventHandler) (bool, error) {
	claimed, err := c.queue.ClaimStale(ctx, c.stream, c.cfg.Group, c.cfg.Consumer,
		c.cfg.EventProcessingTimeout, c.cfg.MaxEventsPerFetch)
	if err != nil {
		return false, err
	}
	if len(claimed) > 0 {
		c.log.Info("reclaimed stale events", zap.Int("count", len(claimed)))
		c.sink.Count(metricReclaimed, len(claimed), c.labels)
		c.processEntries(ctx, claimed, onEvent)
	}

	trimmed, err := c.queue.Trim(ctx, c.stream, c.now().Add(-c.cfg.EventDeletionThreshold))
	if err != nil {
		return len(claimed) > 0, err
	}
	if trimmed > 0 {
		c.log.Info("trimmed old events", zap.Int64("count", trimmed))
		c.sink.Count(metricTrimmed, int(trimmed), c.labels)
	}
	return len(claimed) > 0 || trimmed > 0, nil
}

// processEntries runs sub-batches of MessageProcessingConcurrency entries and
// acks the successes of each sub-batch in one call.
func (c *HubEventStreamConsumer) processEntries(ctx context.Context, entries []eventstream.Entry, onEvent EventHandler) {
	// Stop must not abort transactions already in flight
	ctx = context.WithoutCancel(ctx)
	step := c.cfg.MessageProcessingConcurrency
	for i := 0; i < len(entries); i += step {
		end := i + step
		if end > len(entries) {
			end = len(entries)
		}
		sub := entries[i:end]

		ok := make([]bool, len(sub))
		var wg sync.WaitGroup
		for j := range sub {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				if err := c.processEntry(ctx, sub[j], onEvent); err != nil {
					c.sink.Count(metricErrors, 1, c.labels)
					c.log.Error("event processing failed", zap.String("entry", sub[j].ID), zap.Error(err))
					return
				}
				ok[j] = true
			}(j)
		}
		wg.Wait()

		ackIDs := make([]string, 0, len(sub))
		for j, e := range sub {
			if ok[j] {
				ackIDs = append(ackIDs, e.ID)
			}
		}
		if len(ackIDs) == 0 {
			continue
		}
		start := c.now()
		if err := c.queue.Ack(ctx, c.stream, c.cfg.Group, ackIDs...); err != nil {
			c.log.Error("ack failed", zap.Strings("entries", ackIDs), zap.Error(err))
			continue
		}
		c.sink.Timing(metricAckTime, c.now().Sub(start), c.labels)
		c.sink.Count(metricAck, len(ackIDs), c.labels)
	}
}

func (c *HubEventStreamConsumer) processEntry(ctx context.Context, e eventstream.Entry, onEvent EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()

	if !e.EnqueuedAt.IsZero() {
		c.sink.Timing(metricDequeueDelay, c.now().Sub(e.EnqueuedAt), c.labels)
	}

	evt := &hubpb.HubEvent{}
	if err := evt.Unmarshal(e.Data); err != nil {
		return err
	}

	start := c.now()
	res, err := onEvent(ctx, evt)
	if err != nil {
		return errs.WrapMsg(err, "handle event", "event_id", evt.Id, "type", evt.Type.String(),
			"key", hubpb.EventCacheKey(evt))
	}
	if res.Skipped {
		c.sink.Count(metricSkipped, 1, c.labels)
		return nil
	}
	now := c.now()
	c.sink.Timing(metricTime, now.Sub(start), c.labels)
	c.sink.Timing(metricE2ETime, now.Sub(ids.ExtractEventTimestamp(evt.Id)), c.labels)
	return nil
}

func (c *HubEventStreamConsumer) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Stop lets the in-flight pass finish, then returns.
func (c *HubEventStreamConsumer) Stop() {
	c.stopped.Store(true)
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
