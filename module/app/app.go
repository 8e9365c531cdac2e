// Package app wires configuration to the shuttle pipeline: hub subscriber,
// durable queue, stream consumer, Postgres processor, backfill jobs and metrics.
package app

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"shuttle/global/config"
	"shuttle/module/shuttle"
	"shuttle/service/checkpoint"
	"shuttle/service/eventstream"
	"shuttle/service/hub/hubpb"
	"shuttle/service/metrics"
	"shuttle/tools/errs"
	"shuttle/tools/safe"
)

const metricsNamespace = "shuttle"

// HubClient is everything the app asks of a hub connection.
type HubClient interface {
	shuttle.HubClient
	shuttle.MessagesByFidClient
	shuttle.FidsClient
}

// Pinger is implemented by pools that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// deps are the connected backends. New fills them from config; tests inject their own.
type deps struct {
	db          shuttle.DB
	hub         HubClient
	checkpoints checkpoint.Store
	handler     shuttle.MessageHandler
	store       shuttle.MessageStore
	newQueue    func(ctx context.Context) (eventstream.Queue, error)
	jobs        func(ctx context.Context) (jobBackend, error)
	closers     []func(ctx context.Context) error
}

type App struct {
	cfg   config.Config
	log   *zap.Logger
	deps  deps
	shard shuttle.Shard

	registry  *prometheus.Registry
	sink      metrics.Sink
	processor *shuttle.HubEventProcessor
	reconcile *shuttle.FidReconciler

	queue      eventstream.Queue
	jobs       jobBackend
	subscriber *shuttle.HubSubscriber
	consumer   *shuttle.HubEventStreamConsumer
	metricsSrv *metrics.Server
	cancel     context.CancelFunc
	delayed    chan struct{}
}

func newApp(cfg config.Config, log *zap.Logger, d deps) *App {
	safe.MustNotNil(d.db, "db")
	safe.MustNotNil(d.hub, "hub client")
	safe.MustNotNil(d.checkpoints, "checkpoint store")
	safe.MustNotNil(d.handler, "message handler")
	if log == nil {
		log = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	processor := shuttle.NewHubEventProcessor(d.db, d.handler, d.store, log.Named("processor"))
	recon := shuttle.NewMessageReconciliation(d.hub, log.Named("reconcile"))
	return &App{
		cfg:       cfg,
		log:       log,
		deps:      d,
		shard:     shuttle.Shard{Total: cfg.Shards.Total, Index: cfg.Shards.Index},
		registry:  reg,
		sink:      metrics.NewPrometheus(reg, metricsNamespace),
		processor: processor,
		reconcile: shuttle.NewFidReconciler(recon, processor, log.Named("reconcile")),
	}
}

func (a *App) Registry() *prometheus.Registry { return a.registry }

// Start runs the subscriber right away and the consumer after startup_delay.
func (a *App) Start(ctx context.Context) error {
	if a.deps.newQueue == nil {
		return errs.ErrConfig.WrapMsg("no event queue configured")
	}
	queue, err := a.deps.newQueue(ctx)
	if err != nil {
		return err
	}
	a.queue = queue
	ctx, a.cancel = context.WithCancel(ctx)

	a.subscriber = shuttle.NewHubSubscriber(a.deps.hub, queue, a.deps.checkpoints, shuttle.SubscriberConfig{
		Shard:        a.shard,
		EventTypes:   eventTypes(a.cfg.Subscriber.EventTypes),
		BatchSize:    a.cfg.Subscriber.BatchSize,
		ReadyTimeout: a.cfg.Hub.ReadyTimeout,
		RetryBackoff: a.cfg.Hub.RetryBackoff,
	}, a.log.Named("subscriber"))
	a.consumer = shuttle.NewHubEventStreamConsumer(queue, a.deps.hub.Host(), a.shard, shuttle.ConsumerConfig{
		Group:                        a.cfg.Consumer.Group,
		MaxEventsPerFetch:            a.cfg.Consumer.MaxEventsPerFetch,
		MessageProcessingConcurrency: a.cfg.Consumer.MessageProcessingConcurrency,
		EventProcessingTimeout:       a.cfg.Consumer.EventProcessingTimeout,
		EventDeletionThreshold:       a.cfg.Consumer.EventDeletionThreshold,
		IdleSleep:                    a.cfg.Consumer.IdleSleep,
	}, a.sink, a.log.Named("consumer"))

	if err := a.subscriber.Start(ctx); err != nil {
		return err
	}

	if a.cfg.Metrics.Addr != "" {
		a.metricsSrv = metrics.NewServer(a.cfg.Metrics.Addr, a.registry, a.Health, metrics.RouterOptions{
			Token: a.cfg.Metrics.Token,
			Log:   a.log.Named("http"),
		})
		a.metricsSrv.Start()
	}

	// 等订阅端先灌一批事件再开始消费
	a.delayed = make(chan struct{})
	delayed := a.delayed
	safe.Go("consumer-startup", func() {
		defer close(delayed)
		if a.cfg.StartupDelay > 0 {
			a.log.Info("consumer starts after delay", zap.Duration("delay", a.cfg.StartupDelay))
			t := time.NewTimer(a.cfg.StartupDelay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
		if err := a.consumer.Start(ctx, a.processor.ProcessHubEvent); err != nil {
			a.log.Error("consumer start failed", zap.Error(err))
		}
	})
	return nil
}

// Health fails when the subscriber gave up or the database is unreachable.
func (a *App) Health(ctx context.Context) error {
	if a.subscriber != nil && a.subscriber.State() == shuttle.StateErrored {
		return errs.ErrConnection.WrapMsg("hub subscriber errored")
	}
	if p, ok := a.deps.db.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return errs.ErrConnection.WrapCause(err, "postgres ping")
		}
	}
	return nil
}

// Stop halts streaming, logs the last saved checkpoint and releases every backend.
func (a *App) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.subscriber != nil {
		a.subscriber.Stop()
	}
	if a.delayed != nil {
		<-a.delayed
	}
	if a.consumer != nil {
		a.consumer.Stop()
	}
	if a.subscriber != nil {
		if id, err := a.subscriber.LastEventID(ctx); err != nil {
			a.log.Warn("read last checkpoint", zap.Error(err))
		} else {
			a.log.Info("stopped", zap.Uint64("last_event_id", id), zap.String("shard", a.shard.Key()))
		}
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.log.Warn("metrics shutdown", zap.Error(err))
		}
	}
	a.Close(ctx)
}

// Close releases backends in reverse order of creation.
func (a *App) Close(ctx context.Context) {
	if c, ok := a.queue.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("close queue", zap.Error(err))
		}
	}
	a.queue = nil
	for i := len(a.deps.closers) - 1; i >= 0; i-- {
		if err := a.deps.closers[i](ctx); err != nil {
			a.log.Warn("close backend", zap.Error(err))
		}
	}
	a.deps.closers = nil
}

// ReconcileFids repairs the database against the hub for each fid.
func (a *App) ReconcileFids(ctx context.Context, fids []uint64) error {
	return a.reconcile.ReconcileFids(ctx, fids)
}

// ResetCheckpoint makes the next subscription start from the hub's oldest event.
func (a *App) ResetCheckpoint(ctx context.Context) error {
	if err := a.deps.checkpoints.Set(ctx, a.shard.Key(), 0); err != nil {
		return err
	}
	a.log.Info("checkpoint reset", zap.String("shard", a.shard.Key()))
	return nil
}

func eventTypes(raw []int32) []hubpb.HubEventType {
	if len(raw) == 0 {
		return nil
	}
	out := make([]hubpb.HubEventType, 0, len(raw))
	for _, t := range raw {
		out = append(out, hubpb.HubEventType(t))
	}
	return out
}
