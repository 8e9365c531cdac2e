package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shuttle/global/config"
	"shuttle/module/shuttle"
	"shuttle/service/natsx"
	"shuttle/tools/errs"
)

const bizBackfill = "backfill"

// jobBackend schedules backfill jobs and feeds them to a worker.
type jobBackend interface {
	shuttle.JobQueue
	Consume(ctx context.Context, concurrency int, h natsx.JobHandler[shuttle.BackfillJob]) error
}

type natsJobs struct {
	*natsx.JobQueue[shuttle.BackfillJob]
	mgr *natsx.NatsManager
	log *zap.Logger
}

func newNatsJobs(cfg config.NatsConfig, log *zap.Logger) (*natsJobs, error) {
	mgr, err := natsx.NewNatsManager(natsx.NatsxConfig{
		Servers:  cfg.Servers,
		Name:     cfg.Name,
		User:     cfg.User,
		Password: cfg.Pass,
		Stream:   cfg.Stream,
		Subjects: []string{cfg.Subject},
	}, log, natsx.NatsxIdemMiddleware(natsx.NewMemIdem(10*time.Minute), 0, log))
	if err != nil {
		return nil, err
	}
	err = mgr.RegisterRoute(natsx.NatsxRoute{
		Biz:     bizBackfill,
		Subject: cfg.Subject,
		Mode:    natsx.JetStreamPull,
		Durable: cfg.Durable,
		AckWait: 5 * time.Minute, // 一批 fid 的对账可能较慢
	})
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	pub := &natsx.NatsxSyncPublisher{P: mgr.Producer(), Retries: 3, Backoff: time.Second}
	return &natsJobs{
		JobQueue: natsx.NewJobQueue[shuttle.BackfillJob](pub, bizBackfill),
		mgr:      mgr,
		log:      log,
	}, nil
}

func (n *natsJobs) Consume(ctx context.Context, concurrency int, h natsx.JobHandler[shuttle.BackfillJob]) error {
	return n.mgr.PullConsume(ctx, bizBackfill, natsx.PullOptions{
		Batch:       concurrency,
		Concurrency: concurrency,
	}, natsx.DecodeJobs(h, n.log))
}

func (n *natsJobs) Close(context.Context) error {
	return n.mgr.Close()
}

// jobBackend connects the job queue on first use; start never needs it.
func (a *App) jobBackend(ctx context.Context) (jobBackend, error) {
	if a.jobs != nil {
		return a.jobs, nil
	}
	if a.deps.jobs == nil {
		return nil, errs.ErrConfig.WrapMsg("no job queue configured")
	}
	jobs, err := a.deps.jobs(ctx)
	if err != nil {
		return nil, err
	}
	if c, ok := jobs.(interface{ Close(context.Context) error }); ok {
		a.deps.closers = append(a.deps.closers, c.Close)
	}
	a.jobs = jobs
	return jobs, nil
}

// Backfill schedules reconcile jobs for fids, or for every fid when empty.
func (a *App) Backfill(ctx context.Context, fids []uint64) error {
	jobs, err := a.jobBackend(ctx)
	if err != nil {
		return err
	}
	b := shuttle.NewBackfiller(jobs, a.deps.hub, a.deps.checkpoints, shuttle.BackfillConfig{
		Shard:           a.shard,
		MaxFid:          a.cfg.Backfill.MaxFid,
		BatchSize:       a.cfg.Backfill.BatchSize,
		ResetCheckpoint: a.cfg.Backfill.ResetCheckpoint,
	}, a.log.Named("backfill"))
	return b.BackfillFids(ctx, fids)
}

// RunWorker pulls backfill jobs until ctx is done.
func (a *App) RunWorker(ctx context.Context) error {
	jobs, err := a.jobBackend(ctx)
	if err != nil {
		return err
	}
	w := shuttle.NewWorker(a, a.log.Named("worker"))
	a.log.Info("backfill worker started", zap.Int("concurrency", a.cfg.Backfill.Concurrency))
	return jobs.Consume(ctx, a.cfg.Backfill.Concurrency, w.Handle)
}
