package shuttle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shuttle/service/checkpoint"
	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
)

type JobKind string

const (
	JobReconcile        JobKind = "reconcile"
	JobCompletionMarker JobKind = "completionMarker"
)

// BackfillJob is the payload put on the job queue.
type BackfillJob struct {
	Kind      JobKind  `json:"kind"`
	Fids      []uint64 `json:"fids,omitempty"`
	StartedAt int64    `json:"startedAt,omitempty"` // unix millis
}

// JobQueue is where backfill jobs are scheduled.
type JobQueue interface {
	Enqueue(ctx context.Context, job BackfillJob) error
}

type FidsClient interface {
	GetFids(ctx context.Context, req *hubpb.FidsRequest) (*hubpb.FidsResponse, error)
}

// FidBatches splits 1..maxFid into consecutive batches of batchSize.
func FidBatches(maxFid uint64, batchSize int) [][]uint64 {
	if maxFid == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	size := uint64(batchSize)
	out := make([][]uint64, 0, (maxFid+size-1)/size)
	for start := uint64(1); start <= maxFid; start += size {
		end := start + size - 1
		if end > maxFid {
			end = maxFid
		}
		batch := make([]uint64, 0, end-start+1)
		for fid := start; fid <= end; fid++ {
			batch = append(batch, fid)
		}
		out = append(out, batch)
	}
	return out
}

type BackfillConfig struct {
	Shard           Shard
	MaxFid          uint64 // 0 asks the hub
	BatchSize       int
	ResetCheckpoint bool
}

// Backfiller schedules reconcile jobs followed by a completion marker.
type Backfiller struct {
	jobs        JobQueue
	hub         FidsClient
	checkpoints checkpoint.Store
	cfg         BackfillConfig
	log         *zap.Logger
	now         func() time.Time
}

func NewBackfiller(jobs JobQueue, hub FidsClient, checkpoints checkpoint.Store, cfg BackfillConfig, log *zap.Logger) *Backfiller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backfiller{jobs: jobs, hub: hub, checkpoints: checkpoints, cfg: cfg, log: log, now: time.Now}
}

// BackfillFids schedules the given fids as one job, or every fid up to the max
// fid when the list is empty.
func (b *Backfiller) BackfillFids(ctx context.Context, fids []uint64) error {
	if b.jobs == nil {
		return errs.ErrConfig.WrapMsg("job queue is not configured")
	}
	startedAt := b.now()

	if b.cfg.ResetCheckpoint {
		if b.checkpoints == nil {
			return errs.ErrConfig.WrapMsg("checkpoint store is not configured")
		}
		if err := b.checkpoints.Set(ctx, b.cfg.Shard.Key(), 0); err != nil {
			return err
		}
		b.log.Info("checkpoint reset", zap.String("shard", b.cfg.Shard.Key()))
	}

	if len(fids) > 0 {
		if err := b.jobs.Enqueue(ctx, BackfillJob{Kind: JobReconcile, Fids: fids}); err != nil {
			return err
		}
		b.log.Info("queued backfill", zap.Int("fids", len(fids)))
	} else {
		maxFid, err := b.MaxFid(ctx)
		if err != nil {
			return err
		}
		batches := FidBatches(maxFid, b.cfg.BatchSize)
		for _, batch := range batches {
			if err := b.jobs.Enqueue(ctx, BackfillJob{Kind: JobReconcile, Fids: batch}); err != nil {
				return err
			}
		}
		b.log.Info("queued backfill", zap.Uint64("max_fid", maxFid), zap.Int("jobs", len(batches)))
	}

	return b.jobs.Enqueue(ctx, BackfillJob{Kind: JobCompletionMarker, StartedAt: startedAt.UnixMilli()})
}

// MaxFid is the configured override, else the highest fid the hub reports.
func (b *Backfiller) MaxFid(ctx context.Context) (uint64, error) {
	if b.cfg.MaxFid > 0 {
		return b.cfg.MaxFid, nil
	}
	if b.hub == nil {
		return 0, errs.ErrConfig.WrapMsg("hub client is not configured and no max fid given")
	}
	resp, err := b.hub.GetFids(ctx, &hubpb.FidsRequest{PageSize: hubpb.Uint32(1), Reverse: hubpb.Bool(true)})
	if err != nil {
		return 0, err
	}
	if len(resp.Fids) == 0 || resp.Fids[0] == 0 {
		return 0, errs.ErrConfig.WrapMsg("max fid unavailable from hub")
	}
	return resp.Fids[0], nil
}

type FidsReconciler interface {
	ReconcileFids(ctx context.Context, fids []uint64) error
}

// Worker executes backfill jobs pulled off the job queue.
type Worker struct {
	reconciler FidsReconciler
	log        *zap.Logger
	now        func() time.Time
}

func NewWorker(reconciler FidsReconciler, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{reconciler: reconciler, log: log, now: time.Now}
}

func (w *Worker) Handle(ctx context.Context, job BackfillJob) error {
	switch job.Kind {
	case JobReconcile:
		if w.reconciler == nil {
			return errs.ErrConfig.WrapMsg("reconciler is not configured")
		}
		start := w.now()
		if err := w.reconciler.ReconcileFids(ctx, job.Fids); err != nil {
			return err
		}
		w.log.Info("reconcile job done", zap.Int("fids", len(job.Fids)), zap.Duration("took", w.now().Sub(start)))
		return nil
	case JobCompletionMarker:
		elapsed := w.now().Sub(time.UnixMilli(job.StartedAt))
		w.log.Info("backfill completed", zap.Duration("elapsed", elapsed))
		return nil
	default:
		return errs.ErrArgs.WrapMsg("unknown backfill job", "kind", job.Kind)
	}
}
