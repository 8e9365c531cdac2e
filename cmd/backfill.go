package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBackfillCommand(o *options) *cobra.Command {
	var (
		fids     []uint
		maxFid   uint64
		reset    bool
		noWorker bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Queue reconcile jobs for fids, then work them off",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if cmd.Flags().Changed("max-fid") {
				o.cfg.Backfill.MaxFid = maxFid
			}
			if cmd.Flags().Changed("reset") {
				o.cfg.Backfill.ResetCheckpoint = reset
			}
			targets := o.cfg.Backfill.Fids
			if len(fids) > 0 {
				targets = make([]uint64, 0, len(fids))
				for _, f := range fids {
					targets = append(targets, uint64(f))
				}
			}

			a, err := o.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if err := a.Backfill(ctx, targets); err != nil {
				return err
			}
			o.log.Info("backfill queued", zap.Int("fids", len(targets)))
			if noWorker {
				return nil
			}
			return a.RunWorker(ctx)
		},
	}
	cmd.Flags().UintSliceVar(&fids, "fids", nil, "fids to backfill (default: every fid up to the max)")
	cmd.Flags().Uint64Var(&maxFid, "max-fid", 0, "highest fid to enumerate instead of asking the hub")
	cmd.Flags().BoolVar(&reset, "reset", false, "reset the shard checkpoint before queueing")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "only queue the jobs")
	return cmd
}

func newWorkerCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run backfill jobs from the job queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := o.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			return a.RunWorker(ctx)
		},
	}
}

func newResetCheckpointCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-checkpoint",
		Short: "Forget the shard's last hub event id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			return a.ResetCheckpoint(cmd.Context())
		},
	}
}
