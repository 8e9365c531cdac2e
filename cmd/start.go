package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newStartCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Stream hub events through the queue into Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := o.newApp(ctx)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				a.Close(context.Background())
				return err
			}
			o.log.Info("shuttle started", zap.String("hub", o.cfg.Hub.Host), zap.String("shard", o.cfg.Shards.ShardKey()))

			<-ctx.Done()
			o.log.Info("shutting down")
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.Stop(stopCtx)
			return nil
		},
	}
}
