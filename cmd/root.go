// Package cmd is the shuttle command tree.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shuttle/global/config"
	"shuttle/logger"
	"shuttle/module/app"
)

// shutdownTimeout bounds Stop after a signal.
const shutdownTimeout = 30 * time.Second

type options struct {
	configPath string
	logLevel   string
	cfg        config.Config
	log        *zap.Logger
}

// NewRoot builds the shuttle command with every subcommand attached.
func NewRoot() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "shuttle",
		Short:         "Replicates Farcaster hub events into Postgres",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(o.configPath)
			if err != nil {
				return err
			}
			if o.logLevel != "" {
				cfg.Log.Level = o.logLevel
			}
			o.cfg = cfg
			o.log = logger.Setup(cfg.Log.Level, cfg.Log.JSON)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newStartCommand(o),
		newBackfillCommand(o),
		newWorkerCommand(o),
		newResetCheckpointCommand(o),
	)
	return root
}

// Execute runs the root command; a returned error has already been logged.
func Execute() error {
	root := NewRoot()
	if err := root.Execute(); err != nil {
		logger.Error("shuttle failed", zap.Error(err))
		return err
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (o *options) newApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, o.cfg, o.log)
}
