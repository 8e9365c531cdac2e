package app

import (
	"context"

	"go.uber.org/zap"

	"shuttle/data/database"
	"shuttle/data/database/mgo/mongoutil"
	"shuttle/global/config"
	"shuttle/module/processors"
	"shuttle/module/shuttle"
	"shuttle/service/checkpoint"
	"shuttle/service/eventstream"
	"shuttle/service/hub"
	redisx "shuttle/service/storage/redis"
)

// New connects every backend the config names. Postgres, the hub channel and
// the checkpoint store are opened eagerly; the event queue opens on Start and
// the job queue on first backfill use.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var d deps
	fail := func(err error) (*App, error) {
		for i := len(d.closers) - 1; i >= 0; i-- {
			_ = d.closers[i](ctx)
		}
		return nil, err
	}

	pool, err := database.NewPool(ctx, database.PostgresConfig{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return fail(err)
	}
	d.db = pool
	d.closers = append(d.closers, func(context.Context) error { pool.Close(); return nil })
	if cfg.Postgres.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return fail(err)
		}
		log.Info("schema applied")
	}

	hubClient, err := hub.NewClient(hub.Config{Host: cfg.Hub.Host, SSL: cfg.Hub.SSL}, log.Named("hub"))
	if err != nil {
		return fail(err)
	}
	d.hub = hubClient
	d.closers = append(d.closers, func(context.Context) error { return hubClient.Close() })

	needRedis := cfg.Queue.Backend == config.QueueBackendRedis || cfg.Checkpoint.Backend == config.CheckpointBackendRedis
	if needRedis {
		rdb, err := redisx.NewClient(ctx, redisx.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return fail(err)
		}
		d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })

		if cfg.Queue.Backend == config.QueueBackendRedis {
			block := cfg.Consumer.ReserveBlock
			d.newQueue = func(context.Context) (eventstream.Queue, error) {
				return eventstream.NewRedis(rdb, block), nil
			}
		}
		if cfg.Checkpoint.Backend == config.CheckpointBackendRedis {
			d.checkpoints = checkpoint.NewRedis(rdb, cfg.Hub.Host)
		}
	}
	if cfg.Queue.Backend == config.QueueBackendKafka {
		kc := cfg.Queue.Kafka
		d.newQueue = func(context.Context) (eventstream.Queue, error) {
			return eventstream.NewKafka(eventstream.KafkaConfig{
				Brokers:               kc.Brokers,
				Version:               kc.Version,
				Partitions:            kc.Partitions,
				ReplicationFactor:     kc.ReplicationFactor,
				ProducerRetries:       kc.ProducerRetries,
				ProducerCompression:   kc.ProducerCompression,
				ConsumerInitialOffset: kc.InitialOffset,
				Retention:             kc.Retention,
				Username:              kc.Username,
				Password:              kc.Password,
				ReserveWait:           cfg.Consumer.ReserveBlock,
			}, log.Named("kafka"))
		}
	}
	if cfg.Checkpoint.Backend == config.CheckpointBackendPostgres {
		d.checkpoints = checkpoint.NewPostgres(pool, cfg.Hub.Host)
	}

	pg := processors.NewHandler(log.Named("handler"))
	d.handler = pg
	d.store = processors.NewMessageLog()
	if m := cfg.Archive.Mongo; m.Enabled {
		cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
			Uri:         m.URI,
			Database:    m.Database,
			Username:    m.Username,
			Password:    m.Password,
			MaxPoolSize: m.MaxPoolSize,
		})
		if err != nil {
			return fail(err)
		}
		d.closers = append(d.closers, cli.Close)
		d.handler = processors.Multi{pg, processors.NewMongoArchive(cli.GetDB(), log.Named("archive"))}
		log.Info("mongo archive enabled", zap.String("database", m.Database))
	}

	natsCfg := cfg.Nats
	d.jobs = func(context.Context) (jobBackend, error) {
		return newNatsJobs(natsCfg, log.Named("nats"))
	}

	return newApp(cfg, log, d), nil
}

var _ shuttle.FidsReconciler = (*App)(nil)
