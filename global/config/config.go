package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"shuttle/tools/errs"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const EnvPrefix = "shuttle"

type Config struct {
	Log          LogConfig        `mapstructure:"log"`
	Hub          HubConfig        `mapstructure:"hub"`
	Redis        RedisConfig      `mapstructure:"redis"`
	Postgres     PostgresConfig   `mapstructure:"postgres"`
	Shards       ShardConfig      `mapstructure:"shards"`
	Subscriber   SubscriberConfig `mapstructure:"subscriber"`
	Queue        QueueConfig      `mapstructure:"queue"`
	Checkpoint   CheckpointConfig `mapstructure:"checkpoint"`
	Consumer     ConsumerConfig   `mapstructure:"consumer"`
	Backfill     BackfillConfig   `mapstructure:"backfill"`
	Nats         NatsConfig       `mapstructure:"nats"`
	Archive      ArchiveConfig    `mapstructure:"archive"`
	Metrics      MetricsConfig    `mapstructure:"metrics"`
	StartupDelay time.Duration    `mapstructure:"startup_delay"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type HubConfig struct {
	Host         string        `mapstructure:"host"`
	SSL          bool          `mapstructure:"ssl"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type ShardConfig struct {
	Total uint64 `mapstructure:"total"`
	Index uint64 `mapstructure:"index"`
}

type SubscriberConfig struct {
	BatchSize  int     `mapstructure:"batch_size"`
	EventTypes []int32 `mapstructure:"event_types"` // empty subscribes to the default set
}

const (
	QueueBackendRedis = "redis"
	QueueBackendKafka = "kafka"

	CheckpointBackendRedis    = "redis"
	CheckpointBackendPostgres = "postgres"
)

type QueueConfig struct {
	Backend string      `mapstructure:"backend"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers             []string      `mapstructure:"brokers"`
	Version             string        `mapstructure:"version"`
	Partitions          int32         `mapstructure:"partitions"`
	ReplicationFactor   int16         `mapstructure:"replication_factor"`
	ProducerRetries     int           `mapstructure:"producer_retries"`
	ProducerCompression string        `mapstructure:"producer_compression"`
	InitialOffset       string        `mapstructure:"initial_offset"`
	Retention           time.Duration `mapstructure:"retention"`
	Username            string        `mapstructure:"username"`
	Password            string        `mapstructure:"password"`
}

type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
}

type ConsumerConfig struct {
	Group                        string        `mapstructure:"group"`
	MaxEventsPerFetch            int           `mapstructure:"max_events_per_fetch"`
	MessageProcessingConcurrency int           `mapstructure:"message_processing_concurrency"`
	EventProcessingTimeout       time.Duration `mapstructure:"event_processing_timeout"`
	EventDeletionThreshold       time.Duration `mapstructure:"event_deletion_threshold"`
	ReserveBlock                 time.Duration `mapstructure:"reserve_block"`
	IdleSleep                    time.Duration `mapstructure:"idle_sleep"`
}

type BackfillConfig struct {
	Fids            []uint64 `mapstructure:"fids"`
	MaxFid          uint64   `mapstructure:"max_fid"`
	BatchSize       int      `mapstructure:"batch_size"`
	Concurrency     int      `mapstructure:"concurrency"`
	ResetCheckpoint bool     `mapstructure:"reset_checkpoint"`
}

type NatsConfig struct {
	Servers []string `mapstructure:"servers"`
	Name    string   `mapstructure:"name"`
	Stream  string   `mapstructure:"stream"`
	Subject string   `mapstructure:"subject"`
	Durable string   `mapstructure:"durable"`
	User    string   `mapstructure:"user"`
	Pass    string   `mapstructure:"pass"`
}

type ArchiveConfig struct {
	Mongo MongoConfig `mapstructure:"mongo"`
}

type MongoConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
}

type MetricsConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"` // bearer token for /metrics; empty leaves it open
}

// Load reads an optional config file, then SHUTTLE_* environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errs.ErrConfig.WrapCause(err, "read config", "path", path)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		commaListToUint64SliceHook(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Config{}, errs.ErrConfig.WrapCause(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("hub.host", "localhost:2283")
	v.SetDefault("hub.ssl", false)
	v.SetDefault("hub.ready_timeout", 5*time.Second)
	v.SetDefault("hub.retry_backoff", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("postgres.url", "postgres://localhost:5432")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.migrate", true)

	v.SetDefault("shards.total", 0)
	v.SetDefault("shards.index", 0)

	v.SetDefault("subscriber.batch_size", 100)
	v.SetDefault("subscriber.event_types", []int32{})

	v.SetDefault("queue.backend", QueueBackendRedis)
	v.SetDefault("queue.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("queue.kafka.version", "2.8.0")
	v.SetDefault("queue.kafka.partitions", 1)
	v.SetDefault("queue.kafka.replication_factor", 1)
	v.SetDefault("queue.kafka.producer_retries", 5)
	v.SetDefault("queue.kafka.producer_compression", "snappy")
	v.SetDefault("queue.kafka.initial_offset", "oldest")
	v.SetDefault("queue.kafka.retention", 24*time.Hour)
	v.SetDefault("queue.kafka.username", "")
	v.SetDefault("queue.kafka.password", "")

	v.SetDefault("checkpoint.backend", CheckpointBackendRedis)

	v.SetDefault("consumer.group", "hub_events")
	v.SetDefault("consumer.max_events_per_fetch", 10)
	v.SetDefault("consumer.message_processing_concurrency", 10)
	v.SetDefault("consumer.event_processing_timeout", 10*time.Second)
	v.SetDefault("consumer.event_deletion_threshold", 24*time.Hour)
	v.SetDefault("consumer.reserve_block", time.Second)
	v.SetDefault("consumer.idle_sleep", 500*time.Millisecond)

	v.SetDefault("backfill.fids", []uint64{})
	v.SetDefault("backfill.max_fid", 0)
	v.SetDefault("backfill.batch_size", 20)
	v.SetDefault("backfill.concurrency", 2)
	v.SetDefault("backfill.reset_checkpoint", false)

	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "shuttle")
	v.SetDefault("nats.stream", "SHUTTLE_BACKFILL")
	v.SetDefault("nats.subject", "shuttle.backfill")
	v.SetDefault("nats.durable", "shuttle-backfill-worker")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.pass", "")

	v.SetDefault("archive.mongo.enabled", false)
	v.SetDefault("archive.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("archive.mongo.database", "shuttle")
	v.SetDefault("archive.mongo.username", "")
	v.SetDefault("archive.mongo.password", "")
	v.SetDefault("archive.mongo.max_pool_size", 20)

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.token", "")
	v.SetDefault("startup_delay", 10*time.Second)
}

// commaListToUint64SliceHook decodes "1,2,3" into []uint64, used for FIDS style env values.
func commaListToUint64SliceHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]uint64{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []uint64{}, nil
		}
		parts := strings.Split(raw, ",")
		out := make([]uint64, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			n, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return nil, errs.ErrConfig.WrapMsg("invalid fid list", "value", raw)
			}
			out = append(out, n)
		}
		return out, nil
	}
}

func (c Config) Validate() error {
	if c.Hub.Host == "" {
		return errs.ErrConfig.WrapMsg("hub.host is required")
	}
	if c.Shards.Total > 0 && c.Shards.Index >= c.Shards.Total {
		return errs.ErrConfig.WrapMsg("shards.index must be below shards.total",
			"index", c.Shards.Index, "total", c.Shards.Total)
	}
	if c.Subscriber.BatchSize <= 0 {
		return errs.ErrConfig.WrapMsg("subscriber.batch_size must be positive")
	}
	switch c.Queue.Backend {
	case QueueBackendRedis:
	case QueueBackendKafka:
		if len(c.Queue.Kafka.Brokers) == 0 {
			return errs.ErrConfig.WrapMsg("queue.kafka.brokers is required")
		}
	default:
		return errs.ErrConfig.WrapMsg("unknown queue.backend", "backend", c.Queue.Backend)
	}
	switch c.Checkpoint.Backend {
	case CheckpointBackendRedis, CheckpointBackendPostgres:
	default:
		return errs.ErrConfig.WrapMsg("unknown checkpoint.backend", "backend", c.Checkpoint.Backend)
	}
	if c.Consumer.MaxEventsPerFetch <= 0 || c.Consumer.MessageProcessingConcurrency <= 0 {
		return errs.ErrConfig.WrapMsg("consumer fetch size and concurrency must be positive")
	}
	if c.Backfill.BatchSize <= 0 || c.Backfill.Concurrency <= 0 {
		return errs.ErrConfig.WrapMsg("backfill batch size and concurrency must be positive")
	}
	if c.Archive.Mongo.Enabled && c.Archive.Mongo.URI == "" {
		return errs.ErrConfig.WrapMsg("archive.mongo.uri is required when the archive is enabled")
	}
	return nil
}

// ShardKey names the partition owned by this process.
func (s ShardConfig) ShardKey() string {
	if s.Total == 0 {
		return "all"
	}
	return strconv.FormatUint(s.Index, 10)
}
