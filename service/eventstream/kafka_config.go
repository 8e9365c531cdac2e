package eventstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"shuttle/tools/errs"
)

type KafkaConfig struct {
	Brokers               []string
	Version               string // e.g. "2.8.0"
	Partitions            int32
	ReplicationFactor     int16
	ProducerRetries       int
	ProducerCompression   string // none/snappy/lz4/zstd
	ConsumerInitialOffset string // newest/oldest
	Retention             time.Duration
	Username              string
	Password              string
	ReserveWait           time.Duration
}

func BuildBaseConfig(c KafkaConfig) (*sarama.Config, error) {
	cfg := sarama.NewConfig()

	// Kafka 版本（给个兜底，避免零值触发 sarama 校验失败）
	cfg.Version = sarama.V2_8_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errs.ErrConfig.WrapCause(err, "kafka version", "version", c.Version)
		}
		cfg.Version = v
	}

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = false

	retries := c.ProducerRetries
	if retries <= 0 {
		retries = 1
	}
	cfg.Producer.Retry.Max = retries

	// one shard stream per topic; keep append order on a single partition
	cfg.Producer.Partitioner = sarama.NewManualPartitioner

	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(c.ConsumerInitialOffset) {
	case "newest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Offsets.AutoCommit.Interval = time.Second

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	cfg.Admin.Timeout = 15 * time.Second

	if c.Username != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = c.Username
		cfg.Net.SASL.Password = c.Password
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	// 最后校验，尽早暴露配置问题
	if err := cfg.Validate(); err != nil {
		return nil, errs.ErrConfig.WrapCause(err, "sarama config validate")
	}
	return cfg, nil
}

// topicName maps a stream key onto Kafka's topic alphabet.
func topicName(stream string) string {
	return strings.NewReplacer(":", ".", "/", ".").Replace(stream)
}

// ensureTopic creates the topic when missing. Existing topics are left as is.
func ensureTopic(_ context.Context, admin sarama.ClusterAdmin, topic string, c KafkaConfig, log *zap.Logger) error {
	existing, err := admin.ListTopics()
	if err != nil {
		return errs.ErrQueue.WrapCause(err, "list topics")
	}
	if _, ok := existing[topic]; ok {
		return nil
	}

	rep := c.ReplicationFactor
	if rep <= 0 {
		rep = 1
	}
	// min.insync.replicas 跟随副本数：至少1，尽量设置为rep-1
	minISR := "1"
	if rep > 1 {
		minISR = fmt.Sprintf("%d", rep-1)
	}
	retention := c.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	partitions := c.Partitions
	if partitions <= 0 {
		partitions = 1
	}

	detail := &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: rep,
		ConfigEntries: map[string]*string{
			"cleanup.policy":                 ptr("delete"),
			"retention.ms":                   ptr(fmt.Sprintf("%d", retention.Milliseconds())),
			"min.insync.replicas":            &minISR,
			"unclean.leader.election.enable": ptr("false"),
		},
	}
	if err := admin.CreateTopic(topic, detail, false); err != nil && !isTopicExistsErr(err) {
		return errs.ErrQueue.WrapCause(err, "create topic", "topic", topic)
	}
	log.Info("kafka topic created", zap.String("topic", topic))
	return nil
}

func ptr[T any](v T) *T { return &v }

func isTopicExistsErr(err error) bool {
	// 兼容不同版本的错误字符串/类型
	if errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return true
	}
	var te *sarama.TopicError
	if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
		return true
	}
	// 有的 broker 返回的是普通 error 文本
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
