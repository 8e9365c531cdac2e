package eventstream

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"shuttle/tools/errs"
	"shuttle/tools/safe"
)

// Kafka implements Queue on a Kafka topic per stream. Consumer groups map onto
// Kafka consumer groups; stale reclaim covers entries reserved in this process
// and never acked, retention replaces Trim.
type Kafka struct {
	cfg      KafkaConfig
	client   sarama.Client
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	log      *zap.Logger

	mu     sync.Mutex
	groups map[string]*kafkaGroup
}

func NewKafka(cfg KafkaConfig, log *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errs.ErrConfig.WrapMsg("brokers is empty")
	}
	if cfg.ReserveWait <= 0 {
		cfg.ReserveWait = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	scfg, err := BuildBaseConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(cfg.Brokers, scfg)
	if err != nil {
		return nil, errs.ErrQueue.WrapCause(err, "kafka client", "brokers", cfg.Brokers)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.ErrQueue.WrapCause(err, "kafka producer")
	}
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, errs.ErrQueue.WrapCause(err, "kafka admin")
	}
	return &Kafka{
		cfg:      cfg,
		client:   client,
		producer: producer,
		admin:    admin,
		log:      log,
		groups:   make(map[string]*kafkaGroup),
	}, nil
}

func (k *Kafka) Add(_ context.Context, stream string, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	topic := topicName(stream)
	msgs := make([]*sarama.ProducerMessage, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, &sarama.ProducerMessage{Topic: topic, Partition: 0, Value: sarama.ByteEncoder(p)})
	}
	if err := k.producer.SendMessages(msgs); err != nil {
		return errs.ErrQueue.WrapCause(err, "kafka send", "topic", topic, "count", len(payloads))
	}
	return nil
}

func (k *Kafka) CreateGroup(ctx context.Context, stream, group string) error {
	if err := ensureTopic(ctx, k.admin, topicName(stream), k.cfg, k.log); err != nil {
		return err
	}
	_, err := k.group(stream, group)
	return err
}

func (k *Kafka) Reserve(ctx context.Context, stream, group, _ string, count int) ([]Entry, error) {
	g, err := k.group(stream, group)
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(k.cfg.ReserveWait)
	defer timer.Stop()

	var out []Entry
	for len(out) < count {
		if len(out) == 0 {
			select {
			case msg := <-g.msgs:
				out = append(out, g.reserve(msg))
			case <-timer.C:
				return out, nil
			case <-ctx.Done():
				return out, ctx.Err()
			}
			continue
		}
		select {
		case msg := <-g.msgs:
			out = append(out, g.reserve(msg))
		default:
			return out, nil
		}
	}
	return out, nil
}

func (k *Kafka) Ack(_ context.Context, stream, group string, ids ...string) error {
	g, err := k.group(stream, group)
	if err != nil {
		return err
	}
	for _, id := range ids {
		var (
			partition int32
			offset    int64
		)
		if _, err := fmt.Sscanf(id, "%d-%d", &partition, &offset); err != nil {
			return errs.ErrQueue.WrapCause(err, "kafka entry id", "id", id)
		}
		g.ack(id, partition, offset)
	}
	return nil
}

// Size is the backlog of the slowest group joined on stream: records past the
// group's committed offset. With no group joined it counts every retained record.
func (k *Kafka) Size(_ context.Context, stream string) (int64, error) {
	topic := topicName(stream)
	parts, err := k.client.Partitions(topic)
	if err != nil {
		return 0, errs.ErrQueue.WrapCause(err, "kafka partitions", "topic", topic)
	}
	newest := make(map[int32]int64, len(parts))
	oldest := make(map[int32]int64, len(parts))
	for _, p := range parts {
		if newest[p], err = k.client.GetOffset(topic, p, sarama.OffsetNewest); err != nil {
			return 0, errs.ErrQueue.WrapCause(err, "kafka newest offset", "topic", topic)
		}
		if oldest[p], err = k.client.GetOffset(topic, p, sarama.OffsetOldest); err != nil {
			return 0, errs.ErrQueue.WrapCause(err, "kafka oldest offset", "topic", topic)
		}
	}

	groups := k.groupNames(stream)
	if len(groups) == 0 {
		var total int64
		for _, p := range parts {
			total += newest[p] - oldest[p]
		}
		return total, nil
	}

	var backlog int64
	for _, group := range groups {
		resp, err := k.admin.ListConsumerGroupOffsets(group, map[string][]int32{topic: parts})
		if err != nil {
			return 0, errs.ErrQueue.WrapCause(err, "kafka committed offsets", "topic", topic, "group", group)
		}
		var total int64
		for _, p := range parts {
			from := oldest[p]
			// -1 means nothing committed yet
			if b := resp.GetBlock(topic, p); b != nil && b.Err == sarama.ErrNoError && b.Offset > from {
				from = b.Offset
			}
			if from < newest[p] {
				total += newest[p] - from
			}
		}
		if total > backlog {
			backlog = total
		}
	}
	return backlog, nil
}

// groupNames lists the groups this process joined on stream.
func (k *Kafka) groupNames(stream string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var names []string
	for key := range k.groups {
		if group, ok := strings.CutPrefix(key, stream+"|"); ok {
			names = append(names, group)
		}
	}
	sort.Strings(names)
	return names
}

func (k *Kafka) ClaimStale(_ context.Context, stream, group, _ string, minIdle time.Duration, count int) ([]Entry, error) {
	g, err := k.group(stream, group)
	if err != nil {
		return nil, err
	}
	return g.claimStale(minIdle, count), nil
}

// Trim is a no-op; topic retention.ms ages records out.
func (k *Kafka) Trim(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	for _, g := range k.groups {
		g.close()
	}
	k.groups = map[string]*kafkaGroup{}
	k.mu.Unlock()

	_ = k.producer.Close()
	_ = k.admin.Close()
	return k.client.Close()
}

// group lazily joins the consumer group and starts feeding its channel.
func (k *Kafka) group(stream, group string) (*kafkaGroup, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := stream + "|" + group
	if g, ok := k.groups[key]; ok {
		return g, nil
	}
	cg, err := sarama.NewConsumerGroupFromClient(group, k.client)
	if err != nil {
		return nil, errs.ErrQueue.WrapCause(err, "kafka consumer group", "group", group)
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &kafkaGroup{
		topic:    topicName(stream),
		cg:       cg,
		msgs:     make(chan *sarama.ConsumerMessage, 256),
		cancel:   cancel,
		tracker:  newOffsetTracker(),
		inflight: make(map[string]*inflight),
		log:      k.log.With(zap.String("topic", topicName(stream)), zap.String("group", group)),
	}
	safe.Go("kafka-consume", func() { g.run(ctx) })
	safe.Go("kafka-errors", func() {
		for err := range cg.Errors() {
			g.log.Warn("consumer group error", zap.Error(err))
		}
	})
	k.groups[key] = g
	return g, nil
}

type inflight struct {
	msg        *sarama.ConsumerMessage
	reservedAt time.Time
}

type kafkaGroup struct {
	topic  string
	cg     sarama.ConsumerGroup
	msgs   chan *sarama.ConsumerMessage
	cancel context.CancelFunc
	log    *zap.Logger

	mu       sync.Mutex
	sess     sarama.ConsumerGroupSession
	tracker  *offsetTracker
	inflight map[string]*inflight
}

func (g *kafkaGroup) run(ctx context.Context) {
	for {
		if err := g.cg.Consume(ctx, []string{g.topic}, g); err != nil {
			g.log.Warn("consume ended", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (g *kafkaGroup) close() {
	g.cancel()
	_ = g.cg.Close()
}

// Setup starts a new generation; anything not committed will be fetched again.
func (g *kafkaGroup) Setup(sess sarama.ConsumerGroupSession) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sess = sess
	g.tracker = newOffsetTracker()
	g.inflight = make(map[string]*inflight)
	return nil
}

func (g *kafkaGroup) Cleanup(sarama.ConsumerGroupSession) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sess = nil
	return nil
}

func (g *kafkaGroup) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case g.msgs <- msg:
			case <-sess.Context().Done():
				return nil
			}
		case <-sess.Context().Done():
			return nil
		}
	}
}

func entryID(msg *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%d-%d", msg.Partition, msg.Offset)
}

func (g *kafkaGroup) reserve(msg *sarama.ConsumerMessage) Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := entryID(msg)
	g.tracker.reserve(msg.Partition, msg.Offset)
	g.inflight[id] = &inflight{msg: msg, reservedAt: time.Now()}
	return Entry{ID: id, Data: msg.Value, EnqueuedAt: msg.Timestamp}
}

func (g *kafkaGroup) ack(id string, partition int32, offset int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, id)
	next, ok := g.tracker.ack(partition, offset)
	if ok && g.sess != nil {
		g.sess.MarkOffset(g.topic, partition, next, "")
	}
}

func (g *kafkaGroup) claimStale(minIdle time.Duration, count int) []Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	var out []Entry
	for id, in := range g.inflight {
		if len(out) >= count {
			break
		}
		if now.Sub(in.reservedAt) < minIdle {
			continue
		}
		in.reservedAt = now
		out = append(out, Entry{ID: id, Data: in.msg.Value, EnqueuedAt: in.msg.Timestamp})
	}
	return out
}
