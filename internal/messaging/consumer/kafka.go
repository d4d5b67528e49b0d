package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"censustwin/config"
	"censustwin/internal/models"

	"github.com/segmentio/kafka-go"
)

// HeaderRedelivery carries the number of times an invocation was put back on the topic.
const HeaderRedelivery = "census-redelivery"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads queued invocations from a Kafka consumer group.
//
// Workers ack out of order, so offsets are committed only up to the lowest one still in flight.
// A NACKed invocation is written back to the retry topic before its offset counts as done; if
// that write fails the offset stays open and the partition is not committed past it.
type KafkaConsumer struct {
	reader     messageReader
	writer     messageWriter
	retryTopic string
	offsets    *offsetTracker
	logger     *log.Logger
}

// NewKafkaConsumer creates a new KafkaConsumer instance
func NewKafkaConsumer(cfg config.KafkaConsumerConfig, logger *log.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}

	// Parse session timeout with default
	sessionTimeout, err := time.ParseDuration(cfg.SessionTimeout)
	if err != nil {
		logger.Printf("Warning: Invalid session_timeout '%s', using default 30s", cfg.SessionTimeout)
		sessionTimeout = 30 * time.Second
	}

	// Parse heartbeat interval with default
	heartbeatInterval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil {
		logger.Printf("Warning: Invalid heartbeat_interval '%s', using default 3s", cfg.HeartbeatInterval)
		heartbeatInterval = 3 * time.Second
	}

	startOffset := kafka.FirstOffset
	switch cfg.AutoOffsetReset {
	case "", "earliest":
	case "latest":
		startOffset = kafka.LastOffset
	default:
		logger.Printf("Warning: Unknown auto_offset_reset '%s', using earliest", cfg.AutoOffsetReset)
	}

	// Offsets are committed explicitly from the ack callback, never on an interval.
	readerConfig := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           500 * time.Millisecond,
		SessionTimeout:    sessionTimeout,
		HeartbeatInterval: heartbeatInterval,
		StartOffset:       startOffset,
	}

	retryTopic := cfg.RetryTopic
	if retryTopic == "" {
		retryTopic = cfg.Topic
	}
	// Redelivery must be durable before the original offset is released.
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Printf("Kafka Redelivery Writer Error: "+msg, args...)
		}),
	}

	logger.Printf("Kafka consumer created, connected to Brokers: %v, Topic: %s, GroupID: %s, retry topic: %s",
		cfg.Brokers, cfg.Topic, cfg.GroupID, retryTopic)

	return newKafkaConsumer(kafka.NewReader(readerConfig), w, retryTopic, logger), nil
}

func newKafkaConsumer(r messageReader, w messageWriter, retryTopic string, logger *log.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     r,
		writer:     w,
		retryTopic: retryTopic,
		offsets:    newOffsetTracker(),
		logger:     logger,
	}
}

// Consume fetches the next invocation. Undecodable messages are marked done and reported as
// errors so a poison message cannot stall the partition.
func (k *KafkaConsumer) Consume(ctx context.Context) (inv *models.Invocation, ack func(success bool), err error) {
	kafkaMsg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			k.logger.Println("Kafka consumer: Context cancelled, stopping consumption.")
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}
	gen := k.offsets.track(kafkaMsg)

	var msg models.Invocation
	if err := json.Unmarshal(kafkaMsg.Value, &msg); err != nil {
		k.logger.Printf("Kafka consumer: Failed to deserialize invocation (Partition: %d, Offset: %d): %v. Message will be discarded.",
			kafkaMsg.Partition, kafkaMsg.Offset, err)
		k.complete(gen, kafkaMsg)
		return nil, nil, fmt.Errorf("message deserialization failed: %w", err)
	}

	var once sync.Once
	ackCallback := func(success bool) {
		once.Do(func() {
			if !success {
				if err := k.redeliver(kafkaMsg); err != nil {
					k.logger.Printf("Kafka consumer: NACK for offset %d (request_id %s) could not be redelivered, partition %d held open: %v",
						kafkaMsg.Offset, msg.RequestID, kafkaMsg.Partition, err)
					return
				}
				k.logger.Printf("Kafka consumer: NACK for offset %d (request_id %s), requeued on %s",
					kafkaMsg.Offset, msg.RequestID, k.retryTopic)
			}
			k.complete(gen, kafkaMsg)
		})
	}

	return &msg, ackCallback, nil
}

func (k *KafkaConsumer) redeliver(m kafka.Message) error {
	attempt := 1
	headers := make([]kafka.Header, 0, len(m.Headers)+1)
	for _, h := range m.Headers {
		if h.Key == HeaderRedelivery {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				attempt = n + 1
			}
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers, kafka.Header{Key: HeaderRedelivery, Value: []byte(strconv.Itoa(attempt))})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   k.retryTopic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	})
}

func (k *KafkaConsumer) complete(gen *partitionOffsets, m kafka.Message) {
	commit, ok := k.offsets.done(gen, m)
	if !ok {
		return
	}
	if err := k.reader.CommitMessages(context.Background(), commit); err != nil {
		k.logger.Printf("Kafka consumer: Failed to commit offset %d on partition %d: %v", commit.Offset, commit.Partition, err)
	}
}

// Close implements the Consumer interface by closing the Kafka reader and the redelivery writer
func (k *KafkaConsumer) Close() error {
	k.logger.Println("Closing Kafka consumer...")
	return errors.Join(k.reader.Close(), k.writer.Close())
}

// Ensure KafkaConsumer implements the Consumer interface
var _ Consumer = (*KafkaConsumer)(nil)

type partitionKey struct {
	topic     string
	partition int
}

// partitionOffsets holds fetched offsets in fetch order, which is ascending within a partition.
type partitionOffsets struct {
	pending  []int64
	finished map[int64]bool
}

// offsetTracker decides which offset may be committed once a message is done.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partitionKey]*partitionOffsets)}
}

// track registers m and returns the partition state it belongs to.
func (t *offsetTracker) track(m kafka.Message) *partitionOffsets {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := partitionKey{m.Topic, m.Partition}
	p := t.partitions[key]
	// A fetch at or below the last tracked offset means the partition was reassigned and
	// replays from its committed offset.
	if p == nil || (len(p.pending) > 0 && m.Offset <= p.pending[len(p.pending)-1]) {
		p = &partitionOffsets{finished: make(map[int64]bool)}
		t.partitions[key] = p
	}
	p.pending = append(p.pending, m.Offset)
	return p
}

// done marks m finished and returns the highest offset whose predecessors are all finished.
// Acks for a partition state that was replaced by a reassignment are ignored.
func (t *offsetTracker) done(gen *partitionOffsets, m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.partitions[partitionKey{m.Topic, m.Partition}]
	if p == nil || p != gen {
		return kafka.Message{}, false
	}
	p.finished[m.Offset] = true

	last := int64(-1)
	for len(p.pending) > 0 && p.finished[p.pending[0]] {
		last = p.pending[0]
		delete(p.finished, last)
		p.pending = p.pending[1:]
	}
	if last < 0 {
		return kafka.Message{}, false
	}
	return kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: last}, true
}
