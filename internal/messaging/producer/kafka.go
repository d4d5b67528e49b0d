package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"censustwin/config"
	"censustwin/contract"
	"censustwin/internal/models"

	"github.com/segmentio/kafka-go"
)

// ErrTopicDisabled is returned when publishing to a topic that is not configured
var ErrTopicDisabled = errors.New("kafka topic not configured")

// KafkaProducer implements the Producer interface
type KafkaProducer struct {
	writer           *kafka.Writer
	logger           *log.Logger
	eventsTopic      string
	invocationsTopic string
}

// NewKafkaProducer creates a new KafkaProducer
func NewKafkaProducer(cfg config.KafkaProducerConfig, logger *log.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 || (cfg.EventsTopic == "" && cfg.InvocationsTopic == "") {
		return nil, errors.New("kafka producer configuration incomplete: brokers and at least one topic are required")
	}

	batchSize := orDefault(cfg.BatchSize, 100)
	batchTimeout := orDefault(cfg.BatchTimeout, 100*time.Millisecond)
	batchBytes := orDefault(cfg.BatchBytes, 5*1024*1024)
	writeTimeout := orDefault(cfg.WriteTimeout, 5*time.Second)
	readTimeout := orDefault(cfg.ReadTimeout, 5*time.Second)

	var requiredAcks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case "none":
		requiredAcks = kafka.RequireNone
	case "all":
		requiredAcks = kafka.RequireAll
	default:
		requiredAcks = kafka.RequireOne
	}

	// Events are published after commit and must not block the committing request,
	// so async is the default unless acks were asked for explicitly.
	asyncMode := cfg.Async || cfg.RequiredAcks == ""

	w := &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers...),
		// Topic is set per message; key hashing keeps one record on one partition
		Balancer: &kafka.Hash{},

		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		BatchBytes:   int64(batchBytes),

		RequiredAcks: requiredAcks,
		Async:        asyncMode,

		WriteTimeout: writeTimeout,
		ReadTimeout:  readTimeout,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Printf("Kafka Writer Error: "+msg, args...)
		}),
	}

	logger.Printf("Kafka producer created, connected to Brokers: %v, events topic: %q, invocations topic: %q",
		cfg.Brokers, cfg.EventsTopic, cfg.InvocationsTopic)

	return &KafkaProducer{
		writer:           w,
		logger:           logger,
		eventsTopic:      cfg.EventsTopic,
		invocationsTopic: cfg.InvocationsTopic,
	}, nil
}

// PublishEvent sends a committed ledger event, keyed by record id so a record's events stay ordered
func (p *KafkaProducer) PublishEvent(ctx context.Context, ev *models.LedgerEvent) error {
	if p.eventsTopic == "" {
		return ErrTopicDisabled
	}
	msgBytes, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize ledger event: %w", err)
	}

	key := ev.RecordID
	if key == "" {
		key = ev.TxID
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.eventsTopic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		// Usually a local error such as a full buffer or context cancellation
		p.logger.Printf("Failed to send ledger event %s (tx %s) to Kafka buffer: %v", ev.Name, ev.TxID, err)
		return fmt.Errorf("failed to write to Kafka buffer: %w", err)
	}
	return nil
}

// Enqueue sends invocations in one batch, keyed by record id when the invocation names one
func (p *KafkaProducer) Enqueue(ctx context.Context, invs ...*models.Invocation) error {
	if p.invocationsTopic == "" {
		return ErrTopicDisabled
	}
	if len(invs) == 0 {
		return nil
	}

	kafkaMsgs := make([]kafka.Message, len(invs))
	for i, inv := range invs {
		msgBytes, err := json.Marshal(inv)
		if err != nil {
			return fmt.Errorf("failed to serialize invocation (RequestID: %s): %w", inv.RequestID, err)
		}
		key := inv.Args[contract.ParamRecordID]
		if key == "" {
			key = inv.RequestID
		}
		kafkaMsgs[i] = kafka.Message{
			Topic: p.invocationsTopic,
			Key:   []byte(key),
			Value: msgBytes,
		}
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsgs...); err != nil {
		p.logger.Printf("Failed to send invocations in batch (count: %d): %v", len(invs), err)
		return fmt.Errorf("failed to batch write to Kafka buffer: %w", err)
	}
	return nil
}

// Close closes the producer
func (p *KafkaProducer) Close() error {
	p.logger.Println("Closing Kafka producer (and flushing buffer)...")
	return p.writer.Close() // Close will attempt to send remaining messages in buffer
}

var _ Producer = (*KafkaProducer)(nil) // Compile-time interface check

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
