package shared

import (
	"context"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Record is the producer payload shape for batched writes.
type Record struct {
	Key   []byte
	Value []byte
	Time  time.Time
}

// Producer abstracts Kafka production.
type Producer interface {
	ProduceBatch(ctx context.Context, records []Record) error
	Close()
}

// KafkaProducer implements Producer on a single topic using segmentio/kafka-go.
type KafkaProducer struct {
	w *kafka.Writer
}

func NewProducer(cfg KafkaConfig, topic string) (*KafkaProducer, error) {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.BrokerList()...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: writerAcks(cfg.ProducerAcks),
		BatchTimeout: time.Duration(maxInt(cfg.LingerMS, 0)) * time.Millisecond,
		BatchBytes:   int64(maxInt(cfg.BatchBytes, 1)),
	}
	return &KafkaProducer{w: w}, nil
}

func (k *KafkaProducer) ProduceBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	now := time.Now().UTC()
	for _, rec := range records {
		msgTime := rec.Time
		if msgTime.IsZero() {
			msgTime = now
		}
		msgs = append(msgs, kafka.Message{
			Key:   rec.Key,
			Value: rec.Value,
			Time:  msgTime,
		})
	}
	return k.w.WriteMessages(ctx, msgs...)
}

func (k *KafkaProducer) Close() { _ = k.w.Close() }

func writerAcks(raw string) kafka.RequiredAcks {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "all", "-1":
		return kafka.RequireAll
	case "none", "0":
		return kafka.RequireNone
	default:
		return kafka.RequireOne
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
