package audit

import (
	"context"
	"encoding/json"

	sarama "github.com/IBM/sarama"
)

const defaultTopic = "collab.events"

// KafkaSink streams collaboration events onto a Kafka topic as JSON, for
// deployments that feed the audit trail into an external pipeline.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink creates a KafkaSink connecting to the given brokers. An
// empty topic selects the default.
func NewKafkaSink(brokers []string, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkFromProducer(producer, topic), nil
}

// NewKafkaSinkFromProducer wraps an existing producer.
func NewKafkaSinkFromProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	if topic == "" {
		topic = defaultTopic
	}
	return &KafkaSink{producer: producer, topic: topic}
}

// Record implements Sink.Record. Events are keyed by dashboard so one
// dashboard's trail stays ordered within a partition.
func (s *KafkaSink) Record(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.DashboardID.String()),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = s.producer.SendMessage(msg)
	return err
}

// Close releases the underlying producer.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
