package broadcast

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter returns an async writer: WriteMessages only enqueues, and
// delivery failures are reported through the completion callback.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.WithFields(log.Fields{"topic": topic, "messages": len(messages)}).WithError(err).
					Warn("broadcast: kafka delivery failed")
			}
		},
	}
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each batch as one record keyed by topic.
type KafkaSink struct {
	w kafkaWriter
}

func NewKafkaSink(w *kafka.Writer) *KafkaSink {
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, msg Message) error {
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Topic),
		Value: msg.Payload,
		Time:  msg.At,
	})
}

func (s *KafkaSink) Close() error { return s.w.Close() }
