package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink transmits events to a Kafka cluster, one message per event.
// Messages are keyed by producer id so each producer's events land on one
// partition and keep their emission order.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a sink writing to the given brokers. The topic is
// chosen per Submit call, so the writer itself is topic-less.
func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

// Submit serializes each event as JSON and writes the batch in one call.
// The target table travels as a message header for downstream routing.
func (s *KafkaSink) Submit(ctx context.Context, topic, target string, events []Event) (Ack, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return Ack{}, MarkPermanent(fmt.Errorf("encoding event %s: %w", ev.EventID, err))
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(ev.ProducerID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "target_table", Value: []byte(target)},
			},
		})
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return Ack{}, fmt.Errorf("kafka write: %w", err)
	}

	return Ack{
		Sent:   len(msgs),
		Detail: fmt.Sprintf("kafka: wrote %d message(s) to %s", len(msgs), topic),
	}, nil
}

// Close closes the underlying writer, flushing buffered messages.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
