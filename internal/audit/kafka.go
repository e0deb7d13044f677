package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher streams dispatch lifecycle events to Kafka for offline analysis.
// Delivery is fire-and-forget; a broker outage never blocks dispatch.
type Publisher struct {
	writer *kafka.Writer
}

type event struct {
	Type string    `json:"type"`
	SOS  string    `json:"sos_id,omitempty"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

func NewPublisher(brokers []string, topic string) *Publisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Publisher{writer: w}
}

// Publish records one lifecycle event keyed by request id (or event type
// when no request is involved, e.g. registrations).
func (p *Publisher) Publish(typ, sosID string, data any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(event{Type: typ, SOS: sosID, At: time.Now(), Data: data})
	key := sosID
	if key == "" {
		key = typ
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
