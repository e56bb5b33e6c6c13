package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"otp-service/internal/clock"
	"otp-service/internal/model"
)

// Producer publishes one message to a topic.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Kafka hands deliveries to a downstream sender as model.DeliveryEvent
// messages keyed by identifier.
type Kafka struct {
	producer Producer
	topic    string
	clock    clock.Clocker
}

func NewKafka(producer Producer, topic string, clk clock.Clocker) *Kafka {
	if clk == nil {
		clk = clock.New()
	}
	return &Kafka{producer: producer, topic: topic, clock: clk}
}

func (k *Kafka) Deliver(ctx context.Context, d Delivery) error {
	if !d.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, d.Channel)
	}

	event := model.DeliveryEvent{
		EventID:    uuid.NewString(),
		Identifier: d.Identifier,
		Channel:    d.Channel,
		Code:       d.Code,
		ExpiresAt:  d.ExpiresAt.UTC(),
		CreatedAt:  k.clock.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery event: %w", err)
	}

	headers := map[string]string{
		"event_type": "otp.issued",
		"event_id":   event.EventID,
		"channel":    string(d.Channel),
		"expires_at": event.ExpiresAt.Format(time.RFC3339),
	}

	return k.producer.ProduceMessage(ctx, k.topic, []byte(d.Identifier), payload, headers)
}
