package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"otp-service/internal/client"
	"otp-service/internal/model"
)

// deliveryRequest is the event published for downstream notification
// workers. The plaintext code rides only on this event; it is never
// written to any store.
type deliveryRequest struct {
	Identifier  string        `json:"identifier"`
	Channel     model.Channel `json:"channel"`
	Code        string        `json:"code"`
	RequestedAt time.Time     `json:"requested_at"`
}

// KafkaSender publishes delivery requests to the notification topic.
type KafkaSender struct {
	kafkaClient *client.KafkaClient
}

func NewKafkaSender(kafkaClient *client.KafkaClient) *KafkaSender {
	return &KafkaSender{kafkaClient: kafkaClient}
}

func (s *KafkaSender) Send(ctx context.Context, identifier string, channel model.Channel, code string) error {
	payload, err := json.Marshal(deliveryRequest{
		Identifier:  identifier,
		Channel:     channel,
		Code:        code,
		RequestedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal delivery request: %w", err)
	}

	if err := s.kafkaClient.ProduceMessage(ctx, identifier, payload); err != nil {
		return fmt.Errorf("failed to publish delivery request: %w", err)
	}
	return nil
}
