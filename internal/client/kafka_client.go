package client

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"otp-service/internal/config"
	"otp-service/internal/util"
)

// KafkaClient is a thin producer wrapper around segmentio/kafka-go.
type KafkaClient struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
}

func NewKafkaClient(cfg *config.Config) (*KafkaClient, error) {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kafkaConfig.Brokers...),
		Topic:        kafkaConfig.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	util.Info("Kafka producer initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.String("topic", kafkaConfig.Topic))

	return &KafkaClient{
		writer:  writer,
		brokers: kafkaConfig.Brokers,
		topic:   kafkaConfig.Topic,
	}, nil
}

// ProduceMessage publishes a single keyed message to the configured topic.
func (k *KafkaClient) ProduceMessage(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// HealthCheck dials the first broker to verify reachability.
func (k *KafkaClient) HealthCheck(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return fmt.Errorf("kafka broker unreachable: %w", err)
	}
	return conn.Close()
}

func (k *KafkaClient) Close() error {
	if k.writer != nil {
		if err := k.writer.Close(); err != nil {
			util.Error("failed to close Kafka writer", zap.Error(err))
			return err
		}
		util.Info("Kafka producer closed")
	}
	return nil
}
