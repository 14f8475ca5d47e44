// Package kafka publishes dispatch messages to a Kafka topic for a downstream
// delivery service (email/SMS gateway) to consume.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/waanverse/waanauth/dispatch"
)

// Config holds the producer settings.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Sender wraps a Sarama AsyncProducer as a [dispatch.Sender].
type Sender struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *zap.Logger
	done     chan struct{}
}

// NewSender connects an async producer to cfg.Brokers.
func NewSender(cfg Config, logger *zap.Logger) (*Sender, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic required")
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, producerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	s := newSender(producer, cfg.Topic, logger)
	s.logger.Info("kafka sender initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return s, nil
}

// producerConfig favours throughput: local acks, snappy batches flushed every
// 100ms. Delivery errors are returned and logged, successes are not.
func producerConfig(cfg Config) *sarama.Config {
	c := sarama.NewConfig()
	c.Version = sarama.V3_5_0_0
	if cfg.ClientID != "" {
		c.ClientID = cfg.ClientID
	}
	c.Producer.RequiredAcks = sarama.WaitForLocal
	c.Producer.Compression = sarama.CompressionSnappy
	c.Producer.Flush.Frequency = 100 * time.Millisecond
	c.Producer.Flush.Messages = 100
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = false
	c.Producer.Return.Errors = true
	c.Metadata.Retry.Max = 3
	c.Metadata.Retry.Backoff = 250 * time.Millisecond
	return c
}

func newSender(producer sarama.AsyncProducer, topic string, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sender{
		producer: producer,
		topic:    topic,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go s.handleErrors()
	return s
}

func (s *Sender) handleErrors() {
	for {
		select {
		case err, ok := <-s.producer.Errors():
			if !ok {
				return
			}
			if err != nil {
				s.logger.Error("kafka producer error",
					zap.Error(err.Err),
					zap.String("topic", err.Msg.Topic),
				)
			}
		case <-s.done:
			return
		}
	}
}

// Send serializes msg as JSON keyed by identity id, so every message for one
// identity lands on the same partition in order.
func (s *Sender) Send(ctx context.Context, msg dispatch.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := msg.IdentityID
	if key == "" {
		key = msg.To
	}
	record := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(msg.Kind)},
			{Key: []byte("channel"), Value: []byte(msg.Channel)},
		},
		Timestamp: msg.CreatedAt,
	}

	select {
	case s.producer.Input() <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes buffered records and stops the error handler.
func (s *Sender) Close() error {
	close(s.done)
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
