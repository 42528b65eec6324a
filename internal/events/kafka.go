package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaTransport carries envelopes over Kafka. Offsets are committed only
// after the handler returns; failed messages are copied to the topic's
// dead-letter topic and then committed, so they are never redelivered.
type KafkaTransport struct {
	OnReject DeadLetterSink

	brokers []string
	topics  Topics
	writer  *kafka.Writer
	logger  *zap.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewKafkaTransport(brokers []string, topics Topics, logger *zap.Logger) (*KafkaTransport, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka transport requires at least one broker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaTransport{
		brokers: brokers,
		topics:  topics,
		logger:  logger,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
	}, nil
}

func (k *KafkaTransport) Publish(ctx context.Context, topic string, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(env.Key),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "event_id", Value: []byte(env.ID)},
		},
	})
}

func (k *KafkaTransport) Consume(ctx context.Context, topic, group string, h Handler) error {
	if group == "" {
		return errors.New("kafka consumer requires group id")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch %s: %w", topic, err)
		}

		var env Envelope
		handleErr := json.Unmarshal(msg.Value, &env)
		if handleErr != nil {
			handleErr = fmt.Errorf("decode envelope: %w", handleErr)
			env = Envelope{Key: string(msg.Key), Payload: json.RawMessage(msg.Value)}
		} else {
			handleErr = safeHandle(ctx, h, env)
		}
		if handleErr != nil {
			k.reject(ctx, topic, group, msg, env, handleErr)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit %s: %w", topic, err)
		}
	}
}

func (k *KafkaTransport) reject(ctx context.Context, topic, group string, msg kafka.Message, env Envelope, cause error) {
	dlq := k.topics.DeadLetter(topic)
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: dlq,
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now().UTC(),
		Headers: append(msg.Headers,
			kafka.Header{Key: "dlq_error", Value: []byte(cause.Error())},
			kafka.Header{Key: "dlq_group", Value: []byte(group)},
		),
	})
	if err != nil {
		k.logger.Error("dead-letter publish failed",
			zap.String("topic", dlq),
			zap.String("event_id", env.ID),
			zap.Error(err),
		)
	}
	if k.OnReject != nil {
		k.OnReject(ctx, topic, group, env, cause)
	}
}

func (k *KafkaTransport) Close() error {
	k.mu.Lock()
	readers := k.readers
	k.readers = nil
	k.mu.Unlock()
	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := k.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
