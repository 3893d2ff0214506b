package telemetry

import (
	"context"
	"encoding/json"

	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/logger"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	w   messageWriter
	log logger.Logger
}

// NewKafkaPublisher returns a Collector writing events as JSON to one topic,
// keyed by pair so each pair's events stay ordered within a partition.
// Writes are asynchronous; delivery failures are logged.
func NewKafkaPublisher(cfg KafkaConfig, log logger.Logger) (Collector, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New().WithData(ErrInvalidConfig, cfg)
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultKafkaBatchTimeout
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("messages", len(messages)).Msg("Kafka delivery failed")
			}
		},
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Kafka publisher initialized")

	return &kafkaPublisher{w: w, log: log}, nil
}

func (p *kafkaPublisher) Record(ctx context.Context, event *Event) error {
	errFactory := errors.New()

	if event == nil {
		return errFactory.New(ErrInvalidEvent)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return errFactory.Wrap(ErrInvalidEvent, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Pair),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errFactory.Wrap(ErrPublish, err).WithData(event.Pair)
	}

	return nil
}

func (p *kafkaPublisher) Close() error {
	if err := p.w.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	return nil
}
