package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/logger"
	"github.com/cenkalti/backoff"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type mqttPublisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	log     logger.Logger
}

// NewMQTTPublisher connects to the broker, retrying with exponential backoff
// for up to cfg.ConnectTimeout, and returns a Collector publishing each
// event as JSON with QoS 0.
func NewMQTTPublisher(cfg MQTTConfig, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errFactory.WithData(ErrInvalidConfig, cfg)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultMQTTConnectTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("cemctl-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout)
	client := mqtt.NewClient(opts)

	op := func() error {
		token := client.Connect()
		if !token.WaitTimeout(cfg.ConnectTimeout) {
			return errFactory.New(ErrOperationTimeout)
		}
		return token.Error()
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         time.Second,
		MaxElapsedTime:      cfg.ConnectTimeout,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return nil, errFactory.Wrap(ErrConnect, err).WithData(cfg.Broker)
	}

	log.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic).Msg("MQTT publisher connected")

	return newMQTTPublisher(client, cfg, log), nil
}

func newMQTTPublisher(client mqtt.Client, cfg MQTTConfig, log logger.Logger) *mqttPublisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultMQTTPublishTimeout
	}

	return &mqttPublisher{
		client:  client,
		topic:   cfg.Topic,
		timeout: timeout,
		log:     log,
	}
}

func (p *mqttPublisher) Record(ctx context.Context, event *Event) error {
	errFactory := errors.New()

	if event == nil {
		return errFactory.New(ErrInvalidEvent)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errFactory.Wrap(ErrInvalidEvent, err)
	}

	topic := p.topic + "/" + event.Pair + "/" + string(event.Kind)
	token := p.client.Publish(topic, 0, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	case <-time.After(p.timeout):
		return errFactory.WithData(ErrOperationTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrPublish, err).WithData(topic)
	}

	return nil
}

func (p *mqttPublisher) Close() error {
	p.client.Disconnect(250)
	p.log.Info().Msg("MQTT publisher disconnected")

	return nil
}
