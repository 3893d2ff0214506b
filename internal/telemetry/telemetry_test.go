package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCollector struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (c *recordingCollector) Record(_ context.Context, event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *event)
	return c.err
}

func (c *recordingCollector) Close() error {
	c.closed = true
	return c.err
}

func TestMultiFansOut(t *testing.T) {
	failing := &recordingCollector{err: errors.New().New(ErrPublish)}
	ok := &recordingCollector{}
	m := Multi(failing, ok)

	err := m.Record(context.Background(), testEvent("cem", KindTick, 1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrRecordEvent))
	assert.Len(t, failing.events, 1)
	assert.Len(t, ok.events, 1, "a failing collector does not starve the others")

	err = m.Close()
	assert.True(t, errors.HasCode(err, ErrStorageClose))
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)

	require.NoError(t, Multi(ok).Record(context.Background(), testEvent("cem", KindTick, 1)))
	require.NoError(t, Multi().Close())
}

func TestLogCollector(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)
	defer logger.SetLogLevel(logger.InfoLevel)

	var buf bytes.Buffer
	c := NewLogCollector(logger.New(&buf))

	ev := testEvent("cem", KindSaturating, 20000)
	require.NoError(t, c.Record(context.Background(), ev))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "Analogue out saturating", line["message"])
	assert.Equal(t, "cem", line["pair"])
	assert.Equal(t, 20000.0, line["rate"])

	buf.Reset()
	ev = testEvent("cem", KindRangeChanged, 20000)
	ev.PreviousFullScaleRate = 5000
	require.NoError(t, c.Record(context.Background(), ev))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, 5000.0, line["previous_full_scale_rate"])

	assert.True(t, errors.HasCode(c.Record(context.Background(), nil), ErrInvalidEvent))
	assert.NoError(t, c.Close())
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, complete bool) *fakeToken {
	tok := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(tok.done)
	}
	return tok
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMQTTClient struct {
	mqtt.Client
	topics       []string
	payloads     [][]byte
	token        *fakeToken
	disconnected bool
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return c.token
}

func (c *fakeMQTTClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTTClient{token: newFakeToken(nil, true)}
	p := newMQTTPublisher(client, MQTTConfig{Topic: "lab/cemctl"}, logger.Nop())

	ev := testEvent("cem", KindRangeChanged, 1000)
	require.NoError(t, p.Record(context.Background(), ev))
	require.Equal(t, []string{"lab/cemctl/cem/range_changed"}, client.topics)

	var decoded Event
	require.NoError(t, json.Unmarshal(client.payloads[0], &decoded))
	assert.Equal(t, ev.Pair, decoded.Pair)
	assert.Equal(t, ev.Kind, decoded.Kind)
	assert.Equal(t, ev.Elapsed, decoded.Elapsed)
	assert.True(t, ev.Timestamp.Equal(decoded.Timestamp))

	require.NoError(t, p.Close())
	assert.True(t, client.disconnected)
}

func TestMQTTPublisherErrors(t *testing.T) {
	client := &fakeMQTTClient{token: newFakeToken(assert.AnError, true)}
	p := newMQTTPublisher(client, MQTTConfig{Topic: "cemctl"}, logger.Nop())
	err := p.Record(context.Background(), testEvent("cem", KindTick, 1))
	assert.True(t, errors.HasCode(err, ErrPublish))

	client = &fakeMQTTClient{token: newFakeToken(nil, false)}
	p = newMQTTPublisher(client, MQTTConfig{Topic: "cemctl", PublishTimeout: 5 * time.Millisecond}, logger.Nop())
	err = p.Record(context.Background(), testEvent("cem", KindTick, 1))
	assert.True(t, errors.HasCode(err, ErrOperationTimeout))
}

func TestNewMQTTPublisherRequiresBroker(t *testing.T) {
	_, err := NewMQTTPublisher(MQTTConfig{Topic: "cemctl"}, logger.Nop())
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &kafkaPublisher{w: w, log: logger.Nop()}

	ev := testEvent("mcp", KindTick, 500)
	require.NoError(t, p.Record(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("mcp"), w.msgs[0].Key)
	assert.Equal(t, "kind", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte("tick"), w.msgs[0].Headers[0].Value)

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, ev.SmoothedRate, decoded.SmoothedRate)

	w.err = assert.AnError
	assert.True(t, errors.HasCode(p.Record(context.Background(), ev), ErrPublish))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, logger.Nop())
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
