package mqtt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/garage2mqtt/internal/cover"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakeClient struct {
	paho.Client

	mu            sync.Mutex
	published     []published
	subscriptions map[string]paho.MessageHandler
	unsubscribed  chan string
	err           error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		subscriptions: map[string]paho.MessageHandler{},
		unsubscribed:  make(chan string, 8),
	}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	var p string
	switch v := payload.(type) {
	case string:
		p = v
	case []byte:
		p = string(v)
	}
	c.published = append(c.published, published{topic: topic, retained: retained, payload: p})

	return &fakeToken{err: c.err}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err == nil {
		c.subscriptions[topic] = callback
	}
	return &fakeToken{err: c.err}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range topics {
		delete(c.subscriptions, topic)
		c.unsubscribed <- topic
	}
	return &fakeToken{err: c.err}
}

// deliver calls the handler subscribed to topic, if any.
func (c *fakeClient) deliver(topic, payload string, retained bool) bool {
	c.mu.Lock()
	h, ok := c.subscriptions[topic]
	c.mu.Unlock()

	if !ok {
		return false
	}
	h(c, &fakeMessage{topic: topic, payload: []byte(payload), retained: retained})
	return true
}

func (c *fakeClient) last(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == topic {
			return c.published[i], true
		}
	}
	return published{}, false
}

type fakeMessage struct {
	paho.Message

	topic    string
	payload  []byte
	retained bool
}

func (m *fakeMessage) Topic() string { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }
func (m *fakeMessage) Retained() bool { return m.retained }

type countingSwitch struct {
	presses int32
}

func (s *countingSwitch) Press() error {
	atomic.AddInt32(&s.presses, 1)
	return nil
}

func (s *countingSwitch) count() int32 {
	return atomic.LoadInt32(&s.presses)
}

type fakeCover struct {
	name    string
	state   cover.State
	handler cover.UpdateHandler

	calls      []string
	position   float64
	restored   float64
	restoreErr error
}

func (c *fakeCover) Name() string { return c.name }
func (c *fakeCover) Position() float64 { return c.state.Position }
func (c *fakeCover) State() cover.State { return c.state }
func (c *fakeCover) OnUpdate(h cover.UpdateHandler) { c.handler = h }

func (c *fakeCover) Open(ctx context.Context) error {
	c.calls = append(c.calls, "open")
	return nil
}

func (c *fakeCover) Close(ctx context.Context) error {
	c.calls = append(c.calls, "close")
	return nil
}

func (c *fakeCover) Stop(ctx context.Context) error {
	c.calls = append(c.calls, "stop")
	return nil
}

func (c *fakeCover) Toggle(ctx context.Context) error {
	c.calls = append(c.calls, "toggle")
	return nil
}

func (c *fakeCover) Press(ctx context.Context) error {
	c.calls = append(c.calls, "press")
	return nil
}

func (c *fakeCover) SetPosition(ctx context.Context, position float64) error {
	c.calls = append(c.calls, "position")
	c.position = position
	return nil
}

func (c *fakeCover) RestorePosition(ctx context.Context, position float64) error {
	if c.restoreErr != nil {
		return c.restoreErr
	}
	c.restored = position
	return nil
}
