package mq

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	exchanges map[string]string
	messages  []published
	err       error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exchanges == nil {
		f.exchanges = map[string]string{}
	}
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

type fakeProvider struct {
	ch   *fakeChannel
	down bool
}

func (p *fakeProvider) WithChannel(_ context.Context, fn func(Channel) error) error {
	if p.down {
		return ErrNoChannel
	}
	return fn(p.ch)
}

func TestSetupTopology(t *testing.T) {
	ch := &fakeChannel{}
	pub := NewPublisher(&fakeProvider{ch: ch}, "", nil)

	require.NoError(t, pub.SetupTopology(context.Background()))
	assert.Equal(t, "topic", ch.exchanges[DefaultExchange])
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "workflow_failed.nightly", RoutingKey(streaming.Event{Type: schema.EventWorkflowFailed, Workflow: "nightly"}))
	assert.Equal(t, "input_set._", RoutingKey(streaming.Event{Type: schema.EventInputSet}))
}

func TestPublish(t *testing.T) {
	ch := &fakeChannel{}
	pub := NewPublisher(&fakeProvider{ch: ch}, "custom", nil)

	ev := streaming.Event{
		ID:          "ev-1",
		ExecutionID: "exec-1",
		Workflow:    "report",
		Type:        schema.EventWorkflowCompleted,
		Payload:     map[string]any{"result": "42"},
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(context.Background(), ev))

	sent := ch.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "custom", sent[0].exchange)
	assert.Equal(t, "workflow_completed.report", sent[0].key)
	assert.Equal(t, "application/json", sent[0].msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent[0].msg.DeliveryMode)
	assert.Equal(t, "ev-1", sent[0].msg.MessageId)
	assert.Equal(t, "exec-1", sent[0].msg.CorrelationId)

	var decoded streaming.Event
	require.NoError(t, json.Unmarshal(sent[0].msg.Body, &decoded))
	assert.Equal(t, ev.Type, decoded.Type)
	assert.Equal(t, map[string]any{"result": "42"}, decoded.Payload)
}

func TestPublish_NoChannel(t *testing.T) {
	pub := NewPublisher(&fakeProvider{down: true}, "", nil)
	err := pub.Publish(context.Background(), streaming.Event{Type: schema.EventMessage})
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestForward(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch := &fakeChannel{}
	pub := NewPublisher(&fakeProvider{ch: ch}, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pub.Forward(ctx, hub, streaming.EventFilter{EventTypes: []string{schema.EventWorkflowCompleted}})
	}()

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		_ = hub.Publish(ctx, streaming.Event{ID: "ping", Type: schema.EventWorkflowCompleted, Workflow: "w"})
		return len(ch.sent()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, streaming.Event{ID: "skip", Type: schema.EventMessage}))

	cancel()
	require.NoError(t, <-done)
	for _, p := range ch.sent() {
		assert.Equal(t, "workflow_completed.w", p.key)
	}
}

func TestForward_PublishErrorsAreDropped(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch := &fakeChannel{err: assert.AnError}
	pub := NewPublisher(&fakeProvider{ch: ch}, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = hub.Publish(context.Background(), streaming.Event{ID: "x", Type: schema.EventMessage})
	}()

	assert.NoError(t, pub.Forward(ctx, hub, streaming.EventFilter{}))
	assert.Empty(t, ch.sent())
}
