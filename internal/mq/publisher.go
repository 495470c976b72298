package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rendis/taskweave/internal/streaming"
)

// DefaultExchange receives every forwarded debug event.
const DefaultExchange = "taskweave.events"

// Publisher writes debug events to a topic exchange. The routing key is
// "<event type>.<workflow>", so consumers can bind on "workflow_failed.#"
// or "*.nightly_report".
type Publisher struct {
	conn     ChannelProvider
	exchange string
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. An empty exchange means DefaultExchange.
func NewPublisher(conn ChannelProvider, exchange string, logger *slog.Logger) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, exchange: exchange, logger: logger}
}

// Exchange returns the exchange name.
func (p *Publisher) Exchange() string { return p.exchange }

// SetupTopology declares the durable topic exchange.
func (p *Publisher) SetupTopology(ctx context.Context) error {
	return p.conn.WithChannel(ctx, func(ch Channel) error {
		if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		return nil
	})
}

// RoutingKey returns the key an event is published under.
func RoutingKey(ev streaming.Event) string {
	wf := ev.Workflow
	if wf == "" {
		wf = "_"
	}
	return ev.Type + "." + wf
}

// Publish sends one event as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, ev streaming.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := RoutingKey(ev)

	return p.conn.WithChannel(ctx, func(ch Channel) error {
		err := ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     ev.ID,
			CorrelationId: ev.ExecutionID,
			Type:          ev.Type,
			Timestamp:     ev.Timestamp,
			Body:          body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", p.exchange, key, err)
		}
		p.logger.Debug("published event", "exchange", p.exchange, "routing_key", key, "event_id", ev.ID)
		return nil
	})
}

// Forward publishes every hub event matching filter until ctx is done.
// Publish failures are logged and the event is dropped.
func (p *Publisher) Forward(ctx context.Context, hub streaming.EventHub, filter streaming.EventFilter) error {
	events, cancel, err := hub.Subscribe(ctx, filter)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, ev); err != nil {
				p.logger.Warn("event not forwarded", "type", ev.Type, "error", err)
			}
		}
	}
}
