package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ChannelProvider hands out the current channel.
type ChannelProvider interface {
	WithChannel(ctx context.Context, fn func(ch Channel) error) error
}

// ErrNoChannel is returned while the connection is down.
var ErrNoChannel = errors.New("mq: no channel available")

// maxReconnectDelay caps the reconnect backoff.
const maxReconnectDelay = 30 * time.Second

// Connection wraps an AMQP connection and reconnects it when the broker
// drops it.
type Connection struct {
	url    string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closed   bool
	closedCh chan struct{}
}

// NewConnection dials url and starts watching the connection.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:      url,
		logger:   logger,
		closedCh: make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watchConnection()
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("connected to broker")
	return nil
}

func (c *Connection) watchConnection() {
	for {
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return
		}
		conn := c.conn
		c.mu.RUnlock()

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.closedCh:
			return
		case err := <-notifyClose:
			if err != nil {
				c.logger.Warn("broker connection closed", "error", err)
			}
			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect retries with exponential delay until it succeeds or Close is
// called. It reports whether a new connection is in place.
func (c *Connection) reconnect() bool {
	c.mu.Lock()
	c.channel = nil
	c.mu.Unlock()

	delay := time.Second
	for {
		select {
		case <-c.closedCh:
			return false
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			c.logger.Warn("reconnect failed", "error", err, "delay", delay)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		c.logger.Info("reconnected to broker")
		return true
	}
}

// WithChannel runs fn with the current channel.
func (c *Connection) WithChannel(_ context.Context, fn func(ch Channel) error) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return ErrNoChannel
	}
	return fn(ch)
}

// IsConnected reports whether the underlying connection is open.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close closes the channel and the connection. Safe to call twice.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
