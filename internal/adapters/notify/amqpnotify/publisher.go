// Package amqpnotify publishes cascade events to a RabbitMQ topic exchange.
package amqpnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
)

const (
	RoutingKeyTripWithdrawn   = "carpool.trip_withdrawn"
	RoutingKeyOutingCancelled = "carpool.outing_cancelled"
)

// RoutingKey returns the topic routing key for an event type.
func RoutingKey(t domain.CascadeEventType) string {
	if t == domain.CascadeEventOutingCancelled {
		return RoutingKeyOutingCancelled
	}
	return RoutingKeyTripWithdrawn
}

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a connection and a channel with the exchange declared.
type dialFunc func(url, exchange string) (*amqp.Connection, Channel, error)

type Options struct {
	URL      string
	Exchange string

	MaxDialAttempts int
	DialBackoff     time.Duration
}

// Publisher owns one connection and channel. A failed publish drops the channel so the next call redials.
type Publisher struct {
	opts Options
	log  *slog.Logger
	dial dialFunc

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     Channel
	closed bool
}

// Dial connects with retry and declares a durable topic exchange.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Publisher, error) {
	if opts.Exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}
	if opts.MaxDialAttempts <= 0 {
		opts.MaxDialAttempts = 10
	}
	if opts.DialBackoff <= 0 {
		opts.DialBackoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{opts: opts, log: logger.With("component", "amqpnotify"), dial: dialAMQP}

	delay := opts.DialBackoff
	for attempt := 1; ; attempt++ {
		err := p.connect()
		if err == nil {
			p.log.Info("rabbitmq connected", "exchange", opts.Exchange, "attempt", attempt)
			return p, nil
		}
		if attempt >= opts.MaxDialAttempts {
			return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", attempt, err)
		}
		p.log.Warn("rabbitmq connection attempt failed", "attempt", attempt, "retryIn", delay, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = delay * 3 / 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}

// NewWithChannel wraps an already open channel. Used by tests and by callers that manage the connection.
func NewWithChannel(ch Channel, exchange string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		opts: Options{Exchange: exchange},
		log:  logger.With("component", "amqpnotify"),
		ch:   ch,
		dial: func(string, string) (*amqp.Connection, Channel, error) {
			return nil, nil, errors.New("amqp channel not available")
		},
	}
}

func dialAMQP(url, exchange string) (*amqp.Connection, Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return conn, ch, nil
}

func (p *Publisher) connect() error {
	conn, ch, err := p.dial(p.opts.URL, p.opts.Exchange)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()
	return nil
}

func (p *Publisher) channel() (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("amqp publisher closed")
	}
	if p.ch != nil {
		return p.ch, nil
	}
	conn, ch, err := p.dial(p.opts.URL, p.opts.Exchange)
	if err != nil {
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset(broken Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != broken {
		return
	}
	_ = p.ch.Close()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Publish sends ev as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, ev domain.CascadeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode cascade event: %w", err)
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.opts.Exchange, RoutingKey(ev.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    string(ev.BookingID) + ":" + string(ev.Type),
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		Body:         body,
	})
	if err != nil {
		p.reset(ch)
		return fmt.Errorf("publish %s: %w", RoutingKey(ev.Type), err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.ch, p.conn = nil, nil
	return errors.Join(errs...)
}
