package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds a Call whose context carries no deadline
const DefaultRequestTimeout = 30 * time.Second

// NATSBus implements Bus over NATS subjects. Topics map one to one onto
// subjects; every topic is a queue group so a bare topic reaches a single
// subscriber.
type NATSBus struct {
	conn    *nats.Conn
	timeout time.Duration
	logger  zerolog.Logger
}

var _ Bus = (*NATSBus)(nil)

// NATSConfig holds configuration for connecting to a NATS server
type NATSConfig struct {
	URL            string
	Name           string
	RequestTimeout time.Duration
}

// NewNATSBus connects to the NATS server at cfg.URL
func NewNATSBus(cfg *NATSConfig) (*NATSBus, error) {
	name := cfg.Name
	if name == "" {
		name = "corral"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &NATSBus{
		conn:    conn,
		timeout: timeout,
		logger:  log.WithComponent("nats"),
	}, nil
}

// Call publishes msg as a request and waits for the reply
func (b *NATSBus) Call(ctx context.Context, topic string, msg *Message, reply interface{}) error {
	metrics.BusMessagesTotal.WithLabelValues("nats", "call").Inc()

	data, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := b.conn.RequestWithContext(ctx, topic, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("%w: %s", ErrNoResponders, topic)
		}
		return fmt.Errorf("request to %s failed: %w", topic, err)
	}

	return decodeReply(resp.Data, reply)
}

// Cast publishes msg without waiting
func (b *NATSBus) Cast(ctx context.Context, topic string, msg *Message) error {
	metrics.BusMessagesTotal.WithLabelValues("nats", "cast").Inc()

	data, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := b.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	return nil
}

// Subscribe joins the queue group named after topic
func (b *NATSBus) Subscribe(topic string, h Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(topic, topic, func(m *nats.Msg) {
		b.dispatch(m, h)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	// Make sure the server knows about the subscription before callers
	// start addressing it.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription to %s: %w", topic, err)
	}
	return sub, nil
}

func (b *NATSBus) dispatch(m *nats.Msg, h Handler) {
	var msg Message
	if err := Unmarshal(m.Data, &msg); err != nil {
		b.logger.Error().Err(err).Str("subject", m.Subject).Msg("Failed to decode message")
		return
	}

	result, err := h(context.Background(), &msg)

	if m.Reply == "" {
		if err != nil {
			b.logger.Error().Err(err).
				Str("subject", m.Subject).
				Str("method", msg.Method).
				Msg("Failed to handle cast")
		}
		return
	}

	data, encErr := encodeReply(result, err)
	if encErr != nil {
		b.logger.Error().Err(encErr).Str("subject", m.Subject).Msg("Failed to encode reply")
		return
	}
	if err := m.Respond(data); err != nil {
		b.logger.Error().Err(err).Str("subject", m.Subject).Msg("Failed to send reply")
	}
}

// Close drains subscriptions and closes the connection
func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
