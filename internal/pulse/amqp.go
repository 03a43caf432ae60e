package pulse

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Defaults for the broker connection.
const (
	// DefaultPollTimeout is the bounded wait of one Receive call.
	DefaultPollTimeout = 500 * time.Millisecond

	// DefaultPrefetch is how many unacknowledged deliveries the broker
	// may push at once. It matches the dispatcher's default permit count
	// so the broker never buffers more than we can handle.
	DefaultPrefetch = 32
)

// BrokerConfig holds the connection parameters for the review event bus.
type BrokerConfig struct {
	// Host is the broker host name.
	Host string

	// Port is the broker port.
	Port int

	// TLS selects an amqps connection.
	TLS bool

	// User and Password authenticate the consumer.
	User     string
	Password string

	// VHost is the broker virtual host.
	VHost string

	// Exchange is the exchange the queue binds to.
	Exchange string

	// Queue is the durable queue name.
	Queue string

	// RoutingKey filters which events reach the queue.
	RoutingKey string

	// Prefetch bounds unacknowledged deliveries pushed by the broker.
	Prefetch int
}

// DefaultBrokerConfig returns a BrokerConfig pointed at the public
// pulse.mozilla.org broker.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Host:       "pulse.mozilla.org",
		Port:       5671,
		TLS:        true,
		VHost:      "/",
		Exchange:   "exchange/mozreview/",
		Queue:      "queue/reviewbot/ircbot",
		RoutingKey: "#",
		Prefetch:   DefaultPrefetch,
	}
}

// URL renders the config as an AMQP connection URL.
func (c BrokerConfig) URL() string {
	scheme := "amqp"
	if c.TLS {
		scheme = "amqps"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	// The default vhost "/" is what an empty path already means to the
	// URI parser; anything else is carried as a path segment.
	if c.VHost != "" && c.VHost != "/" {
		u.Path = "/" + url.PathEscape(c.VHost)
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}

	return u.String()
}

// AMQPBroker is the Broker implementation over an AMQP connection. The
// queue is declared durable and non-auto-deleted, bound to the configured
// exchange and routing key, and consumed with explicit acknowledgment.
type AMQPBroker struct {
	cfg  BrokerConfig
	log  *slog.Logger
	conn *amqp.Connection
	ch   *amqp.Channel

	deliveries <-chan amqp.Delivery
}

// DialAMQP connects to the broker, declares and binds the queue, and
// starts consuming with manual acknowledgment.
func DialAMQP(cfg BrokerConfig, log *slog.Logger) (*AMQPBroker, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}

	var (
		conn *amqp.Connection
		err  error
	)
	if cfg.TLS {
		conn, err = amqp.DialTLS(cfg.URL(), &tls.Config{
			ServerName: cfg.Host,
		})
	} else {
		conn, err = amqp.Dial(cfg.URL())
	}
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", cfg.Queue, err)
	}

	if err := ch.QueueBind(
		cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind queue %q: %w", cfg.Queue, err)
	}

	consumerTag := "pulsebot-" + uuid.NewString()
	deliveries, err := ch.Consume(
		cfg.Queue,
		consumerTag,
		false, // autoAck: acknowledgment is always explicit
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume queue %q: %w", cfg.Queue, err)
	}

	log.Info("broker connected",
		"host", cfg.Host, "queue", cfg.Queue,
		"routing_key", cfg.RoutingKey)

	return &AMQPBroker{
		cfg:        cfg,
		log:        log.With("component", "broker"),
		conn:       conn,
		ch:         ch,
		deliveries: deliveries,
	}, nil
}

// Receive returns the next delivery, waiting up to timeout.
func (b *AMQPBroker) Receive(ctx context.Context,
	timeout time.Duration) (Delivery, error) {

	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d, ok := <-b.deliveries:
		if !ok {
			return nil, ErrBrokerClosed
		}
		return &amqpDelivery{d: d}, nil

	case <-timer.C:
		return nil, ErrNoMessage

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the channel and connection.
func (b *AMQPBroker) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}

	return b.conn.Close()
}

// amqpDelivery adapts an amqp delivery to the Delivery interface.
type amqpDelivery struct {
	d amqp.Delivery
}

// Body returns the raw message payload.
func (a *amqpDelivery) Body() []byte {
	return a.d.Body
}

// Ack acknowledges this delivery only (multiple=false).
func (a *amqpDelivery) Ack() error {
	return a.d.Ack(false)
}

// Compile-time interface checks.
var (
	_ Broker   = (*AMQPBroker)(nil)
	_ Delivery = (*amqpDelivery)(nil)
)
