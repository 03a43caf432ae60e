package pulse

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Consumer defaults.
const (
	// DefaultIdleBackoff is how long the loop rests after an empty
	// poll before trying again.
	DefaultIdleBackoff = 250 * time.Millisecond
)

// ConsumerConfig holds the consume loop's tunables.
type ConsumerConfig struct {
	// PollTimeout is the bounded wait of each Receive call.
	PollTimeout time.Duration

	// IdleBackoff is the rest between empty polls, so an idle queue is
	// not busy-spun.
	IdleBackoff time.Duration
}

// DefaultConsumerConfig returns a ConsumerConfig with sensible defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		PollTimeout: DefaultPollTimeout,
		IdleBackoff: DefaultIdleBackoff,
	}
}

// Consumer drains the broker and hands each delivery to the dispatcher.
// It refuses to consume until the chat transport reports ready, because a
// notification emitted before the bot can speak would be silently lost.
type Consumer struct {
	cfg        ConsumerConfig
	broker     Broker
	dispatcher *Dispatcher
	ready      <-chan struct{}
	log        *slog.Logger
}

// NewConsumer creates a consumer over the given broker and dispatcher.
// ready is closed by the chat transport once it is connected and joined to
// its target channel.
func NewConsumer(cfg ConsumerConfig, broker Broker, dispatcher *Dispatcher,
	ready <-chan struct{}, log *slog.Logger) *Consumer {

	if log == nil {
		log = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = DefaultIdleBackoff
	}

	return &Consumer{
		cfg:        cfg,
		broker:     broker,
		dispatcher: dispatcher,
		ready:      ready,
		log:        log.With("component", "consumer"),
	}
}

// Run drives the consume loop until ctx is cancelled or the broker goes
// away. Per-event failures never escape the loop; its availability is the
// pipeline's liveness contract.
func (c *Consumer) Run(ctx context.Context) error {
	// Hold off until the bot can actually deliver notifications.
	select {
	case <-c.ready:
		c.log.InfoContext(ctx, "chat transport ready, consuming")
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		del, err := c.broker.Receive(ctx, c.cfg.PollTimeout)
		switch {
		case err == nil:

		case errors.Is(err, ErrNoMessage):
			// Empty poll: yield instead of spinning.
			select {
			case <-time.After(c.cfg.IdleBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue

		case errors.Is(err, ErrBrokerClosed):
			return err

		case ctx.Err() != nil:
			return ctx.Err()

		default:
			c.log.ErrorContext(ctx, "receive failed", "err", err)
			select {
			case <-time.After(c.cfg.IdleBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if err := c.dispatcher.Dispatch(ctx, del); err != nil {
			// Dispatch only fails when shutdown raced the
			// delivery; the event stays unacked for redelivery.
			if errors.Is(err, ErrDispatcherStopped) ||
				ctx.Err() != nil {

				return err
			}

			c.log.ErrorContext(ctx, "dispatch failed", "err", err)
		}
	}
}
