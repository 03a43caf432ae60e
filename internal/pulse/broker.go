package pulse

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessage is returned by Broker.Receive when no message arrived
// within the bounded wait.
var ErrNoMessage = errors.New("pulse: no message available")

// ErrBrokerClosed is returned once the broker connection has been torn
// down.
var ErrBrokerClosed = errors.New("pulse: broker closed")

// Delivery is one raw message received from the broker. Acknowledgment is
// explicit and must happen exactly once, after handling.
type Delivery interface {
	// Body returns the raw message payload.
	Body() []byte

	// Ack acknowledges the message to the broker.
	Ack() error
}

// Broker is an at-least-once delivery channel with manual acknowledgment.
// The AMQP implementation lives in this package; tests substitute fakes.
type Broker interface {
	// Receive returns the next delivery, waiting up to timeout. It
	// returns ErrNoMessage when the wait elapses empty and
	// ErrBrokerClosed once the connection is gone.
	Receive(ctx context.Context, timeout time.Duration) (Delivery, error)

	// Close tears down the broker connection.
	Close() error
}
