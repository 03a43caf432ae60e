// Package chat provides the chat-side of the bot: the transport interface
// the notification pipeline sends through, its IRC implementation, and the
// admin commands surfaced as direct messages.
package chat

import "context"

// Transport is a connected chat endpoint. Sends are fire-and-forget; no
// delivery confirmation is awaited beyond the transport's own guarantee.
type Transport interface {
	// SendMessage sends text to a channel or nick.
	SendMessage(target, text string) error

	// Ready returns a channel closed once the transport is connected
	// and joined to its target channel. The event consumer holds off
	// consuming until then.
	Ready() <-chan struct{}

	// Run drives the connection until ctx is cancelled.
	Run(ctx context.Context) error
}
