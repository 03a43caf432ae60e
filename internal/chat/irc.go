package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"gopkg.in/irc.v4"
)

// ErrNotConnected is returned by SendMessage before the IRC connection is
// up.
var ErrNotConnected = errors.New("chat: not connected")

// IRCConfig holds the IRC connection parameters.
type IRCConfig struct {
	// Server is the host:port of the IRC server.
	Server string

	// TLS selects a TLS connection.
	TLS bool

	// Nick, User and Name identify the bot.
	Nick string
	User string
	Name string

	// Password is the optional server password.
	Password string

	// Channel is the channel joined at startup; readiness is reported
	// once the join confirms.
	Channel string
}

// DefaultIRCConfig returns an IRCConfig pointed at the mozilla.org IRC
// network.
func DefaultIRCConfig() IRCConfig {
	return IRCConfig{
		Nick:    "reviewbot",
		User:    "reviewbot",
		Name:    "review notification bot",
		Channel: "#reviewbot",
	}
}

// IRC is the Transport implementation over an IRC connection. Inbound
// direct messages are fed to the admin Commands handler.
type IRC struct {
	cfg      IRCConfig
	commands *Commands
	log      *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.RWMutex
	client *irc.Client
}

// NewIRC creates the IRC transport. commands may be nil, in which case
// inbound direct messages are ignored.
func NewIRC(cfg IRCConfig, commands *Commands, log *slog.Logger) *IRC {
	if log == nil {
		log = slog.Default()
	}

	return &IRC{
		cfg:      cfg,
		commands: commands,
		log:      log.With("component", "irc"),
		ready:    make(chan struct{}),
	}
}

// Ready returns a channel closed once the bot has registered with the
// server and joined its target channel.
func (i *IRC) Ready() <-chan struct{} {
	return i.ready
}

// Run connects and drives the IRC session until ctx is cancelled or the
// connection drops.
func (i *IRC) Run(ctx context.Context) error {
	var (
		conn net.Conn
		err  error
	)
	if i.cfg.TLS {
		conn, err = tls.Dial("tcp", i.cfg.Server, nil)
	} else {
		conn, err = net.Dial("tcp", i.cfg.Server)
	}
	if err != nil {
		return fmt.Errorf("dial irc %s: %w", i.cfg.Server, err)
	}
	defer conn.Close()

	client := irc.NewClient(conn, irc.ClientConfig{
		Nick:    i.cfg.Nick,
		Pass:    i.cfg.Password,
		User:    i.cfg.User,
		Name:    i.cfg.Name,
		Handler: irc.HandlerFunc(i.handle),
	})

	i.mu.Lock()
	i.client = client
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.client = nil
		i.mu.Unlock()
	}()

	i.log.InfoContext(ctx, "connecting", "server", i.cfg.Server,
		"nick", i.cfg.Nick)

	return client.RunContext(ctx)
}

// handle reacts to inbound IRC messages: join on welcome, readiness on the
// confirmed join, and admin commands on direct messages.
func (i *IRC) handle(c *irc.Client, m *irc.Message) {
	switch m.Command {
	case "001":
		// Registered with the server; join the notification channel.
		err := c.WriteMessage(&irc.Message{
			Command: "JOIN",
			Params:  []string{i.cfg.Channel},
		})
		if err != nil {
			i.log.Error("join failed", "err", err)
		}

	case "JOIN":
		if m.Prefix == nil || m.Prefix.Name != c.CurrentNick() {
			return
		}
		if len(m.Params) == 0 || m.Params[0] != i.cfg.Channel {
			return
		}

		i.readyOnce.Do(func() {
			i.log.Info("joined", "channel", i.cfg.Channel)
			close(i.ready)
		})

	case "PRIVMSG":
		if i.commands == nil || m.Prefix == nil {
			return
		}
		// Commands are accepted over direct message only.
		if len(m.Params) == 0 || m.Params[0] != c.CurrentNick() {
			return
		}

		from := m.Prefix.Name
		if reply := i.commands.Handle(from, m.Trailing()); reply != "" {
			if err := i.SendMessage(from, reply); err != nil {
				i.log.Warn("command reply failed",
					"nick", from, "err", err)
			}
		}
	}
}

// SendMessage sends a PRIVMSG to the target channel or nick.
func (i *IRC) SendMessage(target, text string) error {
	i.mu.RLock()
	client := i.client
	i.mu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}

	return client.WriteMessage(&irc.Message{
		Command: "PRIVMSG",
		Params:  []string{target, text},
	})
}

// Compile-time interface check.
var _ Transport = (*IRC)(nil)
