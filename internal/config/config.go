// Package config loads the daemon's configuration from a single yaml file.
// There is no automatic discovery: the path comes from the --config flag,
// and values not present in the file fall back to the defaults of the
// packages they configure.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roasbeef/pulsebot/internal/bugzilla"
	"github.com/roasbeef/pulsebot/internal/chat"
	"github.com/roasbeef/pulsebot/internal/pulse"
	"github.com/roasbeef/pulsebot/internal/reviewboard"
)

// Duration is a yaml-decodable time.Duration ("500ms", "2m", ...).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the daemon's full configuration.
type Config struct {
	// Logging configures the log backend.
	Logging LoggingConfig `yaml:"logging"`

	// Pulse configures the review event bus connection and the consume
	// loop.
	Pulse PulseConfig `yaml:"pulse"`

	// IRC configures the chat transport.
	IRC IRCConfig `yaml:"irc"`

	// Notify configures the dispatch pipeline and the tracker lookups.
	Notify NotifyConfig `yaml:"notify"`

	// State configures the persisted key-value store.
	State StateConfig `yaml:"state"`
}

// LoggingConfig configures the log backend.
type LoggingConfig struct {
	// Level is the btclog level name.
	Level string `yaml:"level"`
}

// PulseConfig configures the broker connection and consume loop.
type PulseConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	TLS         bool     `yaml:"tls"`
	User        string   `yaml:"user"`
	Password    string   `yaml:"password"`
	VHost       string   `yaml:"vhost"`
	Exchange    string   `yaml:"exchange"`
	Queue       string   `yaml:"queue"`
	RoutingKey  string   `yaml:"routing_key"`
	PollTimeout Duration `yaml:"poll_timeout"`
	IdleBackoff Duration `yaml:"idle_backoff"`
}

// IRCConfig configures the chat transport.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	TLS      bool     `yaml:"tls"`
	Nick     string   `yaml:"nick"`
	User     string   `yaml:"user"`
	Name     string   `yaml:"name"`
	Password string   `yaml:"password"`
	Channel  string   `yaml:"channel"`
	Admins   []string `yaml:"admins"`
}

// NotifyConfig configures the dispatcher and the tracker clients.
type NotifyConfig struct {
	MaxInFlight    int64    `yaml:"max_in_flight"`
	HandlerTimeout Duration `yaml:"handler_timeout"`
	ReviewBoardAPI string   `yaml:"reviewboard_api"`
	BugzillaAPI    string   `yaml:"bugzilla_api"`
	LookupTimeout  Duration `yaml:"lookup_timeout"`
}

// StateConfig configures the persisted state directory.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the configuration matching the mozilla.org deployment.
func Default() Config {
	broker := pulse.DefaultBrokerConfig()
	irc := chat.DefaultIRCConfig()

	return Config{
		Logging: LoggingConfig{Level: "info"},
		Pulse: PulseConfig{
			Host:        broker.Host,
			Port:        broker.Port,
			TLS:         broker.TLS,
			VHost:       broker.VHost,
			Exchange:    broker.Exchange,
			Queue:       broker.Queue,
			RoutingKey:  broker.RoutingKey,
			PollTimeout: Duration(pulse.DefaultPollTimeout),
			IdleBackoff: Duration(pulse.DefaultIdleBackoff),
		},
		IRC: IRCConfig{
			Server:  "irc.mozilla.org:6697",
			TLS:     true,
			Nick:    irc.Nick,
			User:    irc.User,
			Name:    irc.Name,
			Channel: irc.Channel,
		},
		Notify: NotifyConfig{
			MaxInFlight:    pulse.DefaultMaxInFlight,
			HandlerTimeout: Duration(pulse.DefaultHandlerTimeout),
			ReviewBoardAPI: "https://reviewboard.mozilla.org/api",
			BugzillaAPI:    "https://bugzilla.mozilla.org/rest",
			LookupTimeout:  Duration(reviewboard.DefaultTimeout),
		},
		State: StateConfig{Dir: "~/.pulsebot/state"},
	}
}

// Load reads path over the defaults and validates the result. A missing
// file is not an error, the daemon then runs on defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, cfg.Validate()

	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the invariants the daemon cannot start without.
func (c Config) Validate() error {
	if c.Pulse.Host == "" {
		return fmt.Errorf("config: pulse.host is required")
	}
	if c.Pulse.Queue == "" {
		return fmt.Errorf("config: pulse.queue is required")
	}
	if c.IRC.Server == "" {
		return fmt.Errorf("config: irc.server is required")
	}
	if c.IRC.Channel == "" {
		return fmt.Errorf("config: irc.channel is required")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("config: state.dir is required")
	}

	return nil
}

// BrokerConfig converts the pulse section into the broker's config type.
func (c Config) BrokerConfig() pulse.BrokerConfig {
	broker := pulse.DefaultBrokerConfig()
	broker.Host = c.Pulse.Host
	broker.Port = c.Pulse.Port
	broker.TLS = c.Pulse.TLS
	broker.User = c.Pulse.User
	broker.Password = c.Pulse.Password
	broker.VHost = c.Pulse.VHost
	broker.Exchange = c.Pulse.Exchange
	broker.Queue = c.Pulse.Queue
	broker.RoutingKey = c.Pulse.RoutingKey
	broker.Prefetch = int(c.Notify.MaxInFlight)

	return broker
}

// ConsumerConfig converts the pulse section into the consumer's config
// type.
func (c Config) ConsumerConfig() pulse.ConsumerConfig {
	cfg := pulse.DefaultConsumerConfig()
	if c.Pulse.PollTimeout > 0 {
		cfg.PollTimeout = c.Pulse.PollTimeout.Std()
	}
	if c.Pulse.IdleBackoff > 0 {
		cfg.IdleBackoff = c.Pulse.IdleBackoff.Std()
	}

	return cfg
}

// DispatcherConfig converts the notify section into the dispatcher's
// config type.
func (c Config) DispatcherConfig() pulse.DispatcherConfig {
	cfg := pulse.DefaultDispatcherConfig()
	if c.Notify.MaxInFlight > 0 {
		cfg.MaxInFlight = c.Notify.MaxInFlight
	}
	if c.Notify.HandlerTimeout > 0 {
		cfg.HandlerTimeout = c.Notify.HandlerTimeout.Std()
	}

	return cfg
}

// IRCTransportConfig converts the irc section into the transport's config
// type.
func (c Config) IRCTransportConfig() chat.IRCConfig {
	return chat.IRCConfig{
		Server:   c.IRC.Server,
		TLS:      c.IRC.TLS,
		Nick:     c.IRC.Nick,
		User:     c.IRC.User,
		Name:     c.IRC.Name,
		Password: c.IRC.Password,
		Channel:  c.IRC.Channel,
	}
}

// ReviewBoardConfig converts the notify section into the review-tracker
// client's config type.
func (c Config) ReviewBoardConfig() reviewboard.Config {
	cfg := reviewboard.DefaultConfig(c.Notify.ReviewBoardAPI)
	if c.Notify.LookupTimeout > 0 {
		cfg.Timeout = c.Notify.LookupTimeout.Std()
	}

	return cfg
}

// BugzillaConfig converts the notify section into the bug-tracker client's
// config type.
func (c Config) BugzillaConfig() bugzilla.Config {
	cfg := bugzilla.DefaultConfig(c.Notify.BugzillaAPI)
	if c.Notify.LookupTimeout > 0 {
		cfg.Timeout = c.Notify.LookupTimeout.Std()
	}

	return cfg
}
