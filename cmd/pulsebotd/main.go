// pulsebotd is the review notification daemon: it consumes review events
// from the pulse message bus and notifies reviewers and submitters over
// IRC.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/pulsebot/internal/build"
	"github.com/roasbeef/pulsebot/internal/bugzilla"
	"github.com/roasbeef/pulsebot/internal/chat"
	"github.com/roasbeef/pulsebot/internal/config"
	"github.com/roasbeef/pulsebot/internal/notify"
	"github.com/roasbeef/pulsebot/internal/pulse"
	"github.com/roasbeef/pulsebot/internal/reviewboard"
	"github.com/roasbeef/pulsebot/internal/statestore"
)

// shutdownGrace bounds how long in-flight handlers may run after the
// consume loop stops.
const shutdownGrace = 10 * time.Second

func main() {
	var (
		configPath = flag.String(
			"config", "~/.pulsebot/pulsebot.yaml",
			"Path to the yaml configuration file",
		)
		logLevel = flag.String(
			"loglevel", "",
			"Override the configured log level",
		)
	)
	flag.Parse()

	cfg, err := config.Load(expandHome(*configPath))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger, err := build.NewRootLogger(os.Stderr, level)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	// Persisted opt-in and routing state.
	store, err := statestore.Open(expandHome(cfg.State.Dir))
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	records, err := statestore.NewRecords(store, logger)
	if err != nil {
		log.Fatalf("Failed to load state records: %v", err)
	}

	// Chat transport with the admin commands attached.
	commands := chat.NewCommands(records, cfg.IRC.Admins, logger)
	transport := chat.NewIRC(cfg.IRCTransportConfig(), commands, logger)

	// Tracker clients and the notification handlers.
	reviews := reviewboard.NewClient(cfg.ReviewBoardConfig(), logger)
	components := bugzilla.NewClient(cfg.BugzillaConfig(), logger)
	notifier := notify.NewService(
		reviews, components, records, transport, logger,
	)

	dispatcher := pulse.NewDispatcher(
		cfg.DispatcherConfig(),
		pulse.Handlers{
			ReviewRequested: notifier.HandleReviewRequested,
			ReviewPublished: notifier.HandleReviewPublished,
		},
		logger,
	)

	broker, err := pulse.DialAMQP(cfg.BrokerConfig(), logger)
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer broker.Close()

	consumer := pulse.NewConsumer(
		cfg.ConsumerConfig(), broker, dispatcher,
		transport.Ready(), logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The consume loop gets its own context so it can be stopped ahead
	// of the chat transport at shutdown.
	consumeCtx, stopConsume := context.WithCancel(ctx)
	defer stopConsume()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// The transport and the consume loop run as tracked goroutines so
	// shutdown can await both.
	gm := fn.NewGoroutineManager()
	errCh := make(chan error, 2)

	gm.Go(ctx, func(ctx context.Context) {
		errCh <- transport.Run(ctx)
	})
	gm.Go(consumeCtx, func(ctx context.Context) {
		errCh <- consumer.Run(ctx)
	})

	logger.Info("pulsebot running",
		"queue", cfg.Pulse.Queue, "channel", cfg.IRC.Channel)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("fatal", "err", err)
		}
	}

	// Shutdown order matters: stop consuming first, drain in-flight
	// handlers while the chat transport is still connected so their
	// notices go out, then tear down the transport and broker.
	stopConsume()
	dispatcher.Stop(shutdownGrace)
	cancel()
	gm.Stop()
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return home + path[1:]
}
