package build

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// NewRootLogger builds the daemon's root *slog.Logger writing to w at the
// given btclog level string ("trace", "debug", "info", "warn", "error",
// "critical", "off"). Per-component loggers are derived from the result via
// log.With("component", name).
func NewRootLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	set := NewHandlerSet(btclogv2.NewDefaultHandler(w))
	set.SetLevel(lvl)

	return slog.New(set), nil
}
