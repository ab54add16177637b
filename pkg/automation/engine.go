// Package automation drives the host accessibility surface: it waits for a
// window root, dispatches gestures and returns the device to a known state
// when a run ends.
package automation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultPollInterval    = 250 * time.Millisecond
	DefaultMaxBackAttempts = 10
	DefaultBackDelay       = 200 * time.Millisecond
)

// Config configures an Engine.
type Config struct {
	PollInterval time.Duration // Window root polling interval

	// Recovery
	OwnPackage      string        // Package of the automating app
	EntryActivity   string        // Launched when back navigation does not return
	MaxBackAttempts int           // Foreground checks before falling back to launch
	BackDelay       time.Duration // Pause after each back press
}

// Engine runs automation primitives against one host.
// An Engine is used by one run at a time.
type Engine struct {
	cfg    Config
	host   core.Host
	logger *zap.Logger
}

// New creates a new Engine. A nil logger disables logging.
func New(host core.Host, cfg Config, logger *zap.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxBackAttempts <= 0 {
		cfg.MaxBackAttempts = DefaultMaxBackAttempts
	}
	if cfg.BackDelay <= 0 {
		cfg.BackDelay = DefaultBackDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		host:   host,
		logger: logger,
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) withLogger(logger *zap.Logger) *Engine {
	clone := *e
	clone.logger = logger
	return &clone
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
