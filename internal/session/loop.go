package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tabcast/relay/internal/metrics"
)

type LoopConfig struct {
	TickInterval time.Duration
	// FailureThreshold is the number of consecutive failed ticks after
	// which Run gives up. Values below 1 are treated as 1.
	FailureThreshold int
}

// Loop owns the Driver. Every tick it applies at most one queued command,
// captures a frame, and publishes the session state when the frame or the
// URL changed.
type Loop struct {
	driver  Driver
	queue   *Queue
	bus     *Bus
	cfg     LoopConfig
	metrics *metrics.Collector
	logger  *log.Logger

	state    State
	failures int
}

func NewLoop(driver Driver, queue *Queue, bus *Bus, cfg LoopConfig, m *metrics.Collector, logger *log.Logger) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		driver:  driver,
		queue:   queue,
		bus:     bus,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Run ticks until ctx is cancelled or the driver keeps failing. The bus is
// closed on return: with the driver error on failure, with ErrBusClosed on
// cancellation.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	l.logger.Info("session loop started", "interval", l.cfg.TickInterval, "queue", l.queue.Cap())
	for {
		if err := l.step(ctx); err != nil && ctx.Err() == nil {
			l.bus.Close(err)
			return fmt.Errorf("session loop: %w", err)
		}

		select {
		case <-ctx.Done():
			l.bus.Close(nil)
			l.logger.Info("session loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// step runs one tick and applies the failure policy. It returns an error
// only once the failure threshold is reached.
func (l *Loop) step(ctx context.Context) error {
	err := l.tick(ctx)
	if err == nil {
		l.failures = 0
		return nil
	}
	if ctx.Err() != nil {
		// Cancelled mid-call; not a browser failure.
		return err
	}

	var derr *DriverError
	if errors.As(err, &derr) {
		l.metrics.DriverError(derr.Op)
	}

	l.failures++
	if l.failures >= l.cfg.FailureThreshold {
		l.logger.Error("browser session failed", "err", err, "consecutive", l.failures)
		return err
	}
	l.logger.Warn("tick failed, retrying", "err", err, "consecutive", l.failures, "threshold", l.cfg.FailureThreshold)
	return nil
}

func (l *Loop) tick(ctx context.Context) error {
	start := time.Now()
	defer func() { l.metrics.ObserveTick(time.Since(start)) }()

	changed := false
	if cmd, ok := l.queue.TryDequeue(); ok {
		urlChanged, err := l.apply(ctx, cmd)
		if err != nil {
			return err
		}
		changed = urlChanged
	}

	frame, err := l.driver.CaptureFrame(ctx)
	if err != nil {
		return &DriverError{Op: OpCapture, Err: err}
	}
	l.metrics.FrameCaptured()

	if !bytes.Equal(frame, l.state.Frame) {
		l.state.Frame = frame
		l.state.FrameSeq++
		l.metrics.FramePublished(len(frame))
		changed = true
	}

	// The page can navigate on its own (links, redirects, scripts), so the
	// URL is observed every tick rather than trusted from commands.
	url, err := l.driver.CurrentURL(ctx)
	if err != nil {
		return &DriverError{Op: OpURL, Err: err}
	}
	if url != l.state.URL {
		l.logger.Info("url changed", "url", url)
		l.state.URL = url
		changed = true
	}

	if changed {
		l.bus.Publish(l.state)
	}
	return nil
}

// apply runs cmd against the driver. It reports whether the state's URL was
// updated speculatively by a navigation.
func (l *Loop) apply(ctx context.Context, cmd Command) (bool, error) {
	l.logger.Debug("applying command", "cmd", cmd)

	urlChanged := false
	switch c := cmd.(type) {
	case Navigate:
		if err := l.driver.Navigate(ctx, c.URL); err != nil {
			return false, &DriverError{Op: OpNavigate, Err: err}
		}
		if c.URL != l.state.URL {
			l.state.URL = c.URL
			urlChanged = true
		}
	case Click:
		if err := l.driver.Click(ctx, c.X, c.Y); err != nil {
			return false, &DriverError{Op: OpClick, Err: err}
		}
	case KeyPress:
		if err := l.driver.PressKey(ctx, c.Key); err != nil {
			return false, &DriverError{Op: OpKey, Err: err}
		}
	default:
		l.logger.Warn("ignoring unknown command", "cmd", cmd)
		return false, nil
	}

	l.metrics.CommandApplied(string(cmd.Action()))
	return urlChanged, nil
}
