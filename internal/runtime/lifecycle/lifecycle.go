// Package lifecycle supervises the consumer loop: it runs the loop in its own
// goroutine, watches it from the caller's goroutine, and turns an unexpected
// exit into an error the process can exit on.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rferrors "github.com/drblury/replyflow/internal/runtime/errors"
	"github.com/drblury/replyflow/internal/runtime/logging"
)

// DefaultGracePeriod bounds how long Stop waits for the loop.
const DefaultGracePeriod = 30 * time.Second

var (
	ErrUnexpectedExit = errors.New("lifecycle: consumer loop exited unexpectedly")
	ErrStopTimeout    = errors.New("lifecycle: consumer loop did not stop within the grace period")
	ErrAlreadyStarted = errors.New("lifecycle: controller already started")
)

// Runner is a blocking unit of work that returns once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type Config struct {
	GracePeriod time.Duration
	Logger      logging.ServiceLogger
}

// Controller owns the goroutine running a Runner.
type Controller struct {
	runner Runner
	grace  time.Duration
	logger logging.ServiceLogger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	stopCh  chan struct{}
	runErr  error

	stopping atomic.Bool
	alive    atomic.Bool
}

func New(runner Runner, cfg Config) (*Controller, error) {
	if runner == nil {
		return nil, rferrors.ErrRunnerRequired
	}
	if cfg.Logger == nil {
		return nil, rferrors.ErrLoggerRequired
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Controller{
		runner: runner,
		grace:  cfg.GracePeriod,
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Start runs the loop and blocks until ctx is cancelled, Stop is called, or
// the loop exits on its own. The last case returns an error matching
// ErrUnexpectedExit.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	// Stop is the only path that cancels the loop.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.alive.Store(true)
	go c.supervise(runCtx)
	c.logger.Info("Consumer loop started", nil)

	select {
	case <-ctx.Done():
		c.logger.Info("Shutdown signal received", logging.LogFields{"grace_period": c.grace.String()})
		return c.Stop()
	case <-c.stopCh:
		return c.wait()
	case <-c.done:
		if c.stopping.Load() {
			return nil
		}
		err := fmt.Errorf("%w: %w", ErrUnexpectedExit, c.exitCause())
		c.logger.Error("Consumer loop exited unexpectedly", err, nil)
		return err
	}
}

func (c *Controller) supervise(ctx context.Context) {
	defer close(c.done)
	defer c.alive.Store(false)
	defer func() {
		if r := recover(); r != nil {
			c.runErr = fmt.Errorf("panic: %v", r)
		}
	}()
	c.runErr = c.runner.Run(ctx)
}

func (c *Controller) exitCause() error {
	if c.runErr != nil {
		return c.runErr
	}
	return errors.New("loop returned without error")
}

// Stop asks the loop to finish and waits up to the grace period. It is safe
// to call more than once and before Start.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.stopping.CompareAndSwap(false, true) {
		close(c.stopCh)
		c.cancel()
	}
	return c.wait()
}

func (c *Controller) wait() error {
	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	select {
	case <-c.done:
		if c.runErr != nil {
			c.logger.Error("Consumer loop stopped with error", c.runErr, nil)
		} else {
			c.logger.Info("Consumer loop stopped", nil)
		}
		return nil
	case <-timer.C:
		c.logger.Error("Consumer loop did not stop in time", ErrStopTimeout, logging.LogFields{"grace_period": c.grace.String()})
		return ErrStopTimeout
	}
}

// IsAlive reports whether the loop goroutine is running.
func (c *Controller) IsAlive() bool {
	return c.alive.Load()
}
