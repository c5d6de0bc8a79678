package convdispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultHealthTimeout = 10 * time.Second
	defaultCloseTimeout  = 10 * time.Second
)

// Controller owns the store and backend handles for the lifetime of a Dispatcher.
// It refuses to start the loop unless both dependencies answer a health probe,
// and closes both once the loop has stopped.
type Controller struct {
	store         EventStore
	backend       Backend
	dispatcher    *Dispatcher
	logger        Logger
	healthTimeout time.Duration
	closeTimeout  time.Duration
	hooks         []shutdownHook

	closeOnce sync.Once
}

type shutdownHook struct {
	name string
	fn   func(ctx context.Context) error
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithHealthTimeout bounds the startup health probes.
func WithHealthTimeout(timeout time.Duration) ControllerOption {
	return func(c *Controller) {
		c.healthTimeout = timeout
	}
}

// WithCloseTimeout bounds how long Close waits for connections to drain.
func WithCloseTimeout(timeout time.Duration) ControllerOption {
	return func(c *Controller) {
		c.closeTimeout = timeout
	}
}

// WithShutdownHook registers fn to run during Close, next to closing the store and backend.
// fn receives a context bounded by the close timeout.
func WithShutdownHook(name string, fn func(ctx context.Context) error) ControllerOption {
	return func(c *Controller) {
		c.hooks = append(c.hooks, shutdownHook{name: name, fn: fn})
	}
}

// NewController wires the dispatcher to the dependencies it owns.
func NewController(store EventStore, backend Backend, dispatcher *Dispatcher, opts ...ControllerOption) (*Controller, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if backend == nil {
		return nil, ErrBackendRequired
	}
	if dispatcher == nil {
		return nil, errors.New("convdispatch: dispatcher is required")
	}

	c := &Controller{
		store:         store,
		backend:       backend,
		dispatcher:    dispatcher,
		logger:        NopLogger{},
		healthTimeout: defaultHealthTimeout,
		closeTimeout:  defaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = NopLogger{}
	}

	return c, nil
}

// CheckHealth probes the store and the backend concurrently.
// The returned error wraps ErrDependencyUnavailable and names every failed dependency.
func (c *Controller) CheckHealth(ctx context.Context) error {
	if c.healthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.healthTimeout)
		defer cancel()
	}

	var storeErr, backendErr error
	var g errgroup.Group
	g.Go(func() error {
		storeErr = c.store.HealthCheck(ctx)
		return nil
	})
	g.Go(func() error {
		backendErr = c.backend.Ping(ctx)
		return nil
	})
	_ = g.Wait()

	var errs []error
	if storeErr != nil {
		errs = append(errs, fmt.Errorf("%w: event store: %w", ErrDependencyUnavailable, storeErr))
	}
	if backendErr != nil {
		errs = append(errs, fmt.Errorf("%w: queue backend: %w", ErrDependencyUnavailable, backendErr))
	}

	return errors.Join(errs...)
}

// Run verifies both dependencies and then runs the dispatcher until ctx is
// canceled or Stop is called. A failed health check is returned without
// starting the loop; callers are expected to exit. Connections are closed
// before Run returns in both cases.
func (c *Controller) Run(ctx context.Context) error {
	defer c.Close()

	if err := c.CheckHealth(ctx); err != nil {
		c.logger.Error("health check failed", "err", err)

		return err
	}
	c.logger.Info("dependencies healthy")

	return c.dispatcher.Run(ctx)
}

// Stop asks the dispatcher not to schedule another cycle.
func (c *Controller) Stop() {
	c.dispatcher.Stop()
}

// Close closes the store and backend and runs shutdown hooks concurrently.
// Failures are logged, and Close gives up waiting after the close timeout so
// shutdown cannot hang.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		ctx := context.Background()
		if c.closeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.closeTimeout)
			defer cancel()
		}

		done := make(chan struct{})
		go func() {
			defer close(done)

			var g errgroup.Group
			for _, hook := range c.hooks {
				g.Go(func() error {
					if err := hook.fn(ctx); err != nil {
						c.logger.Error("shutdown hook failed", "hook", hook.name, "err", err)
					}
					return nil
				})
			}
			g.Go(func() error {
				if err := c.store.Close(); err != nil {
					c.logger.Error("close event store failed", "err", err)
				}
				return nil
			})
			g.Go(func() error {
				if err := c.backend.Close(); err != nil {
					c.logger.Error("close queue backend failed", "err", err)
				}
				return nil
			})
			_ = g.Wait()
		}()

		if c.closeTimeout <= 0 {
			<-done

			return
		}

		timer := time.NewTimer(c.closeTimeout)
		defer timer.Stop()
		select {
		case <-done:
			c.logger.Info("connections closed")
		case <-timer.C:
			c.logger.Warn("closing connections timed out", "timeout", c.closeTimeout)
		}
	})
}
