package queue

import (
	"context"
	"sync"
	"time"

	errs "github.com/sundialhq/sundial/internal/errors"
	"github.com/sundialhq/sundial/internal/logger"
)

// ClientState describes the facade's connection lifecycle
type ClientState string

const (
	// StateDisconnected means no connection exists and none is in flight
	StateDisconnected ClientState = "disconnected"
	// StateConnecting means startup is in progress; callers wait on it
	StateConnecting ClientState = "connecting"
	// StateReady means the queue is connected and healthy
	StateReady ClientState = "ready"
	// StateDegraded means the watchdog detected a lost connection and is
	// attempting recovery
	StateDegraded ClientState = "degraded"
)

// ClientOptions configures the queue facade
type ClientOptions struct {
	// RedisURL is the connection string. Empty is a configuration error.
	RedisURL string
	// WatchdogInterval is how often the health probe runs (0 disables it)
	WatchdogInterval time.Duration
	// WatchdogMaxRestarts caps recovery attempts before the watchdog
	// gives up and leaves the client degraded
	WatchdogMaxRestarts int
	// DrainTimeout bounds how long Release waits before closing
	DrainTimeout time.Duration
	// OnRecover runs after every successful watchdog reconnect. It must
	// tolerate being called more than once.
	OnRecover func(*RedisQueue)
}

// Client is the lifecycle facade over the Redis queue. Concurrent
// Acquire calls share a single in-flight startup instead of racing to
// open their own connections; a failed startup is cached and returned to
// every subsequent caller rather than retried implicitly.
type Client struct {
	opts ClientOptions
	log  logger.Logger

	// open is swappable for tests
	open func(redisURL string) (*RedisQueue, error)

	mu       sync.Mutex
	state    ClientState
	queue    *RedisQueue
	initErr  error
	inflight chan struct{}

	watchdogStop chan struct{}
	watchdogDone chan struct{}
	restarts     int
}

// NewClient creates the facade without connecting. The first Acquire
// triggers startup.
func NewClient(opts ClientOptions) *Client {
	return &Client{
		opts:  opts,
		log:   logger.Default().WithComponent(logger.ComponentQueue),
		open:  NewRedisQueue,
		state: StateDisconnected,
	}
}

// State returns the facade's current lifecycle state
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Acquire returns the connected queue, starting it if necessary. When a
// startup is already in flight the caller blocks on that attempt instead
// of launching another. A previous startup failure is returned as-is
// until Reset is called; retrying is an explicit decision, not a side
// effect of asking again.
func (c *Client) Acquire(ctx context.Context) (*RedisQueue, error) {
	if c.opts.RedisURL == "" {
		return nil, errs.NewConfigError("REDIS_URL", "must not be empty")
	}

	c.mu.Lock()

	if c.queue != nil {
		q := c.queue
		c.mu.Unlock()
		return q, nil
	}

	if c.initErr != nil {
		err := c.initErr
		c.mu.Unlock()
		return nil, err
	}

	if c.inflight != nil {
		// Someone else is connecting; wait for their outcome
		wait := c.inflight
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.queue != nil {
			return c.queue, nil
		}
		return nil, c.initErr
	}

	done := make(chan struct{})
	c.inflight = done
	c.state = StateConnecting
	c.mu.Unlock()

	queue, err := c.open(c.opts.RedisURL)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = nil
	close(done)

	if err != nil {
		c.state = StateDisconnected
		c.initErr = errs.NewStartupError(1, err)
		c.log.Error("Queue startup failed", "error", err)
		return nil, c.initErr
	}

	c.queue = queue
	c.state = StateReady
	c.log.Info("Queue client connected")
	c.startWatchdogLocked()
	return queue, nil
}

// Reset clears a cached startup failure so the next Acquire attempts a
// fresh connection. No-op while connected.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == nil {
		c.initErr = nil
		c.state = StateDisconnected
	}
}

// startWatchdogLocked launches the health probe goroutine. Caller holds
// the mutex.
func (c *Client) startWatchdogLocked() {
	if c.opts.WatchdogInterval <= 0 || c.watchdogStop != nil {
		return
	}

	c.watchdogStop = make(chan struct{})
	c.watchdogDone = make(chan struct{})
	go c.watchdog(c.watchdogStop, c.watchdogDone)
}

func (c *Client) watchdog(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.probe()
		}
	}
}

// probe pings the connection and drives recovery on failure
func (c *Client) probe() {
	c.mu.Lock()
	queue := c.queue
	c.mu.Unlock()

	if queue == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := queue.Ping(ctx)
	cancel()

	if err == nil {
		c.mu.Lock()
		if c.state == StateDegraded {
			c.state = StateReady
			c.log.Info("Queue connection recovered without restart")
		}
		c.restarts = 0
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.state = StateDegraded
	c.restarts++
	attempt := c.restarts
	maxRestarts := c.opts.WatchdogMaxRestarts
	c.mu.Unlock()

	if maxRestarts > 0 && attempt > maxRestarts {
		c.log.Error("Watchdog restart budget exhausted, staying degraded",
			"restarts", attempt-1, "error", err)
		return
	}

	c.log.Warn("Queue connection unhealthy, reconnecting",
		"attempt", attempt, "error", err)

	fresh, openErr := c.open(c.opts.RedisURL)
	if openErr != nil {
		c.log.Error("Watchdog reconnect failed", "attempt", attempt, "error", openErr)
		return
	}

	c.mu.Lock()
	old := c.queue
	c.queue = fresh
	c.state = StateReady
	c.restarts = 0
	onRecover := c.opts.OnRecover
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	c.log.Info("Queue connection restored", "attempt", attempt)

	if onRecover != nil {
		onRecover(fresh)
	}
}

// Release stops the watchdog and closes the connection. The drain
// timeout bounds how long we wait for the watchdog goroutine; a probe
// stuck on a dead connection must not block shutdown.
func (c *Client) Release() error {
	c.mu.Lock()
	stop := c.watchdogStop
	done := c.watchdogDone
	c.watchdogStop = nil
	c.watchdogDone = nil
	queue := c.queue
	c.queue = nil
	c.initErr = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if stop != nil {
		close(stop)

		drain := c.opts.DrainTimeout
		if drain <= 0 {
			drain = 30 * time.Second
		}
		select {
		case <-done:
		case <-time.After(drain):
			c.log.Warn("Watchdog did not stop within drain timeout")
		}
	}

	if queue != nil {
		return queue.Close()
	}
	return nil
}
