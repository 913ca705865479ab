// Package realtime maintains the best-effort push subscription to the backend.
//
// Delivery is at-most-once and unordered relative to polling; consumers treat
// every envelope as a possibly stale snapshot. The channel never blocks item
// transitions: when it is down the reconciliation poller is the only
// convergence path.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"collectord/internal/logging"
	"collectord/internal/model"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// readLimit bounds a single envelope; full item snapshots can be large.
const readLimit = 4 << 20

// Handler receives every decoded envelope, in arrival order.
type Handler func(model.Envelope)

// Config holds channel settings.
type Config struct {
	URL        string
	Header     http.Header
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// Channel is a reconnecting websocket subscription.
type Channel struct {
	cfg    Config
	handle Handler
	log    zerolog.Logger

	mu        sync.Mutex
	status    model.ChannelStatus
	listeners []func(model.ChannelStatus)
	bo        *backoff.ExponentialBackOff
	// ceiling is the failure budget of the current cycle.
	ceiling   int
	cancel    context.CancelFunc
	done      chan struct{}
	conn      *websocket.Conn
}

// New creates a channel. Nothing is dialed until Connect.
func New(cfg Config, handle Handler, log zerolog.Logger) *Channel {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &Channel{
		cfg:     cfg,
		handle:  handle,
		log:     logging.WithComponent(log, "realtime"),
		status:  model.ChannelStatus{State: model.ConnClosed, ChangedAt: time.Now()},
		bo:      newBackoff(cfg),
		ceiling: cfg.MaxRetries,
	}
}

// newBackoff yields min(base * 2^n, cap) on the n-th call, without jitter.
func newBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Status returns the current connectivity indicator.
func (c *Channel) Status() model.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnState registers fn to be called on every state change.
func (c *Channel) OnState(fn func(model.ChannelStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Connect starts the connection loop. It returns immediately; calling it
// while the loop is running is a no-op.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked(ctx)
}

// Reconnect resets the retry counter and makes one immediate attempt, also
// after the channel reached Failed. If that attempt fails the channel goes
// straight back to Failed; if it opens, the full retry budget is restored.
func (c *Channel) Reconnect(ctx context.Context) {
	c.Disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.RetryCount = 0
	c.ceiling = 1
	c.bo.Reset()
	c.startLocked(ctx)
}

// Disconnect stops retries and closes any live connection. It is idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.conn = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	<-done
	c.setState(model.ConnClosed, nil)
}

func (c *Channel) startLocked(ctx context.Context) {
	if c.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, c.done)
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		c.setState(model.ConnConnecting, nil)
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}

		delay, failed := c.recordFailure(err)
		if failed {
			c.log.Error().Err(err).Int("retries", c.Status().RetryCount).Msg("giving up on push channel")
			c.setState(model.ConnFailed, err)
			c.mu.Lock()
			if c.done == done && c.cancel != nil {
				c.cancel()
				c.cancel = nil
			}
			c.mu.Unlock()
			return
		}
		c.setState(model.ConnClosed, err)
		c.log.Warn().Err(err).Dur("retry_in", delay).Msg("push channel closed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session dials once and reads until the connection ends.
func (c *Channel) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: c.cfg.Header})
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.status.RetryCount = 0
	c.ceiling = c.cfg.MaxRetries
	c.bo.Reset()
	c.mu.Unlock()
	c.setState(model.ConnOpen, nil)
	c.log.Info().Str("url", c.cfg.URL).Msg("push channel open")

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.CloseNow()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed envelope")
			continue
		}
		if c.handle != nil {
			c.handle(env)
		}
	}
}

// recordFailure increments the retry counter and returns the next delay, or
// failed once the counter reaches the ceiling.
func (c *Channel) recordFailure(err error) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.RetryCount++
	if c.status.RetryCount >= c.ceiling {
		return 0, true
	}
	return c.bo.NextBackOff(), false
}

func (c *Channel) setState(state model.ConnectionState, err error) {
	c.mu.Lock()
	if c.status.State == state && err == nil {
		c.mu.Unlock()
		return
	}
	c.status.State = state
	c.status.ChangedAt = time.Now()
	c.status.LastError = ""
	if err != nil && !errors.Is(err, context.Canceled) {
		c.status.LastError = err.Error()
	}
	st := c.status
	listeners := append([]func(model.ChannelStatus){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}
