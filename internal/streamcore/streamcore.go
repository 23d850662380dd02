// Package streamcore establishes and maintains the upstream validator
// transaction subscription, pushing raw byte blobs into the pipeline's
// internal buffer via non-blocking try-send and reconnecting with
// exponential backoff on disconnect. A blocking receive loop logs
// transient errors via log.Printf and continues past them rather than
// aborting the loop.
package streamcore

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rawblock/sol-sniffer/internal/metrics"
)

// ErrDisconnect is returned by Subscription.Recv when the upstream
// connection drops.
var ErrDisconnect = errors.New("streamcore: upstream disconnected")

// Subscription is the external interface this component consumes (see the
// "External interfaces: upstream stream"). The actual RPC/stream-protocol
// client is out of scope; this package only depends on this small
// interface, not on any Solana-specific client library.
type Subscription interface {
	// Recv blocks until a blob arrives, the subscription errors, or ctx is
	// cancelled.
	Recv(ctx context.Context) ([]byte, error)
	// Reconnect re-establishes the subscription after a disconnect.
	Reconnect(ctx context.Context) error
	Close() error
}

// Config carries the reconnect tuning knobs.
type Config struct {
	MaxRetryAttempts int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// DefaultConfig uses sensible defaults (100ms base, doubling, 5s cap, 5
// attempts).
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts: 5,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
	}
}

// Sink is the non-blocking destination for raw bytes: the integration
// loop's internal pre-batch buffer channel.
type Sink chan<- []byte

// StreamCore runs the long-lived subscription task.
type StreamCore struct {
	sub              Subscription
	cfg              atomic.Pointer[Config] // reloadable reconnect tuning, read as an atomic snapshot
	sink             Sink
	paused           int32 // atomic bool
	reg              *metrics.Registry
	reconnectLimiter *rate.Limiter
}

// New wires a StreamCore over the given subscription and sink. The
// reconnect path is additionally paced by a token-bucket limiter (1 attempt
// per 200ms, burst 3) so a flapping upstream cannot spin the backoff loop
// tighter than the network round-trip it is waiting on. This outbound
// pacer adopts the ecosystem rate limiter rather than hand-rolling a
// second token bucket; contrast internal/api/ratelimit.go, whose inbound
// HTTP scope keeps a stdlib-only bucket by explicit design.
func New(sub Subscription, cfg Config, sink Sink, reg *metrics.Registry) *StreamCore {
	s := &StreamCore{
		sub:              sub,
		sink:             sink,
		reg:              reg,
		reconnectLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 3),
	}
	s.cfg.Store(&cfg)
	return s
}

// SetConfig installs a new reconnect-tuning snapshot, read by the next
// reconnectWithBackoff call; driven by the config-reload path (see
// internal/config.Store.Apply) so max_retry_attempts/initial_backoff_ms/
// max_backoff_ms take effect without a restart.
func (s *StreamCore) SetConfig(cfg Config) {
	s.cfg.Store(&cfg)
}

// Pause/Resume honor the supervisor's pause flag:
// while paused the connection is kept alive but incoming bytes are
// dropped rather than forwarded.
func (s *StreamCore) Pause()  { atomic.StoreInt32(&s.paused, 1) }
func (s *StreamCore) Resume() { atomic.StoreInt32(&s.paused, 0) }
func (s *StreamCore) IsPaused() bool {
	return atomic.LoadInt32(&s.paused) == 1
}

// Run is the supervised worker body: receive loop with reconnect-on-error,
// honoring ctx cancellation at every suspension point.
func (s *StreamCore) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = s.sub.Close()
			return
		default:
		}

		blob, err := s.sub.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[StreamCore] recv error: %v", err)
			if !s.reconnectWithBackoff(ctx) {
				return
			}
			continue
		}

		if s.IsPaused() {
			continue
		}

		select {
		case s.sink <- blob:
		default:
			// Internal buffer is momentarily full; the blob is dropped at
			// the edge rather than blocking the receive loop.
			if s.reg != nil {
				s.reg.SetGauge(int64(len(s.sink)))
			}
		}
	}
}

// reconnectWithBackoff retries Reconnect up to MaxRetryAttempts times with
// exponential backoff and +-25% jitter. Returns false if ctx
// was cancelled or all attempts were exhausted.
func (s *StreamCore) reconnectWithBackoff(ctx context.Context) bool {
	cfg := s.cfg.Load()
	backoff := cfg.InitialBackoff
	for attempt := 0; attempt < cfg.MaxRetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		jittered := applyJitter(backoff)
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return false
		}

		if err := s.reconnectLimiter.Wait(ctx); err != nil {
			return false
		}

		if err := s.sub.Reconnect(ctx); err != nil {
			log.Printf("[StreamCore] reconnect attempt %d failed: %v", attempt+1, err)
			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
			continue
		}

		if s.reg != nil {
			s.reg.IncrCounter(metrics.CounterReconnectCount, 1)
		}
		return true
	}
	return false
}

// applyJitter scales d by a uniformly random factor in [0.75, 1.25].
func applyJitter(d time.Duration) time.Duration {
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}
