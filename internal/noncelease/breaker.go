// Circuit breaker per RPC endpoint plus a global system-wide breaker, per
// Per-endpoint and global circuit breakers. State is maintained with atomic integers so the hot
// try_acquire path never takes a mutex.
package noncelease

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is one node of the Closed/Open/HalfOpen FSM.
type BreakerState int32

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// BreakerConfig carries the breaker's thresholds.
type BreakerConfig struct {
	FailureThreshold  int32
	OpenDuration      time.Duration
	SuccessThreshold  int32
}

// DefaultBreakerConfig uses sensible defaults: 3 consecutive failures to
// open, 30s before half-open, 2 consecutive successes to close.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, OpenDuration: 30 * time.Second, SuccessThreshold: 2}
}

// EndpointBreaker guards a single RPC endpoint.
type EndpointBreaker struct {
	cfg BreakerConfig

	state           int32 // atomic BreakerState
	consecutiveFail int32 // atomic
	consecutiveOK   int32 // atomic
	openedAt        int64 // atomic, UnixNano
}

// NewEndpointBreaker constructs a breaker starting Closed.
func NewEndpointBreaker(cfg BreakerConfig) *EndpointBreaker {
	return &EndpointBreaker{cfg: cfg}
}

// State reports the current breaker state, transitioning Open->HalfOpen
// lazily once OpenDuration has elapsed (read-path transition, still
// lock-free).
func (b *EndpointBreaker) State() BreakerState {
	st := BreakerState(atomic.LoadInt32(&b.state))
	if st == Open {
		openedAt := atomic.LoadInt64(&b.openedAt)
		if time.Since(time.Unix(0, openedAt)) >= b.cfg.OpenDuration {
			if atomic.CompareAndSwapInt32(&b.state, int32(Open), int32(HalfOpen)) {
				atomic.StoreInt32(&b.consecutiveOK, 0)
			}
			return HalfOpen
		}
	}
	return st
}

// Allow reports whether a call through this breaker should proceed.
func (b *EndpointBreaker) Allow() bool {
	return b.State() != Open
}

// RecordSuccess transitions HalfOpen->Closed after SuccessThreshold
// consecutive successes; resets failure streaks.
func (b *EndpointBreaker) RecordSuccess() {
	atomic.StoreInt32(&b.consecutiveFail, 0)
	if b.State() == HalfOpen {
		ok := atomic.AddInt32(&b.consecutiveOK, 1)
		if ok >= b.cfg.SuccessThreshold {
			atomic.StoreInt32(&b.state, int32(Closed))
		}
	}
}

// RecordFailure increments the consecutive-failure streak, opening the
// breaker once FailureThreshold is reached (or immediately re-opening a
// HalfOpen breaker on any failure).
func (b *EndpointBreaker) RecordFailure() {
	if b.State() == HalfOpen {
		atomic.StoreInt32(&b.state, int32(Open))
		atomic.StoreInt64(&b.openedAt, time.Now().UnixNano())
		return
	}
	fails := atomic.AddInt32(&b.consecutiveFail, 1)
	if fails >= b.cfg.FailureThreshold {
		if atomic.CompareAndSwapInt32(&b.state, int32(Closed), int32(Open)) {
			atomic.StoreInt64(&b.openedAt, time.Now().UnixNano())
		}
	}
}

// GlobalBreaker aggregates per-endpoint breakers: it opens system-wide if
// more than half of the registered endpoint breakers are open, or if the
// average observed RPC latency exceeds the configured threshold.
type GlobalBreaker struct {
	mu               sync.RWMutex
	endpoints        map[string]*EndpointBreaker
	cfg              BreakerConfig
	maxAvgLatency    time.Duration
	latencySamples   []time.Duration
	latencyIdx       int
}

// NewGlobalBreaker constructs the aggregate breaker over per-endpoint
// breakers created on demand.
func NewGlobalBreaker(cfg BreakerConfig, maxAvgLatency time.Duration) *GlobalBreaker {
	return &GlobalBreaker{
		endpoints:      make(map[string]*EndpointBreaker),
		cfg:            cfg,
		maxAvgLatency:  maxAvgLatency,
		latencySamples: make([]time.Duration, 0, 128),
	}
}

// Endpoint returns (creating if necessary) the breaker for a named RPC
// endpoint.
func (g *GlobalBreaker) Endpoint(name string) *EndpointBreaker {
	g.mu.RLock()
	b, ok := g.endpoints[name]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.endpoints[name]; ok {
		return b
	}
	b = NewEndpointBreaker(g.cfg)
	g.endpoints[name] = b
	return b
}

// RecordLatency feeds an observed RPC latency into the rolling average used
// by the global open condition.
func (g *GlobalBreaker) RecordLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.latencySamples) < 128 {
		g.latencySamples = append(g.latencySamples, d)
	} else {
		g.latencySamples[g.latencyIdx] = d
		g.latencyIdx = (g.latencyIdx + 1) % 128
	}
}

func (g *GlobalBreaker) averageLatency() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.latencySamples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range g.latencySamples {
		total += d
	}
	return total / time.Duration(len(g.latencySamples))
}

// Open reports whether the global breaker condition holds: more than 50%
// of endpoint breakers open, or average latency above threshold.
func (g *GlobalBreaker) Open() bool {
	g.mu.RLock()
	total := len(g.endpoints)
	openCount := 0
	for _, b := range g.endpoints {
		if b.State() == Open {
			openCount++
		}
	}
	g.mu.RUnlock()

	if total > 0 && float64(openCount)/float64(total) > 0.5 {
		return true
	}
	if g.maxAvgLatency > 0 && g.averageLatency() > g.maxAvgLatency {
		return true
	}
	return false
}
