// Package analytics is the predictive EMA / threshold-adaptation engine.
// The hot-path update is two relaxed atomic operations and never locks or
// allocates; the EMA and threshold updaters run on their own cooperative
// tickers, one for each update cadence, running independently
// (internal/mempool/poller.go: a 3s drain ticker plus an independent 1h
// cleanup ticker running off the same select loop).
package analytics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rawblock/sol-sniffer/pkg/candidate"
)

// Config carries the tunables: alpha coefficients, update
// cadences and the initial classifier cutoff.
type Config struct {
	AlphaShort            float64
	AlphaLong             float64
	EMAUpdateInterval     time.Duration
	ThresholdUpdateRate   float64
	ThresholdInterval     time.Duration
	InitialThreshold      float64
}

// DefaultConfig returns the baseline tunables.
func DefaultConfig() Config {
	return Config{
		AlphaShort:          0.2,
		AlphaLong:           0.05,
		EMAUpdateInterval:   200 * time.Millisecond,
		ThresholdUpdateRate: 0.2,
		ThresholdInterval:   1 * time.Second,
		InitialThreshold:    1.0,
	}
}

// EmaState holds the three atomic floating-point cells plus the sample
// count and adaptive threshold.
type EmaState struct {
	volumeAccumulator AtomicFloat64
	shortEMA          AtomicFloat64
	longEMA           AtomicFloat64
	sampleCount       int64 // atomic
	threshold         AtomicFloat64

	// thresholdUpdateRate is reloadable at runtime (config table's
	// threshold_update_rate), unlike AlphaShort/AlphaLong which the data
	// model documents as immutable configuration.
	thresholdUpdateRate AtomicFloat64

	cfg Config
}

// NewEmaState builds an EmaState seeded with the configured initial
// threshold and zeroed accumulators.
func NewEmaState(cfg Config) *EmaState {
	e := &EmaState{cfg: cfg}
	e.threshold.Store(cfg.InitialThreshold)
	e.thresholdUpdateRate.Store(cfg.ThresholdUpdateRate)
	return e
}

// Observe is the hot-path update, called once per passing transaction: a
// relaxed float fetch-add into the volume accumulator and a relaxed int
// fetch-add into the sample count. No locks, no allocation.
func (e *EmaState) Observe(volume float64) {
	e.volumeAccumulator.Add(volume)
	atomic.AddInt64(&e.sampleCount, 1)
}

// UpdateEMA implements the background updater: swap
// accumulator/count to zero, compute the mean, and blend it into both EMAs.
// Returns false if no samples were observed since the last call (nothing
// to do).
func (e *EmaState) UpdateEMA() bool {
	accumulated := e.volumeAccumulator.Swap(0)
	count := atomic.SwapInt64(&e.sampleCount, 0)
	if count == 0 {
		return false
	}
	avg := accumulated / float64(count)

	short := e.shortEMA.Load()
	long := e.longEMA.Load()
	newShort := e.cfg.AlphaShort*avg + (1-e.cfg.AlphaShort)*short
	newLong := e.cfg.AlphaLong*avg + (1-e.cfg.AlphaLong)*long
	e.shortEMA.Store(newShort)
	e.longEMA.Store(newLong)
	return true
}

// UpdateThreshold implements the adaptive threshold updater:
// new = (1-r)*threshold + r*(1 + 0.1*accelerationRatio).
func (e *EmaState) UpdateThreshold() {
	ratio := e.AccelerationRatio()
	r := e.thresholdUpdateRate.Load()
	current := e.threshold.Load()
	next := (1-r)*current + r*(1+0.1*ratio)
	e.threshold.Store(next)
}

// SetThresholdUpdateRate updates the adaptation rate read by the next
// UpdateThreshold call; driven by the config-reload path.
func (e *EmaState) SetThresholdUpdateRate(r float64) {
	e.thresholdUpdateRate.Store(r)
}

// AccelerationRatio loads both EMAs and returns short/long, or 1.0 if long
// is non-positive. This is a best-effort snapshot — short and long are not
// read atomically together to preserve a consistent ordering.
func (e *EmaState) AccelerationRatio() float64 {
	long := e.longEMA.Load()
	if long <= 0 {
		return 1.0
	}
	return e.shortEMA.Load() / long
}

// Priority returns High iff the acceleration ratio exceeds the current
// threshold.
func (e *EmaState) Priority() candidate.Priority {
	if e.AccelerationRatio() > e.threshold.Load() {
		return candidate.PriorityHigh
	}
	return candidate.PriorityLow
}

// Threshold exposes the current adaptive cutoff, mainly for diagnostics.
func (e *EmaState) Threshold() float64 {
	return e.threshold.Load()
}

// PriceHint derives the price_hint attached to a Candidate: the short EMA
// itself, which tracks recent per-transaction volume.
func (e *EmaState) PriceHint() float64 {
	return e.shortEMA.Load()
}

// RunBackgroundUpdaters launches the EMA updater and threshold updater on
// their own tickers, returning when ctx is cancelled. Intended to be run as
// a supervised worker.
func (e *EmaState) RunBackgroundUpdaters(ctx context.Context) {
	emaTicker := time.NewTicker(e.cfg.EMAUpdateInterval)
	defer emaTicker.Stop()
	thresholdTicker := time.NewTicker(e.cfg.ThresholdInterval)
	defer thresholdTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-emaTicker.C:
			e.UpdateEMA()
		case <-thresholdTicker.C:
			e.UpdateThreshold()
		}
	}
}
