// Package handoff moves candidates from the single-threaded pipeline into a
// bounded channel for the external consumer. It never blocks the hot path:
// candidates are batched into an internal buffer and flushed either by
// size or by timeout, then sent with a drop policy that adapts to observed
// queue wait. Modeled on a bounded broadcast Hub
// (internal/api/websocket.go): a bounded broadcast channel, a mutex-guarded
// client/buffer structure, and non-blocking sends with a deadline — here
// generalized to priority partitioning, adaptive drop, and retry.
package handoff

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rawblock/sol-sniffer/internal/events"
	"github.com/rawblock/sol-sniffer/internal/metrics"
	"github.com/rawblock/sol-sniffer/pkg/candidate"
)

// DropPolicy selects how a full downstream channel is handled.
type DropPolicy int32

const (
	DropNewest DropPolicy = iota
	DropOldest
	Block
)

// SendMode selects how a flushed batch is delivered.
type SendMode int32

const (
	Sync SendMode = iota
	Async
)

// Config carries the handoff queue's tunables.
type Config struct {
	ChannelCapacity      int
	StreamBufferCapacity int
	BatchSize            int
	BatchTimeout         time.Duration
	DropPolicy           DropPolicy
	SendMode             SendMode
	MaxRetries           int
	RetryDelay           time.Duration
	DrainTimeout         time.Duration
}

// DefaultConfig returns the baseline tunables.
func DefaultConfig() Config {
	return Config{
		ChannelCapacity:      1024,
		StreamBufferCapacity: 2048,
		BatchSize:            10,
		BatchTimeout:         10 * time.Millisecond,
		DropPolicy:           DropNewest,
		SendMode:             Sync,
		MaxRetries:           3,
		RetryDelay:           100 * time.Microsecond,
		DrainTimeout:         5 * time.Second,
	}
}

const waitReservoirSize = 1000

// Handoff is the bounded priority handoff queue feeding the downstream
// consumer.
type Handoff struct {
	out chan candidate.Candidate

	mu     sync.Mutex
	buffer []candidate.Candidate

	batchSize    int32 // atomic
	batchTimeout int64 // atomic, nanoseconds
	dropPolicy   int32 // atomic DropPolicy
	sendMode     int32 // atomic SendMode
	maxRetries   int32 // atomic
	retryDelay   int64 // atomic, nanoseconds
	drainTimeout int64 // atomic, nanoseconds

	waitMu      sync.Mutex
	waitSamples [waitReservoirSize]time.Duration
	waitAt      int
	waitLen     int

	dropsHigh atomic.Int64
	dropsLow  atomic.Int64

	metricsReg *metrics.Registry
	collector  *events.Collector

	flushSignal    chan struct{}
	timeoutChanged chan struct{}
}

// New constructs a Handoff wired to the shared metrics registry and event
// collector so every send/drop is observable.
func New(cfg Config, metricsReg *metrics.Registry, collector *events.Collector) *Handoff {
	h := &Handoff{
		out:            make(chan candidate.Candidate, cfg.ChannelCapacity),
		buffer:         make([]candidate.Candidate, 0, cfg.StreamBufferCapacity),
		metricsReg:     metricsReg,
		collector:      collector,
		flushSignal:    make(chan struct{}, 1),
		timeoutChanged: make(chan struct{}, 1),
	}
	atomic.StoreInt32(&h.batchSize, int32(cfg.BatchSize))
	atomic.StoreInt64(&h.batchTimeout, int64(cfg.BatchTimeout))
	atomic.StoreInt32(&h.dropPolicy, int32(cfg.DropPolicy))
	atomic.StoreInt32(&h.sendMode, int32(cfg.SendMode))
	atomic.StoreInt32(&h.maxRetries, int32(cfg.MaxRetries))
	atomic.StoreInt64(&h.retryDelay, int64(cfg.RetryDelay))
	atomic.StoreInt64(&h.drainTimeout, int64(cfg.DrainTimeout))
	return h
}

// Output exposes the bounded MPSC channel consumed by the external buy
// engine.
func (h *Handoff) Output() <-chan candidate.Candidate {
	return h.out
}

// SetSendMode switches Sync/Async at runtime — this is left unspecified
// between runtime and start-time-only; SPEC_FULL resolves it as runtime.
func (h *Handoff) SetSendMode(m SendMode) {
	atomic.StoreInt32(&h.sendMode, int32(m))
}

// SetDropPolicy updates the configured (non-adaptive) drop policy.
func (h *Handoff) SetDropPolicy(p DropPolicy) {
	atomic.StoreInt32(&h.dropPolicy, int32(p))
}

// SetBatchSize updates the batch flush threshold.
func (h *Handoff) SetBatchSize(n int) {
	atomic.StoreInt32(&h.batchSize, int32(n))
}

// SetBatchTimeout updates the max time before flushing a partial batch and
// wakes Run so the new interval applies to its ticker immediately rather
// than waiting out whatever period was previously configured.
func (h *Handoff) SetBatchTimeout(d time.Duration) {
	atomic.StoreInt64(&h.batchTimeout, int64(d))
	select {
	case h.timeoutChanged <- struct{}{}:
	default:
	}
}

// SetMaxRetries updates the per-item send retry budget.
func (h *Handoff) SetMaxRetries(n int) {
	atomic.StoreInt32(&h.maxRetries, int32(n))
}

// SetRetryDelay updates the fixed back-off between send retries.
func (h *Handoff) SetRetryDelay(d time.Duration) {
	atomic.StoreInt64(&h.retryDelay, int64(d))
}

// SetDrainTimeout updates the graceful-shutdown drain budget.
func (h *Handoff) SetDrainTimeout(d time.Duration) {
	atomic.StoreInt64(&h.drainTimeout, int64(d))
}

// Enqueue adds a candidate to the internal pre-batch buffer. It never
// blocks: if the buffer has reached the configured batch size, it signals
// a flush (non-blocking) rather than sending synchronously from the caller.
func (h *Handoff) Enqueue(c candidate.Candidate) {
	h.mu.Lock()
	h.buffer = append(h.buffer, c)
	full := len(h.buffer) >= int(atomic.LoadInt32(&h.batchSize))
	h.mu.Unlock()

	if full {
		select {
		case h.flushSignal <- struct{}{}:
		default:
		}
	}
}

// Run drives the batch-timeout flush loop until ctx is cancelled, then
// drains the remaining buffer within the configured drain budget.
func (h *Handoff) Run(ctx context.Context) {
	timeout := time.Duration(atomic.LoadInt64(&h.batchTimeout))
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.gracefulShutdown()
			return
		case <-h.flushSignal:
			h.flushBatch()
		case <-h.timeoutChanged:
			timeout = time.Duration(atomic.LoadInt64(&h.batchTimeout))
			ticker.Reset(timeout)
		case <-ticker.C:
			h.flushBatch()
		}
	}
}

// flushBatch drains the current buffer and dispatches it via send_batch.
func (h *Handoff) flushBatch() {
	h.mu.Lock()
	if len(h.buffer) == 0 {
		h.mu.Unlock()
		return
	}
	batch := h.buffer
	h.buffer = make([]candidate.Candidate, 0, cap(batch))
	h.mu.Unlock()

	h.sendBatch(batch)
}

// sendBatch implements the Sync/Async send modes.
func (h *Handoff) sendBatch(batch []candidate.Candidate) {
	mode := SendMode(atomic.LoadInt32(&h.sendMode))
	if mode == Async {
		var high, low []candidate.Candidate
		for _, c := range batch {
			if c.Priority == candidate.PriorityHigh {
				high = append(high, c)
			} else {
				low = append(low, c)
			}
		}
		var wg sync.WaitGroup
		for _, class := range [][]candidate.Candidate{high, low} {
			if len(class) == 0 {
				continue
			}
			wg.Add(1)
			go func(items []candidate.Candidate) {
				defer wg.Done()
				for _, c := range items {
					h.sendOne(c)
				}
			}(class)
		}
		wg.Wait()
		return
	}

	for _, c := range batch {
		h.sendOne(c)
	}
}

// effectivePolicy implements the adaptive drop-policy override
// §4.6: queue wait under 100us favors Block, over 1ms forces DropNewest,
// otherwise the configured policy applies.
func (h *Handoff) effectivePolicy() DropPolicy {
	avg := h.AverageWait()
	switch {
	case avg < 100*time.Microsecond:
		return Block
	case avg > 1000*time.Microsecond:
		return DropNewest
	default:
		return DropPolicy(atomic.LoadInt32(&h.dropPolicy))
	}
}

// sendOne attempts to deliver a single candidate, applying retry and the
// effective drop policy on a full channel.
func (h *Handoff) sendOne(c candidate.Candidate) {
	start := time.Now()
	policy := h.effectivePolicy()
	maxRetries := int(atomic.LoadInt32(&h.maxRetries))
	delay := time.Duration(atomic.LoadInt64(&h.retryDelay))

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case h.out <- c:
			h.recordWait(time.Since(start))
			if h.collector != nil {
				h.collector.Collect(events.HandoffSent, c.TraceID)
			}
			if h.metricsReg != nil {
				h.metricsReg.IncrCounter(metrics.CounterCandidatesSent, 1)
			}
			return
		default:
		}

		if policy == Block {
			// Block mode waits out the retry budget with a blocking send
			// honoring only the final attempt as truly blocking.
			if attempt == maxRetries {
				h.out <- c
				h.recordWait(time.Since(start))
				if h.collector != nil {
					h.collector.Collect(events.HandoffSent, c.TraceID)
				}
				if h.metricsReg != nil {
					h.metricsReg.IncrCounter(metrics.CounterCandidatesSent, 1)
				}
				return
			}
			time.Sleep(delay)
			continue
		}

		if attempt < maxRetries {
			time.Sleep(delay)
			continue
		}
		break
	}

	h.recordWait(time.Since(start))
	h.applyDrop(c, policy)
}

// applyDrop executes DropNewest/DropOldest on a send that exhausted its
// retries, counting the drop by priority and emitting a HandoffDropped
// event.
func (h *Handoff) applyDrop(c candidate.Candidate, policy DropPolicy) {
	if policy == DropOldest {
		select {
		case oldest := <-h.out:
			if h.collector != nil {
				h.collector.Collect(events.HandoffDropped, oldest.TraceID)
			}
			h.countDrop(oldest.Priority)
			select {
			case h.out <- c:
				if h.collector != nil {
					h.collector.Collect(events.HandoffSent, c.TraceID)
				}
				if h.metricsReg != nil {
					h.metricsReg.IncrCounter(metrics.CounterCandidatesSent, 1)
				}
				return
			default:
			}
		default:
		}
	}

	// DropNewest (or DropOldest that still couldn't make room): the new
	// item itself is dropped.
	if h.collector != nil {
		h.collector.Collect(events.HandoffDropped, c.TraceID)
	}
	h.countDrop(c.Priority)
}

func (h *Handoff) countDrop(p candidate.Priority) {
	if p == candidate.PriorityHigh {
		h.dropsHigh.Add(1)
	} else {
		h.dropsLow.Add(1)
	}
	if h.metricsReg != nil {
		h.metricsReg.IncrCounter(metrics.CounterDroppedFullBuffer, 1)
		h.metricsReg.IncrCounter(metrics.CounterBackpressureEvents, 1)
	}
}

// recordWait pushes a send-attempt wait duration into the 1,000-sample
// diagnostics ring and the shared histogram.
func (h *Handoff) recordWait(d time.Duration) {
	h.waitMu.Lock()
	h.waitSamples[h.waitAt] = d
	h.waitAt = (h.waitAt + 1) % waitReservoirSize
	if h.waitLen < waitReservoirSize {
		h.waitLen++
	}
	h.waitMu.Unlock()

	if h.metricsReg != nil {
		h.metricsReg.ObserveHistogram(d)
	}
}

// AverageWait computes the mean observed queue wait over the current
// diagnostics ring. Returns 0 if no sends have been attempted yet.
func (h *Handoff) AverageWait() time.Duration {
	h.waitMu.Lock()
	defer h.waitMu.Unlock()
	if h.waitLen == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < h.waitLen; i++ {
		total += h.waitSamples[i]
	}
	return total / time.Duration(h.waitLen)
}

// DropCounts reports drops observed so far, split by priority.
func (h *Handoff) DropCounts() (high, low int64) {
	return h.dropsHigh.Load(), h.dropsLow.Load()
}

// gracefulShutdown drains the remaining in-memory batch within the
// configured drain budget; anything still unsent when the budget expires
// is counted as dropped.
func (h *Handoff) gracefulShutdown() {
	budget := time.Duration(atomic.LoadInt64(&h.drainTimeout))
	deadline := time.Now().Add(budget)

	h.mu.Lock()
	remaining := h.buffer
	h.buffer = nil
	h.mu.Unlock()

	for _, c := range remaining {
		if time.Now().After(deadline) {
			h.applyDrop(c, DropNewest)
			continue
		}
		select {
		case h.out <- c:
			if h.collector != nil {
				h.collector.Collect(events.HandoffSent, c.TraceID)
			}
			if h.metricsReg != nil {
				h.metricsReg.IncrCounter(metrics.CounterCandidatesSent, 1)
			}
		default:
			h.applyDrop(c, DropNewest)
		}
	}
	log.Printf("[Handoff] graceful shutdown drained %d buffered candidates", len(remaining))
}
