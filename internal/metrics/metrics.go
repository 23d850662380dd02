// Package metrics is the sniffer's atomic counter/gauge/histogram registry.
// Every operation here is either a relaxed atomic or a short-lived lock over
// a bounded reservoir — nothing in this package may block the hot path.
package metrics

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HistogramBuckets are the fixed latency buckets used for the handoff queue
// wait histogram: <10us, <100us, <1ms, >=1ms.
var HistogramBuckets = [4]time.Duration{
	10 * time.Microsecond,
	100 * time.Microsecond,
	1 * time.Millisecond,
	0, // catch-all, must stay last
}

// reservoirSize bounds the latency sample ring used for percentile estimates.
const reservoirSize = 1024

// Registry holds every counter the pipeline reports plus a bounded
// latency reservoir and a 4-bucket histogram.
type Registry struct {
	txSeen             int64
	txFiltered         int64
	candidatesSent     int64
	droppedFullBuffer  int64
	securityDropCount  int64
	backpressureEvents int64
	reconnectCount     int64
	mintExtractErrors  int64
	accountExtractErr  int64
	streamBufferDepth  int64

	mu        sync.Mutex
	samples   [reservoirSize]float64 // latency in microseconds
	sampleLen int
	sampleAt  int

	buckets [4]int64
}

// NewRegistry constructs an empty, zeroed metrics registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Counter names recognized by IncrCounter/Snapshot.
const (
	CounterTxSeen             = "tx_seen"
	CounterTxFiltered         = "tx_filtered"
	CounterCandidatesSent     = "candidates_sent"
	CounterDroppedFullBuffer  = "dropped_full_buffer"
	CounterSecurityDropCount  = "security_drop_count"
	CounterBackpressureEvents = "backpressure_events"
	CounterReconnectCount     = "reconnect_count"
	CounterMintExtractErrors  = "mint_extract_errors"
	CounterAccountExtractErr  = "account_extract_errors"
)

// IncrCounter increments the named counter by delta using a relaxed atomic
// add. Unknown names are silently ignored — callers use the exported
// constants so this can never happen in practice.
func (r *Registry) IncrCounter(name string, delta int64) {
	switch name {
	case CounterTxSeen:
		atomic.AddInt64(&r.txSeen, delta)
	case CounterTxFiltered:
		atomic.AddInt64(&r.txFiltered, delta)
	case CounterCandidatesSent:
		atomic.AddInt64(&r.candidatesSent, delta)
	case CounterDroppedFullBuffer:
		atomic.AddInt64(&r.droppedFullBuffer, delta)
	case CounterSecurityDropCount:
		atomic.AddInt64(&r.securityDropCount, delta)
	case CounterBackpressureEvents:
		atomic.AddInt64(&r.backpressureEvents, delta)
	case CounterReconnectCount:
		atomic.AddInt64(&r.reconnectCount, delta)
	case CounterMintExtractErrors:
		atomic.AddInt64(&r.mintExtractErrors, delta)
	case CounterAccountExtractErr:
		atomic.AddInt64(&r.accountExtractErr, delta)
	}
}

// SetGauge updates the stream_buffer_depth gauge. Its only caller is
// streamcore, which sets it to the sink's queued length when it drops a
// blob because the sink is full; drain cycles do not update it.
func (r *Registry) SetGauge(depth int64) {
	atomic.StoreInt64(&r.streamBufferDepth, depth)
}

// ObserveHistogram buckets a handoff queue wait duration into the 4-bucket
// histogram with an atomic increment; unlike the percentile reservoir it
// takes no lock.
func (r *Registry) ObserveHistogram(d time.Duration) {
	idx := len(HistogramBuckets) - 1
	for i, b := range HistogramBuckets {
		if b == 0 {
			idx = i
			break
		}
		if d < b {
			idx = i
			break
		}
	}
	atomic.AddInt64(&r.buckets[idx], 1)
}

// RecordSample pushes a latency observation (in microseconds) into the
// bounded reservoir, overwriting the oldest sample once full.
func (r *Registry) RecordSample(microseconds float64) {
	r.mu.Lock()
	r.samples[r.sampleAt] = microseconds
	r.sampleAt = (r.sampleAt + 1) % reservoirSize
	if r.sampleLen < reservoirSize {
		r.sampleLen++
	}
	r.mu.Unlock()
}

// Percentile computes the p-th percentile (0-100) over the current
// reservoir snapshot. Returns 0 if no samples have been recorded.
func (r *Registry) Percentile(p float64) float64 {
	r.mu.Lock()
	if r.sampleLen == 0 {
		r.mu.Unlock()
		return 0
	}
	snap := make([]float64, r.sampleLen)
	copy(snap, r.samples[:r.sampleLen])
	r.mu.Unlock()

	sort.Float64s(snap)
	idx := int(p / 100 * float64(len(snap)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(snap) {
		idx = len(snap) - 1
	}
	return snap[idx]
}

// Snapshot is the JSON-serializable view of every counter and gauge.
type Snapshot struct {
	TxSeen             int64           `json:"tx_seen"`
	TxFiltered         int64           `json:"tx_filtered"`
	CandidatesSent     int64           `json:"candidates_sent"`
	DroppedFullBuffer  int64           `json:"dropped_full_buffer"`
	SecurityDropCount  int64           `json:"security_drop_count"`
	BackpressureEvents int64           `json:"backpressure_events"`
	ReconnectCount     int64           `json:"reconnect_count"`
	MintExtractErrors  int64           `json:"mint_extract_errors"`
	AccountExtractErr  int64           `json:"account_extract_errors"`
	StreamBufferDepth  int64           `json:"stream_buffer_depth"`
	P50LatencyUs       float64         `json:"p50_latency_us"`
	P99LatencyUs       float64         `json:"p99_latency_us"`
	HandoffHistogram   map[string]int64 `json:"handoff_wait_histogram"`
}

var histogramLabels = [4]string{"lt_10us", "lt_100us", "lt_1ms", "ge_1ms"}

// Snapshot enumerates all counters, gauges and derived percentiles as a
// single JSON-ready struct. Calling it twice with no intervening activity
// produces byte-identical output.
func (r *Registry) Snapshot() Snapshot {
	hist := make(map[string]int64, 4)
	for i, label := range histogramLabels {
		hist[label] = atomic.LoadInt64(&r.buckets[i])
	}
	return Snapshot{
		TxSeen:             atomic.LoadInt64(&r.txSeen),
		TxFiltered:         atomic.LoadInt64(&r.txFiltered),
		CandidatesSent:     atomic.LoadInt64(&r.candidatesSent),
		DroppedFullBuffer:  atomic.LoadInt64(&r.droppedFullBuffer),
		SecurityDropCount:  atomic.LoadInt64(&r.securityDropCount),
		BackpressureEvents: atomic.LoadInt64(&r.backpressureEvents),
		ReconnectCount:     atomic.LoadInt64(&r.reconnectCount),
		MintExtractErrors:  atomic.LoadInt64(&r.mintExtractErrors),
		AccountExtractErr:  atomic.LoadInt64(&r.accountExtractErr),
		StreamBufferDepth:  atomic.LoadInt64(&r.streamBufferDepth),
		P50LatencyUs:       r.Percentile(50),
		P99LatencyUs:       r.Percentile(99),
		HandoffHistogram:   hist,
	}
}

// SnapshotJSON marshals Snapshot() to JSON using the stdlib encoder.
func (r *Registry) SnapshotJSON() ([]byte, error) {
	return json.Marshal(r.Snapshot())
}
