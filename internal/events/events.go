// Package events is a wait-free circular buffer of pipeline events, tagged
// by trace id, used to reconstruct the per-transaction event sequence for
// diagnostics and tests. Modeled on the lock-free ring buffer idiom (atomic
// fetch-add on the write index, fixed-size backing array) rather than a
// pointer-chasing queue, since PipelineEvent is small and fixed-size.
package events

import (
	"sync/atomic"
	"time"
)

// Kind is the tagged-variant discriminator for a PipelineEvent.
type Kind uint8

const (
	BytesReceived Kind = iota
	PrefilterPassed
	PrefilterRejected
	CandidateExtracted
	ExtractionFailed
	SecurityPassed
	SecurityRejected
	HandoffSent
	HandoffDropped
)

func (k Kind) String() string {
	switch k {
	case BytesReceived:
		return "BytesReceived"
	case PrefilterPassed:
		return "PrefilterPassed"
	case PrefilterRejected:
		return "PrefilterRejected"
	case CandidateExtracted:
		return "CandidateExtracted"
	case ExtractionFailed:
		return "ExtractionFailed"
	case SecurityPassed:
		return "SecurityPassed"
	case SecurityRejected:
		return "SecurityRejected"
	case HandoffSent:
		return "HandoffSent"
	case HandoffDropped:
		return "HandoffDropped"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether this kind ends a trace's event sequence.
func (k Kind) IsTerminal() bool {
	switch k {
	case HandoffSent, HandoffDropped, PrefilterRejected, ExtractionFailed, SecurityRejected:
		return true
	default:
		return false
	}
}

// PipelineEvent is one tagged observation in a candidate's lifecycle.
type PipelineEvent struct {
	Kind      Kind
	TraceID   uint64
	Timestamp time.Time
}

// ringSize is the fixed capacity of the collector; overflow silently
// overwrites the oldest entry.
const ringSize = 10000

// Collector is a bounded ring of PipelineEvent with an atomic write cursor.
// Collect is O(1) and never blocks; Recent takes a snapshot copy.
type Collector struct {
	buf   [ringSize]PipelineEvent
	index int64 // ever-increasing write cursor, slot = index % ringSize
	sink  func(PipelineEvent) // optional fan-out, e.g. the websocket hub
}

// NewCollector returns an empty event collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetSink installs fn as an additional destination for every event
// Collect records, e.g. api.Hub.BroadcastEvent for live dashboard streaming.
// fn must not block: it is invoked inline from Collect. Intended to be
// called once during startup wiring before the pipeline goroutine starts;
// not safe to change concurrently with Collect calls.
func (c *Collector) SetSink(fn func(PipelineEvent)) {
	c.sink = fn
}

// Collect appends an event, overwriting the oldest slot on overflow.
func (c *Collector) Collect(kind Kind, traceID uint64) {
	slot := atomic.AddInt64(&c.index, 1) - 1
	e := PipelineEvent{Kind: kind, TraceID: traceID, Timestamp: time.Now()}
	c.buf[slot%ringSize] = e
	if c.sink != nil {
		c.sink(e)
	}
}

// Recent returns a snapshot copy of the most recent n events, oldest first.
// n is clamped to the number of events actually collected so far.
func (c *Collector) Recent(n int) []PipelineEvent {
	total := atomic.LoadInt64(&c.index)
	avail := total
	if avail > ringSize {
		avail = ringSize
	}
	if int64(n) > avail {
		n = int(avail)
	}
	if n <= 0 {
		return nil
	}

	out := make([]PipelineEvent, n)
	start := total - int64(n)
	for i := 0; i < n; i++ {
		out[i] = c.buf[(start+int64(i))%ringSize]
	}
	return out
}

// ForTrace filters Recent(ringSize) down to a single trace id's events, in
// emission order. Intended for tests and debugging, not the hot path.
func (c *Collector) ForTrace(traceID uint64) []PipelineEvent {
	all := c.Recent(ringSize)
	out := make([]PipelineEvent, 0, 8)
	for _, e := range all {
		if e.TraceID == traceID {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of events currently retained (capped at ringSize).
func (c *Collector) Len() int {
	total := atomic.LoadInt64(&c.index)
	if total > ringSize {
		return ringSize
	}
	return int(total)
}
