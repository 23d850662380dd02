// Package candidate holds the shared types threaded through the whole
// ingestion pipeline: the trace id, the raw transaction bytes, and the
// extracted Candidate record handed to the downstream buy engine.
package candidate

import (
	"sync/atomic"
	"time"
)

// Priority classifies a Candidate for the handoff queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// MaxAccounts bounds the number of account keys carried by a Candidate so
// the struct stays stack-allocatable on the hot path.
const MaxAccounts = 8

// IdentitySize is the width, in bytes, of a mint or account identifier.
const IdentitySize = 32

// Identity is a 32-byte program/account/mint identifier.
type Identity [IdentitySize]byte

// IsZero reports whether id is the default-zero identifier.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

var traceSeq int64

// NextTraceID returns a process-unique, monotonically increasing trace id.
// It is safe for concurrent use and allocation-free.
func NextTraceID() uint64 {
	return uint64(atomic.AddInt64(&traceSeq, 1))
}

// RawTransactionBytes is an immutable, reference-counted view over a single
// upstream transaction blob. Its lifetime runs from upstream receipt until
// either the prefilter rejects it or the derived Candidate is enqueued.
type RawTransactionBytes struct {
	data    []byte
	refs    int32
	TraceID uint64
}

// NewRawTransactionBytes wraps data with a single outstanding reference.
// The caller must not mutate data after this call; ownership of the
// backing array transfers to the RawTransactionBytes.
func NewRawTransactionBytes(data []byte, traceID uint64) *RawTransactionBytes {
	return &RawTransactionBytes{data: data, refs: 1, TraceID: traceID}
}

// Bytes returns the zero-copy view of the underlying blob.
func (r *RawTransactionBytes) Bytes() []byte {
	return r.data
}

// Len is a convenience accessor avoiding an extra Bytes() call on the hot path.
func (r *RawTransactionBytes) Len() int {
	return len(r.data)
}

// Retain increments the reference count. Pairs with Release.
func (r *RawTransactionBytes) Retain() {
	atomic.AddInt32(&r.refs, 1)
}

// Release decrements the reference count and reports whether this call
// dropped it to zero (in which case the backing array may be reused).
func (r *RawTransactionBytes) Release() bool {
	return atomic.AddInt32(&r.refs, -1) == 0
}

// Candidate is the extracted record handed to the downstream buy engine.
// Fixed-size (about 344 bytes on 64-bit, mostly the inline account array)
// so a Candidate never escapes to the heap purely on account of account
// count.
type Candidate struct {
	Mint      Identity
	Accounts  [MaxAccounts]Identity
	NumAccts  uint8
	PriceHint float64
	TraceID   uint64
	Priority  Priority
	extracted time.Time
}

// NewCandidate builds a Candidate, validating the invariants from the data
// model: 1 <= len(accounts) <= MaxAccounts and mint is non-zero.
func NewCandidate(mint Identity, accounts []Identity, priceHint float64, traceID uint64) (Candidate, bool) {
	if mint.IsZero() || len(accounts) == 0 || len(accounts) > MaxAccounts {
		return Candidate{}, false
	}
	var c Candidate
	c.Mint = mint
	c.NumAccts = uint8(copy(c.Accounts[:], accounts))
	c.PriceHint = priceHint
	c.TraceID = traceID
	c.extracted = time.Now()
	return c, true
}

// AccountList returns the populated prefix of Accounts as a slice view.
func (c *Candidate) AccountList() []Identity {
	return c.Accounts[:c.NumAccts]
}

// ExtractedAt reports when the candidate was built. Handoff diagnostics do
// not use it; they time queue wait from the start of each send.
func (c *Candidate) ExtractedAt() time.Time {
	return c.extracted
}
