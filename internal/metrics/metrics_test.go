package metrics

import (
	"testing"
	"time"
)

func TestIncrCounterAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.IncrCounter(CounterTxSeen, 5)
	r.IncrCounter(CounterCandidatesSent, 2)

	snap := r.Snapshot()
	if snap.TxSeen != 5 {
		t.Fatalf("tx_seen = %d, want 5", snap.TxSeen)
	}
	if snap.CandidatesSent != 2 {
		t.Fatalf("candidates_sent = %d, want 2", snap.CandidatesSent)
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	r := NewRegistry()
	r.IncrCounter(CounterTxSeen, 3)
	r.RecordSample(42)

	a, err := r.SnapshotJSON()
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.SnapshotJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("two successive snapshots differ:\n%s\n%s", a, b)
	}
}

func TestObserveHistogramBuckets(t *testing.T) {
	r := NewRegistry()
	r.ObserveHistogram(5 * time.Microsecond)
	r.ObserveHistogram(50 * time.Microsecond)
	r.ObserveHistogram(500 * time.Microsecond)
	r.ObserveHistogram(5 * time.Millisecond)

	snap := r.Snapshot()
	if snap.HandoffHistogram["lt_10us"] != 1 {
		t.Fatalf("lt_10us = %d, want 1", snap.HandoffHistogram["lt_10us"])
	}
	if snap.HandoffHistogram["ge_1ms"] != 1 {
		t.Fatalf("ge_1ms = %d, want 1", snap.HandoffHistogram["ge_1ms"])
	}
}

func TestPercentileEmpty(t *testing.T) {
	r := NewRegistry()
	if p := r.Percentile(99); p != 0 {
		t.Fatalf("Percentile on empty reservoir = %v, want 0", p)
	}
}

func TestPercentileOrdering(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		r.RecordSample(float64(i))
	}
	p50 := r.Percentile(50)
	p99 := r.Percentile(99)
	if p99 < p50 {
		t.Fatalf("p99 (%v) < p50 (%v)", p99, p50)
	}
}
