package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/sol-sniffer/internal/analytics"
	"github.com/rawblock/sol-sniffer/internal/events"
	"github.com/rawblock/sol-sniffer/internal/extractor"
	"github.com/rawblock/sol-sniffer/internal/handoff"
	"github.com/rawblock/sol-sniffer/internal/metrics"
	"github.com/rawblock/sol-sniffer/internal/prefilter"
	"github.com/rawblock/sol-sniffer/internal/security"
	"github.com/rawblock/sol-sniffer/pkg/candidate"
)

// prefilterTargetByte fills a 32-byte run the test's prefilter.Set watches
// for; it is placed away from the mint/account offsets so extraction and
// prefiltering exercise independent regions of the blob.
const prefilterTargetByte = 0xCD

// buildBlob constructs a 200-byte synthetic transaction with a mint at
// [64,96) and one account at [96,128), matching the extractor's hot-path
// offsets, plus (when matchTarget is true) the watched 32-byte prefilter
// pattern at [150,182), fully inside the primary scan region.
func buildBlob(mintByte, acctByte byte, matchTarget bool) []byte {
	blob := make([]byte, 200)
	for i := 64; i < 96; i++ {
		blob[i] = mintByte
	}
	for i := 96; i < 128; i++ {
		blob[i] = acctByte
	}
	if matchTarget {
		for i := 150; i < 182; i++ {
			blob[i] = prefilterTargetByte
		}
	}
	return blob
}

func newTestPipeline(rawIn chan []byte) (*Pipeline, *events.Collector, *metrics.Registry) {
	reg := metrics.NewRegistry()
	coll := events.NewCollector()
	h := handoff.New(handoff.DefaultConfig(), reg, coll)
	go h.Run(context.Background())

	var watched [32]byte
	for i := range watched {
		watched[i] = prefilterTargetByte
	}
	targets := prefilter.NewSet([][]byte{watched[:]})

	p := New(Config{
		RawIn:            rawIn,
		Targets:          targets,
		ExtractorOptions: extractor.Options{Mode: extractor.ModeHotPath, SafeOffsets: true},
		Handoff:          h,
		Analytics:        analytics.NewEmaState(analytics.DefaultConfig()),
		Metrics:          reg,
		Events:           coll,
	})
	return p, coll, reg
}

func TestProcessEmitsCandidateOnMatchingBlob(t *testing.T) {
	rawIn := make(chan []byte, 4)
	p, coll, reg := newTestPipeline(rawIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pause := make(chan struct{})
	resume := make(chan struct{})
	go p.Run(ctx, pause, resume)

	rawIn <- buildBlob(0xAB, 0x01, true)

	select {
	case c := <-p.cfg.Handoff.Output():
		if c.Mint.IsZero() {
			t.Fatal("expected extracted candidate to carry a non-zero mint")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a candidate to reach the handoff output")
	}

	if got := reg.Snapshot().TxSeen; got != 1 {
		t.Fatalf("expected tx_seen=1, got %d", got)
	}
	if coll.Len() == 0 {
		t.Fatal("expected pipeline events to be recorded")
	}
}

func TestProcessDropsNonMatchingBlob(t *testing.T) {
	rawIn := make(chan []byte, 4)
	p, _, reg := newTestPipeline(rawIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pause := make(chan struct{})
	resume := make(chan struct{})
	go p.Run(ctx, pause, resume)

	rawIn <- buildBlob(0x00, 0x00, false) // blob never matches the watched target

	select {
	case <-p.cfg.Handoff.Output():
		t.Fatal("expected no candidate for a non-matching blob")
	case <-time.After(200 * time.Millisecond):
	}

	if reg.Snapshot().TxFiltered == 0 {
		t.Fatal("expected tx_filtered to be incremented for the rejected blob")
	}
}

func TestProcessRejectsDenylistedMint(t *testing.T) {
	rawIn := make(chan []byte, 4)
	p, coll, reg := newTestPipeline(rawIn)

	var blockedMint candidate.Identity
	for i := range blockedMint {
		blockedMint[i] = 0xAB
	}
	p.cfg.Denylist = security.NewDenylist([]candidate.Identity{blockedMint})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pause := make(chan struct{})
	resume := make(chan struct{})
	go p.Run(ctx, pause, resume)

	rawIn <- buildBlob(0xAB, 0x01, true)

	select {
	case <-p.cfg.Handoff.Output():
		t.Fatal("expected no candidate for a denylisted mint")
	case <-time.After(200 * time.Millisecond):
	}

	if reg.Snapshot().SecurityDropCount != 1 {
		t.Fatalf("expected security_drop_count=1, got %d", reg.Snapshot().SecurityDropCount)
	}
	found := false
	for _, e := range coll.Recent(coll.Len()) {
		if e.Kind == events.SecurityRejected {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a SecurityRejected event to be recorded")
	}
}

func TestProcessFeedsRealBlobLengthIntoAnalytics(t *testing.T) {
	rawIn := make(chan []byte, 4)
	p, _, _ := newTestPipeline(rawIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pause := make(chan struct{})
	resume := make(chan struct{})
	go p.Run(ctx, pause, resume)

	blob := buildBlob(0xAB, 0x01, true)
	rawIn <- blob

	select {
	case <-p.cfg.Handoff.Output():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a candidate to reach the handoff output")
	}

	// UpdateEMA blends the accumulated volume (the blob's byte length, per
	// process's Observe call) into short_ema; a hardcoded constant-1
	// observation would blend in 1 regardless of blob size.
	p.cfg.Analytics.UpdateEMA()
	wantShort := analytics.DefaultConfig().AlphaShort * float64(len(blob))
	if got := p.cfg.Analytics.PriceHint(); got != wantShort {
		t.Fatalf("PriceHint() = %v, want %v (derived from blob length %d)", got, wantShort, len(blob))
	}
}

func TestRunShutdownPreemptsPauseAndData(t *testing.T) {
	rawIn := make(chan []byte, 4)
	p, _, _ := newTestPipeline(rawIn)

	ctx, cancel := context.WithCancel(context.Background())
	pause := make(chan struct{})
	resume := make(chan struct{})

	done := make(chan struct{})
	go func() {
		p.Run(ctx, pause, resume)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to exit promptly on ctx cancellation")
	}
}

func TestRunPauseStopsProcessingUntilResumed(t *testing.T) {
	rawIn := make(chan []byte, 4)
	p, _, reg := newTestPipeline(rawIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pause := make(chan struct{})
	resume := make(chan struct{})
	go p.Run(ctx, pause, resume)

	pause <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	rawIn <- buildBlob(0xAB, 0x01, true)
	time.Sleep(50 * time.Millisecond)

	if reg.Snapshot().TxSeen != 0 {
		t.Fatal("expected no processing to occur while paused")
	}

	resume <- struct{}{}
	time.Sleep(50 * time.Millisecond)
	if reg.Snapshot().TxSeen != 1 {
		t.Fatal("expected the blob queued during pause to be processed once resumed")
	}
}
