// Package pipeline wires the ingestion stages into the single integration
// loop: raw bytes in from streamcore, prefilter -> extractor
// -> analytics -> handoff out, with a biased select so a shutdown signal
// always preempts a pause flag, which always preempts ordinary data flow.
// One goroutine, one select, ctx.Done() checked first every iteration.
package pipeline

import (
	"context"
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

// Config bundles the wiring each stage needs. RawIn is the channel fed by
// streamcore; Targets is the prefilter's watched program/account set;
// Denylist is the security gate's blocked mint/account set (zero value
// never rejects anything).
type Config struct {
	RawIn            <-chan []byte
	Targets          prefilter.Set
	ExtractorOptions extractor.Options
	Denylist         security.Denylist
	Handoff          *handoff.Handoff
	Analytics        *analytics.EmaState
	Metrics          *metrics.Registry
	Events           *events.Collector
}

// Pipeline runs the single-threaded ingest-to-handoff stage chain.
type Pipeline struct {
	cfg    Config
	paused chan struct{} // not used; pause state lives in Run's pause/resume channels
}

// New constructs a Pipeline from cfg. All fields must be non-nil.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// pauseSignal is not used. Run takes its pause and resume signals as plain
// channels rather than atomic flags because the biased select below needs a
// receivable case, not a poll; the supervisor does not send on them.
type pauseSignal struct{ ch chan struct{} }

// Run is the supervised worker body. It honors ctx cancellation and a
// pause channel with strict priority: shutdown > pause > data.
func (p *Pipeline) Run(ctx context.Context, pause <-chan struct{}, resume <-chan struct{}) {
	paused := false
	for {
		// Priority 1: shutdown always wins, checked before anything else.
		select {
		case <-ctx.Done():
			return
		default:
		}

		if paused {
			select {
			case <-ctx.Done():
				return
			case <-resume:
				paused = false
			}
			continue
		}

		// Priority 2: pause preempts data; Priority 3: ordinary data flow.
		select {
		case <-ctx.Done():
			return
		case <-pause:
			paused = true
		case raw, ok := <-p.cfg.RawIn:
			if !ok {
				return
			}
			p.process(raw)
		}
	}
}

// process carries one raw blob through prefilter -> extractor -> security
// -> analytics -> handoff, emitting a PipelineEvent at every stage
// transition.
func (p *Pipeline) process(raw []byte) {
	traceID := candidate.NextTraceID()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.IncrCounter(metrics.CounterTxSeen, 1)
	}
	if p.cfg.Events != nil {
		p.cfg.Events.Collect(events.BytesReceived, traceID)
	}

	if !prefilter.Matches(raw, p.cfg.Targets) {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.IncrCounter(metrics.CounterTxFiltered, 1)
		}
		if p.cfg.Events != nil {
			p.cfg.Events.Collect(events.PrefilterRejected, traceID)
		}
		return
	}
	if p.cfg.Events != nil {
		p.cfg.Events.Collect(events.PrefilterPassed, traceID)
	}

	cand, err := extractor.Extract(raw, p.cfg.ExtractorOptions, traceID)
	if err != nil {
		if p.cfg.Metrics != nil {
			if err == extractor.ErrInvalidMint {
				p.cfg.Metrics.IncrCounter(metrics.CounterMintExtractErrors, 1)
			} else {
				p.cfg.Metrics.IncrCounter(metrics.CounterAccountExtractErr, 1)
			}
		}
		if p.cfg.Events != nil {
			p.cfg.Events.Collect(events.ExtractionFailed, traceID)
		}
		return
	}
	if p.cfg.Events != nil {
		p.cfg.Events.Collect(events.CandidateExtracted, traceID)
	}

	if !security.Check(&cand, p.cfg.Denylist) {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.IncrCounter(metrics.CounterSecurityDropCount, 1)
		}
		if p.cfg.Events != nil {
			p.cfg.Events.Collect(events.SecurityRejected, traceID)
		}
		return
	}
	if p.cfg.Events != nil {
		p.cfg.Events.Collect(events.SecurityPassed, traceID)
	}

	if p.cfg.Analytics != nil {
		// Blob length is the per-transaction volume magnitude fed to the
		// EMA — a real signal available without parsing the full
		// transaction, unlike a hardcoded constant which would collapse
		// short_ema/long_ema to a fixed value regardless of traffic.
		p.cfg.Analytics.Observe(float64(len(raw)))
		cand.Priority = p.cfg.Analytics.Priority()
		cand.PriceHint = p.cfg.Analytics.PriceHint()
	}

	// candidates_sent / dropped_full_buffer and the terminal
	// HandoffSent/HandoffDropped event are recorded by Handoff itself at
	// actual send or drop time (internal/handoff/handoff.go), not here —
	// Enqueue only buffers the candidate for the next batch.
	if p.cfg.Handoff != nil {
		p.cfg.Handoff.Enqueue(cand)
	}
}

// BackgroundUpdaters runs the analytics EMA/threshold tickers alongside
// the main ingest loop; the supervisor registers it as its own worker so
// a panic here doesn't take down the ingest path.
func BackgroundUpdaters(ctx context.Context, state *analytics.EmaState) {
	state.RunBackgroundUpdaters(ctx)
}

// HandoffRunner adapts (*handoff.Handoff).Run to the supervisor's
// WorkerFunc signature.
func HandoffRunner(h *handoff.Handoff) func(ctx context.Context) {
	return func(ctx context.Context) { h.Run(ctx) }
}

// configWatchInterval is how often the cooperative config-file watcher
// polls for changes every 5s.
const configWatchInterval = 5 * time.Second

// ConfigWatchInterval exposes configWatchInterval to callers that wire the
// config.Store.WatchFile task alongside this pipeline.
func ConfigWatchInterval() time.Duration { return configWatchInterval }
