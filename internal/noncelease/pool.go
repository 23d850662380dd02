// Bounded pool of durable-nonce accounts with RAII-style lease acquisition,
// Acquisition is gated by a weighted semaphore the way
// the nonce_counter reference (golang.org/x/sync/semaphore.Weighted over a
// FindNonces fan-out) gates concurrent work against a fixed budget; record
// selection within the permit is a short critical section, never the
// acquire itself.
package noncelease

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rawblock/sol-sniffer/pkg/candidate"
)

// slotExpiryMargin is the minimum slot budget (last_valid_slot - current_slot)
// a record must retain to be considered acquirable or to be left alone by
// the refresh scan. A durable nonce this close to its last valid slot would
// likely expire mid-flight for the transaction that leases it.
const slotExpiryMargin = 2

// NonceAccount is one durable-nonce account slot in the pool. LastValidSlot
// and tainted are accessed without the pool's lock (atomic load/store) so a
// concurrent TryAcquire never blocks on the refresh scan's bookkeeping;
// inUse is only ever touched under NoncePool.mu, per the "in_use flag: set
// under the short pool-selection lock, cleared by the lease destructor"
// shared-resource policy.
type NonceAccount struct {
	Pubkey             candidate.Identity
	Authority          candidate.Identity
	LastKnownBlockhash [32]byte

	LastValidSlot atomic.Uint64
	tainted       atomic.Bool

	LastUsed  time.Time
	Rotations uint64

	inUse bool
}

// slotBudget is last_valid_slot - current_slot, computed in signed
// arithmetic so a current_slot that has already passed last_valid_slot
// yields a negative (expired) budget instead of wrapping.
func slotBudget(lastValidSlot, currentSlot uint64) int64 {
	return int64(lastValidSlot) - int64(currentSlot)
}

// Tainted reports whether the record is marked unusable until refreshed.
func (a *NonceAccount) Tainted() bool {
	return a.tainted.Load()
}

// usable implements the §4.9.1 step-2 selection predicate: not in use, not
// tainted, seeded with a real pubkey, and the slot budget strictly exceeds
// slotExpiryMargin.
func (a *NonceAccount) usable(currentSlot uint64) bool {
	return !a.inUse && !a.Pubkey.IsZero() && !a.tainted.Load() &&
		slotBudget(a.LastValidSlot.Load(), currentSlot) > slotExpiryMargin
}

// PoolConfig carries the sizing and TTL knobs.
type PoolConfig struct {
	Size           int
	LeaseTTL       time.Duration // stored but not read by the pool or NonceLease: leases carry no expiry and are never treated as stale, and record selection is gated by slot budget only.
	RefreshWorkers int64         // concurrency cap on background refresh RPCs
}

// DefaultPoolConfig uses sensible defaults: 16 accounts, 30s lease TTL, 10
// concurrent refresh RPCs.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Size: 16, LeaseTTL: 30 * time.Second, RefreshWorkers: 10}
}

// NoncePool is the fixed-size pool of refreshable nonce accounts. The
// invariant active_leases + available_permits == Size holds at every
// point outside the critical section in tryAcquire.
type NoncePool struct {
	cfg     PoolConfig
	sem     *semaphore.Weighted
	refresh *semaphore.Weighted

	mu      sync.Mutex
	records []*NonceAccount

	currentSlot atomic.Uint64

	breaker *GlobalBreaker
	model   *PredictiveModel
}

// NewNoncePool constructs a pool seeded with cfg.Size accounts. Callers
// populate each record via Seed before first use.
func NewNoncePool(cfg PoolConfig, breaker *GlobalBreaker) *NoncePool {
	records := make([]*NonceAccount, cfg.Size)
	for i := range records {
		records[i] = &NonceAccount{}
	}
	return &NoncePool{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Size)),
		refresh: semaphore.NewWeighted(cfg.RefreshWorkers),
		records: records,
		breaker: breaker,
		model:   NewPredictiveModel(),
	}
}

// Seed installs the initial on-chain state for slot i: the account's own
// pubkey, its authority, the durable-nonce blockhash value, and the slot up
// to which that blockhash remains valid. Intended for startup wiring only,
// not called on the hot path.
func (p *NoncePool) Seed(i int, pubkey, authority candidate.Identity, blockhash [32]byte, lastValidSlot uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.records) {
		return
	}
	rec := p.records[i]
	rec.Pubkey = pubkey
	rec.Authority = authority
	rec.LastKnownBlockhash = blockhash
	rec.LastValidSlot.Store(lastValidSlot)
	rec.tainted.Store(false)
	rec.inUse = false
	rec.Rotations = 0
	rec.LastUsed = time.Time{}
}

// AdvanceSlot updates the pool's view of the current slot, read (without a
// lock) by acquisition and the refresh scan's slot-budget checks. Callers
// feed this from whatever upstream slot source they track; Observe also
// advances it from the (slot, latency, tps, volume) sample stream.
func (p *NoncePool) AdvanceSlot(slot uint64) {
	p.currentSlot.Store(slot)
}

// CurrentSlot returns the slot value acquisition currently checks against.
func (p *NoncePool) CurrentSlot() uint64 {
	return p.currentSlot.Load()
}

// selectRecord implements §4.9.1 step 2 under the pool's short lock: pick
// the first usable record, marking it in-use. If none is usable, report the
// most specific reason a caller can act on — priority expired > tainted >
// invalid (unseeded) > exhausted (every record simply in use already).
func (p *NoncePool) selectRecord() (*NonceAccount, error) {
	currentSlot := p.currentSlot.Load()

	p.mu.Lock()
	defer p.mu.Unlock()

	var sawExpired, sawTainted, sawInvalid bool
	for _, rec := range p.records {
		if rec.inUse {
			continue
		}
		if rec.Pubkey.IsZero() {
			sawInvalid = true
			continue
		}
		if rec.tainted.Load() {
			sawTainted = true
			continue
		}
		if slotBudget(rec.LastValidSlot.Load(), currentSlot) <= slotExpiryMargin {
			sawExpired = true
			continue
		}
		rec.inUse = true
		rec.LastUsed = time.Now()
		return rec, nil
	}

	switch {
	case sawExpired:
		return nil, ErrNonceExpired
	case sawTainted:
		return nil, ErrNonceTainted
	case sawInvalid:
		return nil, ErrInvalidNonceAccount
	default:
		return nil, ErrPoolExhausted
	}
}

// TryAcquire attempts to lease a usable nonce account without blocking
// beyond the semaphore's immediate availability check. It fails fast with
// ErrCircuitBreakerOpen if the aggregate breaker has tripped, with
// ErrPoolExhausted if every permit is currently held, and otherwise with
// the most specific §4.9.6 reason no free record could be selected.
func (p *NoncePool) TryAcquire() (*NonceLease, error) {
	if p.breaker != nil && p.breaker.Open() {
		return nil, ErrCircuitBreakerOpen
	}

	if !p.sem.TryAcquire(1) {
		return nil, ErrPoolExhausted
	}

	chosen, err := p.selectRecord()
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	return newNonceLease(p, chosen), nil
}

// Acquire blocks (respecting ctx) until a permit is available, then applies
// the same record-selection rule as TryAcquire. Used by callers willing to
// wait rather than fail fast, e.g. background maintenance tasks.
func (p *NoncePool) Acquire(ctx context.Context) (*NonceLease, error) {
	if p.breaker != nil && p.breaker.Open() {
		return nil, ErrCircuitBreakerOpen
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	chosen, err := p.selectRecord()
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return newNonceLease(p, chosen), nil
}

// AcquireByPubkey leases a specific previously-seen nonce account by its
// pubkey, for a transaction builder that wants to reuse the same durable
// nonce it held last time rather than whichever record TryAcquire would
// pick. Reports ErrNonceLocked if the record is currently leased to another
// holder, ErrNonceTainted/ErrNonceExpired per the usual predicate, and
// ErrInvalidNonceAccount if pubkey matches no seeded record.
func (p *NoncePool) AcquireByPubkey(pubkey candidate.Identity) (*NonceLease, error) {
	if p.breaker != nil && p.breaker.Open() {
		return nil, ErrCircuitBreakerOpen
	}

	currentSlot := p.currentSlot.Load()

	p.mu.Lock()
	var rec *NonceAccount
	for _, r := range p.records {
		if r.Pubkey == pubkey {
			rec = r
			break
		}
	}
	if rec == nil {
		p.mu.Unlock()
		return nil, ErrInvalidNonceAccount
	}
	if rec.inUse {
		p.mu.Unlock()
		return nil, ErrNonceLocked
	}
	if rec.tainted.Load() {
		p.mu.Unlock()
		return nil, ErrNonceTainted
	}
	if slotBudget(rec.LastValidSlot.Load(), currentSlot) <= slotExpiryMargin {
		p.mu.Unlock()
		return nil, ErrNonceExpired
	}
	rec.inUse = true
	rec.LastUsed = time.Now()
	p.mu.Unlock()

	if !p.sem.TryAcquire(1) {
		p.mu.Lock()
		rec.inUse = false
		p.mu.Unlock()
		return nil, ErrPoolExhausted
	}

	return newNonceLease(p, rec), nil
}

// release returns rec to the pool: called exactly once per acquired lease,
// from NonceLease's synchronous release path.
func (p *NoncePool) release(rec *NonceAccount, taint bool) {
	p.mu.Lock()
	rec.inUse = false
	p.mu.Unlock()
	if taint {
		rec.tainted.Store(true)
	}
	p.sem.Release(1)
}

// taintRecord marks rec unusable until the refresh scan replaces it (the
// NonceTainted outcome: used once, no longer advanceable).
func (p *NoncePool) taintRecord(rec *NonceAccount) {
	rec.tainted.Store(true)
}

// RefreshResult is what a refresher callback reports back after
// successfully advancing a durable nonce: the new on-chain blockhash value
// and the slot up to which it remains valid.
type RefreshResult struct {
	Blockhash     [32]byte
	LastValidSlot uint64
}

// RefreshScan is the background task driven by the supervisor on a ticker:
// it walks every record, refreshing any that are tainted, whose slot
// budget has dropped to slotExpiryMargin or below, or whose predicted
// failure probability exceeds 0.4, bounded by the refresh concurrency
// semaphore so refresh RPCs never starve lease acquisition.
func (p *NoncePool) RefreshScan(ctx context.Context, refresher func(ctx context.Context, rec *NonceAccount) (RefreshResult, error), currentTPS float64) {
	failureRisk := p.model.Predict(currentTPS)
	currentSlot := p.currentSlot.Load()

	p.mu.Lock()
	candidates := make([]*NonceAccount, 0, len(p.records))
	for _, rec := range p.records {
		if rec.inUse {
			continue
		}
		needsRefresh := rec.tainted.Load() ||
			slotBudget(rec.LastValidSlot.Load(), currentSlot) <= slotExpiryMargin ||
			failureRisk > 0.4
		if needsRefresh {
			candidates = append(candidates, rec)
		}
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range candidates {
		if err := p.refresh.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(rec *NonceAccount) {
			defer wg.Done()
			defer p.refresh.Release(1)

			start := time.Now()
			result, err := refresher(ctx, rec)
			elapsed := time.Since(start)

			if p.breaker != nil {
				p.breaker.RecordLatency(elapsed)
			}

			if err == nil {
				p.mu.Lock()
				rec.LastKnownBlockhash = result.Blockhash
				rec.Rotations++
				p.mu.Unlock()
				rec.LastValidSlot.Store(result.LastValidSlot)
				rec.tainted.Store(false)
			}
		}(rec)
	}
	wg.Wait()
}

// Observe feeds one (latency, tps, volume) sample into the predictive
// refresh model and advances the pool's current-slot view, called from the
// same place callers record RPC latencies.
func (p *NoncePool) Observe(slot uint64, latency time.Duration, tps, volume float64) {
	p.AdvanceSlot(slot)
	p.model.Observe(Sample{
		Slot:      slot,
		LatencyMs: float64(latency.Microseconds()) / 1000.0,
		TPS:       tps,
		Volume:    volume,
	})
}
