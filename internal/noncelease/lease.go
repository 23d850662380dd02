package noncelease

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/rawblock/sol-sniffer/pkg/candidate"
)

// NonceLease is the RAII handle returned by NoncePool.TryAcquire/Acquire,
// Go has no destructor to call automatically at scope
// exit, so this type combines three mechanisms to approximate one:
//
//  1. An explicit synchronous Release(taint bool) that callers are
//     expected to invoke (typically via defer), the primary path.
//  2. An idempotent released flag (atomic CAS) so a double Release, or a
//     Release racing the async variant, is a safe no-op rather than a
//     double free of the pool slot.
//  3. A runtime.SetFinalizer safety net that calls the same release path
//     if the lease is ever dropped without an explicit Release — the
//     closest analogue Go offers to a synchronous destructor, though it
//     only runs opportunistically at GC time and must never be relied on
//     as the primary release mechanism.
type NonceLease struct {
	pool     *NoncePool
	rec      *NonceAccount
	released int32 // atomic bool
}

func newNonceLease(pool *NoncePool, rec *NonceAccount) *NonceLease {
	l := &NonceLease{pool: pool, rec: rec}
	runtime.SetFinalizer(l, func(l *NonceLease) {
		l.releaseOnce(false)
	})
	return l
}

// NonceValue returns the current durable-nonce blockhash value held by
// this lease's underlying account.
func (l *NonceLease) NonceValue() [32]byte {
	return l.rec.LastKnownBlockhash
}

// Pubkey returns the nonce account's address.
func (l *NonceLease) Pubkey() candidate.Identity {
	return l.rec.Pubkey
}

// Release returns the leased account to the pool. taint=true marks the
// account as used (the NonceTainted path: a durable nonce is
// single-use per advance, so a transaction that consumed it taints the
// record until the refresh scan rotates it). Safe to call multiple times
// and safe to call from a deferred statement.
func (l *NonceLease) Release(taint bool) {
	l.releaseOnce(taint)
}

// ReleaseAsync performs the same release under ctx, for callers on a
// goroutine that wants to record release telemetry through reporter before
// returning the account to the pool. ctx cancellation does not skip the
// release — it only bounds how long reporter is given to run.
func (l *NonceLease) ReleaseAsync(ctx context.Context, taint bool, reporter func(ctx context.Context)) {
	if reporter != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			reporter(ctx)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	l.releaseOnce(taint)
}

func (l *NonceLease) releaseOnce(taint bool) {
	if !atomic.CompareAndSwapInt32(&l.released, 0, 1) {
		return
	}
	l.pool.release(l.rec, taint)
	runtime.SetFinalizer(l, nil)
}
