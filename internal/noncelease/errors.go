package noncelease

import (
	"errors"
	"fmt"
)

// Error taxonomy for the nonce-lease manager. PoolExhausted, NonceExpired, NonceTainted
// and NonceLocked are non-retryable at this layer; Timeout and RpcTransient
// are retryable with backoff; CircuitBreakerOpen is short-circuited.
var (
	ErrPoolExhausted       = errors.New("noncelease: pool exhausted")
	ErrNonceExpired        = errors.New("noncelease: nonce expired")
	ErrNonceTainted        = errors.New("noncelease: nonce tainted")
	ErrNonceLocked         = errors.New("noncelease: nonce locked")
	ErrInvalidNonceAccount = errors.New("noncelease: invalid nonce account")
	ErrRpcTransient        = errors.New("noncelease: transient rpc error")
	ErrCircuitBreakerOpen  = errors.New("noncelease: circuit breaker open")
	ErrConfiguration       = errors.New("noncelease: invalid configuration")
)

// TimeoutError wraps the configured timeout that was exceeded, satisfying
// a Timeout(ms) variant while remaining comparable with errors.Is
// against a sentinel.
type TimeoutError struct {
	Milliseconds int64
}

var errTimeoutSentinel = errors.New("noncelease: timeout")

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("noncelease: timeout after %dms", e.Milliseconds)
}

func (e *TimeoutError) Is(target error) bool {
	return target == errTimeoutSentinel
}

// ErrTimeout is the sentinel tested via errors.Is(err, ErrTimeout).
var ErrTimeout = errTimeoutSentinel

// Retryable reports whether a layer above should retry the call that
// produced err, per the error taxonomy above.
func Retryable(err error) bool {
	return errors.Is(err, ErrRpcTransient) || errors.Is(err, ErrTimeout)
}
