package noncelease

import (
	"errors"
	"testing"
)

func TestRetryableClassifiesTransientAndTimeout(t *testing.T) {
	if !Retryable(ErrRpcTransient) {
		t.Fatal("expected ErrRpcTransient to be retryable")
	}
	if !Retryable(&TimeoutError{Milliseconds: 500}) {
		t.Fatal("expected TimeoutError to be retryable via errors.Is(err, ErrTimeout)")
	}
	if Retryable(ErrPoolExhausted) {
		t.Fatal("expected ErrPoolExhausted to be non-retryable")
	}
	if Retryable(ErrNonceTainted) {
		t.Fatal("expected ErrNonceTainted to be non-retryable")
	}
}

func TestTimeoutErrorIsMatchesSentinel(t *testing.T) {
	err := &TimeoutError{Milliseconds: 1200}
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expected errors.Is(err, ErrTimeout) to succeed")
	}
	if errors.Is(err, ErrRpcTransient) {
		t.Fatal("TimeoutError must not match ErrRpcTransient")
	}
}
