package noncelease

import (
	"testing"
	"time"
)

func TestEndpointBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewEndpointBreaker(BreakerConfig{FailureThreshold: 3, OpenDuration: 30 * time.Second, SuccessThreshold: 2})

	if b.State() != Closed {
		t.Fatal("expected new breaker to start Closed")
	}
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatal("expected breaker to stay Closed below threshold")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatal("expected breaker to open at FailureThreshold")
	}
	if b.Allow() {
		t.Fatal("Open breaker must not Allow")
	}
}

func TestEndpointBreakerHalfOpenAfterOpenDuration(t *testing.T) {
	b := NewEndpointBreaker(BreakerConfig{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond, SuccessThreshold: 2})
	b.RecordFailure()
	if b.State() != Open {
		t.Fatal("expected Open immediately after reaching FailureThreshold")
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatal("expected transition to HalfOpen after OpenDuration elapses")
	}
}

func TestEndpointBreakerClosesAfterConsecutiveSuccesses(t *testing.T) {
	b := NewEndpointBreaker(BreakerConfig{FailureThreshold: 1, OpenDuration: 5 * time.Millisecond, SuccessThreshold: 2})
	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatal("expected HalfOpen before success recording")
	}

	b.RecordSuccess()
	if b.State() != HalfOpen {
		t.Fatal("expected still HalfOpen after only one success")
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatal("expected Closed after SuccessThreshold consecutive successes")
	}
}

func TestEndpointBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := NewEndpointBreaker(BreakerConfig{FailureThreshold: 1, OpenDuration: 5 * time.Millisecond, SuccessThreshold: 2})
	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatal("expected HalfOpen")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatal("expected a single HalfOpen failure to reopen immediately")
	}
}

func TestGlobalBreakerOpensWhenMajorityEndpointsOpen(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, OpenDuration: time.Minute, SuccessThreshold: 2}
	g := NewGlobalBreaker(cfg, 0)

	a := g.Endpoint("rpc-a")
	g.Endpoint("rpc-b")
	g.Endpoint("rpc-c")

	if g.Open() {
		t.Fatal("expected global breaker closed with no failures recorded")
	}

	a.RecordFailure()
	if g.Open() {
		t.Fatal("one of three endpoints open should not trip the global breaker")
	}

	g.Endpoint("rpc-b").RecordFailure()
	if !g.Open() {
		t.Fatal("expected global breaker open once more than half of endpoints are open")
	}
}

func TestGlobalBreakerOpensOnHighAverageLatency(t *testing.T) {
	g := NewGlobalBreaker(DefaultBreakerConfig(), 50*time.Millisecond)
	for i := 0; i < 5; i++ {
		g.RecordLatency(100 * time.Millisecond)
	}
	if !g.Open() {
		t.Fatal("expected global breaker open when average latency exceeds threshold")
	}
}
