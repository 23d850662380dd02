package noncelease

import "testing"

func TestPredictReturnsZeroBeforeTraining(t *testing.T) {
	m := NewPredictiveModel()
	if got := m.Predict(1000); got != 0 {
		t.Fatalf("expected untrained model to predict 0, got %f", got)
	}
}

func TestObserveTriggersTrainingEveryNSamples(t *testing.T) {
	m := NewPredictiveModel()
	for i := 0; i < trainEveryNSamples-1; i++ {
		m.Observe(Sample{Slot: uint64(i), LatencyMs: 5, TPS: 1000, Volume: 10})
	}
	if got := m.Predict(1000); got != 0 {
		t.Fatalf("expected no training before %d samples, got %f", trainEveryNSamples, got)
	}

	m.Observe(Sample{Slot: trainEveryNSamples, LatencyMs: 5, TPS: 1000, Volume: 10})
	if got := m.Predict(1000); got == 0 {
		t.Fatal("expected a nonzero prediction after the first training pass")
	}
}

func TestHighLatencyLowTPSRaisesFailureProbability(t *testing.T) {
	healthy := NewPredictiveModel()
	for i := 0; i < trainEveryNSamples; i++ {
		healthy.Observe(Sample{Slot: uint64(i), LatencyMs: 1, TPS: 5000, Volume: 100})
	}

	unhealthy := NewPredictiveModel()
	for i := 0; i < trainEveryNSamples; i++ {
		unhealthy.Observe(Sample{Slot: uint64(i), LatencyMs: 900, TPS: 1, Volume: 1})
	}

	if unhealthy.Predict(1) <= healthy.Predict(5000) {
		t.Fatalf("expected degraded network conditions to predict higher failure risk: unhealthy=%f healthy=%f",
			unhealthy.Predict(1), healthy.Predict(5000))
	}
}

func TestHistoryBoundedAtMaxHistory(t *testing.T) {
	m := NewPredictiveModel()
	for i := 0; i < maxHistory+100; i++ {
		m.Observe(Sample{Slot: uint64(i), LatencyMs: 1, TPS: 100, Volume: 1})
	}
	m.mu.Lock()
	length := len(m.history)
	m.mu.Unlock()
	if length != maxHistory {
		t.Fatalf("expected history capped at %d, got %d", maxHistory, length)
	}
}
