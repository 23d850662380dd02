package analytics

import (
	"math"
	"testing"
)

func TestAtomicFloat64AddIsSequentiallyCorrectSingleThreaded(t *testing.T) {
	var f AtomicFloat64
	f.Add(1.5)
	f.Add(2.5)
	if got := f.Load(); got != 4.0 {
		t.Fatalf("Load() = %v, want 4.0", got)
	}
}

func TestAtomicFloat64Swap(t *testing.T) {
	var f AtomicFloat64
	f.Store(10)
	old := f.Swap(0)
	if old != 10 {
		t.Fatalf("Swap returned %v, want 10", old)
	}
	if f.Load() != 0 {
		t.Fatalf("Load() after swap = %v, want 0", f.Load())
	}
}

func TestObserveThenUpdateEMA(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEmaState(cfg)

	e.Observe(10)
	e.Observe(20)

	preShort := e.shortEMA.Load()
	if ok := e.UpdateEMA(); !ok {
		t.Fatal("UpdateEMA should report work done")
	}
	avg := 15.0
	want := cfg.AlphaShort*avg + (1-cfg.AlphaShort)*preShort
	got := e.shortEMA.Load()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("short_ema = %v, want %v (relative err must be < 1e-9)", got, want)
	}
}

func TestUpdateEMANoSamplesIsNoop(t *testing.T) {
	e := NewEmaState(DefaultConfig())
	if ok := e.UpdateEMA(); ok {
		t.Fatal("UpdateEMA with zero samples should report no work done")
	}
}

func TestAccelerationRatioDefaultsWhenLongNonPositive(t *testing.T) {
	e := NewEmaState(DefaultConfig())
	if got := e.AccelerationRatio(); got != 1.0 {
		t.Fatalf("AccelerationRatio() = %v, want 1.0 when long <= 0", got)
	}
}

func TestPriorityHighWhenRatioExceedsThreshold(t *testing.T) {
	e := NewEmaState(Config{InitialThreshold: 1.0})
	e.shortEMA.Store(10)
	e.longEMA.Store(1)
	if e.Priority() != 1 { // PriorityHigh
		t.Fatalf("expected PriorityHigh when ratio (10) > threshold (1.0)")
	}
}

func TestUpdateThresholdFormula(t *testing.T) {
	e := NewEmaState(Config{InitialThreshold: 2.0, ThresholdUpdateRate: 0.5})
	e.shortEMA.Store(4)
	e.longEMA.Store(2) // ratio = 2
	e.UpdateThreshold()
	want := 0.5*2.0 + 0.5*(1+0.1*2.0)
	if got := e.Threshold(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("threshold = %v, want %v", got, want)
	}
}

func TestSetThresholdUpdateRateTakesEffectOnNextUpdate(t *testing.T) {
	e := NewEmaState(Config{InitialThreshold: 2.0, ThresholdUpdateRate: 0.5})
	e.shortEMA.Store(4)
	e.longEMA.Store(2) // ratio = 2

	e.SetThresholdUpdateRate(0.1) // reload before the original rate is ever used
	e.UpdateThreshold()
	want := 0.9*2.0 + 0.1*(1+0.1*2.0)
	if got := e.Threshold(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("threshold = %v, want %v (reloaded rate should apply)", got, want)
	}
}
