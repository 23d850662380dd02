// Predictive failure model for nonce refresh scheduling.
// Training mutates state behind a short lock; Predict reads a cached
// snapshot through an atomic pointer swap so the refresh scanner never
// waits on training, mirroring the "predictive model behind an atomic
// snapshot" design note.
package noncelease

import (
	"sync"
	"sync/atomic"
)

// Sample is one observed (slot, latency, tps, volume) tuple.
type Sample struct {
	Slot      uint64
	LatencyMs float64
	TPS       float64
	Volume    float64
}

const (
	maxHistory        = 200
	trainEveryNSamples = 50
)

// modelSnapshot is the queryable, immutable result of the last training
// pass: an EMA latency estimate and a linear-regression weight vector.
type modelSnapshot struct {
	emaLatency float64
	weights    [3]float64 // latency, tps, volume
	bias       float64
	recurrent  float64 // tiny recurrent predictor's hidden state contribution
}

// PredictiveModel estimates a per-nonce failure probability from recent
// network conditions. It is safe for concurrent Observe/Predict/Train.
type PredictiveModel struct {
	mu        sync.Mutex
	history   []Sample
	seenSince int // samples observed since the last training pass

	snapshot atomic.Pointer[modelSnapshot]

	alphaLatencyEMA float64
	learningRate    float64
}

// NewPredictiveModel constructs an untrained model; Predict returns 0
// failure probability until the first training pass completes.
func NewPredictiveModel() *PredictiveModel {
	m := &PredictiveModel{
		history:         make([]Sample, 0, maxHistory),
		alphaLatencyEMA: 0.3,
		learningRate:    0.01,
	}
	m.snapshot.Store(&modelSnapshot{})
	return m
}

// Observe appends a sample to the bounded history (oldest dropped once
// full) and triggers a training pass every 50 samples.
func (m *PredictiveModel) Observe(s Sample) {
	m.mu.Lock()
	if len(m.history) >= maxHistory {
		m.history = append(m.history[1:], s)
	} else {
		m.history = append(m.history, s)
	}
	m.seenSince++
	shouldTrain := m.seenSince >= trainEveryNSamples
	if shouldTrain {
		m.seenSince = 0
	}
	historySnap := append([]Sample(nil), m.history...)
	m.mu.Unlock()

	if shouldTrain {
		m.train(historySnap)
	}
}

// train runs the EMA update and a small fixed number of gradient-descent
// steps over the current history, then publishes a fresh snapshot.
func (m *PredictiveModel) train(history []Sample) {
	if len(history) == 0 {
		return
	}

	prev := m.snapshot.Load()
	ema := prev.emaLatency
	for _, s := range history {
		ema = m.alphaLatencyEMA*s.LatencyMs + (1-m.alphaLatencyEMA)*ema
	}

	weights := prev.weights
	bias := prev.bias
	const epochs = 20
	for e := 0; e < epochs; e++ {
		for _, s := range history {
			x := [3]float64{s.LatencyMs, s.TPS, s.Volume}
			pred := bias
			for i, w := range weights {
				pred += w * x[i]
			}
			target := failureLabel(s)
			errTerm := pred - target
			for i := range weights {
				weights[i] -= m.learningRate * errTerm * x[i]
			}
			bias -= m.learningRate * errTerm
		}
	}

	// Tiny recurrent predictor: a single-scalar hidden state folded over
	// the sequence, contributing a smoothed trend term.
	recurrent := prev.recurrent
	for _, s := range history {
		recurrent = 0.5*recurrent + 0.5*failureLabel(s)
	}

	m.snapshot.Store(&modelSnapshot{
		emaLatency: ema,
		weights:    weights,
		bias:       bias,
		recurrent:  recurrent,
	})
}

// failureLabel derives a crude [0,1] training target from a sample: high
// latency relative to TPS and low volume correlate with refresh failure in
// the domain this model approximates.
func failureLabel(s Sample) float64 {
	if s.TPS <= 0 {
		return 1
	}
	v := s.LatencyMs / (s.TPS + 1)
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

// Predict returns the ensemble failure probability in [0,1] for the given
// current network TPS, combining the EMA latency signal, the regression
// output, and the recurrent trend term — a weighted sum of the three.
func (m *PredictiveModel) Predict(currentTPS float64) float64 {
	snap := m.snapshot.Load()
	if snap == nil {
		return 0
	}

	x := [3]float64{snap.emaLatency, currentTPS, 0}
	regression := snap.bias
	for i, w := range snap.weights {
		regression += w * x[i]
	}

	emaComponent := clamp01(snap.emaLatency / 1000)
	regressionComponent := clamp01(regression)
	recurrentComponent := clamp01(snap.recurrent)

	return clamp01(0.4*emaComponent + 0.4*regressionComponent + 0.2*recurrentComponent)
}

// clamp01 maps NaN (left by a diverged regression) to 0 so Predict stays in
// [0,1].
func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
