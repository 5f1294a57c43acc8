// Package aec provides a Normalized Least Mean Squares (NLMS) acoustic echo
// canceller operating on mono int16 PCM at the device's native frame size.
//
// Usage:
//
//	canceller := aec.New(aec.DefaultTaps, aec.DefaultStep)
//
//	// In the playback phase of a device tick, AFTER filling the output buffer:
//	canceller.OnPlayback(out)
//
//	// In the capture phase of the SAME tick, BEFORE any other processing:
//	canceller.Process(in) // modifies in place
package aec

import (
	"math"
	"sync"
)

const (
	// DefaultTaps is the NLMS filter length L (samples). 1024 taps at 48 kHz
	// covers roughly 21 ms of acoustic path, enough for typical speaker-to-mic
	// coupling without a separate bulk-delay stage.
	DefaultTaps = 1024

	// DefaultStep is the NLMS step size mu. 0.2 converges quickly while the
	// power normalisation keeps it stable across level changes.
	DefaultStep = 0.2

	// epsilon regularises the NLMS normaliser so a silent reference doesn't
	// divide by zero.
	epsilon = 1e-6
)

// AEC is an NLMS-based acoustic echo canceller holding one contiguous
// far-end reference buffer and one adaptive filter.
//
// ref[0] always holds the most recently played far-end sample; OnPlayback
// shifts the buffer to make room for each new sample, exactly as the filter
// taps expect. Process reads a snapshot of the buffer once per call (not per
// sample) since only OnPlayback mutates it between calls; the filter
// weights are touched only by Process, so no lock is required between the
// two as long as the caller renders before it captures within a device
// tick, per the pipeline's ordering contract.
type AEC struct {
	mu      sync.Mutex
	enabled bool

	weights []float64 // adaptive filter coefficients, len tapLen
	ref     []float64 // far-end reference, index 0 = newest, len tapLen
	tapLen  int
	step    float64
}

// New creates an AEC with the given filter length (taps) and NLMS step size.
// taps <= 0 uses DefaultTaps; step <= 0 uses DefaultStep.
func New(taps int, step float64) *AEC {
	if taps <= 0 {
		taps = DefaultTaps
	}
	if step <= 0 {
		step = DefaultStep
	}
	return &AEC{
		enabled: true,
		weights: make([]float64, taps),
		ref:     make([]float64, taps),
		tapLen:  taps,
		step:    step,
	}
}

// SetEnabled enables or disables echo cancellation. Enabling resets the
// filter weights so adaptation starts cleanly.
func (a *AEC) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	if enabled {
		for i := range a.weights {
			a.weights[i] = 0
		}
	}
	a.mu.Unlock()
}

// SetStep adjusts the NLMS step size (mu) at runtime.
func (a *AEC) SetStep(step float64) {
	if step <= 0 {
		return
	}
	a.mu.Lock()
	a.step = step
	a.mu.Unlock()
}

// Reset zeros the filter weights and the reference buffer. Safe to call at
// any time but intended to be invoked only between device ticks.
func (a *AEC) Reset() {
	a.mu.Lock()
	for i := range a.weights {
		a.weights[i] = 0
	}
	for i := range a.ref {
		a.ref[i] = 0
	}
	a.mu.Unlock()
}

// OnPlayback appends far-end samples to the rolling reference buffer. Call
// this from the render phase of a device tick, after the final mix has been
// written to the output buffer, so the reference matches exactly what the
// loudspeaker will emit.
func (a *AEC) OnPlayback(samples []int16) {
	a.mu.Lock()
	for _, s := range samples {
		copy(a.ref[1:], a.ref[:len(a.ref)-1])
		a.ref[0] = float64(s) / 32768
	}
	a.mu.Unlock()
}

// Process applies echo cancellation to a captured frame in-place. Call this
// from the capture phase of a device tick, before any other processing
// stage, using the reference recorded by OnPlayback earlier in the same
// tick.
//
// Per sample d: echo estimate y = Σ w[k]·x[k]; error e = d_f − y; reference
// power P = Σ x[k]²; if P > 0, w[k] += (step/(ε+P))·e·x[k]. Output is
// clamp(e·32768, −32768, 32767). The reference snapshot and its power are
// fixed for the whole frame, matching the contract that OnPlayback (not
// Process) is what advances the reference.
func (a *AEC) Process(frame []int16) {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return
	}
	ref := make([]float64, a.tapLen)
	copy(ref, a.ref)
	a.mu.Unlock()

	var power float64
	for _, x := range ref {
		power += x * x
	}

	for i, d := range frame {
		df := float64(d) / 32768

		var y float64
		for k := 0; k < a.tapLen; k++ {
			y += a.weights[k] * ref[k]
		}
		e := df - y

		if power > 0 {
			muEff := a.step / (epsilon + power)
			for k := 0; k < a.tapLen; k++ {
				a.weights[k] += muEff * e * ref[k]
			}
		}

		frame[i] = clampInt16(e * 32768)
	}

	if !allFinite(a.weights) {
		for i := range a.weights {
			a.weights[i] = 0
		}
	}
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
