// Package adapt provides adaptive Opus bitrate selection based on the
// fraction of frames the collector has had to drop, since this point-to-
// point link has no round-trip measurement of its own.
package adapt

import "math"

// Ladder is the ordered list of Opus target bitrate steps in kbps.
// The range covers from barely-intelligible emergency quality (8 kbps)
// up to high-fidelity voice (48 kbps).
var Ladder = []int{8, 12, 16, 24, 32, 48}

// DefaultKbps is the starting bitrate for a new connection.
const DefaultKbps = 32

// NextBitrate returns the next Opus target bitrate (kbps) to use, given the
// current encoder setting and the frame loss rate observed over the last
// measurement interval (collector.Stats.FramesDropped /
// (FramesDropped + FramesEmitted)).
//
// Adaptation rules:
//   - Step DOWN one rung when frame loss exceeds 5%.
//   - Step UP one rung when loss is under 1%.
//   - Otherwise HOLD the current rung.
//
// The function always returns a value that is in Ladder.
func NextBitrate(current int, lossRate float64) int {
	idx := stepIndex(current)
	switch {
	case lossRate > 0.05 && idx > 0:
		return Ladder[idx-1]
	case lossRate < 0.01 && idx < len(Ladder)-1:
		return Ladder[idx+1]
	default:
		return Ladder[idx]
	}
}

// stepIndex returns the index of the Ladder rung closest to kbps.
func stepIndex(kbps int) int {
	best, bestDist := 0, iabs(kbps-Ladder[0])
	for i, step := range Ladder {
		if d := iabs(kbps - step); d < bestDist {
			bestDist, best = d, i
		}
	}
	return best
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// DefaultJitterDepth is the starting playback FIFO target depth, in 20 ms
// frames. One frame is optimistic for a LAN-grade link; TargetJitterDepth
// grows it when the measured jitter or loss calls for more cushion.
const DefaultJitterDepth = 1

// maxJitterDepth bounds how much latency the adaptive loop will trade for
// smoothness — 8 frames is 160 ms, already past comfortable for a live
// voice call.
const maxJitterDepth = 8

// lossBonusThreshold is the loss rate above which an extra frame of depth
// is added on top of what jitter alone would call for.
const lossBonusThreshold = 0.05

// TargetJitterDepth returns the playback FIFO target depth, in 20 ms
// frames, for the given measured inter-arrival jitter (ms) and frame loss
// rate. jitterMs <= 0 means no measurement yet, so the optimistic default
// is used rather than assuming a noisy link.
func TargetJitterDepth(jitterMs, lossRate float64) int {
	if jitterMs <= 0 {
		return DefaultJitterDepth
	}

	depth := int(math.Ceil(jitterMs/20)) + 1
	if lossRate > lossBonusThreshold {
		depth++
	}
	if depth > maxJitterDepth {
		depth = maxJitterDepth
	}
	return depth
}

// SmoothLoss applies an exponentially-weighted moving average to a raw loss
// sample, so a single bad measurement interval doesn't whip the bitrate
// ladder or jitter depth around. alpha in (0, 1]; higher reacts faster.
func SmoothLoss(prevSmoothed, sample, alpha float64) float64 {
	return prevSmoothed + alpha*(sample-prevSmoothed)
}
