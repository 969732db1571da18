// Package score derives the link stability score and jitter from raw probe values.
package score

import "math"

// Weights and midpoints of the stability curve. A midpoint is the "good" threshold of its
// input: at the midpoint the component contributes half its weight.
const (
	Steepness = 0.1

	PingMidpoint   = 50.0 // ms
	JitterMidpoint = 10.0 // ms
	LossMidpoint   = 0.5  // percent

	PingWeight   = 0.40
	JitterWeight = 0.35
	LossWeight   = 0.25
)

// Stability combines ping (ms), jitter (ms) and packet loss (percent) into a score in
// [0,100], rounded to one decimal. It is non-increasing in every argument.
func Stability(ping, jitter, packetLoss float64) float64 {
	s := component(ping, PingMidpoint, PingWeight) +
		component(jitter, JitterMidpoint, JitterWeight) +
		component(packetLoss, LossMidpoint, LossWeight)
	s = math.Max(0, math.Min(100, s))
	return math.Round(s*10) / 10
}

func component(x, mid, weight float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return 100 * weight / (1 + math.Exp(-Steepness*(mid-x)))
}

// Jitter is the mean absolute difference between consecutive samples. Fewer than two
// samples yield 0, the unmeasured value.
func Jitter(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(samples); i++ {
		sum += math.Abs(samples[i] - samples[i-1])
	}
	return sum / float64(len(samples)-1)
}
