package score

import (
	"math"
	"testing"
)

func TestStabilityBounds(t *testing.T) {
	t.Parallel()
	inputs := []float64{0, 0.1, 0.5, 1, 5, 10, 50, 100, 500, 1e4, 1e9, math.Inf(1)}
	for _, p := range inputs {
		for _, j := range inputs {
			for _, l := range inputs {
				s := Stability(p, j, l)
				if s < 0 || s > 100 {
					t.Fatalf("Stability(%v,%v,%v)=%v out of range", p, j, l, s)
				}
			}
		}
	}
}

func TestStabilityMonotonic(t *testing.T) {
	t.Parallel()
	steps := []float64{0, 1, 5, 10, 20, 50, 80, 150, 400}
	base := []float64{20, 3, 0.2}
	for arg := 0; arg < 3; arg++ {
		prev := math.Inf(1)
		for _, v := range steps {
			in := append([]float64(nil), base...)
			in[arg] = v
			s := Stability(in[0], in[1], in[2])
			if s > prev {
				t.Fatalf("arg %d: score rose from %v to %v at %v", arg, prev, s, v)
			}
			prev = s
		}
	}
}

func TestStabilityKnownPoints(t *testing.T) {
	t.Parallel()
	// Every input at its midpoint contributes half its weight.
	if got := Stability(PingMidpoint, JitterMidpoint, LossMidpoint); got != 50 {
		t.Fatalf("midpoints=%v want 50", got)
	}
	// The loss curve is shallow, so a perfect link tops out well below 100.
	if got := Stability(0, 0, 0); got < 78 || got > 78.2 {
		t.Fatalf("perfect link=%v", got)
	}
	if got := Stability(1000, 1000, 100); got != 0 {
		t.Fatalf("dead link=%v want 0", got)
	}
}

func TestJitter(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{42}, 0},
		{"three", []float64{20, 25, 15}, 7.5},
		{"flat", []float64{10, 10, 10, 10}, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Jitter(tc.in); got != tc.want {
				t.Fatalf("Jitter(%v)=%v want %v", tc.in, got, tc.want)
			}
		})
	}
}
