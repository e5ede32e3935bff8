package policy

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// FromCounts turns non-negative weights into a distribution over legal
// actions: p(a) ∝ w(a)^(1/temp). temp == 0 puts all mass on the largest
// weight, lowest index first. No positive weight falls back to uniform.
func FromCounts(weights []float64, valid []bool, temp float64) []float64 {
	out := make([]float64, len(weights))
	legal := 0
	for a, w := range weights {
		if valid[a] && w > 0 {
			out[a] = w
		}
		if valid[a] {
			legal++
		}
	}
	if legal == 0 {
		return out
	}

	maxW := floats.Max(out)
	if maxW <= 0 {
		for a := range out {
			if valid[a] {
				out[a] = 1 / float64(legal)
			}
		}
		return out
	}

	if temp <= 0 {
		best := floats.MaxIdx(out)
		clear(out)
		out[best] = 1
		return out
	}

	inv := 1 / temp
	for a := range out {
		if out[a] > 0 {
			out[a] = math.Pow(out[a]/maxW, inv)
		}
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// FromQ turns action values in [-1, 1] into a distribution, weighting each
// legal action by (q+1)/2.
func FromQ(q []float32, valid []bool, temp float64) []float64 {
	if temp <= 0 {
		out := make([]float64, len(q))
		best := -1
		for a, ok := range valid {
			if ok && (best < 0 || q[a] > q[best]) {
				best = a
			}
		}
		if best >= 0 {
			out[best] = 1
		}
		return out
	}
	w := make([]float64, len(q))
	for a := range q {
		if valid[a] {
			w[a] = (float64(q[a]) + 1) / 2
		}
	}
	return FromCounts(w, valid, temp)
}

func intsToFloats(counts []int) []float64 {
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = float64(c)
	}
	return out
}

func float32sToFloats(p []float32) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = float64(v)
	}
	return out
}
