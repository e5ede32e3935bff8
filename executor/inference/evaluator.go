package inference

import (
	"errors"
	"sync/atomic"

	"github.com/chewxy/math32"

	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

// ErrMalformedOutput is returned when an evaluator's output does not match
// the requested batch.
var ErrMalformedOutput = errors.New("inference: malformed evaluator output")

// Evaluator scores canonical states. Values are in [-1, 1] from the point of
// view of each state's Perspective. Priors is one distribution over the
// action space per state, or nil for value-only evaluators.
type Evaluator interface {
	Evaluate(states []*game.State) (priors [][]float32, values []float32, err error)
}

// ValueFunc adapts a plain value function to Evaluator.
type ValueFunc func(states []*game.State) ([]float32, error)

func (f ValueFunc) Evaluate(states []*game.State) ([][]float32, []float32, error) {
	values, err := f(states)
	if err != nil {
		return nil, nil, err
	}
	if len(values) != len(states) {
		return nil, nil, ErrMalformedOutput
	}
	return nil, values, nil
}

// CheckOutput validates the shape of an evaluator result.
func CheckOutput(states []*game.State, priors [][]float32, values []float32) error {
	if len(values) != len(states) {
		return ErrMalformedOutput
	}
	if priors == nil {
		return nil
	}
	if len(priors) != len(states) {
		return ErrMalformedOutput
	}
	for i, p := range priors {
		if len(p) != states[i].ActionSize() {
			return ErrMalformedOutput
		}
	}
	return nil
}

// Softmax turns a row of policy logits into probabilities in place. The row
// is shifted by its maximum before exponentiating; log-probabilities map back
// to the same distribution.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return logits
	}
	maxL := math32.Inf(-1)
	for _, l := range logits {
		if l > maxL {
			maxL = l
		}
	}
	if math32.IsInf(maxL, 0) || math32.IsNaN(maxL) {
		return logits
	}
	var sum float32
	for i, l := range logits {
		e := math32.Exp(l - maxL)
		logits[i] = e
		sum += e
	}
	for i := range logits {
		logits[i] /= sum
	}
	return logits
}

// MaskPriors zeroes the prior of every illegal action and renormalizes in
// place. Non-finite or negative entries count as zero. When no mass is left
// the prior becomes uniform over the legal actions.
func MaskPriors(prior []float32, valid []bool) []float32 {
	var sum float32
	legal := 0
	for a := range prior {
		p := prior[a]
		if !valid[a] || math32.IsNaN(p) || math32.IsInf(p, 0) || p < 0 {
			prior[a] = 0
		}
		if valid[a] {
			legal++
		}
		sum += prior[a]
	}
	if legal == 0 {
		return prior
	}
	if sum <= 0 {
		u := 1 / float32(legal)
		for a := range prior {
			if valid[a] {
				prior[a] = u
			}
		}
		return prior
	}
	for a := range prior {
		prior[a] /= sum
	}
	return prior
}

// AreaValue is the greedy heuristic: the exact outcome for finished games,
// otherwise the area lead of the perspective player divided by the board area.
func AreaValue(states []*game.State) ([]float32, error) {
	out := make([]float32, len(states))
	for i, s := range states {
		out[i] = areaValue(s)
	}
	return out, nil
}

func areaValue(s *game.State) float32 {
	me := s.Perspective
	if me == game.Empty {
		me = s.Turn
	}
	if s.Done {
		return rules.Outcome(s, me)
	}
	diff := float32(rules.AreaDifference(s))
	if me == game.White {
		diff = -diff
	}
	v := diff / float32(s.Size*s.Size)
	return math32.Max(-1, math32.Min(1, v))
}

// Uniform turns a value function into an actor-critic evaluator with flat
// priors over the action space.
type Uniform struct {
	Value ValueFunc
}

func (u Uniform) Evaluate(states []*game.State) ([][]float32, []float32, error) {
	values, err := u.Value(states)
	if err != nil {
		return nil, nil, err
	}
	priors := make([][]float32, len(states))
	for i, s := range states {
		p := make([]float32, s.ActionSize())
		for a := range p {
			p[a] = 1 / float32(len(p))
		}
		priors[i] = p
	}
	return priors, values, nil
}

// Counting wraps an evaluator and counts evaluated states.
type Counting struct {
	Inner Evaluator
	n     atomic.Int64
}

func (c *Counting) Evaluate(states []*game.State) ([][]float32, []float32, error) {
	c.n.Add(int64(len(states)))
	return c.Inner.Evaluate(states)
}

// Count returns the number of states evaluated so far.
func (c *Counting) Count() int64 { return c.n.Load() }
