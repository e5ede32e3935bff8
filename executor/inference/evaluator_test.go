package inference

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

func sum(p []float32) float64 {
	var s float64
	for _, v := range p {
		s += float64(v)
	}
	return s
}

func TestMaskPriorsRenormalizes(t *testing.T) {
	prior := []float32{0.5, 0.25, 0.25}
	valid := []bool{false, true, true}
	MaskPriors(prior, valid)
	require.Zero(t, prior[0])
	require.InDelta(t, 0.5, prior[1], 1e-6)
	require.InDelta(t, 1.0, sum(prior), 1e-6)
}

func TestMaskPriorsPassOnlyFallsBackToUniform(t *testing.T) {
	// All mass on illegal moves, only pass is legal.
	prior := []float32{0.7, 0.3, 0}
	valid := []bool{false, false, true}
	MaskPriors(prior, valid)
	require.Equal(t, []float32{0, 0, 1}, prior)
}

func TestMaskPriorsDropsNonFinite(t *testing.T) {
	prior := []float32{float32(math.NaN()), float32(math.Inf(1)), -1, 2}
	valid := []bool{true, true, true, true}
	MaskPriors(prior, valid)
	require.Equal(t, []float32{0, 0, 0, 1}, prior)
}

func TestAreaValuePerspective(t *testing.T) {
	s := game.NewState(game.SizeSmall)
	s, err := rules.NextState(s, 0)
	require.NoError(t, err)

	vals, err := AreaValue([]*game.State{game.CanonicalForm(s, game.Black), game.CanonicalForm(s, game.White)})
	require.NoError(t, err)
	require.Equal(t, float32(1), vals[0])
	require.Equal(t, float32(-1), vals[1])

	s, err = rules.NextState(s, s.Index(0, 1))
	require.NoError(t, err)
	vals, err = AreaValue([]*game.State{s})
	require.NoError(t, err)
	require.Zero(t, vals[0])
}

func TestAreaValueTerminalUsesOutcome(t *testing.T) {
	s := game.NewState(game.SizeSmall)
	for _, a := range []int{3, s.PassAction(), s.Index(6, 6), s.PassAction(), s.PassAction()} {
		next, err := rules.NextState(s, a)
		require.NoError(t, err)
		s = next
	}
	require.True(t, s.Done)
	// White to move, black owns the board.
	vals, err := AreaValue([]*game.State{game.CanonicalForm(s, s.Turn)})
	require.NoError(t, err)
	require.Equal(t, float32(-1), vals[0])
}

func TestUniformAndCounting(t *testing.T) {
	c := &Counting{Inner: Uniform{Value: AreaValue}}
	states := []*game.State{game.NewState(3), game.NewState(3)}
	priors, values, err := c.Evaluate(states)
	require.NoError(t, err)
	require.NoError(t, CheckOutput(states, priors, values))
	require.InDelta(t, 1.0, sum(priors[0]), 1e-6)
	require.Equal(t, int64(2), c.Count())
}

func TestValueFuncRejectsShortOutput(t *testing.T) {
	f := ValueFunc(func(states []*game.State) ([]float32, error) { return nil, nil })
	_, _, err := f.Evaluate([]*game.State{game.NewState(3)})
	require.True(t, errors.Is(err, ErrMalformedOutput))

	require.ErrorIs(t, CheckOutput([]*game.State{game.NewState(3)}, [][]float32{{1}}, []float32{0}), ErrMalformedOutput)
}
