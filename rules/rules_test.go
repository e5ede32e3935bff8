package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AllenAnZifeng/Go-AI/game"
)

// pass is a test-only marker for the pass action.
var pass = []int{-1, -1}

func action(s *game.State, mv []int) int {
	if mv[0] < 0 {
		return s.PassAction()
	}
	return s.Index(mv[0], mv[1])
}

func play(t *testing.T, s *game.State, moves ...[]int) *game.State {
	t.Helper()
	for i, mv := range moves {
		next, err := NextState(s, action(s, mv))
		require.NoError(t, err, "move %d %v on\n%s", i, mv, s)
		s = next
	}
	t.Logf("after %d moves:\n%s", len(moves), s)
	return s
}

func mv(r, c int) []int { return []int{r, c} }

func TestBlackMovesFirstAndPlayersAlternate(t *testing.T) {
	s := game.NewState(game.SizeSmall)
	for i := 0; i < 7; i++ {
		before := s.Turn
		s = play(t, s, mv(i, 0))
		require.Equal(t, before, s.At(i, 0))
		require.Equal(t, before.Opponent(), s.Turn)
		require.False(t, s.Done)
	}
	require.Equal(t, game.Black, s.At(0, 0))
	require.Equal(t, game.White, s.At(1, 0))
}

func TestPassingLeavesBoard(t *testing.T) {
	s := play(t, game.NewState(game.SizeSmall), pass)
	require.Zero(t, s.Count(game.Black)+s.Count(game.White))
	require.Equal(t, game.White, s.Turn)
	require.True(t, s.PrevPass)

	s = play(t, game.NewState(game.SizeSmall), mv(0, 0), pass)
	require.Equal(t, 1, s.Count(game.Black))
	require.Equal(t, game.Black, s.Turn)
}

func TestOutOfBoundsAndOccupied(t *testing.T) {
	s := game.NewState(game.SizeSmall)
	_, err := NextState(s, -1)
	require.ErrorIs(t, err, ErrIllegalMove)
	_, err = NextState(s, s.ActionSize())
	require.ErrorIs(t, err, ErrIllegalMove)

	s = play(t, s, mv(3, 4))
	_, err = NextState(s, s.Index(3, 4))
	var ill *IllegalMoveError
	require.ErrorAs(t, err, &ill)
	require.Equal(t, "occupied", ill.Reason)
}

func TestKoProtection(t *testing.T) {
	s := play(t, game.NewState(game.SizeSmall),
		mv(0, 1), mv(0, 2), mv(1, 0), mv(1, 3), mv(2, 1), mv(2, 2), mv(1, 2), mv(1, 1))

	require.Equal(t, 3, s.Count(game.Black))
	require.Equal(t, 4, s.Count(game.White))
	require.Equal(t, game.Empty, s.At(1, 2))
	require.Equal(t, s.Index(1, 2), s.Ko)
	require.False(t, ValidMoves(s)[s.Index(1, 2)])

	_, err := NextState(s, s.Index(1, 2))
	require.ErrorIs(t, err, ErrIllegalMove)

	// After an exchange elsewhere the recapture is legal.
	s = play(t, s, mv(6, 6), mv(6, 0))
	require.Equal(t, game.NoKo, s.Ko)
	require.True(t, IsValid(s, s.Index(1, 2)))
	s = play(t, s, mv(1, 2))
	require.Equal(t, game.Empty, s.At(1, 1))
}

func TestValidNoLibertyMoveCaptures(t *testing.T) {
	s := game.NewState(game.SizeSmall)
	s = play(t, s, mv(0, 1), mv(0, 2), mv(1, 0), mv(1, 3), mv(2, 1), mv(2, 2), mv(1, 2))
	require.True(t, ValidMoves(s)[s.Index(1, 1)])
}

func TestSuicideIsIllegal(t *testing.T) {
	s := play(t, game.NewState(game.SizeSmall),
		mv(0, 1), mv(0, 2), mv(1, 0), mv(1, 4), mv(2, 1), mv(2, 2), mv(1, 2))

	require.False(t, ValidMoves(s)[s.Index(1, 1)])
	_, err := NextState(s, s.Index(1, 1))
	var ill *IllegalMoveError
	require.ErrorAs(t, err, &ill)
	require.Equal(t, "suicide", ill.Reason)
}

func TestSimpleCapture(t *testing.T) {
	s := play(t, game.NewState(game.SizeSmall),
		mv(0, 1), mv(1, 1), mv(1, 0), pass, mv(1, 2), pass, mv(2, 1))
	require.Equal(t, 0, s.Count(game.White))
	require.Equal(t, 4, s.Count(game.Black))
}

func TestLargeGroupCapture(t *testing.T) {
	s := play(t, game.NewState(game.SizeSmall),
		mv(2, 2), mv(1, 2), mv(2, 3), mv(1, 3), mv(2, 4), mv(1, 4), mv(3, 4), mv(2, 5), mv(3, 3), mv(3, 5),
		mv(3, 2), mv(4, 4), pass, mv(4, 3), pass, mv(4, 2), pass, mv(3, 1), pass, mv(2, 1))
	require.Equal(t, 0, s.Count(game.Black))
	require.Equal(t, 10, s.Count(game.White))
}

func TestGroupEdgeCapture(t *testing.T) {
	s := play(t, game.NewState(game.SizeSmall),
		mv(0, 0), mv(0, 2), mv(0, 1), mv(1, 2), mv(1, 1), mv(2, 1), mv(1, 0), mv(2, 0))
	require.Equal(t, 0, s.Count(game.Black))
	require.Equal(t, 4, s.Count(game.White))
}

func TestCannotCaptureGroupWithMultipleHoles(t *testing.T) {
	s := play(t, game.NewState(game.SizeSmall),
		mv(1, 1), mv(0, 1), mv(1, 2), mv(0, 2), mv(1, 3), mv(0, 3), mv(1, 4), mv(0, 4), mv(1, 5), mv(0, 5),
		mv(2, 5), mv(1, 6), mv(3, 5), mv(2, 6), mv(3, 4), mv(3, 6), mv(3, 3), mv(4, 5), mv(2, 3), mv(4, 4),
		mv(3, 2), mv(4, 3), mv(3, 1), mv(4, 2), mv(2, 1), mv(4, 1), pass, mv(3, 0), pass, mv(2, 0), pass,
		mv(1, 0), pass)

	_, err := NextState(s, s.Index(2, 2))
	require.ErrorIs(t, err, ErrIllegalMove)
}

func TestTwoConsecutivePassesEndGame(t *testing.T) {
	s := play(t, game.NewState(game.SizeSmall), pass)
	require.False(t, s.Done)
	s = play(t, s, pass)
	require.True(t, s.Done)
	require.True(t, IsTerminal(s))

	for _, a := range []int{s.PassAction(), 0} {
		_, err := NextState(s, a)
		require.ErrorIs(t, err, ErrIllegalMove)
	}
	for _, ok := range ValidMoves(s) {
		require.False(t, ok)
	}
}

func TestDisjointPassesDoNotEndGame(t *testing.T) {
	s := play(t, game.NewState(game.SizeSmall), pass, mv(0, 0), pass)
	require.False(t, s.Done)
}

func TestRealReward(t *testing.T) {
	s := game.NewState(game.SizeSmall)
	s = play(t, s, mv(0, 0))
	require.Zero(t, Reward(s))
	s = play(t, s, pass)
	require.Zero(t, Reward(s))
	s = play(t, s, pass)
	require.Equal(t, float32(1), Reward(s))
	require.Equal(t, game.Black, Winner(s))

	s = play(t, game.NewState(game.SizeSmall), pass, mv(0, 0), pass, pass)
	require.Equal(t, float32(-1), Reward(s))
	require.Equal(t, float32(1), Outcome(s, game.White))
}

func TestAreaDifference(t *testing.T) {
	s := game.NewState(game.SizeSmall)
	require.Zero(t, AreaDifference(s))
	require.Equal(t, game.Empty, Winner(s))

	s = play(t, s, mv(0, 0))
	require.Equal(t, 49, AreaDifference(s))
	s = play(t, s, mv(0, 1))
	require.Equal(t, 0, AreaDifference(s))
	s = play(t, s, pass, mv(1, 0))
	require.Equal(t, -49, AreaDifference(s))
}

func TestEmptyBoardAllValid(t *testing.T) {
	for _, size := range []int{game.SizeSmall, game.SizeMedium, game.SizeLarge} {
		s := game.NewState(size)
		valid := ValidMoves(s)
		require.Len(t, valid, size*size+1)
		for a, ok := range valid {
			require.True(t, ok, "size %d action %d", size, a)
		}
	}
}
