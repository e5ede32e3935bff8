package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	s := NewState(5)
	s.Board[s.Index(0, 1)] = Black
	s.Board[s.Index(2, 3)] = White
	s.Board[s.Index(4, 4)] = Black
	s.Turn = White
	s.Ko = s.Index(1, 1)
	s.Moves = 3
	return s
}

func TestNewState(t *testing.T) {
	s := NewState(SizeSmall)
	require.Equal(t, 49, len(s.Board))
	require.Equal(t, Black, s.Turn)
	require.Equal(t, Black, s.Perspective)
	require.Equal(t, NoKo, s.Ko)
	require.Equal(t, 50, s.ActionSize())
	require.Equal(t, 49, s.PassAction())
	require.Zero(t, s.Count(Black)+s.Count(White))
}

func TestCloneIsDeep(t *testing.T) {
	s := sampleState()
	c := s.Clone()
	require.True(t, s.Equal(c))
	c.Board[0] = White
	require.Equal(t, Empty, s.Board[0])
	require.False(t, s.Equal(c))
}

func TestCanonicalFormIdempotent(t *testing.T) {
	s := sampleState()
	for _, turn := range []Color{Black, White} {
		once := CanonicalForm(s, turn)
		twice := CanonicalForm(once, turn)
		require.True(t, once.Equal(twice), "turn %s", turn)
	}
}

func TestCanonicalFormInvolution(t *testing.T) {
	s := sampleState()
	require.Equal(t, Black, s.Perspective)
	back := CanonicalForm(CanonicalForm(s, White), Black)
	require.True(t, s.Equal(back))
	require.True(t, s.SamePosition(CanonicalForm(s, White)))
}

func TestBinaryRoundTrip(t *testing.T) {
	s := sampleState()
	s.PrevPass = true
	data, err := s.MarshalBinary()
	require.NoError(t, err)

	var out State
	require.NoError(t, out.UnmarshalBinary(data))
	require.True(t, s.Equal(&out), "before:\n%s\nafter:\n%s", s, &out)

	require.ErrorIs(t, out.UnmarshalBinary(data[:4]), ErrBadEncoding)
	require.ErrorIs(t, out.UnmarshalBinary(append(data, 0)), ErrBadEncoding)
}

func TestSymmetriesInverse(t *testing.T) {
	s := sampleState()
	syms := Symmetries(s)
	require.Len(t, syms, NumSymmetries)
	require.True(t, s.Equal(syms[0]))
	for k, img := range syms {
		require.Equal(t, s.Count(Black), img.Count(Black))
		back := Symmetry(img, InverseSymmetry(k))
		require.True(t, s.Equal(back), "symmetry %d:\n%s", k, back)
	}
}

func TestTransformActionKeepsPass(t *testing.T) {
	for k := 0; k < NumSymmetries; k++ {
		require.Equal(t, PassAction(5), TransformAction(5, PassAction(5), k))
	}
	// Quarter turn clockwise sends the top-left corner to the top-right.
	require.Equal(t, 4, TransformAction(5, 0, 1))
}

func TestTransformPolicyFollowsBoard(t *testing.T) {
	s := NewState(3)
	s.Board[1] = Black
	pi := make([]float32, s.ActionSize())
	pi[1] = 1
	for k := 0; k < NumSymmetries; k++ {
		img := Symmetry(s, k)
		tp := TransformPolicy(3, pi, k)
		for a := 0; a < 9; a++ {
			require.Equal(t, img.Board[a] == Black, tp[a] == 1, "k=%d a=%d", k, a)
		}
	}
}
