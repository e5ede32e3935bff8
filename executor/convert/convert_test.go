package convert

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

func TestEncodePerspective(t *testing.T) {
	s := game.NewState(5)
	s, err := rules.NextState(s, s.Index(1, 1))
	require.NoError(t, err)

	// White to move: from white's seat the black stone is "other".
	white := game.CanonicalForm(s, game.White)
	buf := StateToFloat32(white)
	defer PutFloatBuffer(5, buf)
	data := *buf
	area := 25
	idx := s.Index(1, 1)
	require.Equal(t, float32(0), data[ChanSelf*area+idx])
	require.Equal(t, float32(1), data[ChanOther*area+idx])
	require.Equal(t, float32(1), data[ChanTurn*area])
	require.Equal(t, float32(1), data[ChanInvalid*area+idx])
	require.Equal(t, float32(0), data[ChanPass*area])

	black := game.CanonicalForm(s, game.Black)
	data2 := Batch([]*game.State{black})
	require.Equal(t, float32(1), data2[ChanSelf*area+idx])
	require.Equal(t, float32(0), data2[ChanOther*area+idx])
}

func TestBatchLayout(t *testing.T) {
	a := game.NewState(3)
	b, err := rules.NextState(a, a.PassAction())
	require.NoError(t, err)

	out := Batch([]*game.State{a, b})
	n := InputSize(3)
	require.Len(t, out, 2*n)
	require.Equal(t, float32(0), out[ChanPass*9])
	require.Equal(t, float32(1), out[n+ChanPass*9])
}

func TestPooledBufferIsCleared(t *testing.T) {
	buf := GetFloatBuffer(4)
	for i := range *buf {
		(*buf)[i] = 7
	}
	PutFloatBuffer(4, buf)
	again := GetFloatBuffer(4)
	for _, v := range *again {
		require.Zero(t, v)
	}
}
