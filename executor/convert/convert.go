package convert

import (
	"sync"

	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

// Channel layout (6 total):
// 0: stones of the perspective player
// 1: stones of the other player
// 2: turn plane (ones when white is to move)
// 3: invalid moves for the player to move
// 4: previous move was a pass
// 5: game over
const (
	ChanSelf = iota
	ChanOther
	ChanTurn
	ChanInvalid
	ChanPass
	ChanDone
	Channels
)

// InputSize is the number of float32 values one state encodes to.
func InputSize(size int) int { return Channels * size * size }

var pools sync.Map // int -> *sync.Pool

func poolFor(size int) *sync.Pool {
	if p, ok := pools.Load(size); ok {
		return p.(*sync.Pool)
	}
	n := InputSize(size)
	p, _ := pools.LoadOrStore(size, &sync.Pool{
		New: func() interface{} {
			b := make([]float32, n)
			return &b
		},
	})
	return p.(*sync.Pool)
}

// GetFloatBuffer returns a zeroed buffer sized for a board.
func GetFloatBuffer(size int) *[]float32 {
	b := poolFor(size).Get().(*[]float32)
	clear(*b)
	return b
}

// PutFloatBuffer returns a buffer to the pool of its board size.
func PutFloatBuffer(size int, b *[]float32) {
	poolFor(size).Put(b)
}

// StateToFloat32 encodes the state into a pooled float32 slice suitable for ONNX input.
// Output shape: [Channels, Size, Size] (C, H, W)
// Caller must return it to the pool using PutFloatBuffer.
func StateToFloat32(state *game.State) *[]float32 {
	dataPtr := GetFloatBuffer(state.Size)
	EncodeInto(*dataPtr, state)
	return dataPtr
}

// EncodeInto writes the planes of state into dst, which must hold
// InputSize(state.Size) values.
func EncodeInto(dst []float32, state *game.State) {
	clear(dst)
	area := state.Size * state.Size
	plane := func(c int) []float32 { return dst[c*area : (c+1)*area] }

	self := state.Perspective
	if self == game.Empty {
		self = state.Turn
	}
	for i, c := range state.Board {
		switch c {
		case self:
			plane(ChanSelf)[i] = 1
		case self.Opponent():
			plane(ChanOther)[i] = 1
		}
	}

	fill := func(c int) {
		p := plane(c)
		for i := range p {
			p[i] = 1
		}
	}
	if state.Turn == game.White {
		fill(ChanTurn)
	}
	if state.PrevPass {
		fill(ChanPass)
	}
	if state.Done {
		fill(ChanDone)
	}

	valid := rules.ValidMoves(state)
	inv := plane(ChanInvalid)
	for i := 0; i < area; i++ {
		if !valid[i] {
			inv[i] = 1
		}
	}
}

// Batch encodes states back to back into one [N, C, H, W] slice. All
// states must share a board size.
func Batch(states []*game.State) []float32 {
	if len(states) == 0 {
		return nil
	}
	n := InputSize(states[0].Size)
	out := make([]float32, n*len(states))
	for i, s := range states {
		EncodeInto(out[i*n:(i+1)*n], s)
	}
	return out
}
