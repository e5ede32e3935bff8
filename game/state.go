// Package game defines the core game state types for Go (the board game).
//
// A State is a self-contained value: it knows its board size, whose turn it
// is, and which colour is presented as "self" to an evaluator. States are
// cheap to clone so the search tree can hold one per node.
package game

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Color is the occupant of a board point, or a player.
type Color int8

const (
	Empty Color = 0
	Black Color = 1
	White Color = 2
)

// Opponent returns the other player. Empty maps to Empty.
func (c Color) Opponent() Color {
	switch c {
	case Black:
		return White
	case White:
		return Black
	}
	return Empty
}

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	}
	return "empty"
}

// NoKo marks the absence of a ko-forbidden point.
const NoKo = -1

// Common board sizes.
const (
	SizeSmall  = 7
	SizeMedium = 13
	SizeLarge  = 19
)

// State is the complete state needed for rules + inference.
// Board holds absolute colours; Perspective selects which colour the encoder
// presents as "self".
type State struct {
	Size        int
	Board       []Color
	Turn        Color
	Perspective Color
	Ko          int
	PrevPass    bool
	Done        bool
	Moves       int
}

// NewState returns an empty board with black to move.
func NewState(size int) *State {
	return &State{
		Size:        size,
		Board:       make([]Color, size*size),
		Turn:        Black,
		Perspective: Black,
		Ko:          NoKo,
	}
}

// ActionSize is the number of actions on a board: one per point plus pass.
func ActionSize(size int) int { return size*size + 1 }

// PassAction is the index of the pass action for a board size.
func PassAction(size int) int { return size * size }

func (s *State) ActionSize() int { return ActionSize(s.Size) }
func (s *State) PassAction() int { return PassAction(s.Size) }

// Index converts a (row, col) pair to a point index.
func (s *State) Index(row, col int) int { return row*s.Size + col }

// RowCol converts a point index to (row, col).
func (s *State) RowCol(idx int) (int, int) { return idx / s.Size, idx % s.Size }

// At returns the colour at (row, col).
func (s *State) At(row, col int) Color { return s.Board[s.Index(row, col)] }

// Clone performs a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Board = make([]Color, len(s.Board))
	copy(out.Board, s.Board)
	return &out
}

// Equal reports whether two states are identical, perspective included.
func (s *State) Equal(o *State) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Size != o.Size || s.Turn != o.Turn || s.Perspective != o.Perspective ||
		s.Ko != o.Ko || s.PrevPass != o.PrevPass || s.Done != o.Done || s.Moves != o.Moves {
		return false
	}
	for i := range s.Board {
		if s.Board[i] != o.Board[i] {
			return false
		}
	}
	return true
}

// SamePosition is Equal without the perspective comparison.
func (s *State) SamePosition(o *State) bool {
	if s == nil || o == nil {
		return s == o
	}
	c := o.Clone()
	c.Perspective = s.Perspective
	return s.Equal(c)
}

// CanonicalForm returns a copy of s presented from turn's point of view.
// Applying it twice with the same turn is a no-op; applying it with
// complementary turns restores the original presentation.
func CanonicalForm(s *State, turn Color) *State {
	out := s.Clone()
	out.Perspective = turn
	return out
}

// Count returns the number of stones of colour c.
func (s *State) Count(c Color) int {
	n := 0
	for _, v := range s.Board {
		if v == c {
			n++
		}
	}
	return n
}

func (s *State) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "size=%d turn=%s moves=%d ko=%d prevPass=%v done=%v\n",
		s.Size, s.Turn, s.Moves, s.Ko, s.PrevPass, s.Done)
	for r := 0; r < s.Size; r++ {
		for c := 0; c < s.Size; c++ {
			switch s.At(r, c) {
			case Black:
				b.WriteByte('X')
			case White:
				b.WriteByte('O')
			default:
				if s.Index(r, c) == s.Ko {
					b.WriteByte('k')
				} else {
					b.WriteByte('.')
				}
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

const headerLen = 10

var ErrBadEncoding = errors.New("game: bad state encoding")

// MarshalBinary encodes the state as a fixed header followed by one byte per
// board point.
func (s *State) MarshalBinary() ([]byte, error) {
	if s.Size <= 0 || s.Size > 255 || len(s.Board) != s.Size*s.Size {
		return nil, fmt.Errorf("%w: size %d board %d", ErrBadEncoding, s.Size, len(s.Board))
	}
	buf := make([]byte, headerLen+len(s.Board))
	buf[0] = byte(s.Size)
	buf[1] = byte(s.Turn)
	buf[2] = byte(s.Perspective)
	var flags byte
	if s.PrevPass {
		flags |= 1
	}
	if s.Done {
		flags |= 2
	}
	buf[3] = flags
	binary.LittleEndian.PutUint16(buf[4:6], uint16(int16(s.Ko)))
	binary.LittleEndian.PutUint32(buf[6:10], uint32(s.Moves))
	for i, c := range s.Board {
		buf[headerLen+i] = byte(c)
	}
	return buf, nil
}

func (s *State) UnmarshalBinary(data []byte) error {
	if len(data) < headerLen {
		return fmt.Errorf("%w: short header", ErrBadEncoding)
	}
	size := int(data[0])
	if len(data) != headerLen+size*size {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrBadEncoding, headerLen+size*size, len(data))
	}
	s.Size = size
	s.Turn = Color(data[1])
	s.Perspective = Color(data[2])
	s.PrevPass = data[3]&1 != 0
	s.Done = data[3]&2 != 0
	s.Ko = int(int16(binary.LittleEndian.Uint16(data[4:6])))
	s.Moves = int(binary.LittleEndian.Uint32(data[6:10]))
	s.Board = make([]Color, size*size)
	for i := range s.Board {
		c := Color(data[headerLen+i])
		if c != Empty && c != Black && c != White {
			return fmt.Errorf("%w: point %d has colour %d", ErrBadEncoding, i, c)
		}
		s.Board[i] = c
	}
	return nil
}
