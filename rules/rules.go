package rules

import (
	"errors"
	"fmt"

	"github.com/AllenAnZifeng/Go-AI/game"
)

// ErrIllegalMove is matched by every IllegalMoveError.
var ErrIllegalMove = errors.New("illegal move")

// IllegalMoveError describes why an action was rejected.
type IllegalMoveError struct {
	Action int
	Reason string
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move %d: %s", e.Action, e.Reason)
}

func (e *IllegalMoveError) Is(target error) bool { return target == ErrIllegalMove }

// neighbors appends the orthogonal neighbours of idx to dst.
func neighbors(dst []int, size, idx int) []int {
	r, c := idx/size, idx%size
	if r > 0 {
		dst = append(dst, idx-size)
	}
	if r < size-1 {
		dst = append(dst, idx+size)
	}
	if c > 0 {
		dst = append(dst, idx-1)
	}
	if c < size-1 {
		dst = append(dst, idx+1)
	}
	return dst
}

// group flood-fills the chain containing idx and returns its stones and the
// number of distinct liberties.
func group(board []game.Color, size, idx int) ([]int, int) {
	color := board[idx]
	seen := make(map[int]bool, 8)
	libs := make(map[int]bool, 8)
	stack := []int{idx}
	seen[idx] = true
	var stones []int
	var nb [4]int
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stones = append(stones, p)
		for _, q := range neighbors(nb[:0], size, p) {
			switch board[q] {
			case game.Empty:
				libs[q] = true
			case color:
				if !seen[q] {
					seen[q] = true
					stack = append(stack, q)
				}
			}
		}
	}
	return stones, len(libs)
}

// Turn returns the player to move.
func Turn(s *game.State) game.Color { return s.Turn }

// IsTerminal reports whether the game has ended.
func IsTerminal(s *game.State) bool { return s.Done }

func legalPoint(s *game.State, idx int) bool {
	if s.Board[idx] != game.Empty || idx == s.Ko {
		return false
	}
	me := s.Turn
	var nb [4]int
	for _, q := range neighbors(nb[:0], s.Size, idx) {
		switch s.Board[q] {
		case game.Empty:
			return true
		case me:
			// idx itself is one of the chain's liberties.
			if _, libs := group(s.Board, s.Size, q); libs > 1 {
				return true
			}
		default:
			if _, libs := group(s.Board, s.Size, q); libs == 1 {
				return true
			}
		}
	}
	return false
}

// ValidMoves returns a mask over the action space. Pass is legal while the
// game is running; nothing is legal once it has ended.
func ValidMoves(s *game.State) []bool {
	valid := make([]bool, s.ActionSize())
	if s.Done {
		return valid
	}
	for i := range s.Board {
		valid[i] = legalPoint(s, i)
	}
	valid[s.PassAction()] = true
	return valid
}

// IsValid reports whether action may be played in s.
func IsValid(s *game.State, action int) bool {
	if s.Done || action < 0 || action > s.PassAction() {
		return false
	}
	if action == s.PassAction() {
		return true
	}
	return legalPoint(s, action)
}

// NextState applies action for the player to move. The input is not modified.
func NextState(s *game.State, action int) (*game.State, error) {
	if s.Done {
		return nil, &IllegalMoveError{Action: action, Reason: "game is over"}
	}
	if action < 0 || action > s.PassAction() {
		return nil, &IllegalMoveError{Action: action, Reason: "out of bounds"}
	}

	next := s.Clone()
	next.Moves++
	next.Turn = s.Turn.Opponent()
	next.Ko = game.NoKo

	if action == s.PassAction() {
		if s.PrevPass {
			next.Done = true
		}
		next.PrevPass = true
		return next, nil
	}

	switch {
	case s.Board[action] != game.Empty:
		return nil, &IllegalMoveError{Action: action, Reason: "occupied"}
	case action == s.Ko:
		return nil, &IllegalMoveError{Action: action, Reason: "ko"}
	}

	me, opp := s.Turn, s.Turn.Opponent()
	next.PrevPass = false
	next.Board[action] = me

	captured := 0
	lastCaptured := game.NoKo
	var nb [4]int
	for _, q := range neighbors(nb[:0], s.Size, action) {
		if next.Board[q] != opp {
			continue
		}
		stones, libs := group(next.Board, s.Size, q)
		if libs > 0 {
			continue
		}
		for _, p := range stones {
			next.Board[p] = game.Empty
		}
		captured += len(stones)
		lastCaptured = stones[0]
	}

	stones, libs := group(next.Board, s.Size, action)
	if libs == 0 {
		return nil, &IllegalMoveError{Action: action, Reason: "suicide"}
	}
	if captured == 1 && len(stones) == 1 && libs == 1 {
		next.Ko = lastCaptured
	}
	return next, nil
}

// Areas returns the area scores: stones plus empty regions that border only
// one colour.
func Areas(s *game.State) (black, white int) {
	seen := make([]bool, len(s.Board))
	var nb [4]int
	for i, c := range s.Board {
		switch c {
		case game.Black:
			black++
			continue
		case game.White:
			white++
			continue
		}
		if seen[i] {
			continue
		}
		region := 0
		var borders game.Color
		mixed := false
		stack := []int{i}
		seen[i] = true
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			region++
			for _, q := range neighbors(nb[:0], s.Size, p) {
				switch v := s.Board[q]; v {
				case game.Empty:
					if !seen[q] {
						seen[q] = true
						stack = append(stack, q)
					}
				default:
					if borders == game.Empty {
						borders = v
					} else if borders != v {
						mixed = true
					}
				}
			}
		}
		if mixed {
			continue
		}
		switch borders {
		case game.Black:
			black += region
		case game.White:
			white += region
		}
	}
	return black, white
}

// Winner returns the colour with the larger area, or Empty on a tie.
// No komi is applied.
func Winner(s *game.State) game.Color {
	b, w := Areas(s)
	switch {
	case b > w:
		return game.Black
	case w > b:
		return game.White
	}
	return game.Empty
}

// Outcome scores s from c's point of view: +1 win, -1 loss, 0 draw.
func Outcome(s *game.State, c game.Color) float32 {
	switch Winner(s) {
	case c:
		return 1
	case game.Empty:
		return 0
	}
	return -1
}

// Reward is the black-relative reward: the outcome once the game is over
// and 0 before that.
func Reward(s *game.State) float32 {
	if !s.Done {
		return 0
	}
	return Outcome(s, game.Black)
}

// AreaDifference is black area minus white area.
func AreaDifference(s *game.State) int {
	b, w := Areas(s)
	return b - w
}
