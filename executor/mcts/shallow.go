package mcts

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

// Shallow is a depth- and width-limited negamax search over a value
// function. Every legal action gets a one-ply value; the best Width of them
// are then searched Depth plies deep, keeping the best Width replies at each
// level. Width 0 or Depth <= 1 is plain one-ply lookahead.
type Shallow struct {
	Value inference.ValueFunc
	Depth int
	Width int
}

// ActionValues returns q(a) for the player to move in state, in [-1, 1],
// together with the legal mask. Illegal actions have q = 0.
func (s *Shallow) ActionValues(state *game.State) ([]float32, []bool, error) {
	root := game.CanonicalForm(state, state.Turn)
	q, valid, children, err := s.onePly(root)
	if err != nil {
		return nil, nil, err
	}
	if s.Width <= 0 || s.Depth <= 1 {
		return q, valid, nil
	}
	for _, a := range topActions(q, valid, s.Width) {
		v, err := s.negamax(children[a], s.Depth-1)
		if err != nil {
			return nil, nil, err
		}
		q[a] = -v
	}
	return q, valid, nil
}

func (s *Shallow) negamax(st *game.State, depth int) (float32, error) {
	if st.Done {
		return rules.Outcome(st, st.Turn), nil
	}
	if depth <= 0 {
		vals, err := s.Value([]*game.State{st})
		if err != nil {
			return 0, err
		}
		if len(vals) != 1 {
			return 0, inference.ErrMalformedOutput
		}
		return vals[0], nil
	}
	q, valid, children, err := s.onePly(st)
	if err != nil {
		return 0, err
	}
	if depth > 1 {
		for _, a := range topActions(q, valid, s.Width) {
			v, err := s.negamax(children[a], depth-1)
			if err != nil {
				return 0, err
			}
			q[a] = -v
		}
	}
	return best(q, valid), nil
}

// onePly scores every legal action by the negated value of the resulting
// canonical state. Finished games use their exact outcome.
func (s *Shallow) onePly(st *game.State) ([]float32, []bool, []*game.State, error) {
	valid := rules.ValidMoves(st)
	q := make([]float32, len(valid))
	children := make([]*game.State, len(valid))

	var pending []*game.State
	var pendingActions []int
	for a, ok := range valid {
		if !ok {
			continue
		}
		next, err := rules.NextState(st, a)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("shallow action %d: %w", a, err)
		}
		child := game.CanonicalForm(next, next.Turn)
		children[a] = child
		if child.Done {
			q[a] = -rules.Outcome(child, child.Turn)
			continue
		}
		pending = append(pending, child)
		pendingActions = append(pendingActions, a)
	}

	if len(pending) > 0 {
		vals, err := s.Value(pending)
		if err != nil {
			return nil, nil, nil, err
		}
		if len(vals) != len(pending) {
			return nil, nil, nil, inference.ErrMalformedOutput
		}
		for i, a := range pendingActions {
			q[a] = -vals[i]
		}
	}
	return q, valid, children, nil
}

// topActions returns up to width legal actions ordered by q, lowest index first on ties.
func topActions(q []float32, valid []bool, width int) []int {
	var acts []int
	for a, ok := range valid {
		if ok {
			acts = append(acts, a)
		}
	}
	slices.SortStableFunc(acts, func(a, b int) int { return cmp.Compare(q[b], q[a]) })
	if len(acts) > width {
		acts = acts[:width]
	}
	return acts
}

func best(q []float32, valid []bool) float32 {
	out := float32(-1)
	found := false
	for a, ok := range valid {
		if ok && (!found || q[a] > out) {
			out = q[a]
			found = true
		}
	}
	return out
}
