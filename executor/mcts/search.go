package mcts

import (
	"context"
	"fmt"
	"math"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/game"
)

// Search runs simulations on tree. Each simulation selects a leaf with PUCT,
// expands it with one evaluator call, and backs the value up the path with
// alternating sign. The context is checked between simulations. It returns
// the deepest path length reached.
func (m *MCTS) Search(ctx context.Context, tree *Tree, simulations int) (int, error) {
	cfg := m.Config
	maxDepth := 0
	path := make([]NodeID, 0, 64)

	for i := 0; i < simulations; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return maxDepth, ctx.Err()
			default:
			}
		}

		path = path[:0]
		id := tree.root

		// Selection
		for {
			if err := tree.materialize(id); err != nil {
				return maxDepth, err
			}
			path = append(path, id)
			n := &tree.nodes[id]
			if n.Terminal || !n.Expanded {
				break
			}
			id = tree.selectChild(id, cfg.Cpuct)
		}

		if d := len(path) - 1; d > maxDepth {
			maxDepth = d
		}

		// Expansion & Evaluation
		leaf := &tree.nodes[id]
		var value float32
		if leaf.Terminal {
			value = leaf.Outcome
		} else {
			v, err := m.evaluate(tree, id)
			if err != nil {
				return maxDepth, err
			}
			value = v
		}

		tree.backprop(path, value)
	}

	return maxDepth, nil
}

func (m *MCTS) evaluate(tree *Tree, id NodeID) (float32, error) {
	state := tree.nodes[id].State
	states := []*game.State{state}
	priors, values, err := m.Client.Evaluate(states)
	if err != nil {
		return 0, fmt.Errorf("evaluate leaf: %w", err)
	}
	if err := inference.CheckOutput(states, priors, values); err != nil {
		return 0, err
	}
	var prior []float32
	if priors != nil {
		prior = priors[0]
	}
	tree.expand(id, prior)
	return values[0], nil
}

// selectChild picks the child maximizing
//
//	-Q(child) + cpuct * P(child) * sqrt(N(parent)) / (1 + N(child))
//
// Child values are stored for the child's mover, hence the negation.
// Ties go to the lowest action index.
func (t *Tree) selectChild(id NodeID, cpuct float32) NodeID {
	n := &t.nodes[id]
	sqrtN := float32(math.Sqrt(float64(n.Visits)))
	best := NoNode
	bestScore := float32(math.Inf(-1))
	for _, c := range n.Children {
		if c == NoNode {
			continue
		}
		child := &t.nodes[c]
		q := float32(0)
		if child.Visits > 0 {
			q = -child.Q()
		}
		u := q + cpuct*child.Prior*sqrtN/(1+float32(child.Visits))
		if u > bestScore {
			bestScore = u
			best = c
		}
	}
	return best
}

// backprop adds value to the leaf and alternates its sign on the way up.
func (t *Tree) backprop(path []NodeID, value float32) {
	for i := len(path) - 1; i >= 0; i-- {
		n := &t.nodes[path[i]]
		n.Visits++
		n.ValueSum += value
		value = -value
	}
}
