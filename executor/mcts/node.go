package mcts

import (
	"fmt"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

// NodeID is a handle into a Tree's node arena.
type NodeID int32

// NoNode marks an absent child or the root's parent.
const NoNode NodeID = -1

// Node represents a state in the MCTS tree.
// ValueSum is accumulated from the point of view of the player to move at
// this node.
type Node struct {
	// State is canonical for the player to move. Nil until first visited.
	State    *game.State
	Parent   NodeID
	Action   int
	Children []NodeID

	Visits   int
	ValueSum float32
	Prior    float32

	Terminal bool
	Outcome  float32
	Expanded bool
}

// Q is the mean value, 0 for unvisited nodes.
func (n *Node) Q() float32 {
	if n.Visits == 0 {
		return 0
	}
	return n.ValueSum / float32(n.Visits)
}

// Config holds MCTS configuration. Cpuct 0 disables exploration.
type Config struct {
	Cpuct float32
}

// DefaultConfig is the exploration setting used by the binaries.
var DefaultConfig = Config{Cpuct: 1.0}

// MCTS holds the search context
type MCTS struct {
	Config Config
	Client inference.Evaluator
}

// Tree owns every node of one search. Parent and child links are arena
// handles, so dropping a subtree is a matter of compacting the arena.
type Tree struct {
	nodes []Node
	root  NodeID
}

// NewTree starts a tree at state, canonicalized for the player to move.
func NewTree(state *game.State) *Tree {
	t := &Tree{}
	t.Reset(state)
	return t
}

// Reset discards every node and starts over at state.
func (t *Tree) Reset(state *game.State) {
	t.nodes = t.nodes[:0]
	t.root = t.add(Node{Parent: NoNode, Action: -1, Prior: 1})
	t.setState(t.root, game.CanonicalForm(state, state.Turn))
}

func (t *Tree) add(n Node) NodeID {
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

func (t *Tree) setState(id NodeID, s *game.State) {
	n := &t.nodes[id]
	n.State = s
	if s.Done {
		n.Terminal = true
		n.Outcome = rules.Outcome(s, s.Turn)
	}
}

// Root returns the root handle.
func (t *Tree) Root() NodeID { return t.root }

// Node returns the node for id. The pointer is only valid until the tree grows.
func (t *Tree) Node(id NodeID) *Node { return &t.nodes[id] }

// Len is the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// RootState is the canonical state at the root.
func (t *Tree) RootState() *game.State { return t.nodes[t.root].State }

// Child returns the child reached by action, or NoNode.
func (t *Tree) Child(id NodeID, action int) NodeID {
	n := &t.nodes[id]
	if !n.Expanded || action < 0 || action >= len(n.Children) {
		return NoNode
	}
	return n.Children[action]
}

// materialize computes a child's state from its parent on first traversal.
func (t *Tree) materialize(id NodeID) error {
	n := &t.nodes[id]
	if n.State != nil {
		return nil
	}
	parent := t.nodes[n.Parent].State
	next, err := rules.NextState(parent, n.Action)
	if err != nil {
		return fmt.Errorf("materialize action %d: %w", n.Action, err)
	}
	t.setState(id, game.CanonicalForm(next, next.Turn))
	return nil
}

// expand creates one child per legal action, weighted by the masked prior.
func (t *Tree) expand(id NodeID, prior []float32) {
	s := t.nodes[id].State
	valid := rules.ValidMoves(s)
	p := make([]float32, len(valid))
	if prior != nil {
		copy(p, prior)
	}
	inference.MaskPriors(p, valid)

	children := make([]NodeID, len(valid))
	for a := range children {
		children[a] = NoNode
		if valid[a] {
			children[a] = t.add(Node{Parent: id, Action: a, Prior: p[a]})
		}
	}
	n := &t.nodes[id]
	n.Children = children
	n.Expanded = true
}

// VisitCounts returns the root's child visit counts over the action space.
func (t *Tree) VisitCounts() []int {
	root := &t.nodes[t.root]
	counts := make([]int, root.State.ActionSize())
	if !root.Expanded {
		return counts
	}
	for a, c := range root.Children {
		if c != NoNode {
			counts[a] = t.nodes[c].Visits
		}
	}
	return counts
}

// Reroot promotes the child reached by action to root and drops the rest of
// the tree. Statistics inside the kept subtree are preserved. An unexplored
// action starts a fresh tree at the resulting state.
func (t *Tree) Reroot(action int) error {
	child := t.Child(t.root, action)
	if child == NoNode {
		next, err := rules.NextState(t.RootState(), action)
		if err != nil {
			return err
		}
		t.Reset(next)
		return nil
	}
	if err := t.materialize(child); err != nil {
		return err
	}

	kept := make([]Node, 0, t.subtreeSize(child))
	remap := map[NodeID]NodeID{child: 0}
	queue := []NodeID{child}
	for len(queue) > 0 {
		old := queue[0]
		queue = queue[1:]
		n := t.nodes[old]
		if n.Children != nil {
			n.Children = append([]NodeID(nil), n.Children...)
			for a, c := range n.Children {
				if c == NoNode {
					continue
				}
				remap[c] = NodeID(len(remap))
				n.Children[a] = remap[c]
				queue = append(queue, c)
			}
		}
		if old == child {
			n.Parent = NoNode
		} else {
			n.Parent = remap[n.Parent]
		}
		kept = append(kept, n)
	}
	kept[0].Prior = 1
	t.nodes = kept
	t.root = 0
	return nil
}

func (t *Tree) subtreeSize(id NodeID) int {
	size := 0
	stack := []NodeID{id}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		size++
		for _, c := range t.nodes[n].Children {
			if c != NoNode {
				stack = append(stack, c)
			}
		}
	}
	return size
}
