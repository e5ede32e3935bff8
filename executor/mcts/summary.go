package mcts

import "math"

// ChildSummary is a compact, JSON-serializable view of one root child.
// Q is from the root player's point of view.
type ChildSummary struct {
	Action   int     `json:"action"`
	Visits   int     `json:"n"`
	ValueSum float32 `json:"value_sum"`
	Q        float32 `json:"q"`
	Prior    float32 `json:"p"`
	UCB      float32 `json:"ucb"`
}

// SearchResult contains what a caller needs after a search, for both
// gameplay and storage.
type SearchResult struct {
	RootVisits int            `json:"root_n"`
	RootQ      float32        `json:"root_q"`
	BestAction int            `json:"best_action"`
	Children   []ChildSummary `json:"children"`
}

// Summarize extracts the root statistics. BestAction is the most visited
// child, lowest index first on ties.
func (t *Tree) Summarize(cpuct float32) SearchResult {
	root := &t.nodes[t.root]
	res := SearchResult{
		RootVisits: root.Visits,
		RootQ:      root.Q(),
		BestAction: -1,
	}
	if !root.Expanded {
		return res
	}
	sqrtN := float32(math.Sqrt(float64(root.Visits)))
	bestN := -1
	for a, c := range root.Children {
		if c == NoNode {
			continue
		}
		child := &t.nodes[c]
		q := -child.Q()
		res.Children = append(res.Children, ChildSummary{
			Action:   a,
			Visits:   child.Visits,
			ValueSum: child.ValueSum,
			Q:        q,
			Prior:    child.Prior,
			UCB:      q + cpuct*child.Prior*sqrtN/(1+float32(child.Visits)),
		})
		if child.Visits > bestN {
			bestN = child.Visits
			res.BestAction = a
		}
	}
	return res
}
