package policy

import (
	"context"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/executor/mcts"
	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

// Value scores actions with a depth- and width-limited lookahead over a
// value function. It keeps no state between moves.
type Value struct {
	base
	cfg     Config
	shallow mcts.Shallow
}

func NewValue(name string, vf inference.ValueFunc, cfg Config, seed uint64) *Value {
	return &Value{
		base:    newBase(name, seed),
		cfg:     cfg,
		shallow: mcts.Shallow{Value: vf, Depth: cfg.Depth, Width: cfg.Width},
	}
}

func (p *Value) ActionProbs(ctx context.Context, state *game.State, ply int) ([]float64, error) {
	if state.Done {
		return nil, ErrNoLegalMoves
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.phase = Searching
	q, valid, err := p.shallow.ActionValues(state)
	if err != nil {
		p.phase = Idle
		return nil, err
	}
	p.phase = Ready
	return FromQ(q, valid, p.cfg.Temperature(ply)), nil
}

func (p *Value) Step(int) error {
	p.phase = Idle
	return nil
}

func (p *Value) Reset() { p.phase = Idle }

// greedyConfig is one-ply argmax.
var greedyConfig = Config{Cpuct: 1}

// NewGreedy returns the one-ply area-maximizing baseline.
func NewGreedy(name string) *Value {
	return NewValue(name, inference.AreaValue, greedyConfig, 0)
}

// SmartGreedy is greedy, but closes out a won game by passing as soon as
// the opponent passes.
type SmartGreedy struct {
	*Value
}

func NewSmartGreedy(name string) *SmartGreedy {
	return &SmartGreedy{Value: NewGreedy(name)}
}

func (p *SmartGreedy) ActionProbs(ctx context.Context, state *game.State, ply int) ([]float64, error) {
	if !state.Done && state.PrevPass {
		lead := rules.AreaDifference(state)
		if state.Turn == game.White {
			lead = -lead
		}
		if lead > 0 {
			out := make([]float64, state.ActionSize())
			out[state.PassAction()] = 1
			p.phase = Ready
			return out, nil
		}
	}
	return p.Value.ActionProbs(ctx, state, ply)
}

// Random plays uniformly among legal actions.
type Random struct {
	base
}

func NewRandom(name string, seed uint64) *Random {
	return &Random{base: newBase(name, seed)}
}

func (p *Random) ActionProbs(ctx context.Context, state *game.State, ply int) ([]float64, error) {
	if state.Done {
		return nil, ErrNoLegalMoves
	}
	valid := rules.ValidMoves(state)
	p.phase = Ready
	return FromCounts(make([]float64, len(valid)), valid, 1), nil
}

func (p *Random) Step(int) error {
	p.phase = Idle
	return nil
}

func (p *Random) Reset() { p.phase = Idle }
