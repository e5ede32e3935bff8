package policy

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/executor/mcts"
	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

// ActorCritic runs MCTS guided by an evaluator's priors and values. The tree
// survives between moves: Step re-roots it on the played action.
type ActorCritic struct {
	base
	cfg    Config
	engine mcts.MCTS
	tree   *mcts.Tree
}

func NewActorCritic(name string, ev inference.Evaluator, cfg Config, seed uint64) *ActorCritic {
	return &ActorCritic{
		base:   newBase(name, seed),
		cfg:    cfg,
		engine: mcts.MCTS{Config: mcts.Config{Cpuct: cfg.Cpuct}, Client: ev},
	}
}

// Tree exposes the current search tree, nil before the first search.
func (p *ActorCritic) Tree() *mcts.Tree { return p.tree }

// Summary reports the root statistics of the last search.
func (p *ActorCritic) Summary() (mcts.SearchResult, bool) {
	if p.tree == nil || p.phase != Ready {
		return mcts.SearchResult{}, false
	}
	return p.tree.Summarize(p.engine.Config.Cpuct), true
}

func (p *ActorCritic) ActionProbs(ctx context.Context, state *game.State, ply int) ([]float64, error) {
	canon := game.CanonicalForm(state, state.Turn)
	if canon.Done {
		return nil, ErrNoLegalMoves
	}
	p.phase = Searching
	defer func() {
		if p.phase == Searching {
			p.phase = Idle
		}
	}()

	valid := rules.ValidMoves(canon)
	temp := p.cfg.Temperature(ply)

	if p.cfg.Simulations <= 0 {
		priors, _, err := p.engine.Client.Evaluate([]*game.State{canon})
		if err != nil {
			return nil, err
		}
		prior := make([]float32, canon.ActionSize())
		if priors != nil {
			if len(priors) != 1 || len(priors[0]) != len(prior) {
				return nil, inference.ErrMalformedOutput
			}
			copy(prior, priors[0])
		}
		inference.MaskPriors(prior, valid)
		p.phase = Ready
		return FromCounts(float32sToFloats(prior), valid, temp), nil
	}

	if p.tree == nil || !p.tree.RootState().Equal(canon) {
		if p.tree != nil {
			log.Debug().Str("policy", p.name).Int("ply", ply).Msg("root mismatch, starting new tree")
		}
		p.tree = mcts.NewTree(canon)
	}
	if _, err := p.engine.Search(ctx, p.tree, p.cfg.Simulations); err != nil {
		return nil, err
	}
	p.phase = Ready
	return FromCounts(intsToFloats(p.tree.VisitCounts()), valid, temp), nil
}

// Step re-roots the tree on action. A failed re-root drops the tree.
func (p *ActorCritic) Step(action int) error {
	p.phase = Idle
	if p.tree == nil {
		return nil
	}
	if err := p.tree.Reroot(action); err != nil {
		p.tree = nil
		return err
	}
	return nil
}

func (p *ActorCritic) Reset() {
	p.tree = nil
	p.phase = Idle
}
