// Package policy wraps the search and value-lookahead engines behind one
// move-choosing capability, plus the fixed baselines used for evaluation.
package policy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/game"
)

// ErrNoLegalMoves is returned when a state offers nothing to play.
var ErrNoLegalMoves = errors.New("policy: no legal moves")

// UnknownPolicyModeError is returned when constructing a policy from an
// unrecognised mode.
type UnknownPolicyModeError struct {
	Mode string
}

func (e *UnknownPolicyModeError) Error() string {
	return fmt.Sprintf("unknown policy mode %q", e.Mode)
}

// Phase tracks where a policy is in its per-move cycle.
type Phase int

const (
	Idle Phase = iota
	Searching
	Ready
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Searching:
		return "searching"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Mode selects a policy implementation.
type Mode int

const (
	ModeActorCritic Mode = iota
	ModeValue
	ModeGreedy
	ModeSmartGreedy
	ModeRandom
)

func (m Mode) String() string {
	switch m {
	case ModeActorCritic:
		return "ac"
	case ModeValue:
		return "val"
	case ModeGreedy:
		return "greedy"
	case ModeSmartGreedy:
		return "smartgreedy"
	case ModeRandom:
		return "random"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a mode name to a Mode. "mcts" names the value-network
// agent and is an alias for "val".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ac", "actor_critic":
		return ModeActorCritic, nil
	case "val", "mcts", "value", "values":
		return ModeValue, nil
	case "greedy":
		return ModeGreedy, nil
	case "smartgreedy", "smart_greedy":
		return ModeSmartGreedy, nil
	case "random", "rand":
		return ModeRandom, nil
	}
	return 0, &UnknownPolicyModeError{Mode: s}
}

// Config holds search and temperature settings.
type Config struct {
	Simulations int
	Cpuct       float32
	Depth       int
	Width       int

	// Temp applies for the first TempSteps plies, FinalTemp afterwards.
	// A temperature of 0 means argmax.
	Temp      float64
	TempSteps int
	FinalTemp float64
}

func DefaultConfig() Config {
	return Config{
		Simulations: 0,
		Cpuct:       1.0,
		Depth:       0,
		Width:       0,
		Temp:        1.0 / 64,
		TempSteps:   8,
		FinalTemp:   0,
	}
}

// Temperature returns the temperature for a ply.
func (c Config) Temperature(ply int) float64 {
	if ply < c.TempSteps {
		return c.Temp
	}
	return c.FinalTemp
}

// Policy chooses moves. ActionProbs returns a distribution over the action
// space of state with zero mass on illegal actions; Step tells the policy
// which action was actually played.
type Policy interface {
	Name() string
	ActionProbs(ctx context.Context, state *game.State, ply int) ([]float64, error)
	Sample(probs []float64) int
	Step(action int) error
	Reset()
	Phase() Phase
}

// SelectAction asks p for a distribution and samples an action from it.
func SelectAction(ctx context.Context, p Policy, state *game.State, ply int) (int, []float64, error) {
	probs, err := p.ActionProbs(ctx, state, ply)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return p.Sample(probs), probs, nil
}

type base struct {
	name  string
	phase Phase
	src   *rand.PCG
}

func newBase(name string, seed uint64) base {
	return base{name: name, src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

func (b *base) Name() string { return b.name }
func (b *base) Phase() Phase { return b.phase }

// Sample draws an action index from probs.
func (b *base) Sample(probs []float64) int {
	for a, p := range probs {
		if p == 1 {
			return a
		}
	}
	return int(distuv.NewCategorical(probs, b.src).Rand())
}

// New constructs a policy for mode. Actor-critic and value modes need an
// evaluator; the baselines ignore it.
func New(mode Mode, name string, ev inference.Evaluator, cfg Config, seed uint64) (Policy, error) {
	switch mode {
	case ModeActorCritic:
		if ev == nil {
			return nil, fmt.Errorf("policy %s: %s mode needs an evaluator", name, mode)
		}
		return NewActorCritic(name, ev, cfg, seed), nil
	case ModeValue:
		if ev == nil {
			return nil, fmt.Errorf("policy %s: %s mode needs an evaluator", name, mode)
		}
		return NewValue(name, ValuesOf(ev), cfg, seed), nil
	case ModeGreedy:
		return NewGreedy(name), nil
	case ModeSmartGreedy:
		return NewSmartGreedy(name), nil
	case ModeRandom:
		return NewRandom(name, seed), nil
	}
	return nil, &UnknownPolicyModeError{Mode: mode.String()}
}

// NewFromString parses mode and calls New.
func NewFromString(mode, name string, ev inference.Evaluator, cfg Config, seed uint64) (Policy, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return New(m, name, ev, cfg, seed)
}

// ValuesOf drops the priors of an evaluator.
func ValuesOf(ev inference.Evaluator) inference.ValueFunc {
	return func(states []*game.State) ([]float32, error) {
		_, values, err := ev.Evaluate(states)
		if err != nil {
			return nil, err
		}
		if len(values) != len(states) {
			return nil, inference.ErrMalformedOutput
		}
		return values, nil
	}
}
