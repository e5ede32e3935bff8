package selfplay

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/game"
)

// MatchResult summarizes a series of games from the first policy's point of
// view. A draw scores half a win.
type MatchResult struct {
	Games    int
	Wins     int
	Draws    int
	Losses   int
	WinRate  float64
	StdErr   float64
	AvgSteps float64
	AvgGame  time.Duration

	// Trajectories holds the recorded events of every game, when recording.
	Trajectories [][]Event

	scores []float64
	steps  []float64
	total  time.Duration
}

func (m *MatchResult) add(score float64, g GameResult, record bool) {
	m.Games++
	switch score {
	case 1:
		m.Wins++
	case 0:
		m.Losses++
	default:
		m.Draws++
	}
	m.scores = append(m.scores, score)
	m.steps = append(m.steps, float64(g.Steps))
	m.total += g.Duration
	if record {
		m.Trajectories = append(m.Trajectories, g.Events)
	}
}

func (m *MatchResult) merge(o MatchResult) {
	m.Games += o.Games
	m.Wins += o.Wins
	m.Draws += o.Draws
	m.Losses += o.Losses
	m.scores = append(m.scores, o.scores...)
	m.steps = append(m.steps, o.steps...)
	m.total += o.total
	m.Trajectories = append(m.Trajectories, o.Trajectories...)
}

func (m *MatchResult) finish() {
	if m.Games == 0 {
		return
	}
	mean, std := stat.MeanStdDev(m.scores, nil)
	m.WinRate = mean
	if m.Games > 1 && !math.IsNaN(std) {
		m.StdErr = stat.StdErr(std, float64(m.Games))
	}
	m.AvgSteps = stat.Mean(m.steps, nil)
	m.AvgGame = m.total / time.Duration(m.Games)
}

func score(winner, seat game.Color) float64 {
	switch winner {
	case seat:
		return 1
	case game.Empty:
		return 0.5
	}
	return 0
}

// PlayGames plays episodes games between pi1 and pi2, alternating colours
// with pi1 taking black first. onGame, if set, sees every finished game.
func PlayGames(ctx context.Context, cfg Config, pi1, pi2 policy.Policy, episodes int, record bool, onGame func(GameResult)) (MatchResult, error) {
	var res MatchResult
	for i := 0; i < episodes; i++ {
		black, white, seat := pi1, pi2, game.Black
		if i%2 == 1 {
			black, white, seat = pi2, pi1, game.White
		}
		g, err := PlayGame(ctx, cfg, black, white, record)
		if err != nil {
			return res, fmt.Errorf("game %d: %w", i, err)
		}
		res.add(score(g.Winner, seat), g, record)
		if onGame != nil {
			onGame(g)
		}
	}
	res.finish()
	return res, nil
}

// PolicyFactory builds the policy pair for one worker. Policies hold search
// trees and RNG state, so workers never share them.
type PolicyFactory func(worker int) (pi1, pi2 policy.Policy, err error)

// ParallelPlay spreads episodes over workers, each with its own policy pair,
// and aggregates the results. The first error cancels the remaining workers.
// onGame is called from worker goroutines.
func ParallelPlay(ctx context.Context, cfg Config, workers int, factory PolicyFactory, episodes int, record bool, onGame func(GameResult)) (MatchResult, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > episodes && episodes > 0 {
		workers = episodes
	}

	results := make([]MatchResult, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		n := episodes / workers
		if w < episodes%workers {
			n++
		}
		g.Go(func() error {
			pi1, pi2, err := factory(w)
			if err != nil {
				return fmt.Errorf("worker %d: %w", w, err)
			}
			r, err := PlayGames(gctx, cfg, pi1, pi2, n, record, onGame)
			if err != nil {
				return fmt.Errorf("worker %d: %w", w, err)
			}
			results[w] = r
			log.Debug().Int("worker", w).Int("games", r.Games).Float64("win_rate", r.WinRate).Msg("worker done")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MatchResult{}, err
	}

	var out MatchResult
	for _, r := range results {
		out.merge(r)
	}
	out.finish()
	return out, nil
}
