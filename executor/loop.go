package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/executor/selfplay"
	"github.com/AllenAnZifeng/Go-AI/store"
)

// promoteThreshold is the win rate against the current checkpoint a
// candidate needs to replace it.
const promoteThreshold = 0.55

var (
	totalMoves      atomic.Int64
	totalInferences atomic.Int64
	totalGames      atomic.Int64
)

type runConfig struct {
	BoardSize    int
	Simulations  int
	Temp         float64
	TempSteps    int
	Iterations   int
	Episodes     int
	Evaluations  int
	EvalInterval int
	Workers      int
	MaxSteps     int
	ReplayFiles  int

	EpisodesDir string
	CheckPath   string
	TmpPath     string
	Agent       policy.Mode
	Checkpoint  bool

	Sessions int
	Onnx     inference.OnnxClientConfig
}

type runner struct {
	cfg     runConfig
	current *modelHandle
	writes  chan<- gameWriteRequest
	// updates feeds the TUI; nil without one.
	updates chan<- tea.Msg

	seed    atomic.Uint64
	gameSeq atomic.Int64
	runID   int64
}

func newRunner(cfg runConfig, current *modelHandle, writes chan<- gameWriteRequest, updates chan<- tea.Msg) *runner {
	r := &runner{
		cfg:     cfg,
		current: current,
		writes:  writes,
		updates: updates,
		runID:   time.Now().Unix(),
	}
	r.seed.Store(uint64(time.Now().UnixNano()))
	return r
}

func (r *runner) notify(msg tea.Msg) {
	if r.updates == nil {
		return
	}
	// Never block the workers on a stalled UI.
	select {
	case r.updates <- msg:
	default:
	}
}

func (r *runner) gameConfig() selfplay.Config {
	return selfplay.Config{BoardSize: r.cfg.BoardSize, MaxSteps: r.cfg.MaxSteps}
}

func (r *runner) policyConfig() policy.Config {
	pc := policy.DefaultConfig()
	pc.Simulations = r.cfg.Simulations
	pc.Temp = r.cfg.Temp
	pc.TempSteps = r.cfg.TempSteps
	return pc
}

func (r *runner) newPolicy(name string, ev inference.Evaluator) (policy.Policy, error) {
	return policy.New(r.cfg.Agent, name, ev, r.policyConfig(), r.seed.Add(1))
}

func (r *runner) countGame(stage string) func(selfplay.GameResult) {
	return func(g selfplay.GameResult) {
		totalGames.Add(1)
		totalMoves.Add(int64(g.Steps))
		r.notify(GameUpdate{Stage: stage, Result: g})
	}
}

// run executes the configured number of iterations.
func (r *runner) run(ctx context.Context) error {
	if !r.cfg.Checkpoint {
		if err := store.ClearEpisodesDir(r.cfg.EpisodesDir); err != nil {
			return fmt.Errorf("clear episodes: %w", err)
		}
		log.Info().Str("dir", r.cfg.EpisodesDir).Msg("cleared episodes")
	}
	log.Info().Bool("checkpoint", r.cfg.Checkpoint).Str("path", r.cfg.CheckPath).Msg("using checkpoint")

	for iter := 0; iter < r.cfg.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.selfPlay(ctx, iter)
		if err != nil {
			return fmt.Errorf("iteration %d self-play: %w", iter, err)
		}
		log.Info().
			Int("iteration", iter).
			Int("games", res.Games).
			Float64("black_win_rate", res.WinRate).
			Float64("avg_steps", res.AvgSteps).
			Dur("avg_game", res.AvgGame).
			Msg("self-play done")

		if rows, files, err := store.CountRows(r.cfg.EpisodesDir, r.cfg.ReplayFiles); err != nil {
			log.Warn().Err(err).Msg("count replay")
		} else {
			log.Info().Int64("samples", rows).Int("files", files).Msg("replay buffer")
		}

		if r.cfg.EvalInterval > 0 && (iter+1)%r.cfg.EvalInterval == 0 {
			if _, err := r.evaluate(ctx, iter); err != nil {
				return fmt.Errorf("iteration %d evaluation: %w", iter, err)
			}
		}
	}
	return nil
}

// selfPlay plays the current checkpoint against itself and records every
// game. It returns once all games are flushed to disk.
func (r *runner) selfPlay(ctx context.Context, iter int) (selfplay.MatchResult, error) {
	r.notify(stageMsg{Iteration: iter, Stage: "self-play"})
	ev := r.current.evaluator()
	factory := func(w int) (policy.Policy, policy.Policy, error) {
		pi1, err := r.newPolicy("current", ev)
		if err != nil {
			return nil, nil, err
		}
		pi2, err := r.newPolicy("current", ev)
		return pi1, pi2, err
	}
	count := r.countGame("self-play")
	onGame := func(g selfplay.GameResult) {
		count(g)
		id := fmt.Sprintf("%d-%03d-%06d", r.runID, iter, r.gameSeq.Add(1))
		rows, err := selfplay.EventsToRows(id, "selfplay", r.current.path, g.Events)
		if err != nil {
			log.Error().Err(err).Str("game", id).Msg("convert game")
			return
		}
		r.writes <- gameWriteRequest{rows: rows}
	}

	res, err := selfplay.ParallelPlay(ctx, r.gameConfig(), r.cfg.Workers, factory, r.cfg.Episodes, true, onGame)
	flushed := make(chan struct{})
	r.writes <- gameWriteRequest{flushed: flushed}
	<-flushed
	return res, err
}

// evaluate plays the candidate at TmpPath against the current checkpoint
// and the greedy baseline, promoting it when it wins often enough.
func (r *runner) evaluate(ctx context.Context, iter int) (bool, error) {
	if _, err := os.Stat(r.cfg.TmpPath); errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", r.cfg.TmpPath).Msg("no candidate model, skipping evaluation")
		return false, nil
	}
	r.notify(stageMsg{Iteration: iter, Stage: "evaluation"})

	cand, err := openModel(r.cfg.TmpPath, r.cfg.Sessions, r.cfg.Onnx)
	if err != nil {
		return false, err
	}
	defer cand.Close()
	candEv := cand.evaluator()
	currEv := r.current.evaluator()

	vsCurrent, err := selfplay.ParallelPlay(ctx, r.gameConfig(), r.cfg.Workers, func(w int) (policy.Policy, policy.Policy, error) {
		pi1, err := r.newPolicy("candidate", candEv)
		if err != nil {
			return nil, nil, err
		}
		pi2, err := r.newPolicy("current", currEv)
		return pi1, pi2, err
	}, r.cfg.Evaluations, false, r.countGame("vs-current"))
	if err != nil {
		return false, err
	}

	vsGreedy, err := selfplay.ParallelPlay(ctx, r.gameConfig(), r.cfg.Workers, func(w int) (policy.Policy, policy.Policy, error) {
		pi1, err := r.newPolicy("candidate", candEv)
		return pi1, policy.NewGreedy("greedy"), err
	}, r.cfg.Evaluations, false, r.countGame("vs-greedy"))
	if err != nil {
		return false, err
	}

	promoted := vsCurrent.WinRate > promoteThreshold
	log.Info().
		Int("iteration", iter).
		Float64("vs_current", vsCurrent.WinRate).
		Float64("vs_current_stderr", vsCurrent.StdErr).
		Float64("vs_greedy", vsGreedy.WinRate).
		Bool("promoted", promoted).
		Msg("evaluation done")
	r.notify(evalMsg{Iteration: iter, VsCurrent: vsCurrent, VsGreedy: vsGreedy, Promoted: promoted})

	if promoted {
		if err := r.promote(); err != nil {
			return false, err
		}
	}
	return promoted, nil
}

// promote copies the candidate over the checkpoint and reloads every
// session of the current model from it.
func (r *runner) promote() error {
	ranks := r.current.ranks()
	b := selfplay.NewBarrier(ranks)
	var g errgroup.Group
	for rank := 0; rank < ranks; rank++ {
		g.Go(func() error {
			return selfplay.SyncCheckpoint(rank, b,
				func() error { return copyFile(r.cfg.TmpPath, r.cfg.CheckPath) },
				func() error { return r.current.reload(rank, r.cfg.CheckPath) },
			)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Str("from", r.cfg.TmpPath).Str("to", r.cfg.CheckPath).Msg("promoted candidate")
	return nil
}
