package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/executor/selfplay"
	"github.com/AllenAnZifeng/Go-AI/game"
)

type side struct {
	mode  string
	model string
}

func (s side) key() string { return s.mode + "|" + s.model }

func main() {
	size := flag.Int("size", game.SizeSmall, "Board size")
	games := flag.Int("games", 64, "Number of games; colours alternate")
	workers := flag.Int("workers", 1, "Parallel games")
	black := flag.String("black", "greedy", "First policy mode (ac, val, greedy, smartgreedy, random)")
	white := flag.String("white", "random", "Second policy mode")
	blackModel := flag.String("black-model", "", "ONNX model for the first policy (default: area heuristic)")
	whiteModel := flag.String("white-model", "", "ONNX model for the second policy")
	sims := flag.Int("mcts", 0, "Monte Carlo searches per move for ac policies")
	depth := flag.Int("depth", 0, "Lookahead depth for val policies")
	width := flag.Int("width", 0, "Lookahead width for val policies")
	temp := flag.Float64("temp", 0, "Sampling temperature")
	render := flag.Bool("render", false, "Print the board after every move")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	if *render {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := policy.DefaultConfig()
	cfg.Simulations = *sims
	cfg.Depth = *depth
	cfg.Width = *width
	cfg.Temp = *temp
	cfg.FinalTemp = *temp

	var closers []func() error
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()
	evaluators := map[string]*inference.Counting{}
	evaluatorFor := func(s side) (*inference.Counting, error) {
		if ev, ok := evaluators[s.key()]; ok {
			return ev, nil
		}
		var inner inference.Evaluator = inference.Uniform{Value: inference.AreaValue}
		if s.model != "" {
			m, err := policy.ParseMode(s.mode)
			if err != nil {
				return nil, err
			}
			pool, err := inference.NewOnnxClientPool(s.model, 1, inference.OnnxClientConfig{
				BoardSize: *size,
				ValueOnly: m == policy.ModeValue,
			})
			if err != nil {
				return nil, err
			}
			closers = append(closers, pool.Close)
			inner = pool
		}
		ev := &inference.Counting{Inner: inner}
		evaluators[s.key()] = ev
		return ev, nil
	}

	sides := [2]side{{*black, *blackModel}, {*white, *whiteModel}}
	for _, s := range sides {
		if _, err := evaluatorFor(s); err != nil {
			log.Fatal().Err(err).Str("mode", s.mode).Str("model", s.model).Msg("load evaluator")
		}
	}

	factory := func(w int) (policy.Policy, policy.Policy, error) {
		var out [2]policy.Policy
		for i, s := range sides {
			ev := evaluators[s.key()]
			p, err := policy.NewFromString(s.mode, fmt.Sprintf("%s#%d", s.mode, i), ev, cfg, *seed+uint64(2*w+i))
			if err != nil {
				return nil, nil, err
			}
			out[i] = p
		}
		return out[0], out[1], nil
	}

	gameCfg := selfplay.Config{BoardSize: *size, Verbose: *render}
	start := time.Now()
	res, err := selfplay.ParallelPlay(ctx, gameCfg, *workers, factory, *games, false, func(g selfplay.GameResult) {
		if *render {
			log.Info().Str("winner", g.Winner.String()).Int("steps", g.Steps).Int("black", g.BlackArea).Int("white", g.WhiteArea).Msg("game over")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("match")
	}

	var evals int64
	for _, ev := range evaluators {
		evals += ev.Count()
	}
	log.Info().
		Str("first", *black).
		Str("second", *white).
		Int("games", res.Games).
		Int("wins", res.Wins).
		Int("draws", res.Draws).
		Int("losses", res.Losses).
		Float64("win_rate", res.WinRate).
		Float64("stderr", res.StdErr).
		Float64("avg_steps", res.AvgSteps).
		Dur("avg_game", res.AvgGame).
		Int64("evaluations", evals).
		Dur("elapsed", time.Since(start)).
		Msg("match finished")
}
