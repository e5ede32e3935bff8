// Package main serves moves for a single position over HTTP using a
// time-bounded tree search.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/game"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen", ":8080", "HTTP listen address")
	modelPath := fs.String("model-path", "", "Path to ONNX model (default: area heuristic)")
	boardSize := fs.Int("size", game.SizeSmall, "Board size")
	sessions := fs.Int("sessions", 1, "Number of ONNX sessions (for concurrent requests)")
	moveTimeout := fs.Duration("move-timeout", 500*time.Millisecond, "Default move timeout")
	mctsSims := fs.Int("mcts-sims", 10000, "Max MCTS simulations per move (stops early at the timeout)")
	cpuOnly := fs.Bool("cpu", false, "Skip the CUDA execution provider")

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("flag parse")
	}

	var ev inference.Evaluator = inference.Uniform{Value: inference.AreaValue}
	if *modelPath != "" {
		log.Info().Str("model", *modelPath).Bool("cuda", !*cpuOnly).Msg("loading model")
		pool, err := inference.NewOnnxClientPool(*modelPath, *sessions, inference.OnnxClientConfig{
			BoardSize: *boardSize,
			CPUOnly:   *cpuOnly,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("create inference pool")
		}
		defer pool.Close()
		ev = pool
	}

	server := NewServer(ev, *boardSize, *moveTimeout, *mctsSims)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", *listen).Int("size", *boardSize).Msg("move server listening")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}
