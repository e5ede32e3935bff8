package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/game"
)

func main() {
	boardSize := flag.Int("boardsize", getEnvIntOrDefault("BOARD_SIZE", game.SizeSmall), "Board size")
	sims := flag.Int("mcts", getEnvIntOrDefault("MCTS", 0), "Monte Carlo searches per move (0 plays from the network priors)")
	temp := flag.Float64("temp", getEnvFloatOrDefault("TEMP", 1.0/64), "Initial temperature")
	tempSteps := flag.Int("tempsteps", getEnvIntOrDefault("TEMP_STEPS", 8), "First k plies to apply the initial temperature to")
	iterations := flag.Int("iterations", getEnvIntOrDefault("ITERATIONS", 128), "Iterations")
	episodes := flag.Int("episodes", getEnvIntOrDefault("EPISODES", 256), "Self-play games per iteration")
	evaluations := flag.Int("evaluations", getEnvIntOrDefault("EVALUATIONS", 256), "Games per evaluation match")
	evalInterval := flag.Int("eval-interval", getEnvIntOrDefault("EVAL_INTERVAL", 1), "Iterations per evaluation")
	maxSteps := flag.Int("max-steps", getEnvIntOrDefault("MAX_STEPS", 0), "Game length cap (0 means twice the number of points)")
	replayFiles := flag.Int("replay-files", getEnvIntOrDefault("REPLAY_FILES", 64), "Newest batch files counted in the replay buffer")
	episodesDir := flag.String("episodesdir", getEnvOrDefault("EPISODES_DIR", "episodes/"), "Directory to store episodes")
	checkPath := flag.String("checkpath", getEnvOrDefault("CHECK_PATH", "checkpoints/checkpoint.onnx"), "Model path for the checkpoint")
	tmpPath := flag.String("tmppath", getEnvOrDefault("TMP_PATH", "checkpoints/tmp.onnx"), "Model path for the candidate")
	agent := flag.String("agent", getEnvOrDefault("AGENT", "ac"), "Type of agent (ac, or mcts/val for a value network)")
	checkpoint := flag.Bool("checkpoint", getEnvBoolOrDefault("CHECKPOINT", false), "Continue from checkpoint instead of clearing episodes")
	workers := flag.Int("workers", getEnvIntOrDefault("WORKERS", runtime.NumCPU()), "Number of parallel game workers")
	useTUI := flag.Bool("tui", getEnvBoolOrDefault("TUI", false), "Show a terminal dashboard instead of periodic stats")
	logLevel := flag.String("log-level", getEnvOrDefault("LOG_LEVEL", "info"), "Log level (trace, debug, info, warn, error)")
	onnxSessions := flag.Int("onnx-sessions", getEnvIntOrDefault("ONNX_SESSIONS", 1), "Number of ONNX Runtime sessions per model, each with its own batching loop")
	onnxBatchSize := flag.Int("onnx-batch-size", getEnvIntOrDefault("ONNX_BATCH_SIZE", inference.DefaultBatchSize), "ONNX inference batch size")
	onnxBatchTimeout := flag.Duration("onnx-batch-timeout", getEnvDurationOrDefault("ONNX_BATCH_TIMEOUT", inference.DefaultBatchTimeout), "Max time to wait for filling an ONNX batch")
	cpuOnly := flag.Bool("cpu", getEnvBoolOrDefault("CPU_ONLY", false), "Skip the CUDA execution provider")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	mode, err := policy.ParseMode(*agent)
	if err != nil {
		log.Fatal().Err(err).Msg("agent")
	}

	cfg := runConfig{
		BoardSize:    *boardSize,
		Simulations:  *sims,
		Temp:         *temp,
		TempSteps:    *tempSteps,
		Iterations:   *iterations,
		Episodes:     *episodes,
		Evaluations:  *evaluations,
		EvalInterval: *evalInterval,
		Workers:      *workers,
		MaxSteps:     *maxSteps,
		ReplayFiles:  *replayFiles,
		EpisodesDir:  *episodesDir,
		CheckPath:    *checkPath,
		TmpPath:      *tmpPath,
		Agent:        mode,
		Checkpoint:   *checkpoint,
		Sessions:     *onnxSessions,
		Onnx: inference.OnnxClientConfig{
			BatchSize:    *onnxBatchSize,
			BatchTimeout: *onnxBatchTimeout,
			BoardSize:    *boardSize,
			ValueOnly:    mode == policy.ModeValue,
			CPUOnly:      *cpuOnly,
		},
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	if *useTUI {
		// Keep log lines from tearing the dashboard.
		f, err := os.OpenFile("executor.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			log.Fatal().Err(err).Msg("open log file")
		}
		defer f.Close()
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.TimeOnly})
	}

	if err := os.MkdirAll(cfg.EpisodesDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create episodes dir")
	}
	if cfg.Checkpoint {
		if _, err := os.Stat(cfg.CheckPath); err != nil {
			log.Fatal().Err(err).Str("path", cfg.CheckPath).Msg("-checkpoint set but checkpoint missing")
		}
	}

	current, err := openModel(cfg.CheckPath, cfg.Sessions, cfg.Onnx)
	if err != nil {
		log.Fatal().Err(err).Msg("open checkpoint")
	}
	defer current.Close()

	maxInflight := cfg.Workers * 2
	if cfg.Onnx.BatchSize > maxInflight {
		log.Info().Int("batch_size", cfg.Onnx.BatchSize).Int("max_inflight", maxInflight).
			Msg("batch size exceeds concurrent requests; batches will rarely fill")
	}

	writeReqs := make(chan gameWriteRequest, cfg.Workers*4)
	writerDone := make(chan struct{})
	go func() {
		parquetWriterLoop(cfg.EpisodesDir, cfg.Episodes, writeReqs)
		close(writerDone)
	}()
	defer func() {
		close(writeReqs)
		<-writerDone
	}()

	log.Info().
		Int("board_size", cfg.BoardSize).
		Int("workers", cfg.Workers).
		Int("mcts", cfg.Simulations).
		Str("agent", mode.String()).
		Int("iterations", cfg.Iterations).
		Msg("starting self-play")

	if *useTUI {
		updates := make(chan tea.Msg, cfg.Workers*4)
		r := newRunner(cfg, current, writeReqs, updates)
		p := tea.NewProgram(initialModel(updates), tea.WithAltScreen())
		runDone := make(chan struct{})
		go func() {
			defer close(runDone)
			err := r.run(ctx)
			p.Send(doneMsg{err: err})
		}()
		final, err := p.Run()
		cancel()
		<-runDone
		if err != nil {
			log.Error().Err(err).Msg("tui")
		}
		if m, ok := final.(model); ok && m.err != nil && ctx.Err() == nil {
			log.Error().Err(m.err).Msg("run failed")
		}
		return
	}

	r := newRunner(cfg, current, writeReqs, nil)
	runErr := make(chan error, 1)
	go func() { runErr <- r.run(ctx) }()

	startTime := time.Now()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-runErr:
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("run failed")
			}
			log.Info().Int64("games", totalGames.Load()).Msg("shutdown complete")
			return
		case <-ticker.C:
			duration := time.Since(startTime).Seconds()
			ev := log.Info().
				Float64("moves_per_sec", float64(totalMoves.Load())/duration).
				Float64("evals_per_sec", float64(totalInferences.Load())/duration).
				Int64("games", totalGames.Load())
			if st, ok := current.stats(); ok {
				ev = ev.Float64("batch_avg", st.AvgBatchSize).
					Int64("batch_last", st.LastBatchSize).
					Int("queue", st.QueueLen).
					Float64("run_avg_ms", st.AvgRunMs)
			}
			ev.Msg("stats")
		}
	}
}
