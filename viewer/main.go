package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/game"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:8080", "Listen address")
	dataDirs := flag.String("data-dirs", "episodes", "Comma-separated directories of trajectory parquet files")
	size := flag.Int("size", game.SizeSmall, "Board size of live games")
	black := flag.String("black", "greedy", "Live game black policy mode")
	white := flag.String("white", "random", "Live game white policy mode")
	model := flag.String("model", "", "ONNX model for ac/val live policies (default: area heuristic)")
	sims := flag.Int("mcts", 32, "Monte Carlo searches per move for ac policies")
	delay := flag.Duration("delay", 300*time.Millisecond, "Pause between live moves")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	if level, err := zerolog.ParseLevel(*logLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ev inference.Evaluator = inference.Uniform{Value: inference.AreaValue}
	if *model != "" {
		pool, err := inference.NewOnnxClientPool(*model, 1, inference.OnnxClientConfig{BoardSize: *size})
		if err != nil {
			log.Fatal().Err(err).Str("model", *model).Msg("load model")
		}
		defer pool.Close()
		ev = pool
	}

	pcfg := policy.DefaultConfig()
	pcfg.Simulations = *sims

	hub := NewHub()
	go func() {
		err := playLive(ctx, hub, liveConfig{
			BoardSize: *size,
			Black:     *black,
			White:     *white,
			Delay:     *delay,
			Policy:    pcfg,
			Evaluator: ev,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("live games stopped")
		}
	}()

	srv := NewServer(parseDataRoots(*dataDirs), hub)
	defer srv.Close()
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", "http://"+*listen).Msg("viewer listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("serve")
	}
}

func parseDataRoots(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
