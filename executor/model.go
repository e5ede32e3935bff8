package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/game"
)

type instrumentedEvaluator struct {
	inference.Evaluator
}

func (e instrumentedEvaluator) Evaluate(states []*game.State) ([][]float32, []float32, error) {
	totalInferences.Add(int64(len(states)))
	return e.Evaluator.Evaluate(states)
}

// modelHandle owns the evaluator behind one checkpoint path. Without a
// checkpoint on disk it serves the area heuristic until a reload succeeds.
type modelHandle struct {
	path     string
	sessions int
	cfg      inference.OnnxClientConfig
	pool     *inference.OnnxPool
	ev       inference.Evaluator
}

func openModel(path string, sessions int, cfg inference.OnnxClientConfig) (*modelHandle, error) {
	m := &modelHandle{path: path, sessions: sessions, cfg: cfg}
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Warn().Str("model", path).Msg("checkpoint not found, using area heuristic")
		m.ev = inference.Uniform{Value: inference.AreaValue}
		return m, nil
	}
	pool, err := inference.NewOnnxClientPool(path, sessions, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	m.pool = pool
	m.ev = pool
	log.Info().Str("model", path).Int("sessions", pool.Sessions()).Msg("onnx model loaded")
	return m, nil
}

func (m *modelHandle) evaluator() inference.Evaluator {
	return instrumentedEvaluator{Evaluator: m.ev}
}

// ranks is the number of participants in a checkpoint sync.
func (m *modelHandle) ranks() int {
	if m.pool == nil {
		return 1
	}
	return m.pool.Sessions()
}

// reload points session rank at path. A heuristic handle opens a full pool
// on its only rank.
func (m *modelHandle) reload(rank int, path string) error {
	if m.pool == nil {
		pool, err := inference.NewOnnxClientPool(path, m.sessions, m.cfg)
		if err != nil {
			return err
		}
		m.pool = pool
		m.ev = pool
		return nil
	}
	return m.pool.ReloadSession(rank, path)
}

func (m *modelHandle) stats() (inference.RuntimeStats, bool) {
	if m.pool == nil {
		return inference.RuntimeStats{}, false
	}
	return m.pool.Stats(), true
}

func (m *modelHandle) Close() error {
	if m.pool == nil {
		return nil
	}
	return m.pool.Close()
}

// copyFile writes src to dst through a temp file in dst's directory.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
