package store

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/game"
)

// Sample is a decoded trajectory row.
type Sample struct {
	State     *game.State
	Action    int
	NextState *game.State
	Reward    float32
	Terminal  bool
	Win       float32
	Pi        []float32
}

// RowToSample decodes the state blobs of a row.
func RowToSample(row TrajectoryRow) (Sample, error) {
	s := Sample{
		Action:   int(row.Action),
		Reward:   row.Reward,
		Terminal: row.Terminal,
		Win:      row.Win,
		Pi:       row.Pi,
	}
	s.State = new(game.State)
	if err := s.State.UnmarshalBinary(row.State); err != nil {
		return Sample{}, fmt.Errorf("game %s step %d state: %w", row.GameID, row.Step, err)
	}
	s.NextState = new(game.State)
	if err := s.NextState.UnmarshalBinary(row.NextState); err != nil {
		return Sample{}, fmt.Errorf("game %s step %d next state: %w", row.GameID, row.Step, err)
	}
	return s, nil
}

// Replay is an in-memory buffer of decoded transitions.
type Replay struct {
	Samples []Sample
}

// ListBatches returns the parquet files in dir, newest first.
func ListBatches(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		names = append(names, e.Name())
	}
	// batch_<unixnano>.parquet sorts chronologically by name length, then lexically.
	slices.SortFunc(names, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(b, a)
	})
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// LoadReplay decodes up to maxFiles of the newest batch files in dir.
// maxFiles <= 0 loads everything.
func LoadReplay(dir string, maxFiles int) (*Replay, error) {
	paths, err := ListBatches(dir)
	if err != nil {
		return nil, err
	}
	if maxFiles > 0 && len(paths) > maxFiles {
		paths = paths[:maxFiles]
	}
	r := &Replay{}
	for _, p := range paths {
		rows, err := ReadParquet(p)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			s, err := RowToSample(row)
			if err != nil {
				return nil, err
			}
			r.Samples = append(r.Samples, s)
		}
	}
	log.Debug().Str("dir", dir).Int("files", len(paths)).Int("samples", len(r.Samples)).Msg("loaded replay")
	return r, nil
}

// Sample draws n transitions with replacement. With augment, each draw has a
// random board symmetry applied consistently to its states, action and pi.
func (r *Replay) Sample(n int, rng *rand.Rand, augment bool) []Sample {
	if len(r.Samples) == 0 {
		return nil
	}
	out := make([]Sample, n)
	for i := range out {
		s := r.Samples[rng.IntN(len(r.Samples))]
		if augment {
			s = Augment(s, rng.IntN(game.NumSymmetries))
		}
		out[i] = s
	}
	return out
}

// Augment applies symmetry k to a sample.
func Augment(s Sample, k int) Sample {
	size := s.State.Size
	out := s
	out.State = game.Symmetry(s.State, k)
	out.NextState = game.Symmetry(s.NextState, k)
	out.Action = game.TransformAction(size, s.Action, k)
	if s.Pi != nil {
		out.Pi = game.TransformPolicy(size, s.Pi, k)
	}
	return out
}

// ClearEpisodesDir removes batch files and the tmp/ staging directory.
func ClearEpisodesDir(dir string) error {
	paths, err := ListBatches(dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	if err := os.RemoveAll(filepath.Join(dir, "tmp")); err != nil {
		return fmt.Errorf("remove tmp dir: %w", err)
	}
	return nil
}
