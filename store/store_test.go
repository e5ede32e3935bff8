package store

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AllenAnZifeng/Go-AI/game"
)

func makeRows(t *testing.T, gameID string, n int) []TrajectoryRow {
	t.Helper()
	rows := make([]TrajectoryRow, 0, n)
	s := game.NewState(5)
	for i := 0; i < n; i++ {
		next := s.Clone()
		next.Board[i] = s.Turn
		next.Turn = s.Turn.Opponent()
		next.Perspective = next.Turn
		next.Moves++

		sb, err := s.MarshalBinary()
		require.NoError(t, err)
		nb, err := next.MarshalBinary()
		require.NoError(t, err)

		pi := make([]float32, s.ActionSize())
		pi[i] = 1
		rows = append(rows, TrajectoryRow{
			GameID:    gameID,
			Step:      int32(i),
			BoardSize: 5,
			State:     sb,
			Action:    int32(i),
			NextState: nb,
			Terminal:  i == n-1,
			Win:       1,
			Pi:        pi,
			Source:    "test",
		})
		s = next
	}
	return rows
}

func TestWriteBatchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rows := makeRows(t, "g1", 4)

	path, err := WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)
	require.FileExists(t, path)

	// Nothing left behind in the staging directory.
	tmp, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, tmp)

	got, err := ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, rows[2].State, got[2].State)
	require.Equal(t, rows[3].Pi, got[3].Pi)
	require.True(t, got[3].Terminal)

	sample, err := RowToSample(got[1])
	require.NoError(t, err)
	require.Equal(t, 1, sample.Action)
	require.Equal(t, game.Black, sample.State.At(0, 0))
	require.Equal(t, game.White, sample.NextState.At(0, 1))
}

func TestBatchWriterFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.WriteGame(makeRows(t, "a", 3)))
	require.NoError(t, w.WriteGame(makeRows(t, "b", 2)))
	require.Equal(t, 2, w.BufferedGames())

	path, rows, games, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, 5, rows)
	require.Equal(t, 2, games)

	replay, err := LoadReplay(dir, 0)
	require.NoError(t, err)
	require.Len(t, replay.Samples, 5)

	empty, err := NewBatchWriter(dir)
	require.NoError(t, err)
	p, _, _, err := empty.Finalize()
	require.NoError(t, err)
	require.Empty(t, p)

	paths, err := ListBatches(dir)
	require.NoError(t, err)
	require.Equal(t, []string{path}, paths)
}

func TestAugmentKeepsActionOnBoard(t *testing.T) {
	rows := makeRows(t, "g", 3)
	sample, err := RowToSample(rows[2])
	require.NoError(t, err)
	for k := 0; k < game.NumSymmetries; k++ {
		aug := Augment(sample, k)
		// The stone placed by the action sits at the transformed action.
		require.Equal(t, game.Black, aug.NextState.Board[aug.Action], "k=%d", k)
		require.Equal(t, float32(1), aug.Pi[aug.Action])
	}
}

func TestReplaySampleAugmentsConsistently(t *testing.T) {
	replay := &Replay{}
	for _, row := range makeRows(t, "g", 3) {
		s, err := RowToSample(row)
		require.NoError(t, err)
		replay.Samples = append(replay.Samples, s)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	drawn := replay.Sample(64, rng, true)
	require.Len(t, drawn, 64)

	moved := false
	for i, d := range drawn {
		// The transition still places the mover's stone on the sampled action
		// and changes nothing else.
		require.Equal(t, game.Empty, d.State.Board[d.Action], "draw %d", i)
		require.Equal(t, d.State.Turn, d.NextState.Board[d.Action], "draw %d", i)
		for p := range d.State.Board {
			if p != d.Action {
				require.Equal(t, d.State.Board[p], d.NextState.Board[p], "draw %d point %d", i, p)
			}
		}
		require.Len(t, d.Pi, d.State.ActionSize())
		require.Equal(t, float32(1), d.Pi[d.Action], "draw %d", i)
		if d.Action > 2 {
			moved = true
		}
	}
	require.True(t, moved, "no draw was transformed off the first row")

	// Sampling never rewrites the stored transitions.
	for j, s := range replay.Samples {
		require.Equal(t, j, s.Action)
		require.Equal(t, float32(1), s.Pi[j])
	}

	plain := replay.Sample(8, rng, false)
	for _, d := range plain {
		require.Less(t, d.Action, 3)
	}
	require.Nil(t, (&Replay{}).Sample(4, rng, true))
}

func TestCountRows(t *testing.T) {
	dir := t.TempDir()
	rows, files, err := CountRows(dir, 0)
	require.NoError(t, err)
	require.Zero(t, rows)
	require.Zero(t, files)

	_, err = WriteBatchParquetAtomic(dir, makeRows(t, "a", 3))
	require.NoError(t, err)
	_, err = WriteBatchParquetAtomic(dir, makeRows(t, "b", 4))
	require.NoError(t, err)

	rows, files, err = CountRows(dir, 0)
	require.NoError(t, err)
	require.Equal(t, int64(7), rows)
	require.Equal(t, 2, files)

	// The newest file only.
	rows, files, err = CountRows(dir, 1)
	require.NoError(t, err)
	require.Equal(t, int64(4), rows)
	require.Equal(t, 1, files)
}

func TestClearEpisodesDir(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteBatchParquetAtomic(dir, makeRows(t, "g", 2))
	require.NoError(t, err)
	keep := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	require.NoError(t, ClearEpisodesDir(dir))
	paths, err := ListBatches(dir)
	require.NoError(t, err)
	require.Empty(t, paths)
	require.FileExists(t, keep)
	require.NoDirExists(t, filepath.Join(dir, "tmp"))
}
