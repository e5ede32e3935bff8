package selfplay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/executor/mcts"
	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
	"github.com/AllenAnZifeng/Go-AI/store"
)

// spy counts lifecycle calls on a wrapped policy.
type spy struct {
	policy.Policy
	resets int
	steps  []int
}

func (s *spy) Reset() {
	s.resets++
	s.Policy.Reset()
}

func (s *spy) Step(a int) error {
	s.steps = append(s.steps, a)
	return s.Policy.Step(a)
}

func TestPlayGameRecordsTrajectory(t *testing.T) {
	black := &spy{Policy: policy.NewGreedy("greedy")}
	white := &spy{Policy: policy.NewRandom("random", 3)}
	cfg := Config{BoardSize: 5}

	res, err := PlayGame(context.Background(), cfg, black, white, true)
	require.NoError(t, err)
	require.Equal(t, res.Steps, len(res.Events))
	require.Equal(t, 1, black.resets)
	require.Equal(t, 1, white.resets)
	require.Equal(t, black.steps, white.steps)
	require.Len(t, black.steps, res.Steps)
	require.Equal(t, res.BlackArea > res.WhiteArea, res.Winner == game.Black)

	for i, ev := range res.Events {
		require.Equal(t, ev.State.Turn, ev.State.Perspective)
		require.Equal(t, black.steps[i], ev.Action)
		total := float32(0)
		for a, p := range ev.Pi {
			total += p
			if p > 0 {
				require.True(t, rules.IsValid(ev.State, a))
			}
		}
		require.InDelta(t, 1.0, total, 1e-5)

		if i+1 < len(res.Events) {
			require.True(t, ev.NextState.Equal(res.Events[i+1].State))
			require.False(t, ev.Terminal)
			require.Zero(t, ev.Reward)
			// Consecutive movers see opposite outcomes, unless drawn.
			require.Equal(t, ev.Win, -res.Events[i+1].Win)
		} else {
			require.True(t, ev.Terminal)
			require.Equal(t, ev.Win, ev.Reward)
		}
	}
}

func TestPlayGameOnMove(t *testing.T) {
	var plies []int
	var last *game.State
	cfg := Config{BoardSize: 3, OnMove: func(ply, action int, next *game.State, probs []float64) {
		plies = append(plies, ply)
		require.Len(t, probs, game.ActionSize(3))
		last = next
	}}
	res, err := PlayGame(context.Background(), cfg, policy.NewRandom("a", 5), policy.NewRandom("b", 6), false)
	require.NoError(t, err)
	require.Len(t, plies, res.Steps)
	for i, p := range plies {
		require.Equal(t, i, p)
	}
	require.Equal(t, res.Steps, last.Moves)
}

func TestPlayGameMaxSteps(t *testing.T) {
	cfg := Config{BoardSize: 5, MaxSteps: 6}
	res, err := PlayGame(context.Background(), cfg, policy.NewGreedy("a"), policy.NewGreedy("b"), true)
	require.NoError(t, err)
	require.LessOrEqual(t, res.Steps, 6)
	require.True(t, res.Events[len(res.Events)-1].Terminal)
}

func TestPlayGameCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PlayGame(ctx, Config{BoardSize: 5}, policy.NewRandom("a", 1), policy.NewRandom("b", 2), false)
	require.ErrorIs(t, err, context.Canceled)
}

func TestActorCriticGameStoresSearchSummary(t *testing.T) {
	cfg := policy.Config{Simulations: 16, Cpuct: 1, Temp: 1, TempSteps: 2}
	ac := policy.NewActorCritic("ac", inference.Uniform{Value: inference.AreaValue}, cfg, 9)
	res, err := PlayGame(context.Background(), Config{BoardSize: 3, MaxSteps: 10}, ac, policy.NewRandom("r", 4), true)
	require.NoError(t, err)

	var sr mcts.SearchResult
	require.NoError(t, json.Unmarshal(res.Events[0].Search, &sr))
	require.Equal(t, 16, sr.RootVisits)
	if len(res.Events) > 1 {
		require.Nil(t, res.Events[1].Search)
	}

	rows, err := EventsToRows("g0", "selfplay", "", res.Events)
	require.NoError(t, err)
	require.Len(t, rows, len(res.Events))
	s, err := store.RowToSample(rows[0])
	require.NoError(t, err)
	require.True(t, s.State.Equal(res.Events[0].State))
	require.Equal(t, res.Events[0].Action, s.Action)
}

func TestGreedyVsGreedyIsEven(t *testing.T) {
	res, err := PlayGames(context.Background(), Config{BoardSize: 5}, policy.NewGreedy("g1"), policy.NewGreedy("g2"), 4, false, nil)
	require.NoError(t, err)
	require.Equal(t, 4, res.Games)
	require.Equal(t, 0.5, res.WinRate)
}

func TestGreedyBeatsRandom(t *testing.T) {
	if testing.Short() {
		t.Skip("long match")
	}
	factory := func(w int) (policy.Policy, policy.Policy, error) {
		return policy.NewGreedy("greedy"), policy.NewRandom("random", uint64(1000+w)), nil
	}
	res, err := ParallelPlay(context.Background(), Config{BoardSize: game.SizeSmall}, 4, factory, 256, false, nil)
	require.NoError(t, err)
	require.Equal(t, 256, res.Games)
	t.Logf("greedy vs random: win rate %.3f ± %.3f, avg steps %.1f", res.WinRate, res.StdErr, res.AvgSteps)
	require.GreaterOrEqual(t, res.WinRate, 0.9)
}

func TestParallelPlayAggregates(t *testing.T) {
	var games atomic.Int64
	factory := func(w int) (policy.Policy, policy.Policy, error) {
		return policy.NewRandom("a", uint64(w)), policy.NewRandom("b", uint64(w+100)), nil
	}
	res, err := ParallelPlay(context.Background(), Config{BoardSize: 3}, 3, factory, 10, true, func(GameResult) { games.Add(1) })
	require.NoError(t, err)
	require.Equal(t, 10, res.Games)
	require.Equal(t, 10, res.Wins+res.Draws+res.Losses)
	require.Len(t, res.Trajectories, 10)
	require.Equal(t, int64(10), games.Load())
	require.GreaterOrEqual(t, res.WinRate, 0.0)
	require.LessOrEqual(t, res.WinRate, 1.0)

	boom := errors.New("no model")
	_, err = ParallelPlay(context.Background(), Config{BoardSize: 3}, 2, func(w int) (policy.Policy, policy.Policy, error) {
		return nil, nil, boom
	}, 4, false, nil)
	require.ErrorIs(t, err, boom)
}

func TestBarrierReusable(t *testing.T) {
	const n = 4
	b := NewBarrier(n)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 3; round++ {
				mu.Lock()
				order = append(order, round)
				mu.Unlock()
				b.Wait()
			}
		}()
	}
	wg.Wait()
	require.Len(t, order, 3*n)
	// Nobody starts round r+1 before everyone finished round r.
	for i, r := range order {
		require.Equal(t, i/n, r)
	}
}

func TestSyncCheckpoint(t *testing.T) {
	const n = 3
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.onnx")
	b := NewBarrier(n)
	loaded := make([]string, n)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[rank] = SyncCheckpoint(rank, b,
				func() error { return os.WriteFile(path, []byte("weights-v2"), 0o644) },
				func() error {
					data, err := os.ReadFile(path)
					loaded[rank] = string(data)
					return err
				})
		}()
	}
	wg.Wait()
	for rank := 0; rank < n; rank++ {
		require.NoError(t, errs[rank])
		require.Equal(t, "weights-v2", loaded[rank])
	}
}

func TestSyncCheckpointSaveFailureReachesEveryRank(t *testing.T) {
	const n = 3
	b := NewBarrier(n)
	full := errors.New("disk full")
	var loads atomic.Int32

	var wg sync.WaitGroup
	errs := make([]error, n)
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[rank] = SyncCheckpoint(rank, b,
				func() error { return full },
				func() error {
					loads.Add(1)
					return nil
				})
		}()
	}
	wg.Wait()
	for rank := 0; rank < n; rank++ {
		require.ErrorIs(t, errs[rank], full, "rank %d", rank)
	}
	require.Zero(t, loads.Load())

	// The error belongs to that round only.
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[rank] = b.WaitErr(nil)
		}()
	}
	wg.Wait()
	for rank := 0; rank < n; rank++ {
		require.NoError(t, errs[rank])
	}
}

func TestRenderBoard(t *testing.T) {
	s := game.NewState(3)
	s, err := rules.NextState(s, 4)
	require.NoError(t, err)
	var buf bytes.Buffer
	RenderBoard(&buf, s)
	require.Contains(t, buf.String(), "X")
	require.Contains(t, buf.String(), "turn=white")
}
