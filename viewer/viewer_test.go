package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/executor/selfplay"
	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
	"github.com/AllenAnZifeng/Go-AI/store"
)

func TestNewFrame(t *testing.T) {
	s := game.NewState(3)
	s, err := rules.NextState(s, 0)
	require.NoError(t, err)
	f := newFrame("g", 1, 0, s)
	require.Equal(t, []string{"X..", "...", "..."}, f.Rows)
	require.Equal(t, "white", f.Turn)
	require.Equal(t, 9, f.BlackArea)
	require.False(t, f.Pass)
	require.Empty(t, f.Winner)

	s, _ = rules.NextState(s, s.PassAction())
	s, _ = rules.NextState(s, s.PassAction())
	f = newFrame("g", 3, s.PassAction(), s)
	require.True(t, f.Pass)
	require.True(t, f.Done)
	require.Equal(t, "black", f.Winner)
}

func TestHubStreamsFrames(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Broadcast(newFrame("live", 0, -1, game.NewState(5))))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	require.Equal(t, "live", f.GameID)
	require.Len(t, f.Rows, 5)

	// Late joiners get the latest frame immediately.
	conn2, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn2.Close()
	_ = conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = conn2.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"game_id":"live"`)
}

func TestRecordedGamesQuery(t *testing.T) {
	dir := t.TempDir()
	res, err := selfplay.PlayGame(context.Background(), selfplay.Config{BoardSize: 3, MaxSteps: 10},
		policy.NewGreedy("g"), policy.NewRandom("r", 7), true)
	require.NoError(t, err)
	rows, err := selfplay.EventsToRows("game-1", "test", "", res.Events)
	require.NoError(t, err)
	_, err = store.WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)

	cache := NewDBCache([]string{dir}, time.Minute)
	defer cache.Close()

	games, err := cache.GetGamesIndex(context.Background())
	require.NoError(t, err)
	require.Len(t, games, 1)
	require.Equal(t, "game-1", games[0].GameID)
	require.Equal(t, int32(len(rows)), games[0].Steps)
	require.Equal(t, int32(3), games[0].BoardSize)
	require.Equal(t, rules.Outcome(res.Events[len(res.Events)-1].NextState, game.Black), games[0].BlackResult)

	db, err := cache.Get()
	require.NoError(t, err)
	frames, err := queryGameFrames(context.Background(), db, "game-1")
	require.NoError(t, err)
	require.Len(t, frames, len(rows)+1)
	require.Equal(t, -1, frames[0].Action)
	for i, ev := range res.Events {
		require.Equal(t, ev.Action, frames[i+1].Action)
		require.Len(t, frames[i+1].Pi, game.ActionSize(3))
	}

	_, err = queryGameFrames(context.Background(), db, "missing")
	require.ErrorIs(t, err, ErrGameNotFound)
}

func TestReplaySampleEndpoint(t *testing.T) {
	dir := t.TempDir()
	res, err := selfplay.PlayGame(context.Background(), selfplay.Config{BoardSize: 5, MaxSteps: 12},
		policy.NewGreedy("g"), policy.NewRandom("r", 3), true)
	require.NoError(t, err)
	rows, err := selfplay.EventsToRows("game-1", "test", "", res.Events)
	require.NoError(t, err)
	_, err = store.WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)

	srv := NewServer([]string{dir}, NewHub())
	defer srv.Close()
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/replay/sample?n=6&seed=11")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ReplaySampleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, uint64(11), body.Seed)
	require.True(t, body.Augment)
	require.Equal(t, len(rows), body.Total)
	require.Len(t, body.Samples, 6)
	for _, smp := range body.Samples {
		require.Len(t, smp.State.Rows, 5)
		require.Len(t, smp.Pi, game.ActionSize(5))
		require.Greater(t, smp.Pi[smp.Action], float32(0))
	}
}

func TestEmptyRoots(t *testing.T) {
	cache := NewDBCache([]string{t.TempDir()}, time.Minute)
	defer cache.Close()
	games, err := cache.GetGamesIndex(context.Background())
	require.NoError(t, err)
	require.Empty(t, games)
}
