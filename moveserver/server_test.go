package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

func newTestServer(t *testing.T, sims int) *httptest.Server {
	s := NewServer(inference.Uniform{Value: inference.AreaValue}, 5, time.Second, sims)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postMove(t *testing.T, ts *httptest.Server, req MoveRequest) *http.Response {
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/move", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMoveSearches(t *testing.T) {
	ts := newTestServer(t, 200)
	req := MoveRequest{
		Rows: []string{
			"OX...",
			".....",
			"..X..",
			".....",
			".....",
		},
		Turn:      "black",
		TimeoutMs: 10000,
	}
	resp := postMove(t, ts, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out MoveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.Fallback)
	require.Equal(t, 200, out.Simulations)
	require.NotNil(t, out.Search)

	state, err := parseBoard(req)
	require.NoError(t, err)
	require.True(t, rules.IsValid(state, out.Action))
	if !out.Pass {
		require.Equal(t, state.Index(out.Row, out.Col), out.Action)
	}
}

func TestMoveRejectsBadBoards(t *testing.T) {
	ts := newTestServer(t, 10)
	for name, req := range map[string]MoveRequest{
		"ragged":     {Rows: []string{".....", "...", ".....", ".....", "....."}},
		"bad point":  {Rows: []string{"..?..", ".....", ".....", ".....", "....."}},
		"wrong size": {Rows: []string{"...", "...", "..."}},
		"bad turn":   {Rows: []string{".....", ".....", ".....", ".....", "....."}, Turn: "red"},
	} {
		resp := postMove(t, ts, req)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}

	resp, err := http.Get(ts.URL + "/move")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestParseBoard(t *testing.T) {
	ko := 5
	s, err := parseBoard(MoveRequest{
		Rows:     []string{"XO.", "...", "..."},
		Turn:     "white",
		Ko:       &ko,
		PrevPass: true,
	})
	require.NoError(t, err)
	require.Equal(t, 3, s.Size)
	require.Equal(t, game.Black, s.At(0, 0))
	require.Equal(t, game.White, s.At(0, 1))
	require.Equal(t, game.White, s.Turn)
	require.Equal(t, game.White, s.Perspective)
	require.Equal(t, 5, s.Ko)
	require.True(t, s.PrevPass)
	require.Equal(t, 2, s.Moves)
}
