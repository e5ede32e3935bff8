package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/executor/mcts"
	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/game"
)

// MoveRequest describes a position. Rows hold one string per board row
// using 'X' for black, 'O' for white and '.' for empty points.
type MoveRequest struct {
	Rows      []string `json:"rows"`
	Turn      string   `json:"turn"`
	Ko        *int     `json:"ko,omitempty"`
	PrevPass  bool     `json:"prev_pass"`
	TimeoutMs int      `json:"timeout_ms"`
}

type MoveResponse struct {
	Action      int                `json:"action"`
	Row         int                `json:"row"`
	Col         int                `json:"col"`
	Pass        bool               `json:"pass"`
	Simulations int                `json:"simulations"`
	Fallback    bool               `json:"fallback,omitempty"`
	Search      *mcts.SearchResult `json:"search,omitempty"`
}

// Server answers move requests with a time-bounded tree search.
type Server struct {
	ev          inference.Evaluator
	mctsConfig  mcts.Config
	moveTimeout time.Duration
	mctsSims    int
	boardSize   int
}

func NewServer(ev inference.Evaluator, boardSize int, moveTimeout time.Duration, mctsSims int) *Server {
	return &Server{
		ev:          ev,
		mctsConfig:  mcts.DefaultConfig,
		moveTimeout: moveTimeout,
		mctsSims:    mctsSims,
		boardSize:   boardSize,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/move", s.handleMove)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"board_size": s.boardSize,
		"mcts_sims":  s.mctsSims,
		"timeout_ms": s.moveTimeout.Milliseconds(),
	})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	startTime := time.Now()

	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, err := parseBoard(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if state.Size != s.boardSize {
		http.Error(w, fmt.Sprintf("board size %d, serving %d", state.Size, s.boardSize), http.StatusBadRequest)
		return
	}

	timeout := s.moveTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	// Reserve time for encoding the response.
	computeTime := timeout - 20*time.Millisecond
	if computeTime < 10*time.Millisecond {
		computeTime = 10 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), computeTime)
	defer cancel()

	resp, err := s.search(ctx, state)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	resp.Row, resp.Col = -1, -1
	if !resp.Pass {
		resp.Row, resp.Col = state.RowCol(resp.Action)
	}

	log.Info().
		Int("action", resp.Action).
		Int("sims", resp.Simulations).
		Bool("fallback", resp.Fallback).
		Dur("took", time.Since(startTime)).
		Msg("move")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// search runs MCTS until the simulation budget or the deadline, whichever
// comes first. Without any completed simulation it falls back to the greedy
// baseline.
func (s *Server) search(ctx context.Context, state *game.State) (MoveResponse, error) {
	if state.Done {
		return MoveResponse{}, policy.ErrNoLegalMoves
	}
	tree := mcts.NewTree(game.CanonicalForm(state, state.Turn))
	engine := mcts.MCTS{Config: s.mctsConfig, Client: s.ev}
	_, err := engine.Search(ctx, tree, s.mctsSims)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("search failed")
	}

	if err == nil || tree.Node(tree.Root()).Visits > 1 {
		res := tree.Summarize(s.mctsConfig.Cpuct)
		if res.BestAction >= 0 {
			return MoveResponse{
				Action:      res.BestAction,
				Pass:        res.BestAction == state.PassAction(),
				Simulations: res.RootVisits,
				Search:      &res,
			}, nil
		}
	}

	action, _, err := policy.SelectAction(context.Background(), policy.NewGreedy("fallback"), game.CanonicalForm(state, state.Turn), state.Moves)
	if err != nil {
		return MoveResponse{}, err
	}
	return MoveResponse{Action: action, Pass: action == state.PassAction(), Fallback: true}, nil
}

func parseBoard(req MoveRequest) (*game.State, error) {
	size := len(req.Rows)
	if size < 2 {
		return nil, fmt.Errorf("board needs at least 2 rows, got %d", size)
	}
	s := game.NewState(size)
	for r, row := range req.Rows {
		if len(row) != size {
			return nil, fmt.Errorf("row %d has %d points, want %d", r, len(row), size)
		}
		for c := 0; c < size; c++ {
			switch row[c] {
			case 'X', 'x', 'B', 'b':
				s.Board[s.Index(r, c)] = game.Black
			case 'O', 'o', 'W', 'w':
				s.Board[s.Index(r, c)] = game.White
			case '.', '+', '-':
			default:
				return nil, fmt.Errorf("row %d col %d: bad point %q", r, c, row[c])
			}
		}
	}
	switch req.Turn {
	case "", "black", "b", "B":
		s.Turn = game.Black
	case "white", "w", "W":
		s.Turn = game.White
	default:
		return nil, fmt.Errorf("bad turn %q", req.Turn)
	}
	s.Perspective = s.Turn
	if req.Ko != nil {
		if *req.Ko < 0 || *req.Ko >= size*size || s.Board[*req.Ko] != game.Empty {
			return nil, fmt.Errorf("bad ko point %d", *req.Ko)
		}
		s.Ko = *req.Ko
	}
	s.PrevPass = req.PrevPass
	s.Moves = s.Count(game.Black) + s.Count(game.White)
	return s, nil
}
