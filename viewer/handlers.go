package main

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/store"
)

// Server holds shared state for HTTP handlers.
type Server struct {
	roots   []string
	dbCache *DBCache
	hub     *Hub
}

func NewServer(roots []string, hub *Hub) *Server {
	return &Server{
		roots:   roots,
		dbCache: NewDBCache(roots, 30*time.Second),
		hub:     hub,
	}
}

// RegisterRoutes sets up all routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/api/games", s.handleGames)
	mux.HandleFunc("/api/games/", s.handleGame)
	mux.HandleFunc("/api/replay/sample", s.handleReplaySample)
}

func (s *Server) Close() error { return s.dbCache.Close() }

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := parseIntQuery(r, "offset", 0)

	games, err := s.dbCache.GetGamesIndex(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("games index")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, GamesResponse{
		Total: int64(len(games)),
		Games: paginateGames(games, limit, offset, r.URL.Query().Get("sort")),
	})
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	gameID := strings.TrimPrefix(r.URL.Path, "/api/games/")
	if gameID == "" || strings.Contains(gameID, "/") {
		http.Error(w, "bad game id", http.StatusBadRequest)
		return
	}

	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	frames, err := queryGameFrames(r.Context(), db, gameID)
	if errors.Is(err, ErrGameNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("game", gameID).Msg("query game")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, GameResponse{GameID: gameID, Frames: frames})
}

// handleReplaySample draws transitions from the newest batch files of every
// root. Query: n (default 8, at most 64), files per root (default 4),
// augment (default on, "0" disables) and seed.
func (s *Server) handleReplaySample(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := parseIntQuery(r, "n", 8)
	if n <= 0 || n > 64 {
		n = 8
	}
	files := parseIntQuery(r, "files", 4)
	augment := r.URL.Query().Get("augment") != "0"
	seed := uint64(parseIntQuery(r, "seed", int(time.Now().UnixNano()&0x7fffffff)))

	replay := &store.Replay{}
	for _, root := range s.roots {
		part, err := store.LoadReplay(root, files)
		if err != nil {
			log.Error().Err(err).Str("root", root).Msg("load replay")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		replay.Samples = append(replay.Samples, part.Samples...)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	drawn := replay.Sample(n, rng, augment)
	resp := ReplaySampleResponse{
		Seed:    seed,
		Augment: augment,
		Total:   len(replay.Samples),
		Samples: make([]ReplaySample, 0, len(drawn)),
	}
	for i, d := range drawn {
		resp.Samples = append(resp.Samples, ReplaySample{
			State:    newFrame("replay", i, -1, d.State),
			Action:   d.Action,
			Terminal: d.Terminal,
			Win:      d.Win,
			Pi:       d.Pi,
		})
	}
	writeJSON(w, resp)
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Go self-play</title>
<style>
body { font-family: monospace; background: #222; color: #ddd; }
#board { font-size: 22px; line-height: 1.1; white-space: pre; }
</style>
</head>
<body>
<div id="meta"></div>
<div id="board"></div>
<script>
const meta = document.getElementById("meta");
const board = document.getElementById("board");
function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = (ev) => {
    const f = JSON.parse(ev.data);
    meta.textContent = f.game_id + "  step " + f.step + "  turn " + f.turn +
      "  area " + f.black_area + "-" + f.white_area + (f.done ? "  winner " + f.winner : "");
    board.textContent = f.rows.map(r => r.split("").join(" ")).join("\n");
  };
  ws.onclose = () => setTimeout(connect, 1000);
}
connect();
</script>
</body>
</html>
`
