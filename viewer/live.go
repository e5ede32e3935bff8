package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/inference"
	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/executor/selfplay"
	"github.com/AllenAnZifeng/Go-AI/game"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans frames out to every connected websocket client. Clients that
// fall behind lose frames rather than stalling the game.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends v as JSON to every client.
func (h *Hub) Broadcast(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
	return nil
}

// ServeWS upgrades the request and streams frames until the client leaves.
// A new client first receives the latest frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()
	log.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump only services control frames; it returns when the peer goes away.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type liveConfig struct {
	BoardSize int
	Black     string
	White     string
	Delay     time.Duration
	Policy    policy.Config
	Evaluator inference.Evaluator
}

// playLive plays games back to back and broadcasts every position.
func playLive(ctx context.Context, hub *Hub, cfg liveConfig) error {
	seed := uint64(time.Now().UnixNano())
	for n := 0; ; n++ {
		black, err := policy.NewFromString(cfg.Black, "black", cfg.Evaluator, cfg.Policy, seed+uint64(2*n))
		if err != nil {
			return err
		}
		white, err := policy.NewFromString(cfg.White, "white", cfg.Evaluator, cfg.Policy, seed+uint64(2*n+1))
		if err != nil {
			return err
		}

		gameID := fmt.Sprintf("live-%d-%d", seed, n)
		_ = hub.Broadcast(newFrame(gameID, 0, -1, game.NewState(cfg.BoardSize)))
		gameCfg := selfplay.Config{
			BoardSize: cfg.BoardSize,
			OnMove: func(ply, action int, next *game.State, probs []float64) {
				f := newFrame(gameID, ply+1, action, next)
				f.Pi = make([]float32, len(probs))
				for i, p := range probs {
					f.Pi[i] = float32(p)
				}
				if err := hub.Broadcast(f); err != nil {
					log.Warn().Err(err).Msg("broadcast frame")
				}
				select {
				case <-ctx.Done():
				case <-time.After(cfg.Delay):
				}
			},
		}
		res, err := selfplay.PlayGame(ctx, gameCfg, black, white, false)
		if err != nil {
			return err
		}
		log.Info().Str("game", gameID).Str("winner", res.Winner.String()).Int("steps", res.Steps).Int("clients", hub.Clients()).Msg("live game finished")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(4 * cfg.Delay):
		}
	}
}
