package main

import (
	"encoding/json"
	"strings"

	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

type GameSummary struct {
	GameID    string `json:"game_id"`
	Steps     int32  `json:"steps"`
	BoardSize int32  `json:"board_size"`
	Source    string `json:"source"`
	ModelPath string `json:"model_path,omitempty"`
	File      string `json:"file"`

	// BlackResult is the final outcome for black: 1, 0 or -1.
	BlackResult float32 `json:"black_result"`
}

type GamesResponse struct {
	Total int64         `json:"total"`
	Games []GameSummary `json:"games"`
}

// Frame is one position as sent to the browser, both for live games over
// the websocket and for recorded games.
type Frame struct {
	GameID    string          `json:"game_id"`
	Step      int             `json:"step"`
	Size      int             `json:"size"`
	Rows      []string        `json:"rows"`
	Turn      string          `json:"turn"`
	Action    int             `json:"action"`
	Pass      bool            `json:"pass"`
	Ko        int             `json:"ko"`
	Done      bool            `json:"done"`
	BlackArea int             `json:"black_area"`
	WhiteArea int             `json:"white_area"`
	Winner    string          `json:"winner,omitempty"`
	Pi        []float32       `json:"pi,omitempty"`
	Search    json.RawMessage `json:"search,omitempty"`
}

type GameResponse struct {
	GameID string  `json:"game_id"`
	Frames []Frame `json:"frames"`
}

// ReplaySample is one transition as a trainer would draw it, symmetry
// augmentation included.
type ReplaySample struct {
	State    Frame     `json:"state"`
	Action   int       `json:"action"`
	Terminal bool      `json:"terminal"`
	Win      float32   `json:"win"`
	Pi       []float32 `json:"pi"`
}

type ReplaySampleResponse struct {
	Seed    uint64         `json:"seed"`
	Augment bool           `json:"augment"`
	Total   int            `json:"total"`
	Samples []ReplaySample `json:"samples"`
}

// newFrame describes s, the position after action was played. action is -1
// for the initial position.
func newFrame(gameID string, step, action int, s *game.State) Frame {
	rows := make([]string, s.Size)
	var sb strings.Builder
	for r := 0; r < s.Size; r++ {
		sb.Reset()
		for c := 0; c < s.Size; c++ {
			switch s.At(r, c) {
			case game.Black:
				sb.WriteByte('X')
			case game.White:
				sb.WriteByte('O')
			default:
				sb.WriteByte('.')
			}
		}
		rows[r] = sb.String()
	}
	b, w := rules.Areas(s)
	f := Frame{
		GameID:    gameID,
		Step:      step,
		Size:      s.Size,
		Rows:      rows,
		Turn:      s.Turn.String(),
		Action:    action,
		Pass:      action == s.PassAction(),
		Ko:        s.Ko,
		Done:      s.Done,
		BlackArea: b,
		WhiteArea: w,
	}
	if s.Done {
		f.Winner = rules.Winner(s).String()
	}
	return f
}
