package selfplay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/mcts"
	"github.com/AllenAnZifeng/Go-AI/executor/policy"
	"github.com/AllenAnZifeng/Go-AI/game"
	"github.com/AllenAnZifeng/Go-AI/rules"
)

// Config describes the games to play.
type Config struct {
	BoardSize int
	// MaxSteps caps game length; area scoring decides capped games.
	// Zero means 2*BoardSize*BoardSize.
	MaxSteps int
	// Verbose renders the board after every move.
	Verbose bool
	// OnMove, if set, is called after every move with the resulting
	// position. It runs on the game's goroutine.
	OnMove func(ply int, action int, next *game.State, probs []float64)
}

func (c Config) maxSteps() int {
	if c.MaxSteps > 0 {
		return c.MaxSteps
	}
	return 2 * c.BoardSize * c.BoardSize
}

// Event is one recorded transition. State and NextState are canonical for
// their player to move; Win is the final outcome for the player who moved.
type Event struct {
	State     *game.State
	Action    int
	NextState *game.State
	Reward    float32
	Terminal  bool
	Win       float32
	Pi        []float32
	Search    []byte
}

type GameResult struct {
	Winner    game.Color
	Steps     int
	BlackArea int
	WhiteArea int
	Duration  time.Duration
	Events    []Event
}

// searcher is implemented by policies that keep a search tree.
type searcher interface {
	Summary() (mcts.SearchResult, bool)
}

// PlayGame plays one game between black and white. Both policies are reset
// first and told about every move. Cancelling ctx aborts the game.
func PlayGame(ctx context.Context, cfg Config, black, white policy.Policy, record bool) (GameResult, error) {
	start := time.Now()
	black.Reset()
	white.Reset()

	state := game.NewState(cfg.BoardSize)
	var events []Event
	limit := cfg.maxSteps()

	for ply := 0; !state.Done && ply < limit; ply++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return GameResult{Steps: ply}, ctx.Err()
			default:
			}
		}

		mover := black
		if state.Turn == game.White {
			mover = white
		}
		canon := game.CanonicalForm(state, state.Turn)
		action, probs, err := policy.SelectAction(ctx, mover, canon, ply)
		if err != nil {
			return GameResult{Steps: ply}, err
		}

		next, err := rules.NextState(state, action)
		if err != nil {
			return GameResult{Steps: ply}, fmt.Errorf("%s played %d: %w", mover.Name(), action, err)
		}

		if record {
			ev := Event{
				State:     canon,
				Action:    action,
				NextState: game.CanonicalForm(next, next.Turn),
				Pi:        toFloat32(probs),
			}
			if s, ok := mover.(searcher); ok {
				if res, ok := s.Summary(); ok {
					ev.Search, _ = json.Marshal(res)
				}
			}
			events = append(events, ev)
		}

		if err := black.Step(action); err != nil {
			return GameResult{Steps: ply}, fmt.Errorf("%s step: %w", black.Name(), err)
		}
		if err := white.Step(action); err != nil {
			return GameResult{Steps: ply}, fmt.Errorf("%s step: %w", white.Name(), err)
		}

		state = next
		if cfg.OnMove != nil {
			cfg.OnMove(ply, action, next, probs)
		}
		if cfg.Verbose {
			PrintBoard(state)
		}
	}

	b, w := rules.Areas(state)
	res := GameResult{
		Winner:    rules.Winner(state),
		Steps:     state.Moves,
		BlackArea: b,
		WhiteArea: w,
		Duration:  time.Since(start),
	}

	// Values are known only once the game completes.
	for i := range events {
		ev := &events[i]
		ev.Win = rules.Outcome(state, ev.State.Turn)
		if i == len(events)-1 {
			ev.Terminal = true
			ev.Reward = ev.Win
		}
	}
	res.Events = events

	log.Debug().
		Str("black", black.Name()).
		Str("white", white.Name()).
		Str("winner", res.Winner.String()).
		Int("steps", res.Steps).
		Int("black_area", b).
		Int("white_area", w).
		Msg("game finished")
	return res, nil
}

func toFloat32(p []float64) []float32 {
	out := make([]float32, len(p))
	for i, v := range p {
		out[i] = float32(v)
	}
	return out
}
