package selfplay

import (
	"fmt"

	"github.com/AllenAnZifeng/Go-AI/store"
)

// EventsToRows converts the recorded events of one game to trajectory rows.
func EventsToRows(gameID, source, modelPath string, events []Event) ([]store.TrajectoryRow, error) {
	rows := make([]store.TrajectoryRow, 0, len(events))
	for i, ev := range events {
		state, err := ev.State.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("step %d state: %w", i, err)
		}
		next, err := ev.NextState.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("step %d next state: %w", i, err)
		}
		rows = append(rows, store.TrajectoryRow{
			GameID:     gameID,
			Step:       int32(i),
			BoardSize:  int32(ev.State.Size),
			State:      state,
			Action:     int32(ev.Action),
			NextState:  next,
			Reward:     ev.Reward,
			Terminal:   ev.Terminal,
			Win:        ev.Win,
			Pi:         ev.Pi,
			Source:     source,
			ModelPath:  modelPath,
			SearchJSON: ev.Search,
		})
	}
	return rows, nil
}
