// visualize.go - Console visualization for debugging self-play games.
//
// RenderBoard draws a coloured board; PrintBoard also dumps the encoded
// network input planes for the player to move.
package selfplay

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/muesli/termenv"
	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/executor/convert"
	"github.com/AllenAnZifeng/Go-AI/game"
)

// RenderBoard writes the board to w. Colours are only emitted when w is a
// terminal that supports them.
func RenderBoard(w io.Writer, state *game.State) {
	out := termenv.NewOutput(w)
	black := out.String("X").Bold()
	white := out.String("O").Foreground(out.Color("11")).Bold()
	ko := out.String("k").Faint()

	var sb strings.Builder
	fmt.Fprintf(&sb, "   ")
	for c := 0; c < state.Size; c++ {
		fmt.Fprintf(&sb, "%2d", c)
	}
	sb.WriteString("\n")
	for r := 0; r < state.Size; r++ {
		fmt.Fprintf(&sb, "%2d ", r)
		for c := 0; c < state.Size; c++ {
			idx := state.Index(r, c)
			sb.WriteString(" ")
			switch {
			case state.Board[idx] == game.Black:
				sb.WriteString(black.String())
			case state.Board[idx] == game.White:
				sb.WriteString(white.String())
			case idx == state.Ko:
				sb.WriteString(ko.String())
			default:
				sb.WriteString(".")
			}
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "turn=%s moves=%d prevPass=%v done=%v\n", state.Turn, state.Moves, state.PrevPass, state.Done)
	_, _ = io.WriteString(w, sb.String())
}

// PrintBoard renders the board and the encoded input layers to stderr.
func PrintBoard(state *game.State) {
	RenderBoard(os.Stderr, state)
	var sb strings.Builder
	printEncodedLayers(&sb, game.CanonicalForm(state, state.Turn))
	log.Trace().Msg(sb.String())
}

func printEncodedLayers(sb *strings.Builder, state *game.State) {
	dataPtr := convert.StateToFloat32(state)
	data := *dataPtr
	defer convert.PutFloatBuffer(state.Size, dataPtr)

	channelName := func(c int) string {
		switch c {
		case convert.ChanSelf:
			return "self"
		case convert.ChanOther:
			return "other"
		case convert.ChanTurn:
			return "turn"
		case convert.ChanInvalid:
			return "invalid"
		case convert.ChanPass:
			return "prev_pass"
		case convert.ChanDone:
			return "done"
		default:
			return "unknown"
		}
	}

	n := state.Size
	sb.WriteString("\n--- TRACE Encoded input layers (C,H,W) ---\n")
	for c := 0; c < convert.Channels; c++ {
		fmt.Fprintf(sb, "Layer %d (%s):\n", c, channelName(c))
		base := c * n * n
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				if data[base+y*n+x] == 0 {
					sb.WriteString(" .")
				} else {
					sb.WriteString(" 1")
				}
			}
			sb.WriteString("\n")
		}
	}
}
