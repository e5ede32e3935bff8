package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AllenAnZifeng/Go-AI/executor/selfplay"
)

type GameUpdate struct {
	Stage  string
	Result selfplay.GameResult
}

type stageMsg struct {
	Iteration int
	Stage     string
}

type evalMsg struct {
	Iteration int
	VsCurrent selfplay.MatchResult
	VsGreedy  selfplay.MatchResult
	Promoted  bool
}

type doneMsg struct{ err error }

type model struct {
	iteration   int
	stage       string
	gamesPlayed int
	moves       int64
	inferences  int64
	startTime   time.Time
	recentGames []string
	lastEval    string
	err         error
	updates     chan tea.Msg
}

func initialModel(updates chan tea.Msg) model {
	return model{
		startTime: time.Now(),
		stage:     "starting",
		updates:   updates,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		m.inferences = totalInferences.Load()
		return m, tickCmd()
	case stageMsg:
		m.iteration = msg.Iteration
		m.stage = msg.Stage
		return m, waitForUpdate(m.updates)
	case GameUpdate:
		m.gamesPlayed++
		line := fmt.Sprintf("%-10s winner %-5s steps %3d  area %d-%d", msg.Stage, msg.Result.Winner, msg.Result.Steps, msg.Result.BlackArea, msg.Result.WhiteArea)
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	case evalMsg:
		m.lastEval = fmt.Sprintf("iter %d: vs current %.1f%% ± %.1f, vs greedy %.1f%%, promoted=%v",
			msg.Iteration, 100*msg.VsCurrent.WinRate, 100*msg.VsCurrent.StdErr, 100*msg.VsGreedy.WinRate, msg.Promoted)
		return m, waitForUpdate(m.updates)
	case doneMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	gamesPerSec := float64(m.gamesPlayed) / duration.Seconds()
	movesPerSec := float64(m.moves) / duration.Seconds()
	inferencesPerSec := float64(m.inferences) / duration.Seconds()
	if duration.Seconds() < 1 {
		gamesPerSec = 0
		movesPerSec = 0
		inferencesPerSec = 0
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Iteration:      %d (%s)\n", m.iteration, m.stage)
	fmt.Fprintf(&sb, "Games Played:   %d\n", m.gamesPlayed)
	fmt.Fprintf(&sb, "Total Moves:    %d\n", m.moves)
	fmt.Fprintf(&sb, "Evaluations:    %d\n", m.inferences)
	fmt.Fprintf(&sb, "Duration:       %s\n", duration.Round(time.Second))
	fmt.Fprintf(&sb, "Games/Sec:      %.2f\n", gamesPerSec)
	fmt.Fprintf(&sb, "Moves/Sec:      %.2f\n", movesPerSec)
	fmt.Fprintf(&sb, "Evals/Sec:      %.2f\n\n", inferencesPerSec)
	if m.lastEval != "" {
		fmt.Fprintf(&sb, "Last evaluation: %s\n\n", m.lastEval)
	}

	sb.WriteString("Recent Games:\n")
	for _, g := range m.recentGames {
		sb.WriteString(g + "\n")
	}

	sb.WriteString("\nPress q to quit.\n")
	return sb.String()
}
