// ABOUTME: Bubbletea model for the daemon status screen
// ABOUTME: Polls a status snapshot and maps keys to transport commands
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshInterval = 500 * time.Millisecond
	volumeStep      = 5
	innerWidth      = 52
)

var (
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
)

// Controller runs the commands bound to keys. Calls happen on a tea.Cmd
// goroutine, never on the Update loop.
type Controller interface {
	TogglePause()
	Stop()
	Next() error
	Previous() error
	SetVolume(percent int) error
	ToggleOutput(i int) error
	ToggleRepeat()
	ToggleSingle()
}

// OutputLine is one output row
type OutputLine struct {
	Name    string
	Enabled bool
	Open    bool
}

// StatusMsg is a full status snapshot
type StatusMsg struct {
	State    string
	Title    string
	Artist   string
	Album    string
	URI      string
	Position int
	Length   int
	Elapsed  time.Duration
	Duration time.Duration
	Format   string
	BitRate  int
	// Volume is -1 without a mixer
	Volume    int
	Repeat    bool
	Single    bool
	CrossFade time.Duration
	Outputs   []OutputLine
	Error     string
}

type tickMsg time.Time

// errMsg reports a failed command
type errMsg struct{ err error }

// Model represents the TUI state
type Model struct {
	name   string
	status func() StatusMsg
	ctrl   Controller

	st       StatusMsg
	progress progress.Model
	// lastErr is the last command failure, cleared by the next command
	lastErr string

	width  int
	height int
}

// NewModel creates a model polling status and sending keys to ctrl; either
// may be nil in tests
func NewModel(name string, status func() StatusMsg, ctrl Controller) Model {
	return Model{
		name:     name,
		status:   status,
		ctrl:     ctrl,
		st:       StatusMsg{State: "stop", Volume: -1},
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(innerWidth-14)),
	}
}

// Init starts the refresh loop
func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) refresh() tea.Cmd {
	if m.status == nil {
		return nil
	}
	status := m.status
	return func() tea.Msg { return status() }
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.st = msg
		return m, tick()
	case tickMsg:
		return m, m.refresh()
	case errMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		}
		return m, m.refresh()
	}
	return m, nil
}

// run wraps a controller call as a command followed by a refresh
func (m Model) run(f func(Controller) error) tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	ctrl := m.ctrl
	return func() tea.Msg { return errMsg{err: f(ctrl)} }
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	}

	m.lastErr = ""
	var cmd tea.Cmd
	switch key {
	case " ", "p":
		cmd = m.run(func(c Controller) error { c.TogglePause(); return nil })
	case "s":
		cmd = m.run(func(c Controller) error { c.Stop(); return nil })
	case "n", "right":
		cmd = m.run(Controller.Next)
	case "b", "left":
		cmd = m.run(Controller.Previous)
	case "up", "down":
		if m.st.Volume < 0 {
			break
		}
		v := m.st.Volume + volumeStep
		if key == "down" {
			v = m.st.Volume - volumeStep
		}
		v = max(0, min(100, v))
		m.st.Volume = v
		cmd = m.run(func(c Controller) error { return c.SetVolume(v) })
	case "r":
		cmd = m.run(func(c Controller) error { c.ToggleRepeat(); return nil })
	case "1":
		cmd = m.run(func(c Controller) error { c.ToggleSingle(); return nil })
	default:
		if i, ok := outputKey(key); ok && i < len(m.st.Outputs) {
			cmd = m.run(func(c Controller) error { return c.ToggleOutput(i) })
		}
	}
	return m, cmd
}

// outputKey maps F1..F9 to output indexes
func outputKey(key string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(key, "f%d", &n); err != nil || n < 1 || n > 9 {
		return 0, false
	}
	return n - 1, true
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderSong())
	b.WriteString(m.renderProgress())
	b.WriteString(m.renderOutputs())
	b.WriteString(m.renderHelp())
	return b.String()
}

func line(s string) string {
	return "│ " + pad(s, innerWidth) + " │\n"
}

func pad(s string, n int) string {
	w := lipgloss.Width(s)
	if w >= n {
		return s
	}
	return s + strings.Repeat(" ", n-w)
}

func (m Model) renderHeader() string {
	title := "─ " + truncate(m.name, 30) + " "
	top := "┌" + title + strings.Repeat("─", innerWidth+2-lipgloss.Width(title)) + "┐\n"

	modes := []string{}
	if m.st.Repeat {
		modes = append(modes, "repeat")
	}
	if m.st.Single {
		modes = append(modes, "single")
	}
	if m.st.CrossFade > 0 {
		modes = append(modes, fmt.Sprintf("xfade %s", m.st.CrossFade))
	}

	vol := "n/a"
	if m.st.Volume >= 0 {
		vol = fmt.Sprintf("[%s] %d%%", renderBar(m.st.Volume, 100, 10), m.st.Volume)
	}

	s := top
	s += line(fmt.Sprintf("State:  %-8s %s", stateLabel(m.st.State), strings.Join(modes, " ")))
	s += line("Volume: " + vol)
	s += "├" + strings.Repeat("─", innerWidth+2) + "┤\n"
	return s
}

func (m Model) renderSong() string {
	if m.st.State == "stop" && m.st.URI == "" {
		return line("Nothing playing")
	}

	var s string
	if m.st.Title != "" {
		s += line("Track:  " + truncate(m.st.Title, innerWidth-8))
		s += line("Artist: " + truncate(m.st.Artist, innerWidth-8))
		s += line("Album:  " + truncate(m.st.Album, innerWidth-8))
	} else {
		s += line("File:   " + truncate(m.st.URI, innerWidth-8))
	}
	if m.st.Length > 0 {
		s += line(fmt.Sprintf("Queue:  %d/%d", m.st.Position+1, m.st.Length))
	}
	if m.st.Format != "" {
		s += line(fmt.Sprintf("Format: %s %dkbps", m.st.Format, m.st.BitRate))
	}
	return s
}

func (m Model) renderProgress() string {
	pct := 0.0
	if m.st.Duration > 0 {
		pct = float64(m.st.Elapsed) / float64(m.st.Duration)
		pct = max(0, min(1, pct))
	}
	s := line(fmt.Sprintf("%s %s %s", formatTime(m.st.Elapsed), m.progress.ViewAs(pct), formatTime(m.st.Duration)))
	if m.st.Error != "" {
		s += line(errorStyle.Render("Error: " + truncate(m.st.Error, innerWidth-7)))
	}
	if m.lastErr != "" {
		s += line(errorStyle.Render(truncate(m.lastErr, innerWidth)))
	}
	return s
}

func (m Model) renderOutputs() string {
	s := "├" + strings.Repeat("─", innerWidth+2) + "┤\n"
	for i, o := range m.st.Outputs {
		mark := "●"
		if !o.Open {
			mark = "○"
		}
		row := fmt.Sprintf("F%d %s %s", i+1, mark, truncate(o.Name, innerWidth-8))
		if !o.Enabled {
			row = offStyle.Render(row + " (off)")
		}
		s += line(row)
	}
	return s
}

func (m Model) renderHelp() string {
	return line("space:Pause s:Stop n/b:Next/Prev ↑/↓:Vol r:Repeat") +
		line("1:Single F1-F9:Outputs q:Quit") +
		"└" + strings.Repeat("─", innerWidth+2) + "┘\n"
}

func stateLabel(s string) string {
	switch s {
	case "play":
		return "▶ play"
	case "pause":
		return "‖ pause"
	}
	return "■ stop"
}

// Utility functions
func renderBar(value, total, width int) string {
	filled := (value * width) / total
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
