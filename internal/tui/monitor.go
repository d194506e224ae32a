// Package tui implements the live session monitor behind `kiln job run
// --watch`: a frame table and event stream fed by the session event hub.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kilnhq/kiln/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	progressFill  = lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF"))
	progressEmpty = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
)

// --- Types ---

type frameState struct {
	Frame     int
	Status    string // queued, running, succeeded, failed, cancelled
	Progress  int
	StartTime time.Time
	EndTime   time.Time
}

// Model is the BubbleTea model for the session monitor.
type Model struct {
	jobName string

	width  int
	height int

	frames     map[int]*frameState
	frameOrder []int
	eventLog   []events.Event

	sessionStatus string
	sessionError  string
	environment   string
	envState      string

	hubEvents <-chan events.Event
	unsub     func()

	frameTable table.Model
}

type eventMsg events.Event
type tickMsg time.Time

// NewMonitor builds a monitor subscribed to the given hub. The caller runs
// the session in a separate goroutine; the monitor quits on session.finished
// or a quit key.
func NewMonitor(jobName string, hub *events.Hub) *Model {
	ch, unsub := hub.Subscribe()

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Frame", Width: 7},
			{Title: "Progress", Width: 26},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		jobName:       jobName,
		frames:        make(map[int]*frameState),
		eventLog:      make([]events.Event, 0),
		sessionStatus: "starting",
		hubEvents:     ch,
		unsub:         unsub,
		frameTable:    t,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.receiveNextEvent(),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.unsub()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.frameTable.SetWidth(m.width - 6)

	case tickMsg:
		// Periodic redraw keeps running durations live.
		m.updateTable()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		if m.sessionStatus == "succeeded" || m.sessionStatus == "failed" || m.sessionStatus == "cancelled" {
			m.unsub()
			return m, tea.Sequence(
				tea.Tick(1500*time.Millisecond, func(time.Time) tea.Msg { return nil }),
				tea.Quit,
			)
		}
		return m, m.receiveNextEvent()
	}

	m.frameTable, cmd = m.frameTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > 50 {
		m.eventLog = m.eventLog[:50]
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	switch e.Type {
	case events.TypeSessionStarted:
		m.sessionStatus = "running"
		if list, ok := data["frames"].([]any); ok {
			for _, v := range list {
				if f, ok := v.(float64); ok {
					frame := int(f)
					m.frames[frame] = &frameState{Frame: frame, Status: "queued"}
					m.frameOrder = append(m.frameOrder, frame)
				}
			}
		}

	case events.TypeEnvEntered:
		m.environment, _ = data["environment"].(string)
		m.envState = "entered"
		if ok, _ := data["ok"].(bool); !ok {
			m.envState = "enter failed"
		}

	case events.TypeEnvExited:
		m.envState = "exited"
		if ok, _ := data["ok"].(bool); !ok {
			m.envState = "exit failed"
		}

	case events.TypeTaskStarted:
		if fs := m.frameFor(data); fs != nil {
			fs.Status = "running"
			fs.StartTime = time.Now()
		}

	case events.TypeTaskProgress:
		if fs := m.frameFor(data); fs != nil {
			if pct, ok := data["percent"].(float64); ok {
				fs.Progress = int(pct)
			}
		}

	case events.TypeTaskFinished:
		if fs := m.frameFor(data); fs != nil {
			fs.Status, _ = data["status"].(string)
			fs.EndTime = time.Now()
			if fs.Status == "succeeded" {
				fs.Progress = 100
			}
		}

	case events.TypeSessionFinished:
		m.sessionStatus, _ = data["status"].(string)
		m.sessionError, _ = data["error"].(string)
	}
}

func (m *Model) frameFor(data map[string]any) *frameState {
	f, ok := data["frame"].(float64)
	if !ok {
		return nil
	}
	frame := int(f)
	fs, ok := m.frames[frame]
	if !ok {
		fs = &frameState{Frame: frame, Status: "queued"}
		m.frames[frame] = fs
		m.frameOrder = append(m.frameOrder, frame)
	}
	return fs
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.frameOrder))
	for _, frame := range m.frameOrder {
		rows = append(rows, m.frameToRow(m.frames[frame]))
	}
	m.frameTable.SetRows(rows)
}

func (m *Model) frameToRow(fs *frameState) table.Row {
	statusSym := statusQueued.Render("○")
	switch fs.Status {
	case "running":
		statusSym = statusRunning.Render("◉")
	case "succeeded":
		statusSym = statusOK.Render("●")
	case "failed":
		statusSym = statusFailed.Render("∅")
	case "cancelled":
		statusSym = statusFailed.Render("◑")
	}

	duration := "-"
	if !fs.StartTime.IsZero() {
		end := fs.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(fs.StartTime).Round(time.Second).String()
	}

	return table.Row{
		statusSym,
		fmt.Sprintf("%d", fs.Frame),
		renderProgressBar(fs.Progress, 20),
		duration,
	}
}

func renderProgressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	bar := progressFill.Render(strings.Repeat("█", filled)) +
		progressEmpty.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3d%%", bar, percent)
}

// --- View ---

func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	frames := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Frames"),
			m.frameTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	parts := []string{header, frames, eventsView}
	if m.sessionError != "" {
		parts = append(parts, statusFailed.Render(" ⚠ "+m.sessionError))
	}
	parts = append(parts,
		lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Frames"))

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m *Model) renderHeader() string {
	status := statusRunning.Render(strings.ToUpper(m.sessionStatus))
	switch m.sessionStatus {
	case "succeeded":
		status = statusOK.Render("SUCCEEDED")
	case "failed", "cancelled":
		status = statusFailed.Render(strings.ToUpper(m.sessionStatus))
	}

	done := 0
	for _, fs := range m.frames {
		if fs.Status == "succeeded" || fs.Status == "failed" || fs.Status == "cancelled" {
			done++
		}
	}

	env := "-"
	if m.environment != "" {
		env = fmt.Sprintf("%s (%s)", m.environment, m.envState)
	}

	items := []string{
		fmt.Sprintf("Job: %s", m.jobName),
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Frames: %d/%d", done, len(m.frames)),
		fmt.Sprintf("Environment: %s", env),
	}

	cell := (m.width - 4) / 4
	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(cell).Render(items[0]),
			lipgloss.NewStyle().Width(cell).Render(items[1]),
			lipgloss.NewStyle().Width(cell).Render(items[2]),
			lipgloss.NewStyle().Width(cell).Render(items[3]),
		),
	)
}

func (m *Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 8 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-20s | %s", ts, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

func (m *Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.hubEvents
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}
