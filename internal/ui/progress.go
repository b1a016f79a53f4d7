// Package ui renders bench progress in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"blockvm/internal/bench"
)

// recentRows is how many finished activations stay on screen.
const recentRows = 8

type progressModel struct {
	title   string
	events  <-chan bench.Event
	spinner spinner.Model
	prog    progress.Model
	total   int
	width   int
	done    bool

	running     int
	finished    int
	failed      int
	transferred int
	recent      []row
}

type row struct {
	activation  int
	status      bench.Status
	elapsed     time.Duration
	transferred bool
	err         error
}

type eventMsg bench.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders the progress of
// total activations. It quits once events is closed.
func NewProgressModel(title string, total int, events <-chan bench.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76 // Default width

	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		total:   total,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(bench.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := fmt.Sprintf("%s (%d/%d)", m.title, m.finished+m.failed, m.total)
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s  %s  %s  %s\n\n",
		styleStatus(bench.StatusRunning).Render(fmt.Sprintf("running %d", m.running)),
		styleStatus(bench.StatusDone).Render(fmt.Sprintf("done %d", m.finished)),
		styleStatus(bench.StatusError).Render(fmt.Sprintf("failed %d", m.failed)),
		transferStyle.Render(fmt.Sprintf("osr %d", m.transferred)),
	)

	detailWidth := m.width - 12 - 4
	if detailWidth < 20 {
		detailWidth = 20
	}
	for _, r := range m.recent {
		status := styleStatus(r.status).Render(fmt.Sprintf("%8s", r.status))
		b.WriteString(fmt.Sprintf("  %s %s\n", status, truncate(r.detail(), detailWidth)))
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (r row) detail() string {
	s := fmt.Sprintf("#%d %s", r.activation, r.elapsed.Round(time.Microsecond))
	if r.transferred {
		s += " osr"
	}
	if r.err != nil {
		s += ": " + r.err.Error()
	}
	return s
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev bench.Event) tea.Cmd {
	switch ev.Status {
	case bench.StatusRunning:
		m.running++
		return nil
	case bench.StatusDone:
		m.finished++
		if ev.Transferred {
			m.transferred++
		}
	case bench.StatusError:
		m.failed++
	default:
		return nil
	}
	if m.running > 0 {
		m.running--
	}
	m.recent = append(m.recent, row{
		activation:  ev.Activation,
		status:      ev.Status,
		elapsed:     ev.Elapsed,
		transferred: ev.Transferred,
		err:         ev.Err,
	})
	if len(m.recent) > recentRows {
		m.recent = m.recent[len(m.recent)-recentRows:]
	}
	if m.total <= 0 {
		return nil
	}
	return m.prog.SetPercent(float64(m.finished+m.failed) / float64(m.total))
}

var transferStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))

func styleStatus(status bench.Status) lipgloss.Style {
	switch status {
	case bench.StatusDone:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case bench.StatusError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case bench.StatusRunning:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
