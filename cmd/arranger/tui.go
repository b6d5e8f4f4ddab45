package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/acapellify/api/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
)

const maxBarWidth = 60

type eventMsg model.ProgressEvent

type streamClosedMsg struct{}

// progressModel renders a job's progress channel as a bar.
type progressModel struct {
	title   string
	events  <-chan model.ProgressEvent
	bar     progress.Model
	last    model.ProgressEvent
	done    bool
	aborted bool
}

func newProgressModel(title string, events <-chan model.ProgressEvent) progressModel {
	return progressModel{
		title:  title,
		events: events,
		bar:    progress.New(progress.WithDefaultGradient()),
	}
}

func waitForEvent(events <-chan model.ProgressEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Init implements tea.Model.
func (m progressModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

// Update implements tea.Model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-4, maxBarWidth)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.aborted = true
			}
			return m, tea.Quit
		}

	case eventMsg:
		m.last = model.ProgressEvent(msg)
		if m.last.Terminal() {
			m.done = true
		}
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m progressModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Arranging " + m.title))
	b.WriteString("\n\n")

	percent := m.last.Percent
	if m.last.Kind == model.EventSuccess {
		percent = 100
	}
	b.WriteString(m.bar.ViewAs(percent / 100))
	b.WriteString("\n")

	switch m.last.Kind {
	case model.EventSuccess:
		b.WriteString(successStyle.Render("done"))
	case model.EventError:
		b.WriteString(errorStyle.Render("failed: " + m.last.Message))
	default:
		b.WriteString(stepStyle.Render(m.last.Step))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("Press q to quit"))
	return b.String()
}
