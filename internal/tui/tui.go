package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bookmind/internal/core"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	barFillStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	docStyle     = lipgloss.NewStyle().Margin(1, 2)
)

// progressMsg wraps one event from the stream.
type progressMsg core.ProgressEvent

// streamClosedMsg signals the event channel closed without a terminal
// event (e.g. publisher gone).
type streamClosedMsg struct{}

// importModel renders a live bulk import: progress bar, counters, the
// last URL touched, and recent failures.
type importModel struct {
	jobID    string
	events   <-chan core.ProgressEvent
	last     core.ProgressEvent
	failures []string
	width    int
	done     bool
	quitting bool
	cancel   func()
}

// NewImportModel builds the model for one import job. cancel is invoked
// when the user presses c; it should flag the job cancelled.
func NewImportModel(jobID string, events <-chan core.ProgressEvent, cancel func()) importModel {
	return importModel{jobID: jobID, events: events, cancel: cancel, width: 80}
}

func (m importModel) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m importModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return streamClosedMsg{}
		}
		return progressMsg(ev)
	}
}

func (m importModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case progressMsg:
		m.last = core.ProgressEvent(msg)
		if m.last.Error != "" {
			m.failures = append(m.failures, fmt.Sprintf("%s: %s", m.last.LastURL, m.last.Error))
			if len(m.failures) > 5 {
				m.failures = m.failures[len(m.failures)-5:]
			}
		}
		if core.TerminalStatus(m.last.Status) {
			m.done = true
			return m, tea.Quit
		}
		return m, m.waitForEvent()

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "c":
			if m.cancel != nil && !m.done {
				m.cancel()
			}
		}
	}
	return m, nil
}

func (m importModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Importing bookmarks"))
	b.WriteString(dimStyle.Render("  job " + m.jobID))
	b.WriteString("\n\n")

	b.WriteString(m.renderBar())
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s  %s  %s\n",
		okStyle.Render(fmt.Sprintf("✓ %d saved", m.last.Succeeded)),
		failStyle.Render(fmt.Sprintf("✗ %d failed", m.last.Failed)),
		dimStyle.Render(fmt.Sprintf("(%d new, %d updated)", m.last.Created, m.last.Updated))))

	if m.last.LastURL != "" {
		b.WriteString(dimStyle.Render("last: "+truncate(m.last.LastURL, m.width-10)) + "\n")
	}
	if len(m.failures) > 0 {
		b.WriteString("\n" + failStyle.Render("recent failures") + "\n")
		for _, f := range m.failures {
			b.WriteString("  " + truncate(f, m.width-6) + "\n")
		}
	}

	switch {
	case m.done:
		b.WriteString("\n" + okStyle.Render("Import "+m.last.Status+"."))
	case m.quitting:
		b.WriteString("\n" + dimStyle.Render("Detached; the import keeps running."))
	default:
		b.WriteString("\n" + dimStyle.Render("[c] cancel job | [q] detach"))
	}
	return docStyle.Render(b.String())
}

func (m importModel) renderBar() string {
	width := m.width - 20
	if width < 10 {
		width = 10
	}
	ratio := 0.0
	if m.last.Total > 0 {
		ratio = float64(m.last.Processed) / float64(m.last.Total)
	}
	filled := int(ratio * float64(width))
	if filled > width {
		filled = width
	}
	bar := barFillStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %d/%d", bar, m.last.Processed, m.last.Total)
}

// RunImport blocks until the import finishes, the stream closes, or the
// user detaches.
func RunImport(jobID string, events <-chan core.ProgressEvent, cancel func()) error {
	p := tea.NewProgram(NewImportModel(jobID, events, cancel))
	_, err := p.Run()
	return err
}

// RenderRecommendations formats a result for plain terminal output,
// shared by the recommend command.
func RenderRecommendations(result *core.RecommendResult) string {
	var b strings.Builder
	if len(result.Items) == 0 {
		b.WriteString(dimStyle.Render("No recommendations matched. Save more bookmarks or broaden the context.") + "\n")
		return b.String()
	}
	for i, item := range result.Items {
		b.WriteString(fmt.Sprintf("%s %s\n", titleStyle.Render(fmt.Sprintf("%d.", i+1)), item.Title))
		b.WriteString("   " + dimStyle.Render(item.URL) + "\n")
		meta := fmt.Sprintf("score %.0f", item.Score)
		if item.ContentType != "" {
			meta += " · " + item.ContentType
		}
		if item.Difficulty != "" {
			meta += " · " + item.Difficulty
		}
		if len(item.Technologies) > 0 {
			meta += " · " + strings.Join(item.Technologies, ", ")
		}
		b.WriteString("   " + dimStyle.Render(meta) + "\n")
		b.WriteString("   " + item.Reason + "\n\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("engine %s · %d candidates · %s",
		result.EngineUsed, result.Metrics.CandidateCount, result.Metrics.TotalDuration.Round(time.Millisecond))))
	if result.Metrics.Degraded {
		b.WriteString(dimStyle.Render(" · degraded: " + strings.Join(result.Metrics.DegradedStages, ", ")))
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// Fatal prints an error the way interactive commands surface hard
// failures and exits.
func Fatal(err error) {
	fmt.Fprintln(os.Stderr, failStyle.Render("error: ")+err.Error())
	os.Exit(1)
}
