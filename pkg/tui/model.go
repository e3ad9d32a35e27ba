// Package tui shows a running conversion in the terminal: a spinner, a
// progress bar fed by pipeline snapshots and a summary box at the end.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
)

var (
	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF79C6")).
			Background(lipgloss.Color("#282A36")).
			Padding(0, 1).
			MarginTop(1).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1FA8C"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#BD93F9")).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)

	statStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))
)

const maxMessages = 5

type stage int

const (
	stageConverting stage = iota
	stageExporting
	stageDone
	stageFailed
)

// Summary is what the final screen reports
type Summary struct {
	Fragments int
	Records   int
	Rejected  int
	Untimed   int
	ByReason  map[models.Reason]int
	Outputs   []string
	Duration  time.Duration
}

// EventMsg wraps a pipeline event.
type EventMsg struct{ Event pipeline.Event }

// ExportingMsg switches the view to the export stage.
type ExportingMsg struct{}

// LogMsg adds a line to the activity list.
type LogMsg string

// DoneMsg ends the program with a summary.
type DoneMsg struct{ Summary Summary }

// ErrMsg ends the program with an error.
type ErrMsg struct{ Err error }

type model struct {
	title    string
	stage    stage
	spinner  spinner.Model
	progress progress.Model

	snapshot pipeline.Progress
	percent  float64
	warning  string

	messages []string
	summary  Summary
	err      error
	width    int
	canceled bool
}

func newModel(title string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	return model{
		title:    title,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		width:    80,
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(msg.Width-10, 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.canceled = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case EventMsg:
		return m.handleEvent(msg.Event)

	case ExportingMsg:
		m.stage = stageExporting
		return m, nil

	case LogMsg:
		m.addMessage(string(msg))
		return m, nil

	case DoneMsg:
		m.stage = stageDone
		m.summary = msg.Summary
		return m, tea.Quit

	case ErrMsg:
		m.stage = stageFailed
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) handleEvent(ev pipeline.Event) (tea.Model, tea.Cmd) {
	switch ev := ev.(type) {
	case pipeline.RunStarted:
		m.addMessage(fmt.Sprintf("Started %d workers, batches of %d", ev.Workers, ev.BatchSize))
	case pipeline.FragmentsProcessed:
		m.snapshot = ev.Progress
		m.percent = ev.Progress.Fraction()
		return m, m.progress.SetPercent(m.percent)
	case pipeline.DatasetAssembled:
		m.addMessage(fmt.Sprintf("Assembled %s records from %s placemarks in %s",
			humanize.Comma(int64(ev.Records)), humanize.Comma(int64(ev.Fragments)), ev.Duration.Round(time.Millisecond)))
	case pipeline.EmptyDataset:
		m.warning = fmt.Sprintf("No valid records in %s placemarks", humanize.Comma(int64(ev.Fragments)))
	case pipeline.RunFailed:
		m.addMessage(fmt.Sprintf("Run failed (%s): %v", ev.Kind, ev.Err))
	}
	return m, nil
}

func (m *model) addMessage(s string) {
	m.messages = append(m.messages, s)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[1:]
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("🌍 " + m.title))
	b.WriteString("\n\n")

	switch m.stage {
	case stageConverting:
		b.WriteString(subtitleStyle.Render("Extracting placemarks"))
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("%s %s placemarks normalized", m.spinner.View(), humanize.Comma(m.snapshot.Processed)))
		if m.snapshot.TotalBytes > 0 {
			b.WriteString(dimStyle.Render(fmt.Sprintf(" (%s of %s read)",
				humanize.Bytes(uint64(m.snapshot.BytesRead)), humanize.Bytes(uint64(m.snapshot.TotalBytes)))))
		}
		b.WriteString("\n\n")
		b.WriteString(m.progress.ViewAs(m.percent))
	case stageExporting:
		b.WriteString(subtitleStyle.Render("Writing outputs"))
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View() + " Rendering maps and tables...")
	case stageDone:
		b.WriteString(renderSummary(m.summary))
	case stageFailed:
		b.WriteString(boxStyle.Render(errorStyle.Render("Conversion failed\n\n") + m.err.Error()))
	}

	if m.warning != "" {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("⚠ " + m.warning))
	}

	if len(m.messages) > 0 {
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("Recent activity:"))
		b.WriteString("\n")
		for _, msg := range m.messages {
			b.WriteString(dimStyle.Render("• " + msg))
			b.WriteString("\n")
		}
	}

	if m.stage < stageDone {
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("Press 'q' to cancel"))
	}
	return b.String()
}

func renderSummary(s Summary) string {
	content := fmt.Sprintf(
		"✓ Placemarks: %s\n"+
			"✓ Records: %s\n"+
			"✓ Rejected: %s\n"+
			"✓ Without timestamp: %s\n"+
			"✓ Time: %s",
		statStyle.Render(humanize.Comma(int64(s.Fragments))),
		statStyle.Render(humanize.Comma(int64(s.Records))),
		statStyle.Render(humanize.Comma(int64(s.Rejected))),
		statStyle.Render(humanize.Comma(int64(s.Untimed))),
		statStyle.Render(s.Duration.Round(time.Millisecond).String()),
	)
	for _, r := range models.Reasons() {
		if n := s.ByReason[r]; n > 0 {
			content += fmt.Sprintf("\n  %s: %s", r, statStyle.Render(humanize.Comma(int64(n))))
		}
	}
	if len(s.Outputs) > 0 {
		content += "\n\nOutputs:"
		for _, o := range s.Outputs {
			content += "\n  " + o
		}
	}
	return boxStyle.Render(successStyle.Render("Conversion complete!\n\n") + content)
}

// ErrCanceled is returned by Run when the user quits before the job ends.
var ErrCanceled = errors.New("canceled by user")

// Job does the work while the UI runs. send forwards messages to the UI and
// is safe to call from any goroutine.
type Job func(ctx context.Context, send func(tea.Msg)) (Summary, error)

// Run shows the UI until job finishes. Pressing q cancels the job context.
func Run(ctx context.Context, title string, job Job, opts ...tea.ProgramOption) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newModel(title), append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)

	type result struct {
		summary Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := job(ctx, p.Send)
		if err != nil {
			p.Send(ErrMsg{Err: err})
		} else {
			p.Send(DoneMsg{Summary: s})
		}
		done <- result{s, err}
	}()

	final, err := p.Run()
	if m, ok := final.(model); ok && m.canceled {
		cancel()
		<-done
		return Summary{}, ErrCanceled
	}

	res := <-done
	if res.err != nil {
		return Summary{}, res.err
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return res.summary, fmt.Errorf("failed to run terminal UI: %w", err)
	}
	return res.summary, nil
}

// Observer forwards pipeline events to a UI started by Run.
type Observer struct {
	send func(tea.Msg)
}

func NewObserver(send func(tea.Msg)) *Observer {
	return &Observer{send: send}
}

func (o *Observer) Observe(ev pipeline.Event) {
	o.send(EventMsg{Event: ev})
}
