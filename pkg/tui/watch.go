package tui

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/openfroyo/inspector/pkg/engine"
)

// Fetcher returns the current record of the watched execution.
type Fetcher func(ctx context.Context) (*engine.ExecutionRecord, error)

type recordMsg struct {
	rec *engine.ExecutionRecord
	err error
}

type tickMsg time.Time

// WatchModel polls an execution and redraws it until it reaches a terminal
// status.
type WatchModel struct {
	ctx      context.Context
	fetch    Fetcher
	interval time.Duration

	record *engine.ExecutionRecord
	err    error
	width  int
}

// NewWatchModel creates a watcher polling every interval.
func NewWatchModel(ctx context.Context, fetch Fetcher, interval time.Duration) *WatchModel {
	if interval <= 0 {
		interval = time.Second
	}
	return &WatchModel{ctx: ctx, fetch: fetch, interval: interval}
}

// Record returns the last record seen.
func (m *WatchModel) Record() *engine.ExecutionRecord {
	return m.record
}

// Err returns the last fetch error.
func (m *WatchModel) Err() error {
	return m.err
}

func (m *WatchModel) Init() tea.Cmd {
	return m.poll
}

func (m *WatchModel) poll() tea.Msg {
	rec, err := m.fetch(m.ctx)
	return recordMsg{rec: rec, err: err}
}

func (m *WatchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case recordMsg:
		m.err = msg.err
		if msg.err != nil {
			// Keep polling through transient errors; the last good record stays on screen.
			return m, m.tickCmd()
		}
		m.record = msg.rec
		if m.record.Status.IsTerminal() {
			return m, tea.Quit
		}
		return m, m.tickCmd()

	case tickMsg:
		return m, m.poll
	}

	return m, nil
}

func (m *WatchModel) View() string {
	var s string
	if m.record == nil {
		s = titleStyle.Render("Waiting for execution...") + "\n"
	} else {
		s = ExecutionDetail(m.record) + "\n"
	}

	if m.err != nil {
		s += statusFailed.Render(fmt.Sprintf("error: %v", m.err)) + "\n"
	}
	if m.record == nil || !m.record.Status.IsTerminal() {
		s += helpStyle.Render("[q] stop watching") + "\n"
	}
	return s
}

// Watch runs the watcher until the execution finishes, the user quits or
// ctx is done, and returns the last record seen.
func Watch(ctx context.Context, fetch Fetcher, interval time.Duration, in io.Reader, out io.Writer) (*engine.ExecutionRecord, error) {
	model := NewWatchModel(ctx, fetch, interval)

	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return model.Record(), fmt.Errorf("watcher failed: %w", err)
	}

	if fm, ok := final.(*WatchModel); ok {
		model = fm
	}
	if model.Record() == nil && model.Err() != nil {
		return nil, model.Err()
	}
	return model.Record(), nil
}
