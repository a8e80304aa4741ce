package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	waitingLabel     = "Waiting for the Umeng API..."
	cooldownPollRate = time.Second
)

type callFinishedMsg struct {
	err error
}

// cooldownMsg carries the remaining throttle cooldown.
type cooldownMsg time.Duration

// callProgress shows a spinner while an API call runs. The call can sit in a
// throttle cooldown for minutes, so the remaining wait is polled and shown
// instead of the generic label.
type callProgress struct {
	spinner  spinner.Model
	run      tea.Cmd
	poll     tea.Cmd
	cooldown time.Duration
	err      error
	finished bool
}

func newCallProgress(run tea.Cmd, poll tea.Cmd) callProgress {
	return callProgress{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
		),
		run:  run,
		poll: poll,
	}
}

func (m callProgress) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run, m.poll)
}

func (m callProgress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case callFinishedMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case cooldownMsg:
		m.cooldown = time.Duration(msg)
		if m.finished || m.poll == nil {
			return m, nil
		}
		poll := m.poll
		return m, tea.Tick(cooldownPollRate, func(time.Time) tea.Msg { return poll() })
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m callProgress) View() string {
	if m.finished {
		return ""
	}

	if m.cooldown > 0 {
		return fmt.Sprintf("%s Throttle cooldown, resuming in %s", m.spinner.View(), formatCooldown(m.cooldown))
	}

	return m.spinner.View() + " " + waitingLabel
}

func formatCooldown(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		d = time.Second
	}

	return d.String()
}

// runAPICallSpinner renders progress on output until call returns. cooldown
// may be nil; otherwise it reports the remaining throttle wait.
func runAPICallSpinner(ctx context.Context, output io.Writer, call func(context.Context) error, cooldown func(context.Context) time.Duration) error {
	run := func() tea.Msg {
		return callFinishedMsg{err: call(ctx)}
	}

	var poll tea.Cmd
	if cooldown != nil {
		poll = func() tea.Msg {
			return cooldownMsg(cooldown(ctx))
		}
	}

	program := tea.NewProgram(
		newCallProgress(run, poll),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	final, err := program.Run()
	if err != nil {
		return err
	}

	progress, ok := final.(callProgress)
	if !ok {
		return fmt.Errorf("unexpected final progress model %T", final)
	}

	return progress.err
}

// throttleCooldown reads the remaining cooldown from persisted state. Read
// failures report no wait; the call itself surfaces them.
func (a *app) throttleCooldown(ctx context.Context) time.Duration {
	status, err := a.throttle.Status(ctx)
	if err != nil {
		return 0
	}

	return status.Wait
}
