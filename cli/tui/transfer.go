package tui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/ferry/pipeline"
	"github.com/pithecene-io/ferry/types"
)

type progressMsg pipeline.Progress

type resultMsg struct{ result *pipeline.Result }

// TransferModel shows one live transfer.
type TransferModel struct {
	title    string
	spinner  spinner.Model
	bar      progress.Model
	last     pipeline.Progress
	result   *pipeline.Result
	cancel   context.CancelFunc
	quitting bool
}

// NewTransferModel creates a transfer model. cancel is called when the user
// quits before the transfer finished.
func NewTransferModel(title string, cancel context.CancelFunc) TransferModel {
	return TransferModel{
		title:   title,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(WarningStyle)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		last:    pipeline.Progress{State: types.StatePlanning},
		cancel:  cancel,
	}
}

// Init implements tea.Model.
func (m TransferModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m TransferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-8, 10), 60)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, quitKey) {
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case progressMsg:
		m.last = pipeline.Progress(msg)
		return m, nil

	case resultMsg:
		m.result = msg.result
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// Result returns the finished transfer, or nil while it is running.
func (m TransferModel) Result() *pipeline.Result {
	return m.result
}

// View implements tea.Model.
func (m TransferModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	if m.result != nil {
		final := pipeline.Progress{State: types.StateDone, Message: m.result.Outcome.Message}
		if m.result.Outcome.Status != types.OutcomeSuccess {
			final.State = types.StateFailed
		}
		b.WriteString(StateStyle(string(final.State)).Render(final.Text()))
		b.WriteString("\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%s %s %s\n",
		m.spinner.View(),
		LabelStyle.Render(string(m.last.State)),
		ValueStyle.Render(m.last.Text()))
	if ratio, ok := completion(m.last); ok {
		b.WriteString(m.bar.ViewAs(ratio))
		b.WriteString("\n")
	}
	if m.quitting {
		b.WriteString(ErrorStyle.Render("canceling..."))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to cancel"))
	return b.String()
}

// completion returns the bar ratio for states that have one.
func completion(p pipeline.Progress) (float64, bool) {
	switch p.State {
	case types.StateFetching:
		if p.TotalSize > 0 {
			return min(float64(p.BytesDone)/float64(p.TotalSize), 1), true
		}
		if p.PartsTotal > 0 {
			return float64(p.PartsDone) / float64(p.PartsTotal), true
		}
	case types.StateDelivering:
		if p.ItemsTotal > 0 {
			return float64(p.ItemsDone) / float64(p.ItemsTotal), true
		}
	}
	return 0, false
}

// RunTransfer runs one transfer behind the live view on stderr, leaving
// stdout to the rendered report. run receives the progress sink to pass to
// the pipeline. Quitting the view calls cancel and waits for run to return.
func RunTransfer(title string, cancel context.CancelFunc, run func(sink pipeline.ProgressSink) *pipeline.Result) (*pipeline.Result, error) {
	p := tea.NewProgram(NewTransferModel(title, cancel), tea.WithOutput(os.Stderr))

	done := make(chan *pipeline.Result, 1)
	go func() {
		res := run(func(pr pipeline.Progress) { p.Send(progressMsg(pr)) })
		done <- res
		p.Send(resultMsg{result: res})
	}()

	_, err := p.Run()
	if err != nil && cancel != nil {
		cancel()
	}
	res := <-done
	return res, err
}
