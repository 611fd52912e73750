package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/ferry/bytefmt"
	"github.com/pithecene-io/ferry/cli/reader"
)

// HistoryModel is a Bubble Tea model for the transfer history view.
type HistoryModel struct {
	data     *reader.HistoryView
	table    table.Model
	width    int
	height   int
	quitting bool
}

var historyColumns = []table.Column{
	{Title: "Started", Width: 19},
	{Title: "Outcome", Width: 10},
	{Title: "Stage", Width: 12},
	{Title: "Size", Width: 10},
	{Title: "Parts", Width: 5},
	{Title: "Message", Width: 40},
}

// NewHistoryModel creates a new history model.
func NewHistoryModel(data *reader.HistoryView) HistoryModel {
	rows := make([]table.Row, 0, len(data.Entries))
	for _, e := range data.Entries {
		parts := ""
		if e.ChunkCount > 0 {
			parts = strconv.Itoa(e.ChunkCount)
		}
		rows = append(rows, table.Row{
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			outcomeMark(e.Outcome),
			e.FailedStage,
			bytefmt.Format(e.SizeBytes),
			parts,
			e.Message,
		})
	}

	t := table.New(
		table.WithColumns(historyColumns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+2, 16)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dim).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(bright).Background(accent)
	t.SetStyles(styles)

	return HistoryModel{data: data, table: t}
}

// Init implements tea.Model.
func (m HistoryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, quitKey) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m HistoryModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Transfer History"))
	b.WriteString("\n\n")

	s := m.data.Stats
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Total", strconv.Itoa(s.Total), accent),
		renderStatBox("Succeeded", strconv.Itoa(s.Succeeded), good),
		renderStatBox("Failed", strconv.Itoa(s.Failed), bad),
		renderStatBox("Sent", bytefmt.Format(s.BytesSent), neutral),
	))
	b.WriteString("\n")

	if len(s.FailedByStage) > 0 {
		var stages []string
		for _, stage := range sortedStages(s.FailedByStage) {
			stages = append(stages, fmt.Sprintf("%s=%d", stage, s.FailedByStage[stage]))
		}
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Failures:"),
			ErrorStyle.Render(strings.Join(stages, "  "))))
	}

	b.WriteString("\n")
	if len(m.data.Entries) == 0 {
		b.WriteString(HelpStyle.Render("(no transfers recorded)"))
	} else {
		b.WriteString(m.table.View())
	}

	help := HelpStyle.Render("Up/down to scroll, q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func sortedStages(m map[string]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RunHistoryTUI runs the history TUI.
func RunHistoryTUI(data any) error {
	view, ok := data.(*reader.HistoryView)
	if !ok {
		return fmt.Errorf("invalid data type for %s: %T", ViewHistory, data)
	}
	p := tea.NewProgram(NewHistoryModel(view), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
