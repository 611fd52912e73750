package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
)

// ViewHistory is the transfer history browser.
const ViewHistory = "history"

// views maps read-only view types to their runners. Live transfer progress
// has no entry; fetch starts it through RunTransfer.
var views = map[string]func(data any) error{
	ViewHistory: RunHistoryTUI,
}

// Run opens the interactive view for viewType.
func Run(viewType string, data any) error {
	run, ok := views[viewType]
	if !ok {
		return fmt.Errorf("no interactive view for %q", viewType)
	}
	return run(data)
}

// IsTUISupported reports whether viewType has an interactive view.
func IsTUISupported(viewType string) bool {
	_, ok := views[viewType]
	return ok
}

// SupportedTUIViews lists the view types with an interactive view, sorted.
func SupportedTUIViews() []string {
	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var quitKey = key.NewBinding(
	key.WithKeys("q", "ctrl+c"),
	key.WithHelp("q", "quit"),
)
