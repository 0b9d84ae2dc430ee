// Package tui is the interactive terminal search client. It talks to an
// in-process engine and owns the terminal until the user quits.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the interactive search client
func Run(config ModelConfig) error {
	model := NewModel(config)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
