// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the status screen
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run creates the program; the caller runs it and calls Quit on shutdown
func Run(name string, status func() StatusMsg, ctrl Controller) *tea.Program {
	return tea.NewProgram(NewModel(name, status, ctrl), tea.WithAltScreen())
}
