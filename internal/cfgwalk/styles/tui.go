package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Styles shared by the listing renderer and the browse TUI.
var (
	Address     = lipgloss.NewStyle().Foreground(charmtone.Squid)
	Selected    = lipgloss.NewStyle().Foreground(charmtone.Charple).Bold(true)
	Label       = lipgloss.NewStyle().Foreground(charmtone.Mustard)
	Successor   = lipgloss.NewStyle().Foreground(charmtone.Malibu)
	Failure     = lipgloss.NewStyle().Foreground(charmtone.Coral)
	Muted       = lipgloss.NewStyle().Foreground(charmtone.Oyster)
	ListTitle   = lipgloss.NewStyle().Foreground(charmtone.Charple).MarginLeft(2)
	Spinner     = lipgloss.NewStyle().Foreground(charmtone.Dolly)
	BlockHeader = lipgloss.NewStyle().
			Foreground(charmtone.Salt).
			Background(charmtone.Charcoal).
			Bold(true).
			Padding(0, 1)
	MenuBar = lipgloss.NewStyle().
		Background(charmtone.Pepper).
		Foreground(charmtone.Smoke).
		Padding(0, 1)
)
