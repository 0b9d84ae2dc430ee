package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles holds all the TUI styling definitions
type Styles struct {
	// Title bar
	Title    lipgloss.Style
	TitleBar lipgloss.Style

	// Result rows
	Rank        lipgloss.Style
	ItemCode    lipgloss.Style
	Description lipgloss.Style
	Meta        lipgloss.Style
	Divider     lipgloss.Style

	// Score bands
	ScoreHigh   lipgloss.Style // >= 0.85
	ScoreMedium lipgloss.Style // >= 0.70
	ScoreLow    lipgloss.Style

	// AI analysis block
	AdviceTitle lipgloss.Style
	AdviceBody  lipgloss.Style

	// Status bar
	StatusBar      lipgloss.Style
	StatusReady    lipgloss.Style
	StatusDegraded lipgloss.Style

	// Input
	InputStyle lipgloss.Style

	// General
	Muted   lipgloss.Style
	Bold    lipgloss.Style
	Accent  lipgloss.Style
	Error   lipgloss.Style
	Spinner lipgloss.Style
}

// DefaultStyles creates the default style set using the default renderer.
func DefaultStyles() Styles {
	return NewStyles(lipgloss.DefaultRenderer())
}

// NewStyles creates the style set using the given renderer.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		// Title bar
		Title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2),
		TitleBar: r.NewStyle().
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("238")),

		// Result rows
		Rank: r.NewStyle().
			Foreground(lipgloss.Color("245")),
		ItemCode: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("75")),
		Description: r.NewStyle().
			Foreground(lipgloss.Color("252")),
		Meta: r.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true),
		Divider: r.NewStyle().
			Foreground(lipgloss.Color("238")),

		// Score bands
		ScoreHigh: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("76")),
		ScoreMedium: r.NewStyle().
			Foreground(lipgloss.Color("214")),
		ScoreLow: r.NewStyle().
			Foreground(lipgloss.Color("245")),

		// AI analysis block
		AdviceTitle: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213")),
		AdviceBody: r.NewStyle().
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),

		// Status bar
		StatusBar: r.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
		StatusReady: r.NewStyle().
			Foreground(lipgloss.Color("76")).
			Bold(true),
		StatusDegraded: r.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		// Input
		InputStyle: r.NewStyle().
			BorderTop(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("238")),

		// General
		Muted: r.NewStyle().
			Foreground(lipgloss.Color("245")),
		Bold: r.NewStyle().
			Bold(true),
		Accent: r.NewStyle().
			Foreground(lipgloss.Color("213")),
		Error: r.NewStyle().
			Foreground(lipgloss.Color("196")),
		Spinner: r.NewStyle().
			Foreground(lipgloss.Color("213")),
	}
}
