package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	alertStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("52")).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1)

	// Connection banner, one style per state
	bannerWarnStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("178")).
			Foreground(lipgloss.Color("0")).
			Padding(0, 1)
	bannerErrStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("160")).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))

	// Swipe-to-delete reveal
	swipeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("160"))

	userHeaderStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	reasoningStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)

	// Tool blocks get a left border coloured by status
	toolBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			PaddingLeft(1)
	toolTitleStyle = lipgloss.NewStyle().Bold(true)
	errorTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	permStyle      = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("214")).
			Padding(0, 1)

	// Diff rendering
	diffAddStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	diffDelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	diffMetaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	diffGutterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	todoDoneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Strikethrough(true)
	todoActiveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Bold(true)
	todoCancelledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)
)

// statusColor is the border colour of a tool block.
func statusColor(status string) lipgloss.Color {
	switch status {
	case "completed":
		return lipgloss.Color("34")
	case "error":
		return lipgloss.Color("160")
	case "running":
		return lipgloss.Color("178")
	}
	return lipgloss.Color("244")
}
