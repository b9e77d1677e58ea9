// Package styles defines the visual styling for the watch view.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/tokenwatch/internal/models"
)

// Color definitions.
var (
	Primary   = lipgloss.Color("205") // Pink
	Secondary = lipgloss.Color("63")  // Purple
	Subtle    = lipgloss.Color("240") // Gray

	Success = lipgloss.Color("42")  // Green
	Error   = lipgloss.Color("196") // Red
	Warning = lipgloss.Color("220") // Yellow
	Info    = lipgloss.Color("39")  // Blue

	BgDark = lipgloss.Color("235")

	TextPrimary   = lipgloss.Color("252")
	TextSecondary = lipgloss.Color("245")
	TextMuted     = lipgloss.Color("240")

	// ToastStyle for floating notifications.
	ToastStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 1).
			MarginBottom(1)
)

// TitleStyle is used for main headings.
var TitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary).
	MarginBottom(1)

// SubTitleStyle is used for section headings.
var SubTitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Secondary)

// CardStyle boxes one dashboard section.
var CardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Secondary).
	Padding(0, 2).
	MarginBottom(1)

var ProgressLabelStyle = lipgloss.NewStyle().
	Foreground(TextSecondary).
	Width(14)

// HelpStyle is the base style for help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(TextMuted)

// HelpPanelStyle creates the help overlay panel.
var HelpPanelStyle = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(Primary).
	Padding(1, 3).
	Background(BgDark)

var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

var SelectedListItemStyle = lipgloss.NewStyle().
	Foreground(Primary).
	Bold(true)

var TableHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary)

var LabelStyle = lipgloss.NewStyle().
	Foreground(TextSecondary)

var ValueStyle = lipgloss.NewStyle().
	Foreground(TextPrimary).
	Bold(true)

var (
	SafeStyle     = lipgloss.NewStyle().Foreground(Success)
	WarningStyle  = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	CriticalStyle = lipgloss.NewStyle().Foreground(Error).Bold(true)
	UnknownStyle  = lipgloss.NewStyle().Foreground(Subtle)
	InfoStyle     = lipgloss.NewStyle().Foreground(Info)
)

// UsageStyle colors a consumed-budget percentage against the alert thresholds.
func UsageStyle(percent, warningPct, criticalPct float64) lipgloss.Style {
	switch {
	case percent >= criticalPct:
		return CriticalStyle
	case percent >= warningPct:
		return WarningStyle
	default:
		return SafeStyle
	}
}

// HoursStyle colors a projected time to exhaustion.
func HoursStyle(hours float64) lipgloss.Style {
	switch {
	case hours < 0:
		return UnknownStyle
	case hours < 6:
		return CriticalStyle
	case hours < 24:
		return WarningStyle
	default:
		return SafeStyle
	}
}

// SeverityStyle returns the style for an alert severity.
func SeverityStyle(s models.Severity) lipgloss.Style {
	switch s {
	case models.SeverityCritical:
		return CriticalStyle
	case models.SeverityWarning:
		return WarningStyle
	case models.SeveritySuccess:
		return SafeStyle
	default:
		return InfoStyle
	}
}

// CenterBoth centers content both horizontally and vertically.
func CenterBoth(content string, width, height int) string {
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Align(lipgloss.Center).
		AlignVertical(lipgloss.Center).
		Render(content)
}
