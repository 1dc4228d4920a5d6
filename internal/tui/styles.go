package tui

import "github.com/charmbracelet/lipgloss"

// Dark broadcast palette
var (
	Primary   = lipgloss.Color("#FF6B35")
	Secondary = lipgloss.Color("#1E88E5")
	Success   = lipgloss.Color("#4CAF50")
	Warning   = lipgloss.Color("#FFB74D")
	Error     = lipgloss.Color("#F44336")

	Text       = lipgloss.Color("#E0E0E0")
	TextBright = lipgloss.Color("#FFFFFF")
	Muted      = lipgloss.Color("#90A4AE")

	PanelBg    = lipgloss.Color("#161B26")
	HeaderBg   = lipgloss.Color("#1C2128")
	BorderDark = lipgloss.Color("#30363D")

	OnAir     = lipgloss.Color("#FF1744")
	Recording = lipgloss.Color("#FF5722")
	Standby   = lipgloss.Color("#FFC107")
	Offline   = lipgloss.Color("#616161")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Background(HeaderBg).
			Padding(0, 2).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDark).
			Foreground(Text).
			Padding(0, 1)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	InfoStyle    = lipgloss.NewStyle().Foreground(Secondary).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)

	LiveStyle      = lipgloss.NewStyle().Foreground(OnAir).Bold(true)
	RecordingStyle = lipgloss.NewStyle().Foreground(Recording).Bold(true)
	StandbyStyle   = lipgloss.NewStyle().Foreground(Standby).Bold(true)
	OfflineStyle   = lipgloss.NewStyle().Foreground(Offline).Bold(true)
)

// StatusBadge renders the player's connection state.
func StatusBadge(status string) string {
	switch status {
	case "live":
		return LiveStyle.Render("● LIVE")
	case "connecting":
		return StandbyStyle.Render("◐ CONNECTING")
	case "standby":
		return StandbyStyle.Render("● STBY")
	case "destroyed":
		return ErrorStyle.Render("✖ DESTROYED")
	default:
		return OfflineStyle.Render("○ OFF")
	}
}

// BufferStateStyle colours a media buffer state name.
func BufferStateStyle(state string) lipgloss.Style {
	switch state {
	case "normal":
		return SuccessStyle
	case "waiting":
		return StandbyStyle
	case "error", "destroyed":
		return ErrorStyle
	default:
		return MutedStyle
	}
}
