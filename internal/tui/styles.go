package tui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
	titleStyle    = lipgloss.NewStyle().Bold(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("238"))
	onlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	offlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	upToDateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	logStyle      = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
)
