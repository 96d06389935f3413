package tui

import (
	"github.com/charmbracelet/lipgloss"

	"tutor/internal/chat"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5FAFFF")).
			Bold(true)

	tutorLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87D787")).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8A8A8")).
			Italic(true)

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C6C6C"))

	statusStyles = map[chat.Level]lipgloss.Style{
		chat.LevelBusy:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F")),
		chat.LevelReady: lipgloss.NewStyle().Foreground(lipgloss.Color("#87D787")),
		chat.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true),
	}
)
