package monitor

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/calderon/ventasync/internal/store"
)

var (
	// Base colors
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)

	// Session status styles
	statusStyles = map[string]lipgloss.Style{
		store.SessionInProgress: lipgloss.NewStyle().Foreground(warningColor),
		store.SessionCompleted:  lipgloss.NewStyle().Foreground(successColor),
		store.SessionError:      lipgloss.NewStyle().Foreground(errorColor),
	}

	// Operation badges
	insertBadge = lipgloss.NewStyle().Foreground(successColor)
	updateBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	deleteBadge = lipgloss.NewStyle().Foreground(errorColor)

	// Direction styles
	pushStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	pullStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))

	// Prominent style for the conflict alert in the footer
	conflictAlertStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("196"))

	// Style for the online devices indicator
	onlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
)

// formatSessionStatus renders a session status with color
func formatSessionStatus(s string) string {
	style, ok := statusStyles[s]
	if !ok {
		return s
	}
	return style.Render(s)
}

// formatDirection renders a sync direction with color
func formatDirection(d string) string {
	if d == "push" {
		return pushStyle.Render("PUSH")
	}
	return pullStyle.Render("PULL")
}

// formatOperationBadge renders a change operation badge
func formatOperationBadge(op string) string {
	switch op {
	case store.OpInsert:
		return insertBadge.Render("[INS]")
	case store.OpUpdate:
		return updateBadge.Render("[UPD]")
	case store.OpDelete:
		return deleteBadge.Render("[DEL]")
	default:
		return subtleStyle.Render("[???]")
	}
}
