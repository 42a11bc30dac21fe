package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/calderon/ventasync/internal/store"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return m.Spinner.View() + " Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	// Show error if database issue
	if m.Err != nil {
		return m.renderError()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	// Calculate panel heights (3 panels + footer)
	availableHeight := m.Height - 3 // Leave room for footer
	panelHeight := availableHeight / 3

	devices := m.renderDevicesPanel(panelHeight)
	sessions := m.renderSessionsPanel(panelHeight)
	conflicts := m.renderConflictsPanel(panelHeight)

	panels := lipgloss.JoinVertical(lipgloss.Left,
		devices,
		sessions,
		conflicts,
	)

	footer := m.renderFooter()

	return lipgloss.JoinVertical(lipgloss.Left, panels, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("ventasync monitor (resize for full view)\n\n")

	s.WriteString(fmt.Sprintf("Devices: %d\n", len(m.Devices)))
	s.WriteString(fmt.Sprintf("Changes: %d | Conflicts: %d\n",
		m.TotalChanges, len(m.Conflicts)))

	s.WriteString("\nq:quit r:refresh ?:help")

	return s.String()
}

// renderError renders an error message
func (m Model) renderError() string {
	return fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.Err)
}

// renderDevicesPanel renders the registered devices panel (Panel 1)
func (m Model) renderDevicesPanel(height int) string {
	var content strings.Builder

	if len(m.Devices) == 0 {
		content.WriteString(subtleStyle.Render("No registered devices"))
		content.WriteString("\n")
		return m.wrapPanel("DEVICES", content.String(), height, PanelDevices)
	}

	offset := m.ScrollOffset[PanelDevices]
	if offset >= len(m.Devices) {
		offset = len(m.Devices) - 1
	}
	visible := m.visibleItems(len(m.Devices), offset, height-2)

	for i := offset; i < offset+visible && i < len(m.Devices); i++ {
		content.WriteString(m.formatDevice(m.Devices[i]))
		content.WriteString("\n")
	}

	return m.wrapPanel("DEVICES", content.String(), height, PanelDevices)
}

// renderSessionsPanel renders the sync session feed (Panel 2)
func (m Model) renderSessionsPanel(height int) string {
	var content strings.Builder

	if len(m.Sessions) == 0 {
		content.WriteString(subtleStyle.Render("No sync sessions yet"))
	} else {
		offset := m.ScrollOffset[PanelSessions]
		if offset >= len(m.Sessions) {
			offset = len(m.Sessions) - 1
		}
		visible := m.visibleItems(len(m.Sessions), offset, height-2)

		for i := offset; i < offset+visible && i < len(m.Sessions); i++ {
			content.WriteString(m.formatSession(m.Sessions[i]))
			content.WriteString("\n")
		}
	}

	return m.wrapPanel("SYNC SESSIONS", content.String(), height, PanelSessions)
}

// renderConflictsPanel renders open conflicts plus the recent change feed (Panel 3)
func (m Model) renderConflictsPanel(height int) string {
	var content strings.Builder
	maxLines := height - 2
	lines := 0

	if len(m.Conflicts) == 0 {
		content.WriteString(subtleStyle.Render("No open conflicts"))
		content.WriteString("\n")
		lines++
	} else {
		header := conflictAlertStyle.Render(" OPEN CONFLICTS ") + fmt.Sprintf(" (%d):", len(m.Conflicts))
		content.WriteString(header)
		content.WriteString("\n")
		lines++

		for _, c := range m.Conflicts {
			if lines >= maxLines {
				break
			}
			content.WriteString("  " + m.formatConflict(c))
			content.WriteString("\n")
			lines++
		}
	}

	if lines < maxLines && len(m.Changes) > 0 {
		content.WriteString("\n")
		lines++
		content.WriteString(sectionHeader.Render("RECENT CHANGES:"))
		content.WriteString("\n")
		lines++

		for _, e := range m.Changes {
			if lines >= maxLines {
				break
			}
			content.WriteString("  " + m.formatChange(e))
			content.WriteString("\n")
			lines++
		}
	}

	return m.wrapPanel("CONFLICTS", content.String(), height, PanelConflicts)
}

// sectionHeader styles a section label inside a panel
var sectionHeader = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255"))

// formatDevice formats a device in a compact single-line format
func (m Model) formatDevice(d *store.Device) string {
	status := onlineStyle.Render("active")
	if !d.Active {
		status = errorStyle.Render("revoked")
	}

	checkpoint := subtleStyle.Render("never synced")
	if d.LastSyncAt != nil {
		checkpoint = timestampStyle.Render("last sync " + d.LastSyncAt.Format("01-02 15:04"))
	}

	name := d.Name
	if name == "" {
		name = truncateUUID(d.UUID)
	}

	return fmt.Sprintf("%s %s %s %s",
		titleStyle.Render(name),
		subtleStyle.Render(truncateUUID(d.UUID)),
		status,
		checkpoint)
}

// formatSession formats a sync session in a single-line format
func (m Model) formatSession(s *store.SyncSession) string {
	timestamp := timestampStyle.Render(s.StartedAt.Format("15:04:05"))
	device := subtleStyle.Render(truncateUUID(s.DeviceUUID))
	counters := fmt.Sprintf("sent:%d recv:%d", s.ChangesSent, s.ChangesRecv)
	if s.Conflicts > 0 {
		counters += " " + errorStyle.Render(fmt.Sprintf("conflicts:%d", s.Conflicts))
	}

	line := fmt.Sprintf("%s %s %s %s %s",
		timestamp, device, formatDirection(s.Direction), formatSessionStatus(s.Status), counters)

	if s.ErrorMessage != nil {
		line += " " + errorStyle.Render(truncateString(*s.ErrorMessage, 30))
	}

	return line
}

// formatConflict formats an open conflict in a single-line format
func (m Model) formatConflict(c *store.Conflict) string {
	return fmt.Sprintf("%s %s %s %s",
		titleStyle.Render(truncateUUID(c.UUID)),
		c.Table,
		subtleStyle.Render(truncateUUID(c.RecordUUID)),
		timestampStyle.Render(c.CreatedAt.Format("01-02 15:04")))
}

// formatChange formats a change log entry in a single-line format
func (m Model) formatChange(e *store.ChangeEntry) string {
	timestamp := timestampStyle.Render(e.Timestamp.Format("15:04"))
	device := subtleStyle.Render(truncateUUID(e.DeviceUUID))
	badge := formatOperationBadge(e.Operation)

	line := fmt.Sprintf("%s %s %s %s %s v%d",
		timestamp, device, badge, e.Table, truncateUUID(e.RecordUUID), e.Version)

	if e.Conflict {
		line += " " + errorStyle.Render("[CONFLICT]")
	}

	return line
}

// renderFooter renders the footer with key bindings and refresh time
func (m Model) renderFooter() string {
	keys := helpStyle.Render("q:quit  tab:switch  j/k:scroll  r:refresh  ?:help")

	totals := subtleStyle.Render(fmt.Sprintf(" %d changes ", m.TotalChanges))

	// Show prominent alert if conflicts need resolution
	conflictAlert := ""
	if len(m.Conflicts) > 0 {
		conflictAlert = conflictAlertStyle.Render(fmt.Sprintf(" [%d CONFLICT] ", len(m.Conflicts)))
	}

	refresh := timestampStyle.Render(fmt.Sprintf("Last: %s", m.LastRefresh.Format("15:04:05")))

	padding := m.Width - lipgloss.Width(keys) - lipgloss.Width(totals) - lipgloss.Width(conflictAlert) - lipgloss.Width(refresh) - 2
	if padding < 0 {
		padding = 0
	}

	return fmt.Sprintf(" %s%s%s%s%s", keys, strings.Repeat(" ", padding), totals, conflictAlert, refresh)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
VENTASYNC MONITOR - Key Bindings

NAVIGATION:
  Tab / Shift+Tab   Switch between panels
  1 / 2 / 3         Jump to panel
  j / k / ↑ / ↓     Scroll active panel

ACTIONS:
  r                 Force refresh
  q / Ctrl+C        Quit

Press ? to close help
`
	return helpStyle.Render(help)
}

// wrapPanel wraps content in a panel with title and border
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	titleStr := panelTitleStyle.Render(title)

	contentWidth := m.Width - 4 // Account for border and padding

	lines := strings.Split(content, "\n")
	contentHeight := height - 3 // Title + border

	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	for i, line := range lines {
		if lipgloss.Width(line) > contentWidth {
			lines[i] = truncateString(line, contentWidth)
		}
	}

	body := strings.Join(lines, "\n")

	inner := lipgloss.JoinVertical(lipgloss.Left, titleStr, body)

	return style.Width(m.Width - 2).Render(inner)
}

// visibleItems calculates how many items can be shown given scroll offset and height
func (m Model) visibleItems(total, offset, height int) int {
	remaining := total - offset
	if remaining > height {
		return height
	}
	return remaining
}

// truncateString truncates a string to maxLen with ellipsis, preserving
// any ANSI styling already applied to it.
func truncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return s
	}
	if lipgloss.Width(s) <= maxLen {
		return s
	}
	return ansi.Truncate(s, maxLen-3, "...")
}

// truncateUUID shortens a UUID for display
func truncateUUID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
