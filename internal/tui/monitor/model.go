package monitor

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/calderon/ventasync/internal/store"
)

// Panel represents which panel is active
type Panel int

const (
	PanelDevices Panel = iota
	PanelSessions
	PanelConflicts
)

// Model is the main Bubble Tea model for the sync monitor TUI
type Model struct {
	// Database
	DB *store.Store

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Devices      []*store.Device
	Sessions     []*store.SyncSession
	Conflicts    []*store.Conflict
	Changes      []*store.ChangeEntry
	TotalChanges int64

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	LastRefresh  time.Time
	Spinner      spinner.Model
	Err          error

	// Configuration
	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Devices      []*store.Device
	Sessions     []*store.SyncSession
	Conflicts    []*store.Conflict
	Changes      []*store.ChangeEntry
	TotalChanges int64
	Err          error
	Timestamp    time.Time
}

// NewModel creates a new monitor model
func NewModel(st *store.Store, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		DB:              st,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelDevices,
		Spinner:         sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.Spinner.Tick,
		m.fetchData(),
		m.scheduleTick(),
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case RefreshDataMsg:
		m.Devices = msg.Devices
		m.Sessions = msg.Sessions
		m.Conflicts = msg.Conflicts
		m.Changes = msg.Changes
		m.TotalChanges = msg.TotalChanges
		m.Err = msg.Err
		m.LastRefresh = msg.Timestamp
		return m, nil
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % 3
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + 2) % 3
		return m, nil

	case "1":
		m.ActivePanel = PanelDevices
		return m, nil

	case "2":
		m.ActivePanel = PanelSessions
		return m, nil

	case "3":
		m.ActivePanel = PanelConflicts
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "r":
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(m.DB)
	}
}
