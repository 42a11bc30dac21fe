package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/calderon/ventasync/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard for observing sync activity",
	Long: `Launch a live-updating TUI dashboard showing:
- Devices: registered devices and their sync checkpoints
- Sync sessions: recent push/pull exchanges with counters
- Conflicts: open conflicts plus the recent change feed

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k            Scroll active panel
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "server",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		model := monitor.NewModel(st, interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval (default 2s)")
}
