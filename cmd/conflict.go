package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/calderon/ventasync/internal/engine"
	"github.com/calderon/ventasync/internal/store"
)

var conflictCmd = &cobra.Command{
	Use:     "conflict",
	Short:   "Inspect and resolve sync conflicts",
	GroupID: "admin",
}

var conflictListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		conflicts, err := st.ListUnresolvedConflicts()
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("no open conflicts")
			return nil
		}

		for _, c := range conflicts {
			fmt.Printf("%s  %-16s record %s  detected %s\n",
				c.UUID, c.Table, c.RecordUUID, c.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var conflictResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-uuid>",
	Short: "Resolve an open conflict interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			return fmt.Errorf("--email is required to attribute the resolution")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := st.GetUserByEmail(email)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user not found: %s", email)
		}

		conflict, err := st.GetConflict(args[0])
		if err != nil {
			return err
		}
		if conflict == nil {
			return fmt.Errorf("conflict not found: %s", args[0])
		}
		if conflict.Resolved {
			return fmt.Errorf("conflict %s is already resolved", conflict.UUID)
		}

		remote, err := st.GetChangeByID(conflict.RemoteChangeID)
		if err != nil {
			return err
		}
		if remote == nil {
			return fmt.Errorf("conflict %s references a missing change entry", conflict.UUID)
		}
		device, err := st.GetDevice(remote.DeviceUUID)
		if err != nil {
			return err
		}
		if device == nil {
			return fmt.Errorf("device not found: %s", remote.DeviceUUID)
		}

		fmt.Printf("Conflict %s on %s record %s\n", conflict.UUID, conflict.Table, conflict.RecordUUID)
		fmt.Printf("  server state: %s\n", indentJSON(conflict.LocalPayload))
		fmt.Printf("  device data:  %s\n", indentJSON(conflict.RemotePayload))

		resolution, mergedData, err := promptResolution(conflict)
		if err != nil {
			return err
		}

		eng := engine.New(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err := eng.Resolve(context.Background(), conflict.UUID, resolution, mergedData, user, device); err != nil {
			return err
		}

		fmt.Printf("resolved conflict %s (%s)\n", conflict.UUID, resolution)
		return nil
	},
}

// promptResolution runs the interactive form picking a strategy and, for
// merge, collecting the merged record as JSON.
func promptResolution(conflict *store.Conflict) (string, map[string]any, error) {
	resolution := store.ResolutionLocal
	mergedJSON := string(conflict.RemotePayload)

	pick := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Resolution strategy").
			Options(
				huh.NewOption("Keep server state (local)", store.ResolutionLocal),
				huh.NewOption("Apply device data (remote)", store.ResolutionRemote),
				huh.NewOption("Merge both manually", store.ResolutionMerge),
			).
			Value(&resolution),
	))
	if err := pick.Run(); err != nil {
		return "", nil, err
	}

	if resolution != store.ResolutionMerge {
		return resolution, nil, nil
	}

	edit := huh.NewForm(huh.NewGroup(
		huh.NewText().
			Title("Merged record (JSON)").
			Value(&mergedJSON).
			Lines(8).
			Validate(func(s string) error {
				var parsed map[string]any
				if err := json.Unmarshal([]byte(s), &parsed); err != nil {
					return fmt.Errorf("invalid JSON: %w", err)
				}
				if len(parsed) == 0 {
					return fmt.Errorf("merged record cannot be empty")
				}
				return nil
			}),
	))
	if err := edit.Run(); err != nil {
		return "", nil, err
	}

	var merged map[string]any
	if err := json.Unmarshal([]byte(mergedJSON), &merged); err != nil {
		return "", nil, fmt.Errorf("invalid merged JSON: %w", err)
	}
	return resolution, merged, nil
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "  ", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func init() {
	rootCmd.AddCommand(conflictCmd)
	conflictCmd.AddCommand(conflictListCmd, conflictResolveCmd)

	conflictResolveCmd.Flags().String("email", "", "email of the user resolving the conflict")
}
