package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:     "device",
	Short:   "Manage registered sync devices",
	GroupID: "admin",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		devices, err := st.ListDevices()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("no devices")
			return nil
		}

		for _, d := range devices {
			status := "active"
			if !d.Active {
				status = "revoked"
			}
			lastSync := "never"
			if d.LastSyncAt != nil {
				lastSync = d.LastSyncAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-20s %-8s last sync: %s\n", d.UUID, d.Name, status, lastSync)
		}
		return nil
	},
}

var deviceRevokeCmd = &cobra.Command{
	Use:   "revoke <device-uuid>",
	Short: "Revoke a device token and deactivate the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		device, err := st.GetDevice(args[0])
		if err != nil {
			return err
		}
		if device == nil {
			return fmt.Errorf("device not found: %s", args[0])
		}

		if err := st.RevokeDeviceToken(device.UUID); err != nil {
			return err
		}

		fmt.Printf("revoked device %s (%s)\n", device.UUID, device.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceListCmd, deviceRevokeCmd)
}
