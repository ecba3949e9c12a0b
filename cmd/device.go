package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/storage"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage biometric devices",
	Long:  `Manage biometric devices: register, list, toggle, probe and backfill.`,
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		company, _ := cmd.Flags().GetString("company")
		vendor, _ := cmd.Flags().GetString("vendor")
		activeOnly, _ := cmd.Flags().GetBool("active")
		output, _ := cmd.Flags().GetString("output")

		devices, err := provider.ListDevices(ctx, storage.DeviceFilter{
			CompanyID:  company,
			Vendor:     vendor,
			ActiveOnly: activeOnly,
		})
		if err != nil {
			fatal("Failed to list devices", err)
		}

		switch output {
		case "yaml":
			printYAML(devices)
		case "table", "":
			if len(devices) == 0 {
				fmt.Println("No devices found")
				return
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE ID\tCOMPANY\tVENDOR\tNAME\tSERIAL\tACTIVE\tLAST SEEN")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
					d.ID, d.CompanyID, d.Vendor, d.Name, d.SerialNumber, d.IsActive, formatTime(d.LastSeen))
			}
			w.Flush()
		default:
			fmt.Fprintf(os.Stderr, "Unknown output format %q, use table or yaml\n", output)
			os.Exit(1)
		}
	},
}

var deviceShowCmd = &cobra.Command{
	Use:   "show <device_id>",
	Short: "Show one device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		device := mustGetDevice(context.Background(), args[0])
		printYAML(device)
		fmt.Printf("streaming: %t\n", adapter.IsStreamingVendor(device.Vendor))
		if device.Password != "" {
			fmt.Printf("password: %s\n", newVault().Decrypt(device.Password).Status)
		}
	},
}

var deviceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a device",
	Long: `Register a device. The password is encrypted with the vault key before it
is stored. Streaming devices connect the next time the server starts or
when activated through the API.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		flags := cmd.Flags()
		str := func(name string) string {
			v, _ := flags.GetString(name)
			return strings.TrimSpace(v)
		}

		device := storage.Device{
			ID:             str("id"),
			CompanyID:      str("company"),
			Name:           str("name"),
			Vendor:         strings.ToLower(str("vendor")),
			Host:           str("host"),
			Username:       str("username"),
			VendorConfigID: str("vendor-config"),
			CloudDeviceID:  str("cloud-id"),
			SerialNumber:   str("serial"),
		}
		device.Port, _ = flags.GetInt("port")
		device.IsActive, _ = flags.GetBool("active")

		if device.CompanyID == "" {
			fmt.Fprintln(os.Stderr, "--company is required")
			os.Exit(1)
		}
		if !adapter.KnownVendor(device.Vendor) {
			fmt.Fprintf(os.Stderr, "Unknown vendor %q\n", device.Vendor)
			os.Exit(1)
		}
		if password := str("password"); password != "" {
			token, err := newVault().Encrypt(password)
			if err != nil {
				fatal("Failed to encrypt device password", err)
			}
			device.Password = token
		}

		if device.ID == "" {
			device.ID = uuid.NewString()
		}

		if err := provider.CreateDevice(ctx, device); err != nil {
			fatal("Failed to create device", err)
		}
		fmt.Printf("Device %s created\n", device.ID)
	},
}

func setActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <device_id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a device",
		Long:  `Changes the stored flag. A running server picks it up on restart or through the device API.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := provider.SetDeviceActive(context.Background(), args[0], active); err != nil {
				fatal("Failed to update device", err, "device_id", args[0])
			}
			fmt.Printf("Device %s active: %t\n", args[0], active)
		},
	}
}

var deviceDeleteCmd = &cobra.Command{
	Use:   "delete <device_id>",
	Short: "Delete a device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := provider.DeleteDevice(context.Background(), args[0]); err != nil {
			fatal("Failed to delete device", err, "device_id", args[0])
		}
		fmt.Printf("Device %s deleted\n", args[0])
	},
}

var deviceTestCmd = &cobra.Command{
	Use:   "test <device_id>",
	Short: "Probe a device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		device := loadDeviceWithSecrets(ctx, args[0])
		a, err := registry().Get(device.Vendor)
		if err != nil {
			fatal("No adapter for device", err, "vendor", device.Vendor)
		}
		if a.TestConnection(ctx, device) {
			fmt.Printf("Device %s is reachable\n", device.ID)
			return
		}
		fmt.Printf("Device %s is not reachable\n", device.ID)
		os.Exit(2)
	},
}

var deviceBackfillCmd = &cobra.Command{
	Use:   "backfill <device_id>",
	Short: "Pull stored punches from a device and record them",
	Long: `Pulls the device log between --since and --until and feeds every record
through the deduplicating recorder. Already recorded punches are skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		since, _ := cmd.Flags().GetDuration("since")
		untilStr, _ := cmd.Flags().GetString("until")

		end := time.Now().UTC()
		if untilStr != "" {
			t, err := time.Parse(time.RFC3339, untilStr)
			if err != nil {
				fatal("Invalid --until, use RFC3339", err)
			}
			end = t.UTC()
		}
		start := end.Add(-since)

		device := loadDeviceWithSecrets(ctx, args[0])
		fetcher, err := registry().Fetcher(device.Vendor)
		if err != nil {
			fatal("Device cannot be backfilled", err, "vendor", device.Vendor)
		}
		records, err := fetcher.FetchAttendanceRecords(ctx, device, start, end)
		if err != nil {
			fatal("Failed to fetch records", err, "device_id", device.ID)
		}

		recorder := attendance.NewRecorder(provider)
		outcomes := map[attendance.Outcome]int{}
		for _, rec := range records {
			res, err := recorder.Record(ctx, rec.Event(device))
			if err != nil {
				fatal("Failed to record punch", err, "device_id", device.ID)
			}
			outcomes[res.Outcome]++
		}

		fmt.Printf("Fetched %d record(s) between %s and %s\n", len(records), start.Format(time.RFC3339), end.Format(time.RFC3339))
		for _, o := range []attendance.Outcome{attendance.Recorded, attendance.Duplicate, attendance.AlreadySet, attendance.UnknownEmployee, attendance.Dropped} {
			if n := outcomes[o]; n > 0 {
				fmt.Printf("  %-16s %d\n", o, n)
			}
		}
	},
}

func registry() *adapter.Registry {
	return adapter.NewRegistry(adapter.OptionsFromConfig(cfg, nil))
}

func mustGetDevice(ctx context.Context, id string) *storage.Device {
	device, err := provider.GetDevice(ctx, id)
	if err != nil {
		fatal("Device not found", err, "device_id", id)
	}
	return device
}

// loadDeviceWithSecrets returns the device with its vendor config attached
// and credentials decrypted.
func loadDeviceWithSecrets(ctx context.Context, id string) storage.Device {
	device := mustGetDevice(ctx, id)
	if device.VendorConfigID != "" {
		vc, err := provider.GetVendorConfig(ctx, device.VendorConfigID)
		if err != nil {
			fatal("Failed to load vendor config", err, "vendor_config_id", device.VendorConfigID)
		}
		device.VendorConfig = vc
	}
	return newVault().WithDecryptedSecrets(*device)
}

func printYAML(v any) {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		fatal("Failed to encode yaml", err)
	}
	enc.Close()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006-01-02 15:04:05")
}

func init() {
	deviceListCmd.Flags().String("company", "", "Filter by company id")
	deviceListCmd.Flags().String("vendor", "", "Filter by vendor")
	deviceListCmd.Flags().Bool("active", false, "Only active devices")
	deviceListCmd.Flags().StringP("output", "o", "table", "Output format: table or yaml")

	f := deviceCreateCmd.Flags()
	f.String("id", "", "Device id (generated when empty)")
	f.String("company", "", "Owning company id")
	f.String("name", "", "Display name")
	f.String("vendor", "", "Vendor: "+strings.Join([]string{adapter.VendorStreamHTTP, adapter.VendorWebSocket, adapter.VendorCloudRelay, adapter.VendorADMS}, ", "))
	f.String("host", "", "Device host for streaming vendors")
	f.Int("port", 0, "Device port")
	f.String("username", "", "Device username")
	f.String("password", "", "Device password, stored encrypted")
	f.String("vendor-config", "", "Vendor config id")
	f.String("cloud-id", "", "Vendor cloud device id")
	f.String("serial", "", "Device serial number")
	f.Bool("active", true, "Start the device with the server")

	deviceBackfillCmd.Flags().Duration("since", 24*time.Hour, "How far back from --until to fetch")
	deviceBackfillCmd.Flags().String("until", "", "End of the range, RFC3339 (default now)")

	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceShowCmd)
	deviceCmd.AddCommand(deviceCreateCmd)
	deviceCmd.AddCommand(setActiveCmd("activate", true))
	deviceCmd.AddCommand(setActiveCmd("deactivate", false))
	deviceCmd.AddCommand(deviceDeleteCmd)
	deviceCmd.AddCommand(deviceTestCmd)
	deviceCmd.AddCommand(deviceBackfillCmd)
	rootCmd.AddCommand(deviceCmd)
}
