package cmd

import (
	"context"
	"fmt"
	"os"

	"attendance-ingest/internal/storage"
	"attendance-ingest/internal/vault"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Vault tooling for device credentials",
}

var secretEncryptCmd = &cobra.Command{
	Use:         "encrypt <plaintext>",
	Short:       "Print the stored form of a secret",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{noStorage: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		token, err := newVault().Encrypt(args[0])
		if err != nil {
			fatal("Failed to encrypt", err)
		}
		fmt.Println(token)
	},
}

var secretDecryptCmd = &cobra.Command{
	Use:         "decrypt <token>",
	Short:       "Decrypt a stored secret",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{noStorage: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		plain, err := newVault().Open(args[0])
		if err != nil {
			fatal("Failed to decrypt", err)
		}
		fmt.Println(plain)
	},
}

// secretCheckCmd reports credentials that a running server could not use.
var secretCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report device and vendor secrets that do not decrypt",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		v := newVault()
		bad := 0
		report := func(kind, id, field, token string) {
			if token == "" {
				return
			}
			if s := v.Decrypt(token); s.Status != vault.Decrypted {
				bad++
				fmt.Printf("%s %s %s: %s\n", kind, id, field, s.Status)
			}
		}

		devices, err := provider.ListDevices(ctx, storage.DeviceFilter{})
		if err != nil {
			fatal("Failed to list devices", err)
		}
		for _, d := range devices {
			report("device", d.ID, "password", d.Password)
		}
		configs, err := provider.ListVendorConfigs(ctx, "")
		if err != nil {
			fatal("Failed to list vendor configs", err)
		}
		for _, vc := range configs {
			report("vendor_config", vc.ID, "api_key", vc.APIKey)
			report("vendor_config", vc.ID, "api_secret", vc.APISecret)
		}

		if bad > 0 {
			fmt.Printf("%d secret(s) cannot be decrypted with the configured key\n", bad)
			os.Exit(2)
		}
		fmt.Println("All secrets decrypt")
	},
}

// secretResealCmd encrypts device passwords written before the vault was
// introduced.
var secretResealCmd = &cobra.Command{
	Use:   "reseal",
	Short: "Encrypt device passwords still stored as plaintext",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		v := newVault()

		devices, err := provider.ListDevices(ctx, storage.DeviceFilter{})
		if err != nil {
			fatal("Failed to list devices", err)
		}
		resealed := 0
		for _, d := range devices {
			token, changed, err := v.Reseal(d.Password)
			if err != nil {
				fatal("Failed to encrypt device password", err, "device_id", d.ID)
			}
			if !changed {
				continue
			}
			resealed++
			if dryRun {
				fmt.Printf("device %s password would be encrypted\n", d.ID)
				continue
			}
			if err := provider.UpdateDevicePassword(ctx, d.ID, token); err != nil {
				fatal("Failed to store device password", err, "device_id", d.ID)
			}
			fmt.Printf("device %s password encrypted\n", d.ID)
		}
		fmt.Printf("%d plaintext password(s) found\n", resealed)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and print the schema version",
	Run: func(cmd *cobra.Command, args []string) {
		// Opening the provider has already migrated the schema.
		version, err := provider.GetSchemaVersion(context.Background())
		if err != nil {
			fatal("Failed to read schema version", err)
		}
		fmt.Printf("Schema version %d\n", version)
	},
}

func init() {
	secretCmd.AddCommand(secretEncryptCmd)
	secretCmd.AddCommand(secretDecryptCmd)
	secretCmd.AddCommand(secretCheckCmd)
	secretResealCmd.Flags().Bool("dry-run", false, "Only report what would change")
	secretCmd.AddCommand(secretResealCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(migrateCmd)
}
