package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/storage"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var vendorCmd = &cobra.Command{
	Use:   "vendor",
	Short: "Manage vendor cloud credentials",
}

var vendorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vendor configs",
	Run: func(cmd *cobra.Command, args []string) {
		company, _ := cmd.Flags().GetString("company")
		configs, err := provider.ListVendorConfigs(context.Background(), company)
		if err != nil {
			fatal("Failed to list vendor configs", err)
		}
		if len(configs) == 0 {
			fmt.Println("No vendor configs found")
			return
		}

		v := newVault()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCOMPANY\tVENDOR\tAPI URL\tAPI KEY\tAPI SECRET")
		for _, vc := range configs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				vc.ID, vc.CompanyID, vc.Vendor, vc.APIURL,
				v.Decrypt(vc.APIKey).Status, v.Decrypt(vc.APISecret).Status)
		}
		w.Flush()
	},
}

var vendorCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Store vendor cloud credentials for a company",
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		str := func(name string) string {
			s, _ := flags.GetString(name)
			return strings.TrimSpace(s)
		}

		vc := storage.VendorConfig{
			ID:        str("id"),
			CompanyID: str("company"),
			Vendor:    strings.ToLower(str("vendor")),
			APIURL:    str("api-url"),
		}
		if vc.CompanyID == "" || !adapter.KnownVendor(vc.Vendor) {
			fmt.Fprintln(os.Stderr, "--company and a known --vendor are required")
			os.Exit(1)
		}

		v := newVault()
		var err error
		if vc.APIKey, err = v.Encrypt(str("api-key")); err != nil {
			fatal("Failed to encrypt api key", err)
		}
		if vc.APISecret, err = v.Encrypt(str("api-secret")); err != nil {
			fatal("Failed to encrypt api secret", err)
		}
		if vc.ID == "" {
			vc.ID = uuid.NewString()
		}

		if err := provider.CreateVendorConfig(context.Background(), vc); err != nil {
			fatal("Failed to create vendor config", err)
		}
		fmt.Printf("Vendor config %s created\n", vc.ID)
	},
}

func init() {
	vendorListCmd.Flags().String("company", "", "Filter by company id")

	f := vendorCreateCmd.Flags()
	f.String("id", "", "Config id (generated when empty)")
	f.String("company", "", "Owning company id")
	f.String("vendor", "", "Vendor")
	f.String("api-url", "", "Vendor cloud API base URL")
	f.String("api-key", "", "API key, stored encrypted")
	f.String("api-secret", "", "API secret, stored encrypted")

	vendorCmd.AddCommand(vendorListCmd)
	vendorCmd.AddCommand(vendorCreateCmd)
	rootCmd.AddCommand(vendorCmd)
}
