package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"attendance-ingest/internal/employees"
	"attendance-ingest/internal/storage"

	"github.com/spf13/cobra"
)

var employeeCmd = &cobra.Command{
	Use:   "employee",
	Short: "Manage biometric id links",
	Long:  `Link HR employee ids to the ids biometric readers emit.`,
}

var employeeLinkCmd = &cobra.Command{
	Use:   "link <company_id> <employee_id> <biometric_id> [name]",
	Short: "Link one employee",
	Args:  cobra.RangeArgs(3, 4),
	Run: func(cmd *cobra.Command, args []string) {
		e := storage.Employee{CompanyID: args[0], ID: args[1], BiometricID: args[2]}
		if len(args) == 4 {
			e.Name = args[3]
		}
		if err := provider.LinkEmployee(context.Background(), e); err != nil {
			fatal("Failed to link employee", err, "employee_id", e.ID)
		}
		fmt.Printf("Employee %s linked to biometric id %s\n", e.ID, e.BiometricID)
	},
}

var employeeImportCmd = &cobra.Command{
	Use:   "import <company_id> <file.csv>",
	Short: "Import links from an HR export",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		summary, err := employees.ImportFile(context.Background(), provider, args[1], args[0])
		if err != nil {
			fatal("Failed to import employees", err, "file", args[1])
		}
		fmt.Printf("Linked %d employee(s), skipped %d row(s)\n", summary.Linked, summary.Skipped)
	},
}

var employeeListCmd = &cobra.Command{
	Use:   "list <company_id>",
	Short: "List employee links",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		list, err := provider.ListEmployees(context.Background(), args[0])
		if err != nil {
			fatal("Failed to list employees", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMPLOYEE ID\tBIOMETRIC ID\tNAME")
		for _, e := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.BiometricID, e.Name)
		}
		w.Flush()
	},
}

var attendanceCmd = &cobra.Command{
	Use:   "attendance <company_id> [date]",
	Short: "Show recorded attendance for a day (default today, UTC)",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		date := time.Now().UTC().Format(time.DateOnly)
		if len(args) == 2 {
			date = args[1]
		}
		records, err := provider.ListAttendance(context.Background(), args[0], date)
		if err != nil {
			fatal("Failed to list attendance", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMPLOYEE ID\tTIME IN\tIN DEVICE\tTIME OUT\tOUT DEVICE")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.EmployeeID, formatTime(r.TimeIn), r.CheckInDeviceID, formatTime(r.TimeOut), r.CheckOutDeviceID)
		}
		w.Flush()
	},
}

func init() {
	employeeCmd.AddCommand(employeeLinkCmd)
	employeeCmd.AddCommand(employeeImportCmd)
	employeeCmd.AddCommand(employeeListCmd)
	rootCmd.AddCommand(employeeCmd)
	rootCmd.AddCommand(attendanceCmd)
}
