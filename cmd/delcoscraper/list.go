package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	listPayments bool
	listRuns     int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored billing periods",
	Long:  `Displays the stored billing periods, the latest account balances and, optionally, payments and recent refresh runs.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listPayments, "payments", false, "Also list payments")
	listCmd.Flags().IntVar(&listRuns, "runs", 0, "Also list the last N refresh runs")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	snap, err := db.LatestSnapshot()
	if err != nil {
		return fmt.Errorf("reading account snapshot: %w", err)
	}
	if snap != nil {
		fmt.Printf("\nAccount %s (as of %s)\n", snap.AccountID, humanize.Time(snap.FetchedAt))
		fmt.Printf("  Balance due:       $%s\n", snap.Balance.StringFixed(2))
		fmt.Printf("  Previous balance:  $%s\n", snap.PreviousBalance.StringFixed(2))
		fmt.Printf("  Last bill:         $%s\n", snap.LastBillAmount.StringFixed(2))
		fmt.Printf("  Payments received: $%s\n", snap.PaymentsReceived.StringFixed(2))
	}

	periods, err := db.ListPeriods()
	if err != nil {
		return fmt.Errorf("listing billing periods: %w", err)
	}
	if len(periods) == 0 {
		fmt.Println("No billing periods found")
	} else {
		fmt.Printf("\nBilling Periods:\n")
		fmt.Println("------------------------------------------------------------------------")
		fmt.Printf("%-10s  %-10s  %4s  %10s  %9s  %-11s  %s\n", "Start", "End", "Days", "Gallons", "Cost", "Source", "Bill")
		fmt.Println("------------------------------------------------------------------------")

		total := decimal.Zero
		for _, p := range periods {
			cost := ""
			if !p.CostUSD.IsZero() {
				cost = "$" + p.CostUSD.StringFixed(2)
			}
			marker := ""
			if !p.Published {
				marker = " *"
			}
			fmt.Printf("%-10s  %-10s  %4d  %10s  %9s  %-11s  %s%s\n",
				p.StartDate.Format("2006-01-02"),
				p.EndDate.Format("2006-01-02"),
				p.Days(),
				humanize.Comma(p.Gallons().IntPart()),
				cost,
				p.Source,
				p.BillID,
				marker)
			total = total.Add(p.Gallons())
		}

		fmt.Println("------------------------------------------------------------------------")
		fmt.Printf("Total: %s gallons (%d periods, * = not yet published)\n", humanize.Comma(total.IntPart()), len(periods))
	}

	if listPayments {
		payments, err := db.ListPayments()
		if err != nil {
			return fmt.Errorf("listing payments: %w", err)
		}
		fmt.Printf("\nPayments:\n")
		fmt.Println("----------------------------------------")
		for _, p := range payments {
			fmt.Printf("%-12s  %10s  %s\n", p.Date.Format("2006-01-02"), "$"+p.Amount.StringFixed(2), p.TenderType)
		}
		if len(payments) == 0 {
			fmt.Println("No payments found")
		}
	}

	if listRuns > 0 {
		runs, err := db.ListRuns(listRuns)
		if err != nil {
			return fmt.Errorf("listing refresh runs: %w", err)
		}
		fmt.Printf("\nRefresh Runs:\n")
		fmt.Println("----------------------------------------")
		for _, r := range runs {
			line := fmt.Sprintf("%-20s  %-7s  parsed %d, skipped %d",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.PeriodsParsed, r.PeriodsSkipped)
			if r.Error != "" {
				line += "  " + r.Error
			}
			fmt.Println(line)
		}
	}

	return nil
}
