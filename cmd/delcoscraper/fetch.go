package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/delcoscraper/internal/refresh"
)

var fetchPublish bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch usage, bills and payments from Del-Co Water",
	Long: `Runs one refresh: reads the account balance, monthly usage, billing history
and payments, parses any new bill PDFs into billing periods, and stores the
result in the local SQLite database.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchPublish, "publish", false, "Publish to Home Assistant after fetching")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Fetch started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	var (
		sensors refresh.SensorSink
		stats   refresh.StatisticsSink
	)
	if fetchPublish {
		var cleanup func()
		sensors, stats, cleanup, err = sinks(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	coord := newCoordinator(cfg, db, sensors, stats, fetchPublish)
	sum, err := coord.Refresh(cmd.Context())
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	printSummary(sum)
	return nil
}

func printSummary(sum *refresh.Summary) {
	fmt.Printf("✓ Account %s: balance due $%s\n", sum.Snapshot.AccountID, sum.Snapshot.Balance.StringFixed(2))
	if sum.UsagePoints == 0 {
		fmt.Println("⚠ No monthly usage returned")
	} else {
		fmt.Printf("✓ Stored %d monthly usage readings\n", sum.UsagePoints)
	}
	fmt.Printf("✓ Found %d bills, parsed %d new billing periods\n", sum.Bills, sum.PeriodsParsed)
	if sum.PeriodsSkipped > 0 {
		fmt.Printf("⚠ Skipped %d bills whose PDF could not be read (see log)\n", sum.PeriodsSkipped)
	}
	fmt.Printf("✓ Saved %d billing periods, %d new payments\n", sum.PeriodsSaved, sum.NewPayments)

	if pub := sum.Published; pub != nil {
		printPublish(pub)
	}
}

func printPublish(pub *refresh.PublishSummary) {
	if pub.Sensors > 0 {
		fmt.Printf("✓ Published %d sensors\n", pub.Sensors)
	}
	switch {
	case pub.Skipped:
		fmt.Println("✓ Statistics already up to date")
	case pub.Statistics > 0:
		fmt.Printf("✓ Imported statistics for %d billing periods\n", pub.Statistics)
	}
}
