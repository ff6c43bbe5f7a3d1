package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var generateStatsCmd = &cobra.Command{
	Use:   "generate-stats",
	Short: "Import billing periods into Home Assistant statistics",
	Long: `Rebuilds the water consumption and cost statistics from every stored billing
period and imports them into the Home Assistant recorder. Sums are recomputed
from the first period, so running this again replaces the series in place.`,
	RunE: runGenerateStats,
}

func init() {
	rootCmd.AddCommand(generateStatsCmd)
}

func runGenerateStats(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Statistics import started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.HomeAssistant.Enabled {
		return fmt.Errorf("Home Assistant is not enabled in config")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	_, stats, cleanup, err := sinks(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	coord := newCoordinator(cfg, db, nil, stats, false)
	n, err := coord.PublishStatistics(cmd.Context())
	if err != nil {
		return fmt.Errorf("importing statistics: %w", err)
	}

	if n == 0 {
		fmt.Println("⚠ No billing periods stored. Run 'delcoscraper fetch' first")
		return nil
	}
	fmt.Printf("✓ Imported statistics for %d billing periods\n", n)
	return nil
}
