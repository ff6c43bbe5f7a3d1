package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var publishAll bool

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish stored data to Home Assistant",
	Long: `Publishes the latest account balances and usage as MQTT sensors, and imports
billing periods into Home Assistant as long-term statistics.

Statistics are only sent when a period has not been published yet, unless
--all is given.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishAll, "all", false, "Force republish all statistics (ignore published flag)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.MQTT.Enabled && !cfg.HomeAssistant.Enabled {
		return fmt.Errorf("neither MQTT nor Home Assistant is enabled in config")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	sensors, stats, cleanup, err := sinks(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	coord := newCoordinator(cfg, db, sensors, stats, false)
	pub, err := coord.Publish(cmd.Context(), publishAll)
	if err != nil {
		return fmt.Errorf("publishing: %w", err)
	}

	printPublish(pub)
	return nil
}
