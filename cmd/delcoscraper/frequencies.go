package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/delcoscraper/internal/delco"
)

var frequenciesDays int

var frequenciesCmd = &cobra.Command{
	Use:   "frequencies",
	Short: "Probe which usage frequencies the meter supports",
	Long: `Requests usage at every known frequency code and reports which ones return
data. Daily and weekly readings need an AMI (smart) meter; other meters only
have monthly readings.`,
	RunE: runFrequencies,
}

func init() {
	frequenciesCmd.Flags().IntVar(&frequenciesDays, "days", 30, "Days of history to request")
	rootCmd.AddCommand(frequenciesCmd)
}

func runFrequencies(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	client := newClient(cfg)
	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	end := time.Now()
	start := end.AddDate(0, 0, -frequenciesDays)

	for _, code := range delco.ProbeCodes {
		freq, err := delco.ParseFrequency(code)
		if errors.Is(err, delco.ErrFrequencyNotFound) {
			fmt.Printf("⚠ %-3s  frequency not found\n", code)
			continue
		}

		points, err := client.GetUsagePoints(ctx, freq, start, end)
		switch {
		case errors.Is(err, delco.ErrNoUsageData):
			note := ""
			if freq.RequiresAMI() {
				note = " (needs an AMI meter)"
			}
			fmt.Printf("⚠ %-3s  %-8s no data%s\n", code, freq, note)
		case err != nil:
			return fmt.Errorf("requesting %s usage: %w", freq, err)
		default:
			fmt.Printf("✓ %-3s  %-8s %d readings\n", code, freq, len(points))
		}
	}
	return nil
}
