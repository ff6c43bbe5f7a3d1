package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/delcoscraper/internal/refresh"
)

var runSchedule string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Refresh on a schedule until interrupted",
	Long: `Runs a refresh immediately and then on the configured cron schedule
(refresh.schedule, default "@every 6h") until interrupted. With
refresh.publish_on_fetch set, each refresh also publishes to Home Assistant.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSchedule, "schedule", "", "Cron spec overriding refresh.schedule")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Scheduler started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	publish := cfg.Refresh.PublishOnFetch
	var (
		sensors refresh.SensorSink
		stats   refresh.StatisticsSink
	)
	if publish {
		var cleanup func()
		sensors, stats, cleanup, err = sinks(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	coord := newCoordinator(cfg, db, sensors, stats, publish)

	spec := runSchedule
	if spec == "" {
		spec = cfg.GetSchedule()
	}

	var sched *refresh.Scheduler
	job := func(ctx context.Context) error {
		sum, err := coord.Refresh(ctx)
		if err != nil {
			return err
		}
		printSummary(sum)
		if next := sched.Next(); !next.IsZero() {
			fmt.Printf("  Next refresh %s\n", humanize.Time(next))
		}
		return nil
	}

	sched, err = refresh.NewScheduler(spec, cfg.GetTimeout(), job, logger.Named("scheduler"))
	if err != nil {
		return err
	}

	if err := sched.Start(); err != nil {
		return err
	}
	sched.RunNow()

	<-cmd.Context().Done()
	fmt.Println("Stopping, waiting for a running refresh to finish...")
	<-sched.Stop().Done()
	return nil
}
