package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgoulah/delcoscraper/internal/config"
	"github.com/jgoulah/delcoscraper/internal/database"
	"github.com/jgoulah/delcoscraper/internal/delco"
	"github.com/jgoulah/delcoscraper/internal/logging"
	"github.com/jgoulah/delcoscraper/internal/publisher"
	"github.com/jgoulah/delcoscraper/internal/refresh"
)

var (
	cfgFile string
	dbPath  string
	envFile string
	verbose bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "delcoscraper",
	Short: "Collect Del-Co Water usage and billing data for Home Assistant",
	Long: `delcoscraper polls the Del-Co Water customer API, reads billing PDFs to recover
exact billing periods, stores everything in a local SQLite database, and publishes
sensors and long-term statistics to Home Assistant.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(verbose)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./data.db)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with DELCO_USERNAME/DELCO_PASSWORD")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path (local directory)
func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "data.db"
}

// loadConfig loads the configuration file with environment overrides applied
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// saveTokens writes new session tokens into the config file. The file is
// re-read so credentials that came from the environment are not persisted.
func saveTokens(t delco.Tokens) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}
	cfg.DelCo.AccessToken = t.AccessToken
	cfg.DelCo.IDToken = t.IDToken
	cfg.DelCo.RefreshToken = t.RefreshToken
	cfg.DelCo.TokenExpiry = t.Expiry
	return config.Save(getConfigPath(), cfg)
}

// openDB opens the database connection
func openDB() (*database.DB, error) {
	path := getDBPath()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return database.New(path)
}

// newClient builds an API client from saved tokens and credentials. New
// tokens are written back to the config file as they are issued.
func newClient(cfg *config.Config) *delco.Client {
	var auth delco.TokenSource
	if cfg.DelCo.Username != "" && cfg.DelCo.Password != "" {
		auth = delco.NewCognitoAuth(cfg.DelCo.Username, cfg.DelCo.Password)
	}

	return delco.NewClient(cfg.DelCo.Username, auth,
		delco.WithBaseURL(cfg.DelCo.APIBaseURL),
		delco.WithLogger(logger.Named("api")),
		delco.WithTokens(delco.Tokens{
			AccessToken:  cfg.DelCo.AccessToken,
			IDToken:      cfg.DelCo.IDToken,
			RefreshToken: cfg.DelCo.RefreshToken,
			Expiry:       cfg.DelCo.TokenExpiry,
		}),
		delco.WithTokenCallback(func(t delco.Tokens) {
			if err := saveTokens(t); err != nil {
				logger.Warn("could not save refreshed tokens", zap.Error(err))
			}
		}),
	)
}

// sinks connects to whichever Home Assistant outputs are enabled. The
// returned cleanup closes them.
func sinks(cfg *config.Config) (refresh.SensorSink, refresh.StatisticsSink, func(), error) {
	var (
		sensors refresh.SensorSink
		stats   refresh.StatisticsSink
		cleanup = func() {}
	)

	if cfg.MQTT.Enabled {
		pub, err := publisher.New(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("creating MQTT publisher: %w", err)
		}
		sensors = pub
		cleanup = pub.Close
	}

	if cfg.HomeAssistant.Enabled {
		ha, err := publisher.NewHAClient(cfg.HomeAssistant, logger.Named("statistics"))
		if err != nil {
			cleanup()
			return nil, nil, func() {}, fmt.Errorf("creating Home Assistant client: %w", err)
		}
		stats = ha
	}

	return sensors, stats, cleanup, nil
}

// newCoordinator wires the client, database and sinks into a refresh coordinator
func newCoordinator(cfg *config.Config, db *database.DB, sensors refresh.SensorSink, stats refresh.StatisticsSink, publish bool) *refresh.Coordinator {
	return refresh.New(newClient(cfg), db, sensors, stats, refresh.Options{
		HistoryDays: cfg.GetHistoryDays(),
		PaymentDays: cfg.GetPaymentDays(),
		Publish:     publish,
	}, logger.Named("refresh"))
}
