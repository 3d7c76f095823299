package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/datachat/internal/dataset"
	"github.com/MegaGrindStone/datachat/internal/services"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "datachat",
	Short: "Chat with your CSV datasets",
	Long: `datachat sends questions about an uploaded CSV dataset to the analysis
service and shows its answers as text or charts.

The configuration is read from $XDG_CONFIG_HOME/datachat/config.yaml unless
--config is given.`,
	SilenceUsage: true,
}

// serveCmd runs the web interface
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web interface",
	RunE:  runServe,
}

// chatCmd runs the terminal interface
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal",
	Long:  "Starts an interactive conversation in the terminal.\n\n" + chatHelp,
	RunE:  runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: user config dir)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the components shared by both interfaces.
type app struct {
	cfg      config
	logger   *slog.Logger
	backend  services.AnalysisClient
	db       services.BoltDB
	datasets *dataset.Provider
}

func newApp(logOutput *os.File) (app, error) {
	path, required := cfgFile, true
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return app{}, err
		}
		required = false
	}

	cfg, err := loadConfig(path, required)
	if err != nil {
		return app{}, err
	}

	logger, err := cfg.logger(logOutput)
	if err != nil {
		return app{}, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return app{}, fmt.Errorf("error creating data directory: %w", err)
	}
	db, err := services.NewBoltDB(filepath.Join(cfg.DataDir, "datasets.db"))
	if err != nil {
		return app{}, err
	}

	// Requests are bounded by the session controller, the client itself doesn't time out.
	backend := services.NewAnalysisClient(cfg.BackendURL, 0, logger)

	return app{
		cfg:      cfg,
		logger:   logger,
		backend:  backend,
		db:       db,
		datasets: dataset.NewProvider(backend, db, cfg.MaxUploadBytes, logger),
	}, nil
}
