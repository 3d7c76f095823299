package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/datachat/internal/analysis"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Answer questions about an uploaded CSV dataset",
	Long: `analysis keeps the last uploaded CSV dataset and answers prompts about it
with a Vega-Lite chart, a statistical summary or plain text, using the
configured LLM provider.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: OpenAI with OPENAI_API_KEY)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(*cobra.Command, []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	logger, err := cfg.logger(os.Stderr)
	if err != nil {
		return err
	}

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		return fmt.Errorf("error creating llm: %w", err)
	}

	store, err := newStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := analysis.NewEngine(llm, store, logger)
	handler := analysis.NewHandler(engine, cfg.MaxUploadBytes, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Analysis service starting",
			slog.String("addr", srv.Addr),
			slog.String("store", string(cfg.Store.Type)))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	return nil
}

func newStore(cfg storeConfig) (analysis.Store, error) {
	if cfg.Type != analysis.StoreTypeRedis {
		return analysis.NewStore(cfg.Type)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	return analysis.NewStore(analysis.StoreTypeRedis,
		analysis.WithRedisClient(client),
		analysis.WithRedisTTL(cfg.TTL))
}
