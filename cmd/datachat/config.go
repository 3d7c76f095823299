package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/datachat/internal/session"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type config struct {
	Port             string        `yaml:"port"`
	BackendURL       string        `yaml:"backendURL"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
	HistoryLimit     int           `yaml:"historyLimit"`
	OffTopicKeywords []string      `yaml:"offTopicKeywords"`
	MaxUploadBytes   int64         `yaml:"maxUploadBytes"`
	DataDir          string        `yaml:"dataDir"`
	LogLevel         string        `yaml:"logLevel"`
}

const (
	defaultPort       = "8080"
	defaultBackendURL = "http://localhost:8000"
)

func defaultConfig() config {
	return config{
		Port:             defaultPort,
		BackendURL:       defaultBackendURL,
		HistoryLimit:     session.DefaultHistoryLimit,
		OffTopicKeywords: session.DefaultOffTopicKeywords,
		LogLevel:         "info",
	}
}

// loadConfig reads the config file at path over the defaults. A missing file is only an error when
// required is set. Environment variables, also read from a .env file, take precedence over the file.
func loadConfig(path string, required bool) (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := defaultConfig()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	if v := os.Getenv("DATACHAT_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("DATACHAT_PORT"); v != "" {
		cfg.Port = v
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}

	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.BackendURL == "" {
		return errors.New("backendURL is required")
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("historyLimit must be positive, got %d", c.HistoryLimit)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must not be negative, got %s", c.RequestTimeout)
	}
	return nil
}

func (c config) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return nil, fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func (c config) sessionOptions() []session.Option {
	return []session.Option{
		session.WithDenylist(session.NewDenylist(c.OffTopicKeywords...)),
		session.WithHistoryLimit(c.HistoryLimit),
		session.WithRequestTimeout(c.RequestTimeout),
	}
}

func defaultConfigPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "datachat", "config.yaml"), nil
}
