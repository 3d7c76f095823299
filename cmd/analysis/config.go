package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MegaGrindStone/datachat/internal/analysis"
	"github.com/MegaGrindStone/datachat/internal/services"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (analysis.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type config struct {
	Port           string        `yaml:"port"`
	SystemPrompt   string        `yaml:"systemPrompt"`
	MaxUploadBytes int64         `yaml:"maxUploadBytes"`
	LogLevel       string        `yaml:"logLevel"`
	Store          storeConfig   `yaml:"store"`
	LLM            llmConfig     `yaml:"llm"`
	ShutdownWait   time.Duration `yaml:"shutdownWait"`
}

type storeConfig struct {
	Type     analysis.StoreType `yaml:"type"`
	RedisURL string             `yaml:"redisURL"`
	TTL      time.Duration      `yaml:"ttl"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

const (
	defaultPort           = "8000"
	defaultMaxUploadBytes = 50 << 20
	defaultShutdownWait   = 10 * time.Second
	defaultOpenAIModel    = "gpt-3.5-turbo"
	defaultSystemPrompt   = "You are a data analyst. Answer questions about the dataset the user uploaded."
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string         `yaml:"port"`
		SystemPrompt   string         `yaml:"systemPrompt"`
		MaxUploadBytes int64          `yaml:"maxUploadBytes"`
		LogLevel       string         `yaml:"logLevel"`
		Store          storeConfig    `yaml:"store"`
		LLM            map[string]any `yaml:"llm"`
		ShutdownWait   time.Duration  `yaml:"shutdownWait"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.SystemPrompt = rawConfig.SystemPrompt
	c.MaxUploadBytes = rawConfig.MaxUploadBytes
	c.LogLevel = rawConfig.LogLevel
	c.Store = rawConfig.Store
	c.ShutdownWait = rawConfig.ShutdownWait

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	case "gemini":
		llm = &geminiConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// loadConfig reads the .env file and the YAML file at path. A missing file leaves the defaults in place,
// which talk to OpenAI with the key of OPENAI_API_KEY.
func loadConfig(path string) (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config{}, fmt.Errorf("error loading .env file: %w", err)
	}

	var cfg config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return config{}, fmt.Errorf("error opening config file: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	if v := os.Getenv("ANALYSIS_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" && cfg.Store.RedisURL == "" {
		cfg.Store.RedisURL = v
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ShutdownWait <= 0 {
		cfg.ShutdownWait = defaultShutdownWait
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = analysis.StoreTypeMemory
	}
	if cfg.LLM == nil {
		cfg.LLM = &openAIConfig{BaseLLMConfig: BaseLLMConfig{Provider: "openai", Model: defaultOpenAIModel}}
	}

	if cfg.Store.Type == analysis.StoreTypeRedis && cfg.Store.RedisURL == "" {
		return config{}, fmt.Errorf("store.redisURL is required for the redis store")
	}

	return cfg, nil
}

func (c config) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (analysis.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, o.Parameters, logger), nil
}

func (o ollamaConfig) llm(systemPrompt string, _ *slog.Logger) (analysis.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt, o.Parameters)
}

func (a anthropicConfig) llm(systemPrompt string, _ *slog.Logger) (analysis.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, systemPrompt, a.MaxTokens, a.Parameters), nil
}

func (o openRouterConfig) llm(systemPrompt string, logger *slog.Logger) (analysis.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenRouter(apiKey, o.Endpoint, o.Model, systemPrompt, o.Parameters, logger), nil
}

func (g geminiConfig) llm(systemPrompt string, _ *slog.Logger) (analysis.LLM, error) {
	if g.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := g.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	return services.NewGemini(context.Background(), apiKey, g.Endpoint, g.Model, systemPrompt, g.Parameters)
}
