// Package config holds runtime configuration for the evaluation engine and
// the model-calling adapter. Values come from the environment by default and
// can be overridden programmatically with ConfigOption functions.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/teilomillet/promptopt/utils"
)

type Config struct {
	// Evaluation engine settings.
	Workers          int `env:"PROMPTOPT_WORKERS" envDefault:"8" validate:"min=1"`
	DefaultRuns      int `env:"PROMPTOPT_DEFAULT_RUNS" envDefault:"1" validate:"min=1"`
	DefaultPassCount int `env:"PROMPTOPT_DEFAULT_PASS_COUNT" envDefault:"1" validate:"min=1"`

	// Model adapter settings.
	Provider   string        `env:"LLM_PROVIDER" envDefault:"openai"`
	Model      string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	Endpoint   string        `env:"LLM_ENDPOINT"`
	Timeout    time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	MaxRetries int           `env:"LLM_MAX_RETRIES" envDefault:"3" validate:"min=0"`
	RetryDelay time.Duration `env:"LLM_RETRY_DELAY" envDefault:"2s"`

	// Requests per second allowed against the model provider; zero disables
	// client-side rate limiting.
	RateLimit      float64 `env:"LLM_RATE_LIMIT" envDefault:"0"`
	RateLimitBurst int     `env:"LLM_RATE_LIMIT_BURST" envDefault:"1" validate:"min=1"`

	APIKeys  map[string]string
	LogLevel utils.LogLevel `env:"PROMPTOPT_LOG_LEVEL" envDefault:"WARN"`
}

var validate = validator.New()

func LoadConfig() (*Config, error) {
	cfg := &Config{
		APIKeys: make(map[string]string),
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	loadAPIKeys(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKeys(cfg *Config) {
	for _, envVar := range os.Environ() {
		key, value, found := strings.Cut(envVar, "=")
		if found && strings.HasSuffix(strings.ToUpper(key), "_API_KEY") {
			provider := strings.TrimSuffix(strings.ToUpper(key), "_API_KEY")
			cfg.APIKeys[strings.ToLower(provider)] = value
		}
	}
}

// Validate checks field constraints declared on the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

type ConfigOption func(*Config)

func NewConfig() *Config {
	return &Config{
		Workers:          8,
		DefaultRuns:      1,
		DefaultPassCount: 1,
		Provider:         "openai",
		Model:            "gpt-4o-mini",
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		RetryDelay:       2 * time.Second,
		RateLimitBurst:   1,
		APIKeys:          make(map[string]string),
		LogLevel:         utils.LogLevelWarn,
	}
}

func SetWorkers(workers int) ConfigOption {
	return func(c *Config) {
		if workers < 1 {
			workers = 1
		}
		c.Workers = workers
	}
}

func SetDefaultRuns(runs int) ConfigOption {
	return func(c *Config) {
		if runs < 1 {
			runs = 1
		}
		c.DefaultRuns = runs
	}
}

func SetDefaultPassCount(count int) ConfigOption {
	return func(c *Config) {
		if count < 1 {
			count = 1
		}
		c.DefaultPassCount = count
	}
}

func SetProvider(provider string) ConfigOption {
	return func(c *Config) {
		c.Provider = provider
	}
}

func SetModel(model string) ConfigOption {
	return func(c *Config) {
		c.Model = model
	}
}

func SetEndpoint(endpoint string) ConfigOption {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

func SetTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

func SetAPIKey(apiKey string) ConfigOption {
	return func(c *Config) {
		if c.APIKeys == nil {
			c.APIKeys = make(map[string]string)
		}
		c.APIKeys[c.Provider] = apiKey
	}
}

func SetMaxRetries(maxRetries int) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = maxRetries
	}
}

func SetRetryDelay(retryDelay time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryDelay = retryDelay
	}
}

func SetRateLimit(perSecond float64, burst int) ConfigOption {
	return func(c *Config) {
		c.RateLimit = perSecond
		if burst < 1 {
			burst = 1
		}
		c.RateLimitBurst = burst
	}
}

func SetLogLevel(level utils.LogLevel) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

func ApplyOptions(cfg *Config, options ...ConfigOption) {
	for _, option := range options {
		option(cfg)
	}
}
