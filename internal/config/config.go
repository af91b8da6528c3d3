// Package config loads the exchange core configuration from the environment,
// with an optional YAML override file for deployments that prefer files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the exchange core.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	PriceFeed PriceFeedConfig `yaml:"price_feed"`
	KYC       KYCConfig       `yaml:"kyc"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST,default=0.0.0.0"`
	Port int    `yaml:"port" env:"SERVER_PORT,default=8080"`
}

// DatabaseConfig selects the persistence backend. An empty URL selects the
// in-memory store, which is intended for tests and local development.
type DatabaseConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL,default="`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL,default=info"`
	Format string `yaml:"format" env:"LOG_FORMAT,default=text"`
	Output string `yaml:"output" env:"LOG_OUTPUT,default=stdout"`
}

// AuthConfig configures bearer-token verification for the HTTP surface.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET,default="`
}

// RateLimitConfig bounds per-caller request rates on the HTTP surface.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS,default=20"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST,default=40"`
}

// PriceFeedConfig configures the external price source. When FetchURL is
// empty the simulated fetcher is used.
type PriceFeedConfig struct {
	FetchURL  string        `yaml:"fetch_url" env:"PRICEFEED_FETCH_URL,default="`
	FetchKey  string        `yaml:"fetch_key" env:"PRICEFEED_FETCH_KEY,default="`
	PricePath string        `yaml:"price_path" env:"PRICEFEED_PRICE_PATH,default=price"`
	Timeout   time.Duration `yaml:"timeout" env:"PRICEFEED_TIMEOUT,default=5s"`

	// Symbols is a space separated list sampled by the background refresher.
	Symbols         string        `yaml:"symbols" env:"PRICEFEED_SYMBOLS,default=BTC ETH USDT"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"PRICEFEED_REFRESH_INTERVAL,default=30s"`
}

// SymbolList splits Symbols into a slice, dropping empty entries.
func (c PriceFeedConfig) SymbolList() []string {
	return strings.Fields(c.Symbols)
}

// KYCConfig configures the external identity verifier used for level-1
// submissions. A zero timeout is replaced by the default at load time.
type KYCConfig struct {
	VerifierURL string        `yaml:"verifier_url" env:"KYC_VERIFIER_URL,default="`
	VerifierKey string        `yaml:"verifier_key" env:"KYC_VERIFIER_KEY,default="`
	Timeout     time.Duration `yaml:"timeout" env:"KYC_VERIFIER_TIMEOUT,default=10s"`
}

// Load reads .env (when present), decodes the environment, and finally applies
// the YAML file named by CONFIG_FILE when set. YAML values win over env values
// so a mounted config file can pin a deployment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests_per_second must be positive")
	}
	if c.RateLimit.Burst < c.RateLimit.RequestsPerSecond {
		c.RateLimit.Burst = c.RateLimit.RequestsPerSecond
	}
	if c.PriceFeed.Timeout <= 0 {
		c.PriceFeed.Timeout = 5 * time.Second
	}
	if c.PriceFeed.RefreshInterval <= 0 {
		c.PriceFeed.RefreshInterval = 30 * time.Second
	}
	if c.KYC.Timeout <= 0 {
		c.KYC.Timeout = 10 * time.Second
	}
	return nil
}
