// Package config loads process configuration from defaults, an optional YAML
// file, a .env file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when CONFIG_FILE is unset and the file exists.
const DefaultConfigFile = "config/app.yaml"

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host" env:"SERVER_HOST"`
	Port         int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the persistence backend. An empty DSN keeps all
// state in memory.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// RedisConfig backs the idempotency cache. An empty address disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// LoggingConfig mirrors logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls bearer token issuance and verification.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL"`
}

// EconomyConfig holds the token economy constants.
type EconomyConfig struct {
	InitialBalance     int64 `yaml:"initial_balance" env:"ECONOMY_INITIAL_BALANCE"`
	CardCreationReward int64 `yaml:"card_creation_reward" env:"ECONOMY_CARD_CREATION_REWARD"`
	CorrectCardCost    int64 `yaml:"correct_card_cost" env:"ECONOMY_CORRECT_CARD_COST"`
	SpecialContentCost int64 `yaml:"special_content_cost" env:"ECONOMY_SPECIAL_CONTENT_COST"`
	NFTMintCost        int64 `yaml:"nft_mint_cost" env:"ECONOMY_NFT_MINT_COST"`
	InitialFeedSize    int   `yaml:"initial_feed_size" env:"ECONOMY_INITIAL_FEED_SIZE"`
}

// RateLimitConfig is applied per caller (user id, else remote address).
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// AuditConfig schedules the ledger auditor.
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled" env:"AUDIT_ENABLED"`
	Schedule string `yaml:"schedule" env:"AUDIT_SCHEDULE"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Economy   EconomyConfig   `yaml:"economy"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
	CORS      CORSConfig      `yaml:"cors"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
			TokenTTL:  24 * time.Hour,
		},
		Economy: DefaultEconomy(),
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Audit: AuditConfig{
			Enabled:  true,
			Schedule: "@every 5m",
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// DefaultEconomy returns the platform's standard token economy.
func DefaultEconomy() EconomyConfig {
	return EconomyConfig{
		InitialBalance:     15,
		CardCreationReward: 5,
		CorrectCardCost:    2,
		SpecialContentCost: 5,
		NFTMintCost:        50,
		InitialFeedSize:    5,
	}
}

// Load assembles the configuration. CONFIG_FILE names an optional YAML file;
// without it DefaultConfigFile is used when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the ledger cannot operate with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return c.Economy.Validate()
}

// Validate checks the economy constants.
func (e EconomyConfig) Validate() error {
	switch {
	case e.InitialBalance < 0:
		return fmt.Errorf("economy.initial_balance must not be negative")
	case e.CardCreationReward <= 0:
		return fmt.Errorf("economy.card_creation_reward must be positive")
	case e.CorrectCardCost <= 0:
		return fmt.Errorf("economy.correct_card_cost must be positive")
	case e.SpecialContentCost <= 0:
		return fmt.Errorf("economy.special_content_cost must be positive")
	case e.NFTMintCost <= 0:
		return fmt.Errorf("economy.nft_mint_cost must be positive")
	case e.InitialFeedSize <= 0:
		return fmt.Errorf("economy.initial_feed_size must be positive")
	}
	return nil
}
