package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is resolved in three layers: code defaults, an optional YAML file,
// then environment variables (optionally loaded from .env).
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DB"`
	Provider ProviderConfig `yaml:"provider" envconfig:"PROVIDER"`
	Dispatch DispatchConfig `yaml:"dispatch" envconfig:"DISPATCH"`
	Webhook  WebhookConfig  `yaml:"webhook" envconfig:"WEBHOOK"`
	Stats    StatsConfig    `yaml:"stats" envconfig:"STATS"`
	Events   EventsConfig   `yaml:"events" envconfig:"EVENTS"`
	Auth     AuthConfig     `yaml:"auth" envconfig:"AUTH"`
}

type ServerConfig struct {
	Port            string        `yaml:"port" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver" split_words:"true"` // mysql, postgres or memory
	Host            string `yaml:"host" split_words:"true"`
	Port            string `yaml:"port" split_words:"true"`
	User            string `yaml:"user" split_words:"true"`
	Password        string `yaml:"password" split_words:"true"`
	Name            string `yaml:"name" split_words:"true"`
	SSLMode         string `yaml:"sslmode" envconfig:"SSLMODE"`
	ContactSeedFile string `yaml:"contact_seed_file" split_words:"true"` // memory driver only
}

type ProviderConfig struct {
	BaseURL     string        `yaml:"base_url" envconfig:"BASE_URL"`
	Token       string        `yaml:"token" split_words:"true"`
	InstanceKey string        `yaml:"instance_key" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout" split_words:"true"`
}

type DispatchConfig struct {
	BatchSize               int           `yaml:"batch_size" split_words:"true"`
	Workers                 int           `yaml:"workers" split_words:"true"`
	RoundInterval           time.Duration `yaml:"round_interval" split_words:"true"`
	EmptyRounds             int           `yaml:"empty_rounds" split_words:"true"`
	DefaultRatePerSecond    float64       `yaml:"default_rate_per_second" split_words:"true"`
	RetryBase               time.Duration `yaml:"retry_base" split_words:"true"`
	RetryMaxDelay           time.Duration `yaml:"retry_max_delay" split_words:"true"`
	MaxRetries              int           `yaml:"max_retries" split_words:"true"`
	ResumeSchedule          string        `yaml:"resume_schedule" split_words:"true"`
	PersistenceFailureLimit int           `yaml:"persistence_failure_limit" split_words:"true"`
}

type WebhookConfig struct {
	InstanceKey string `yaml:"instance_key" split_words:"true"`
}

type StatsConfig struct {
	CacheTTL     time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
	ErrorSamples int           `yaml:"error_samples" split_words:"true"`
}

type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url" envconfig:"AMQP_URL"`
	Exchange string `yaml:"exchange" split_words:"true"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  "mysql",
			SSLMode: "disable",
		},
		Provider: ProviderConfig{
			BaseURL: "http://localhost:3333",
			Timeout: 30 * time.Second,
		},
		Dispatch: DispatchConfig{
			BatchSize:               50,
			Workers:                 5,
			RoundInterval:           5 * time.Second,
			EmptyRounds:             3,
			DefaultRatePerSecond:    1,
			RetryBase:               30 * time.Second,
			RetryMaxDelay:           30 * time.Minute,
			MaxRetries:              5,
			ResumeSchedule:          "@every 1m",
			PersistenceFailureLimit: 3,
		},
		Stats: StatsConfig{
			CacheTTL:     2 * time.Second,
			ErrorSamples: 5,
		},
		Events: EventsConfig{
			Exchange: "campaigns",
		},
	}
}

// Load resolves the configuration. A missing .env file is not an error,
// a missing CONFIG_FILE that was explicitly set is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeYAMLFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeYAMLFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return c.MergeYAML(raw)
}

// MergeYAML overlays the values present in raw onto c
func (c *Config) MergeYAML(raw []byte) error {
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("dispatch batch size must be positive, got %d", c.Dispatch.BatchSize)
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch workers must be positive, got %d", c.Dispatch.Workers)
	}
	if c.Dispatch.EmptyRounds <= 0 {
		return fmt.Errorf("dispatch empty rounds must be positive, got %d", c.Dispatch.EmptyRounds)
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch max retries must not be negative, got %d", c.Dispatch.MaxRetries)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider timeout must be positive, got %s", c.Provider.Timeout)
	}
	return nil
}
