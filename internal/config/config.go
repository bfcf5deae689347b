package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"weelo/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type RemoteConfig struct {
	BaseURL       string        `yaml:"base_url"`
	HealthPath    string        `yaml:"health_path"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	RPS           float64       `yaml:"rps"`
	Burst         int           `yaml:"burst"`
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type SyncConfig struct {
	BatchSize            int           `yaml:"batch_size"`
	MaxRetries           int           `yaml:"max_retries"`
	ConnectivityDebounce time.Duration `yaml:"connectivity_debounce"`
	QueueCoalesceDelay   time.Duration `yaml:"queue_coalesce_delay"`
	Retention            time.Duration `yaml:"retention"`
	ProbeInterval        time.Duration `yaml:"probe_interval"`
	ProbeFailures        int           `yaml:"probe_failures"`
}

type APIConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Port         int     `yaml:"port"`
	HeaderAPIKey string  `yaml:"header_api_key"`
	APIKey       string  `yaml:"api_key"`
	RPS          float64 `yaml:"rps"`
	Burst        int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; env vars referenced from YAML are expanded below.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync max_retries must be positive, got %d", c.Sync.MaxRetries)
	}
	if c.API.Enabled && c.API.APIKey == "" {
		return errors.New("api api_key is required when the admin API is enabled")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "weelo-syncd"
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultBatchSize
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.ConnectivityDebounce == 0 {
		c.Sync.ConnectivityDebounce = models.DefaultConnectivityDebounce
	}
	if c.Sync.QueueCoalesceDelay == 0 {
		c.Sync.QueueCoalesceDelay = models.DefaultQueueCoalesceDelay
	}
	if c.Sync.Retention == 0 {
		c.Sync.Retention = models.DefaultRetention
	}
	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = models.DefaultProbeInterval
	}
	if c.Sync.ProbeFailures == 0 {
		c.Sync.ProbeFailures = models.DefaultProbeFailures
	}
	if c.Remote.HealthPath == "" {
		c.Remote.HealthPath = "/healthz"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = models.DefaultRemoteTimeout
	}
	if c.Remote.MaxAttempts == 0 {
		c.Remote.MaxAttempts = 3
	}
	if c.Remote.InitialDelay == 0 {
		c.Remote.InitialDelay = 2 * time.Second
	}
	if c.Remote.MaxDelay == 0 {
		c.Remote.MaxDelay = time.Minute
	}
	if c.Remote.BackoffFactor == 0 {
		c.Remote.BackoffFactor = 2
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.HeaderAPIKey == "" {
		c.API.HeaderAPIKey = "x-api-key"
	}
}
