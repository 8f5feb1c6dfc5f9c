package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the store. Type "memory" ignores the connection fields.
type DatabaseConfig struct {
	Type        string `yaml:"type"` // "memory" or "postgres"
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"ssl_mode"`
	MaxOpenConn int    `yaml:"max_open_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
	SeedDemo    bool   `yaml:"seed_demo"`
}

type LedgerConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout"`
	EventTopic  string        `yaml:"event_topic"`
}

// KafkaConfig: no brokers means events are only logged.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Compression  string        `yaml:"compression"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type OutboxConfig struct {
	Schedule  string `yaml:"schedule"`
	BatchSize int    `yaml:"batch_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Type:        "memory",
			Host:        "localhost",
			Port:        5432,
			SSLMode:     "disable",
			MaxOpenConn: 20,
		},
		Ledger: LedgerConfig{
			LockTimeout: 5 * time.Second,
			EventTopic:  "purchase.completed",
		},
		Kafka: KafkaConfig{
			Compression:  "none",
			BatchTimeout: 50 * time.Millisecond,
		},
		Outbox: OutboxConfig{
			Schedule:  "@every 2s",
			BatchSize: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads an optional .env file, then the YAML file at configPath (if
// non-empty) over the defaults, then environment overrides.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) overrideWithEnv() {
	if val := os.Getenv("HTTP_ADDR"); val != "" {
		c.Server.Addr = val
	}

	if val := os.Getenv("STORE_TYPE"); val != "" {
		c.Database.Type = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Database.Port = port
		}
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	if val := os.Getenv("KAFKA_BROKERS"); val != "" {
		c.Kafka.Brokers = splitCSV(val)
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks the configuration for missing or impossible values
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}

	switch c.Database.Type {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unknown database type %q", c.Database.Type)
	}

	if c.Ledger.LockTimeout <= 0 {
		return fmt.Errorf("ledger lock_timeout must be positive")
	}
	if c.Ledger.EventTopic == "" {
		return fmt.Errorf("ledger event_topic is required")
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("outbox batch_size must be positive")
	}
	return nil
}

// GetDatabaseConnectionString returns the lib/pq connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
