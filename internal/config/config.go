package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Auction        AuctionConfig        `yaml:"auction"`
	Membership     MembershipConfig     `yaml:"membership"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	WebSocket      WebSocketConfig      `yaml:"websocket"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
	// Migrate applies the embedded schema migrations on startup.
	Migrate      bool `yaml:"migrate"`
	MaxOpenConns int  `yaml:"max_open_conns"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
	// LogLevel applies to the stdout logger used when no OTLP endpoint is set.
	LogLevel string `yaml:"log_level"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// AuctionConfig holds bidding settings.
type AuctionConfig struct {
	// TimeZone is the IANA zone bid timestamps are recorded in.
	TimeZone string `yaml:"time_zone"`
}

// MembershipConfig holds premium membership settings.
type MembershipConfig struct {
	PremiumBonus decimal.Decimal `yaml:"premium_bonus"`
}

// SchedulerConfig controls the settlement sweeper.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Spec    string `yaml:"spec"` // cron expression, e.g. "@every 30s"
}

// WebSocketConfig holds live bidding connection settings.
type WebSocketConfig struct {
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	Burst             int           `yaml:"burst"`
	ReadBufferSize    int           `yaml:"read_buffer_size"`
	WriteBufferSize   int           `yaml:"write_buffer_size"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			SSLMode:      "disable",
			Driver:       "postgres",
			Migrate:      true,
			MaxOpenConns: 20,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
			LogLevel:       "info",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctiond-sweeper",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Auction: AuctionConfig{
			TimeZone: "America/Halifax",
		},
		Membership: MembershipConfig{
			PremiumBonus: decimal.NewFromInt(100),
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Spec:    "@every 30s",
		},
		WebSocket: WebSocketConfig{
			MessagesPerSecond: 5,
			Burst:             10,
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			WriteTimeout:      10 * time.Second,
		},
	}
}

// LoadEnvFile seeds the process environment from a dotenv file.
// Variables already set in the environment are not overridden.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(filepath.Clean(path)); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// Load reads a YAML configuration file from the given path.
// ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if _, err := time.LoadLocation(c.Auction.TimeZone); err != nil {
		return fmt.Errorf("invalid auction time zone %q: %w", c.Auction.TimeZone, err)
	}
	if c.Membership.PremiumBonus.IsNegative() {
		return fmt.Errorf("membership premium bonus must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return fmt.Errorf("scheduler spec is required when the scheduler is enabled")
	}
	if c.WebSocket.MessagesPerSecond <= 0 || c.WebSocket.Burst <= 0 {
		return fmt.Errorf("websocket rate limit must be positive")
	}
	return nil
}
